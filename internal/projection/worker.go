package projection

import (
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/observability"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ProjectionOutput is what the projection worker needs from one committed
// call. The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence  int64
	Method    string
	Facts     []event.FactRecord
	Timestamp int64
}

// ProjectionWorker updates projection tables from committed facts.
// The projection channel drops when full; a worker that fell behind is
// brought back by Rebuild from the call log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	if seq, err := Watermark(ctx, pw.db); err == nil {
		pw.lastSeq = seq
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			// already reflected (rebuild overtook the channel)
			if output.Sequence <= pw.lastSeq {
				continue
			}

			if output.Sequence != pw.lastSeq+1 && pw.lastSeq != 0 {
				pw.logger.Warn().
					Int64("expected", pw.lastSeq+1).
					Int64("got", output.Sequence).
					Msg("projection gap, outputs were dropped; rebuild to catch up")
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				// projections are eventually consistent and can be rebuilt
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	store := &pgStore{tx: tx}
	eff, err := Apply(ctx, store, output.Facts)
	if err != nil {
		return err
	}
	if err := store.setWatermark(ctx, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	pw.publishGauges(eff)
	return nil
}

func (pw *ProjectionWorker) publishGauges(eff *Effects) {
	if pw.metrics == nil {
		return
	}
	for contract, supply := range eff.Supply {
		pw.metrics.TokenSupply.WithLabelValues(contract).Set(float64(supply))
	}
	for contract, outstanding := range eff.Outstanding {
		pw.metrics.CommitmentOutstanding.WithLabelValues(contract).Set(float64(outstanding))
	}
}

// Rebuild truncates every projection table and replays call_log.facts in
// sequence order. It returns the last sequence applied.
func Rebuild(ctx context.Context, db *sql.DB, logger zerolog.Logger) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.instances`,
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.commitments`,
		`TRUNCATE projections.assignments`,
		`DELETE FROM projections.watermark WHERE projection = 'main'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("truncate failed: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT sequence, idx, call_id, contract, fact_type, payload
		FROM call_log.facts
		ORDER BY sequence ASC, idx ASC
	`)
	if err != nil {
		return 0, err
	}

	var facts []event.FactRecord
	for rows.Next() {
		var (
			rec     event.FactRecord
			payload []byte
		)
		if err := rows.Scan(&rec.Sequence, &rec.Index, &rec.CallID, &rec.Contract, &rec.Type, &payload); err != nil {
			rows.Close()
			return 0, err
		}
		rec.Payload = json.RawMessage(payload)
		facts = append(facts, rec)
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	store := &pgStore{tx: tx}
	if _, err := Apply(ctx, store, facts); err != nil {
		return 0, err
	}

	var last int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM call_log.calls`).Scan(&last); err != nil {
		return 0, err
	}
	if err := store.setWatermark(ctx, last); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	logger.Info().Int("facts", len(facts)).Int64("sequence", last).Msg("projection rebuild complete")
	return last, nil
}
