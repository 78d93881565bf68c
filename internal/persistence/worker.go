package persistence

import (
	"CarbonLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CoreOutput is one committed call in persistence form. The orchestrator
// (cmd/carbonledger) converts core outputs into this.
type CoreOutput struct {
	Call        CallRow
	JournalRows []JournalRow
	FactRows    []FactRow
	AppliedAt   time.Time
}

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core's sends on that channel block, so if this worker falls behind
// the core stalls and no committed call is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *CallLogWriter
	inputChan    <-chan CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		db:           db,
		writer:       NewCallLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

type pendingBatch struct {
	calls    []CallRow
	journals []JournalRow
	facts    []FactRow
	applied  []time.Time
}

func (b *pendingBatch) add(o CoreOutput) {
	b.calls = append(b.calls, o.Call)
	b.journals = append(b.journals, o.JournalRows...)
	b.facts = append(b.facts, o.FactRows...)
	b.applied = append(b.applied, o.AppliedAt)
}

func (b *pendingBatch) reset() {
	b.calls = b.calls[:0]
	b.journals = b.journals[:0]
	b.facts = b.facts[:0]
	b.applied = b.applied[:0]
}

// Run batches incoming outputs and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled or the input
// channel is closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &pendingBatch{
		calls:    make([]CallRow, 0, pw.batchSize),
		journals: make([]JournalRow, 0, pw.batchSize*2),
		facts:    make([]FactRow, 0, pw.batchSize*2),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch.calls) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Int("calls", len(batch.calls)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(batch.calls) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						pw.logger.Error().Err(err).Int("calls", len(batch.calls)).Msg("final flush failed")
					}
				}
				return nil
			}

			batch.add(output)

			if len(batch.calls) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch.calls) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. It never drops a batch.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pendingBatch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("calls", len(batch.calls)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				// one last attempt outside the cancelled context
				if err := pw.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}

		pw.logger.Warn().Err(err).Msg("persistence flush failed")
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch *pendingBatch) error {
	start := time.Now()

	// calls, journals and facts of a batch land in one transaction
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.recordError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteCallBatch(ctx, batch.calls, tx); err != nil {
		pw.recordError("write_calls")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, batch.journals, tx); err != nil {
		pw.recordError("write_journals")
		return err
	}
	if err := pw.writer.WriteFactBatch(ctx, batch.facts, tx); err != nil {
		pw.recordError("write_facts")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.recordError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(batch.calls)))
		pw.metrics.PersistCallsWritten.Add(float64(len(batch.calls)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(batch.journals)))
		pw.metrics.PersistFactsWritten.Add(float64(len(batch.facts)))
		pw.metrics.PersistLastSequence.Set(float64(batch.calls[len(batch.calls)-1].Sequence))
		for _, at := range batch.applied {
			if !at.IsZero() {
				pw.metrics.ApplyToPersist.Observe(time.Since(at).Seconds())
			}
		}
	}

	return nil
}

func (pw *PersistenceWorker) recordError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
