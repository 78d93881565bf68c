package main

import (
	"CarbonLedger/internal/auth"
	"CarbonLedger/internal/core"
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/host"
	"CarbonLedger/internal/observability"
	"CarbonLedger/internal/persistence"
	"CarbonLedger/internal/projection"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	dbm "github.com/tendermint/tm-db"
)

const replayPageSize = 1000

// verifyLog checks the latest checkpoint against the call log and the hash
// chain from there on. A broken chain stops startup.
func verifyLog(ctx context.Context, cm *persistence.CheckpointManager, logger zerolog.Logger) error {
	cp, err := cm.LoadLatestCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	from := int64(1)
	if cp != nil {
		ok, err := cm.VerifyCheckpoint(ctx, cp)
		if err != nil {
			return fmt.Errorf("verify checkpoint %d: %w", cp.Sequence, err)
		}
		if ok && !cp.Verified {
			if err := cm.MarkVerified(ctx, cp.Sequence); err != nil {
				return err
			}
		}
		from = cp.Sequence
	}

	checked, err := cm.VerifyChain(ctx, from)
	if err != nil {
		return fmt.Errorf("verify chain from %d: %w", from, err)
	}
	logger.Info().Int64("from", from).Int64("checked", checked).Msg("call log chain verified")
	return nil
}

// replayLog re-applies logged calls the state store has not seen yet, for
// example after a restart on the memdb backend. Every replayed call must
// land on the logged sequence and state hash.
func replayLog(ctx context.Context, stateDB dbm.DB, cm *persistence.CheckpointManager, authorizer auth.Authorizer, logger zerolog.Logger) error {
	replayer, err := core.NewDeterministicCore(stateDB, authorizer, nil, nil, nil, nil, logger, core.Config{IdempotencyCapacity: 1024})
	if err != nil {
		return err
	}

	logSeq, err := cm.GetLatestSequence(ctx)
	if err != nil {
		return err
	}
	stateSeq := replayer.GetSequence()
	switch {
	case logSeq < stateSeq:
		logger.Warn().Int64("log", logSeq).Int64("state", stateSeq).Msg("call log is behind contract state")
		return nil
	case logSeq == stateSeq:
		return nil
	}

	if stateSeq > 0 {
		rows, err := cm.LoadCallsFrom(ctx, stateSeq, 1)
		if err != nil {
			return err
		}
		have := replayer.GetStateHash()
		if len(rows) == 0 || rows[0].Sequence != stateSeq || !bytes.Equal(rows[0].StateHash, have[:]) {
			return fmt.Errorf("%w: contract state at %d does not match the call log", persistence.ErrChainBroken, stateSeq)
		}
	}

	logger.Info().Int64("from", stateSeq+1).Int64("to", logSeq).Msg("replaying call log")

	positions := make(map[string]int64)
	next := stateSeq + 1
	for next <= logSeq {
		rows, err := cm.LoadCallsFrom(ctx, next, replayPageSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := replayRow(replayer, row); err != nil {
				return err
			}
			if row.Source != "" {
				positions[row.Source] = row.SourceSequence + 1
			}
			next = row.Sequence + 1
		}
	}

	// Rejected calls between logged ones consumed source positions that
	// are not in the log, so positions are restored from the last logged
	// call of each source instead of being re-validated.
	if len(positions) > 0 {
		tx := host.NewTx(stateDB)
		for source, pos := range positions {
			tx.SetSourcePosition(source, pos)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("restore source positions: %w", err)
		}
	}

	logger.Info().Int64("sequence", replayer.GetSequence()).Msg("replay complete")
	return nil
}

func replayRow(replayer *core.DeterministicCore, row persistence.CallRow) error {
	var call event.Call
	if err := json.Unmarshal(row.Payload, &call); err != nil {
		return fmt.Errorf("decode logged call %d: %w", row.Sequence, err)
	}
	call.Source = ""
	call.SourceSequence = 0

	res, err := replayer.ProcessCall(&call)
	if err != nil {
		return fmt.Errorf("replay call %d (%s): %w", row.Sequence, row.CallID, err)
	}
	if res.Sequence != row.Sequence || !bytes.Equal(res.StateHash[:], row.StateHash) {
		return fmt.Errorf("%w: replayed call %d diverged from the log", persistence.ErrChainBroken, row.Sequence)
	}
	return nil
}

// catchUpProjections rebuilds the projection tables when their watermark
// trails the call log, e.g. after the projection channel dropped outputs.
func catchUpProjections(ctx context.Context, db *sql.DB, cm *persistence.CheckpointManager, logger zerolog.Logger) error {
	watermark, err := projection.Watermark(ctx, db)
	if err != nil {
		return err
	}
	logSeq, err := cm.GetLatestSequence(ctx)
	if err != nil {
		return err
	}
	if watermark >= logSeq {
		return nil
	}
	logger.Info().Int64("watermark", watermark).Int64("log", logSeq).Msg("projections behind, rebuilding")
	_, err = projection.Rebuild(ctx, db, logger)
	return err
}

// takeCheckpoint records the newest persisted call, with recent call ids
// for warming the dedup cache on the next start. It reads from the log
// rather than the live core.
func takeCheckpoint(
	ctx context.Context,
	cm *persistence.CheckpointManager,
	idem *persistence.PostgresIdempotencyChecker,
	lruCapacity int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	seq, err := cm.GetLatestSequence(ctx)
	if err != nil || seq == 0 {
		return err
	}
	rows, err := cm.LoadCallsFrom(ctx, seq, 1)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	ids, err := idem.RecentCallIDs(ctx, warmLimit(lruCapacity))
	if err != nil {
		return err
	}

	cp := &persistence.Checkpoint{
		ID:        uuid.New(),
		Sequence:  seq,
		StateHash: rows[0].StateHash,
		CallIDs:   ids,
	}
	if err := cm.SaveCheckpoint(ctx, cp); err != nil {
		return err
	}
	if _, err := cm.VerifyChain(ctx, seq); err != nil {
		return err
	}
	if err := cm.MarkVerified(ctx, seq); err != nil {
		return err
	}

	if metrics != nil {
		metrics.CheckpointTaken.Inc()
		metrics.CheckpointLastSeq.Set(float64(seq))
	}
	logger.Info().Int64("sequence", seq).Int("call_ids", len(ids)).Msg("checkpoint saved")
	return nil
}

func warmLimit(lruCapacity int) int {
	if lruCapacity > 100_000 {
		return 100_000
	}
	return lruCapacity
}
