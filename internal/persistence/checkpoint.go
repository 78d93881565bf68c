package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrChainBroken = errors.New("persistence: call log hash chain broken")

// CheckpointManager records (sequence, state hash) pairs of the core and
// reads the call log back for verification and projection rebuilds.
type CheckpointManager struct {
	db *sql.DB
}

// Checkpoint is the core position at one sequence.
type Checkpoint struct {
	ID        uuid.UUID
	Sequence  int64
	StateHash []byte
	// Recent call ids for LRU warming
	CallIDs   []string
	Verified  bool
	CreatedAt time.Time
}

func NewCheckpointManager(db *sql.DB) *CheckpointManager {
	return &CheckpointManager{db: db}
}

// SaveCheckpoint persists cp. Saving the same sequence twice overwrites it.
func (cm *CheckpointManager) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	ids, err := json.Marshal(cp.CallIDs)
	if err != nil {
		return fmt.Errorf("marshal checkpoint call ids: %w", err)
	}
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}

	_, err = cm.db.ExecContext(ctx, `
		INSERT INTO call_log.checkpoints (checkpoint_id, sequence, state_hash, call_ids, verified, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		ON CONFLICT (sequence) DO UPDATE SET state_hash = $3, call_ids = $4
	`, cp.ID, cp.Sequence, cp.StateHash, ids, cp.CreatedAt)
	return err
}

// LoadLatestCheckpoint returns the newest checkpoint, or nil if none exists.
func (cm *CheckpointManager) LoadLatestCheckpoint(ctx context.Context) (*Checkpoint, error) {
	row := cm.db.QueryRowContext(ctx, `
		SELECT checkpoint_id, sequence, state_hash, call_ids, verified, created_at
		FROM call_log.checkpoints
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		cp  Checkpoint
		ids []byte
	)
	if err := row.Scan(&cp.ID, &cp.Sequence, &cp.StateHash, &ids, &cp.Verified, &cp.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if err := json.Unmarshal(ids, &cp.CallIDs); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint call ids: %w", err)
	}
	return &cp, nil
}

// MarkVerified marks a checkpoint as verified against the call log.
func (cm *CheckpointManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := cm.db.ExecContext(ctx, `
		UPDATE call_log.checkpoints SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// VerifyCheckpoint compares cp with the state hash logged for the same
// sequence. A sequence not yet persisted is not an error.
func (cm *CheckpointManager) VerifyCheckpoint(ctx context.Context, cp *Checkpoint) (bool, error) {
	var logged []byte
	err := cm.db.QueryRowContext(ctx,
		`SELECT state_hash FROM call_log.calls WHERE sequence = $1`, cp.Sequence,
	).Scan(&logged)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !bytes.Equal(logged, cp.StateHash) {
		return false, fmt.Errorf("%w: checkpoint at %d has hash %x, log has %x",
			ErrChainBroken, cp.Sequence, cp.StateHash, logged)
	}
	return true, nil
}

// LoadCallsFrom loads logged calls with sequence >= fromSequence.
func (cm *CheckpointManager) LoadCallsFrom(ctx context.Context, fromSequence int64, limit int) ([]CallRow, error) {
	rows, err := cm.db.QueryContext(ctx, `
		SELECT sequence, call_id, contract, method, source, source_sequence,
		       payload, state_hash, prev_hash, timestamp
		FROM call_log.calls
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []CallRow
	for rows.Next() {
		var c CallRow
		if err := rows.Scan(
			&c.Sequence, &c.CallID, &c.Contract, &c.Method, &c.Source, &c.SourceSequence,
			&c.Payload, &c.StateHash, &c.PrevHash, &c.Timestamp,
		); err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// LoadFactsFrom loads logged facts with sequence >= fromSequence, in
// emission order.
func (cm *CheckpointManager) LoadFactsFrom(ctx context.Context, fromSequence int64, limit int) ([]FactRow, error) {
	rows, err := cm.db.QueryContext(ctx, `
		SELECT sequence, idx, call_id, contract, fact_type, payload
		FROM call_log.facts
		WHERE sequence >= $1
		ORDER BY sequence ASC, idx ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []FactRow
	for rows.Next() {
		var f FactRow
		if err := rows.Scan(&f.Sequence, &f.Index, &f.CallID, &f.Contract, &f.FactType, &f.Payload); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// GetLatestSequence returns the highest sequence in the call log.
func (cm *CheckpointManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := cm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM call_log.calls`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// VerifyChain walks the call log from fromSequence and checks that every
// call's prev_hash is the previous call's state_hash. It returns the number
// of calls checked.
func (cm *CheckpointManager) VerifyChain(ctx context.Context, fromSequence int64) (int64, error) {
	const pageSize = 1000

	var (
		checked int64
		prev    []byte
		prevSeq int64
	)
	for {
		calls, err := cm.LoadCallsFrom(ctx, fromSequence, pageSize)
		if err != nil {
			return checked, err
		}
		if len(calls) == 0 {
			return checked, nil
		}

		for _, c := range calls {
			if prev != nil {
				if err := CheckLink(prevSeq, prev, c); err != nil {
					return checked, err
				}
			}
			prev, prevSeq = c.StateHash, c.Sequence
			checked++
		}
		fromSequence = calls[len(calls)-1].Sequence + 1
	}
}

// CheckLink verifies that next directly follows a call at prevSeq whose
// state hash was prevHash.
func CheckLink(prevSeq int64, prevHash []byte, next CallRow) error {
	if next.Sequence != prevSeq+1 {
		return fmt.Errorf("%w: sequence %d follows %d", ErrChainBroken, next.Sequence, prevSeq)
	}
	if !bytes.Equal(next.PrevHash, prevHash) {
		return fmt.Errorf("%w: prev_hash mismatch at sequence %d", ErrChainBroken, next.Sequence)
	}
	return nil
}
