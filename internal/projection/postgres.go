package projection

import (
	"CarbonLedger/internal/state"
	"context"
	"database/sql"
)

// pgStore writes projections inside one Postgres transaction.
type pgStore struct {
	tx *sql.Tx
}

func (s *pgStore) DeployInstance(ctx context.Context, contract, kind, admin string, seq int64) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO projections.instances (contract, kind, admin, total_supply, deployed_at, last_sequence)
		VALUES ($1, $2, $3, 0, $4, $4)
		ON CONFLICT (contract) DO NOTHING
	`, contract, kind, admin, seq)
	return err
}

func (s *pgStore) AdjustBalance(ctx context.Context, contract, holder string, delta, seq int64) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO projections.balances (contract, holder, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (contract, holder)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, contract, holder, delta, seq)
	return err
}

func (s *pgStore) AdjustSupply(ctx context.Context, contract string, delta, seq int64) (int64, error) {
	var supply int64
	err := s.tx.QueryRowContext(ctx, `
		UPDATE projections.instances
		SET total_supply = total_supply + $2, last_sequence = $3
		WHERE contract = $1
		RETURNING total_supply
	`, contract, delta, seq).Scan(&supply)
	return supply, err
}

func (s *pgStore) CreateCommitment(ctx context.Context, contract, buyer string, unitPrice, totalQuantity, seq int64) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO projections.commitments (contract, buyer, unit_price, total_quantity, assigned, state, last_sequence)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		ON CONFLICT (contract) DO NOTHING
	`, contract, buyer, unitPrice, totalQuantity, state.CommitmentActive.String(), seq)
	return err
}

func (s *pgStore) RecordAssignment(ctx context.Context, contract, seller string, quantity, outstanding, seq int64) error {
	if _, err := s.tx.ExecContext(ctx, `
		UPDATE projections.commitments
		SET assigned = total_quantity - $2, last_sequence = $3
		WHERE contract = $1
	`, contract, outstanding, seq); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO projections.assignments (sequence, contract, seller, quantity, outstanding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence, contract) DO NOTHING
	`, seq, contract, seller, quantity, outstanding)
	return err
}

func (s *pgStore) FulfillCommitment(ctx context.Context, contract string, seq int64) error {
	_, err := s.tx.ExecContext(ctx, `
		UPDATE projections.commitments SET state = $2, last_sequence = $3 WHERE contract = $1
	`, contract, state.CommitmentFulfilled.String(), seq)
	return err
}

func (s *pgStore) setWatermark(ctx context.Context, seq int64) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq)
	return err
}

// Watermark returns the last sequence the projections reflect.
func Watermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection = 'main'`,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
