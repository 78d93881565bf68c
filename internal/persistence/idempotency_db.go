package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresIdempotencyChecker looks call ids up in the persisted call log
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate checks if the call id exists in call_log.calls
func (pic *PostgresIdempotencyChecker) IsDuplicate(callID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx,
		`SELECT 1 FROM call_log.calls WHERE call_id = $1 LIMIT 1`, callID,
	).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentCallIDs returns the call ids of the last limit committed calls,
// oldest first, for warming the LRU.
func (pic *PostgresIdempotencyChecker) RecentCallIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT call_id FROM (
			SELECT sequence, call_id FROM call_log.calls ORDER BY sequence DESC LIMIT $1
		) recent ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
