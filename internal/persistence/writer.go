package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CallLogWriter writes committed calls, journals and facts to Postgres using
// multi-row inserts. Every insert is idempotent on its natural key, so a
// batch retried after a partial failure writes nothing twice.
type CallLogWriter struct {
	db *sql.DB
}

// CallRow represents a row in call_log.calls
type CallRow struct {
	Sequence       int64
	CallID         string
	Contract       string
	Method         string
	Source         string
	SourceSequence int64
	Payload        []byte // JSON-encoded call, proofs included
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in call_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	CallID        string
	Sequence      int64
	Contract      string
	DebitAccount  string
	CreditAccount string
	Amount        int64
	JournalType   string
	Timestamp     int64
}

// FactRow represents a row in call_log.facts
type FactRow struct {
	Sequence int64
	Index    int
	CallID   string
	Contract string
	FactType string
	Payload  []byte
}

func NewCallLogWriter(db *sql.DB) *CallLogWriter {
	return &CallLogWriter{db: db}
}

// placeholders returns "($1, $2), ($3, $4)" style value lists for rows of
// width columns.
func placeholders(rows, width int) string {
	var b strings.Builder
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := 0; j < width; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*width+j+1)
		}
		b.WriteByte(')')
	}
	return b.String()
}

// WriteCallBatch writes a batch of calls to call_log.calls.
func (w *CallLogWriter) WriteCallBatch(ctx context.Context, calls []CallRow, tx *sql.Tx) error {
	if len(calls) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(calls)*10)
	for _, c := range calls {
		args = append(args,
			c.Sequence, c.CallID, c.Contract, c.Method, c.Source,
			c.SourceSequence, c.Payload, c.StateHash, c.PrevHash, c.Timestamp,
		)
	}

	query := `INSERT INTO call_log.calls
		(sequence, call_id, contract, method, source, source_sequence, payload, state_hash, prev_hash, timestamp)
		VALUES ` + placeholders(len(calls), 10) + ` ON CONFLICT (sequence) DO NOTHING`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to call_log.journal.
func (w *CallLogWriter) WriteJournalBatch(ctx context.Context, journals []JournalRow, tx *sql.Tx) error {
	if len(journals) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(journals)*10)
	for _, j := range journals {
		args = append(args,
			j.JournalID, j.BatchID, j.CallID, j.Sequence, j.Contract,
			j.DebitAccount, j.CreditAccount, j.Amount, j.JournalType, j.Timestamp,
		)
	}

	query := `INSERT INTO call_log.journal
		(journal_id, batch_id, call_id, sequence, contract, debit_account, credit_account, amount, journal_type, timestamp)
		VALUES ` + placeholders(len(journals), 10) + ` ON CONFLICT (journal_id) DO NOTHING`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteFactBatch writes a batch of facts to call_log.facts.
func (w *CallLogWriter) WriteFactBatch(ctx context.Context, facts []FactRow, tx *sql.Tx) error {
	if len(facts) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(facts)*6)
	for _, f := range facts {
		args = append(args, f.Sequence, f.Index, f.CallID, f.Contract, f.FactType, f.Payload)
	}

	query := `INSERT INTO call_log.facts
		(sequence, idx, call_id, contract, fact_type, payload)
		VALUES ` + placeholders(len(facts), 6) + ` ON CONFLICT (sequence, idx) DO NOTHING`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
