package query

import (
	"CarbonLedger/internal/ledger"
	"CarbonLedger/internal/state"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("query: not found")

// QueryService provides read-only access to projection tables and the call
// log. Every response carries as_of_sequence, the last call the projections
// reflect.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns a holder's projected balance. Unknown holders of a
// known token have balance 0.
func (qs *QueryService) GetBalance(ctx context.Context, contract, holder string) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	if _, err := qs.tokenSupply(ctx, contract); err != nil {
		return nil, err
	}

	var balance int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances WHERE contract = $1 AND holder = $2
	`, contract, holder).Scan(&balance)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	return &BalanceResponse{
		Contract:     contract,
		Holder:       holder,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetSupply returns a token's projected supply, issuer and holder count.
func (qs *QueryService) GetSupply(ctx context.Context, contract string) (*SupplyResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &SupplyResponse{Contract: contract, AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT i.admin, i.total_supply,
		       (SELECT COUNT(*) FROM projections.balances b WHERE b.contract = i.contract AND b.balance > 0)
		FROM projections.instances i
		WHERE i.contract = $1 AND i.kind = 'token'
	`, contract).Scan(&resp.Admin, &resp.TotalSupply, &resp.Holders)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: token %s", ErrNotFound, contract)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ListHolders returns non-zero holders of a token ordered by holder, after
// the cursor afterHolder.
func (qs *QueryService) ListHolders(ctx context.Context, contract string, limit int, afterHolder string) ([]HolderEntry, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT holder, balance FROM projections.balances
		WHERE contract = $1 AND balance > 0 AND holder > $2
		ORDER BY holder
		LIMIT $3
	`, contract, afterHolder, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holders []HolderEntry
	for rows.Next() {
		var h HolderEntry
		if err := rows.Scan(&h.Holder, &h.Balance); err != nil {
			return nil, err
		}
		holders = append(holders, h)
	}
	return holders, rows.Err()
}

// GetCommitment returns the projected commitment of a commitment contract.
func (qs *QueryService) GetCommitment(ctx context.Context, contract string) (*CommitmentResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var c state.Commitment
	var buyer string
	err = qs.db.QueryRowContext(ctx, `
		SELECT buyer, unit_price, total_quantity, assigned
		FROM projections.commitments WHERE contract = $1
	`, contract).Scan(&buyer, &c.UnitPrice, &c.TotalQuantity, &c.Assigned)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: commitment %s", ErrNotFound, contract)
	}
	if err != nil {
		return nil, err
	}
	c.Buyer = ledger.Address(buyer)

	return NewCommitmentResponse(contract, &c, asOfSeq), nil
}

// NewCommitmentResponse derives outstanding, state and total value from c.
func NewCommitmentResponse(contract string, c *state.Commitment, asOfSeq int64) *CommitmentResponse {
	return &CommitmentResponse{
		Contract:      contract,
		Buyer:         string(c.Buyer),
		UnitPrice:     c.UnitPrice,
		TotalQuantity: c.TotalQuantity,
		Assigned:      c.Assigned,
		Outstanding:   c.Outstanding(),
		State:         c.State().String(),
		TotalValue:    c.TotalValue().String(),
		AsOfSequence:  asOfSeq,
	}
}

// GetAssignments returns assignments to a commitment, newest first.
func (qs *QueryService) GetAssignments(ctx context.Context, contract string, limit int, beforeSequence *int64) ([]AssignmentEntry, error) {
	query := `
		SELECT sequence, seller, quantity, outstanding
		FROM projections.assignments
		WHERE contract = $1
	`
	args := []interface{}{contract}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AssignmentEntry
	for rows.Next() {
		var a AssignmentEntry
		if err := rows.Scan(&a.Sequence, &a.Seller, &a.Quantity, &a.Outstanding); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetFactHistory returns facts emitted by contract, newest first.
func (qs *QueryService) GetFactHistory(ctx context.Context, contract string, limit int, beforeSequence *int64) ([]FactEntry, error) {
	query := `
		SELECT sequence, idx, call_id, contract, fact_type, payload
		FROM call_log.facts
		WHERE contract = $1
	`
	args := []interface{}{contract}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, idx DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []FactEntry
	for rows.Next() {
		var f FactEntry
		var payload []byte
		if err := rows.Scan(&f.Sequence, &f.Index, &f.CallID, &f.Contract, &f.Type, &payload); err != nil {
			return nil, err
		}
		f.Payload = payload
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// GetJournalHistory returns journal entries touching holder with pagination.
func (qs *QueryService) GetJournalHistory(ctx context.Context, holder string, limit int, beforeSequence *int64) ([]JournalHistoryEntry, error) {
	query := `
		SELECT journal_id, batch_id, call_id, sequence, contract,
		       debit_account, credit_account, amount, journal_type, timestamp
		FROM call_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []interface{}{holder}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.CallID, &e.Sequence, &e.Contract,
			&e.DebitAccount, &e.CreditAccount, &e.Amount, &e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetCall returns one committed call from the log by call id.
func (qs *QueryService) GetCall(ctx context.Context, callID string) (*CallRecord, error) {
	var (
		rec     CallRecord
		payload []byte
		hash    []byte
	)
	err := qs.db.QueryRowContext(ctx, `
		SELECT sequence, call_id, contract, method, payload, state_hash, timestamp
		FROM call_log.calls WHERE call_id = $1
	`, callID).Scan(&rec.Sequence, &rec.CallID, &rec.Contract, &rec.Method, &payload, &hash, &rec.Timestamp)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: call %s", ErrNotFound, callID)
	}
	if err != nil {
		return nil, err
	}
	rec.Payload = payload
	rec.StateHash = hex.EncodeToString(hash)
	return &rec, nil
}

// --- Admin APIs ---

// VerifyIntegrity checks the hash chain of the call log and the
// conservation of every projected token.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	report := &IntegrityReport{AsOfSequence: asOfSeq}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT c1.sequence
		FROM call_log.calls c1
		JOIN call_log.calls c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.prev_hash != c2.state_hash
		ORDER BY c1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// supply must equal the sum of balances, and no balance may be negative
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT i.contract, i.total_supply,
		       COALESCE(SUM(b.balance), 0),
		       COUNT(*) FILTER (WHERE b.balance < 0)
		FROM projections.instances i
		LEFT JOIN projections.balances b ON b.contract = i.contract
		WHERE i.kind = 'token'
		GROUP BY i.contract, i.total_supply
		HAVING i.total_supply != COALESCE(SUM(b.balance), 0)
		    OR COUNT(*) FILTER (WHERE b.balance < 0) > 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedContract
		if err := balanceRows.Scan(&u.Contract, &u.TotalSupply, &u.BalanceSum, &u.NegativeRows); err != nil {
			return nil, err
		}
		report.UnbalancedContracts = append(report.UnbalancedContracts, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	overRows, err := qs.db.QueryContext(ctx, `
		SELECT contract FROM projections.commitments
		WHERE assigned < 0 OR assigned > total_quantity
	`)
	if err != nil {
		return nil, err
	}
	defer overRows.Close()

	for overRows.Next() {
		var c string
		if err := overRows.Scan(&c); err != nil {
			return nil, err
		}
		report.OverAssigned = append(report.OverAssigned, c)
	}
	if err := overRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedContracts) == 0 &&
		len(report.OverAssigned) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) tokenSupply(ctx context.Context, contract string) (int64, error) {
	var supply int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT total_supply FROM projections.instances WHERE contract = $1 AND kind = 'token'
	`, contract).Scan(&supply)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: token %s", ErrNotFound, contract)
	}
	return supply, err
}
