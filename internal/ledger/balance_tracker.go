package ledger

import (
	"fmt"
	"sort"
)

// BalanceStore is the persisted state a credit ledger reads and mutates.
// Absent holders read as zero.
type BalanceStore interface {
	Balance(holder Address) (int64, error)
	SetBalance(holder Address, amount int64) error
	Supply() (int64, error)
	SetSupply(amount int64) error
}

// BalanceScanner enumerates every stored balance. fn returning an error stops the scan.
type BalanceScanner interface {
	ScanBalances(fn func(holder Address, amount int64) error) error
}

// BalanceTracker is an in-memory BalanceStore. It backs unit tests and
// replay verification, where no KV store is involved.
type BalanceTracker struct {
	supply   int64
	balances map[Address]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[Address]int64),
	}
}

func (bt *BalanceTracker) Balance(holder Address) (int64, error) {
	return bt.balances[holder], nil
}

func (bt *BalanceTracker) SetBalance(holder Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative balance %d for %s", amount, holder)
	}
	bt.balances[holder] = amount
	return nil
}

func (bt *BalanceTracker) Supply() (int64, error) {
	return bt.supply, nil
}

func (bt *BalanceTracker) SetSupply(amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative supply %d", amount)
	}
	bt.supply = amount
	return nil
}

// ScanBalances visits holders in lexical order.
func (bt *BalanceTracker) ScanBalances(fn func(holder Address, amount int64) error) error {
	holders := make([]Address, 0, len(bt.balances))
	for h := range bt.balances {
		holders = append(holders, h)
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i] < holders[j] })

	for _, h := range holders {
		if err := fn(h, bt.balances[h]); err != nil {
			return err
		}
	}
	return nil
}

// ApplyJournal replays a journal entry. System accounts carry no balance;
// their side of the entry moves total supply instead.
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	switch j.JournalType {
	case JournalTypeMint:
		bt.balances[j.DebitAccount] += j.Amount
		bt.supply += j.Amount
	case JournalTypeBurn:
		bt.balances[j.CreditAccount] -= j.Amount
		bt.supply -= j.Amount
	default:
		bt.balances[j.DebitAccount] += j.Amount
		bt.balances[j.CreditAccount] -= j.Amount
	}
}

// ApplyBatch replays all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[Address]int64 {
	snapshot := make(map[Address]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
