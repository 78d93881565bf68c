package ledger

import (
	fpmath "CarbonLedger/internal/math"
	"fmt"
)

// InvariantValidator checks ledger invariants after a call. A violation means
// committed state would be wrong; callers treat it as fatal.
type InvariantValidator struct{}

func NewInvariantValidator() *InvariantValidator {
	return &InvariantValidator{}
}

// ValidateBatchBalance verifies the journals are well-formed double entries
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateTouched checks supply >= 0 and 0 <= balance <= supply for each holder
// the call wrote. Cheap enough to run on every call.
func (v *InvariantValidator) ValidateTouched(store BalanceStore, holders []Address) error {
	supply, err := store.Supply()
	if err != nil {
		return err
	}
	if supply < 0 {
		return fmt.Errorf("total supply is negative: %d", supply)
	}

	for _, h := range holders {
		balance, err := store.Balance(h)
		if err != nil {
			return err
		}
		if balance < 0 {
			return fmt.Errorf("account %s has negative balance: %d", h, balance)
		}
		if balance > supply {
			return fmt.Errorf("account %s balance %d exceeds total supply %d", h, balance, supply)
		}
	}

	return nil
}

// ValidateConservation verifies total supply equals the sum of every balance.
// It scans the whole balance set.
func (v *InvariantValidator) ValidateConservation(store BalanceStore, scanner BalanceScanner) error {
	supply, err := store.Supply()
	if err != nil {
		return err
	}

	var sum int64
	err = scanner.ScanBalances(func(holder Address, amount int64) error {
		if amount < 0 {
			return fmt.Errorf("account %s has negative balance: %d", holder, amount)
		}
		next, err := fpmath.AddChecked(sum, amount)
		if err != nil {
			return fmt.Errorf("balance sum overflows at %s: %w", holder, err)
		}
		sum = next
		return nil
	})
	if err != nil {
		return err
	}

	if sum != supply {
		return fmt.Errorf("sum of balances %d != total supply %d", sum, supply)
	}
	return nil
}
