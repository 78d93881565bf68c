package ledger

import (
	fpmath "CarbonLedger/internal/math"
	"errors"
	"fmt"
)

// Ledger implements the fungible credit algorithm over a BalanceStore.
//
// Every operation computes all new values before writing any of them, so a
// failed call never leaves a partial write behind even on a store without
// transactions.
type Ledger struct {
	store BalanceStore
}

func New(store BalanceStore) *Ledger {
	return &Ledger{store: store}
}

// Mint creates amount new credits in recipient's account.
func (l *Ledger) Mint(recipient Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: mint amount %d", ErrInvalidAmount, amount)
	}
	if err := recipient.Validate(); err != nil {
		return err
	}

	balance, err := l.store.Balance(recipient)
	if err != nil {
		return err
	}
	supply, err := l.store.Supply()
	if err != nil {
		return err
	}

	newBalance, err := fpmath.AddChecked(balance, amount)
	if err != nil {
		return checkedErr(err, "balance of %s", recipient)
	}
	newSupply, err := fpmath.AddChecked(supply, amount)
	if err != nil {
		return checkedErr(err, "total supply")
	}

	if err := l.store.SetBalance(recipient, newBalance); err != nil {
		return err
	}
	return l.store.SetSupply(newSupply)
}

// Transfer moves amount credits from sender to recipient. Supply is unchanged.
// A transfer to self is validated like any other and leaves balances as they were.
func (l *Ledger) Transfer(sender, recipient Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: transfer amount %d", ErrInvalidAmount, amount)
	}
	if err := sender.Validate(); err != nil {
		return err
	}
	if err := recipient.Validate(); err != nil {
		return err
	}

	senderBalance, err := l.store.Balance(sender)
	if err != nil {
		return err
	}
	if senderBalance < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, sender, senderBalance, amount)
	}
	if sender == recipient {
		return nil
	}

	recipientBalance, err := l.store.Balance(recipient)
	if err != nil {
		return err
	}

	newSender, err := fpmath.SubChecked(senderBalance, amount)
	if err != nil {
		return checkedErr(err, "balance of %s", sender)
	}
	newRecipient, err := fpmath.AddChecked(recipientBalance, amount)
	if err != nil {
		return checkedErr(err, "balance of %s", recipient)
	}

	if err := l.store.SetBalance(sender, newSender); err != nil {
		return err
	}
	return l.store.SetBalance(recipient, newRecipient)
}

// Burn permanently retires amount credits held by holder.
func (l *Ledger) Burn(holder Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: burn amount %d", ErrInvalidAmount, amount)
	}
	if err := holder.Validate(); err != nil {
		return err
	}

	balance, err := l.store.Balance(holder)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, holder, balance, amount)
	}
	supply, err := l.store.Supply()
	if err != nil {
		return err
	}

	newBalance, err := fpmath.SubChecked(balance, amount)
	if err != nil {
		return checkedErr(err, "balance of %s", holder)
	}
	// supply >= balance >= amount holds unless the store is already inconsistent
	newSupply, err := fpmath.SubChecked(supply, amount)
	if err != nil {
		return checkedErr(err, "total supply")
	}

	if err := l.store.SetBalance(holder, newBalance); err != nil {
		return err
	}
	return l.store.SetSupply(newSupply)
}

// BalanceOf returns the holder's balance, zero if never credited.
func (l *Ledger) BalanceOf(holder Address) (int64, error) {
	return l.store.Balance(holder)
}

func (l *Ledger) TotalSupply() (int64, error) {
	return l.store.Supply()
}

func checkedErr(err error, format string, args ...interface{}) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, fpmath.ErrOverflow) {
		return fmt.Errorf("%w: %s", ErrOverflow, what)
	}
	return fmt.Errorf("%w: %s", ErrInsufficientBalance, what)
}
