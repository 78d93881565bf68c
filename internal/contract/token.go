package contract

import (
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/ledger"
)

// Token is a credit ledger instance bound to one call.
type Token struct {
	env    *Env
	id     ledger.ContractID
	admin  ledger.Address
	ledger *ledger.Ledger
}

func (t *Token) ID() ledger.ContractID {
	return t.id
}

// Mint requires the token admin's authorization.
func (t *Token) Mint(recipient ledger.Address, amount int64) error {
	if err := t.env.RequireAuth(t.admin); err != nil {
		return err
	}
	if err := t.ledger.Mint(recipient, amount); err != nil {
		return err
	}
	t.env.journals.Mint(t.id, recipient, amount)
	return t.env.emit(t.id, event.Minted{Recipient: recipient, Amount: amount})
}

// Transfer requires the sender's authorization.
func (t *Token) Transfer(from, to ledger.Address, amount int64) error {
	if err := t.env.RequireAuth(from); err != nil {
		return err
	}
	if err := t.ledger.Transfer(from, to, amount); err != nil {
		return err
	}
	t.env.journals.Transfer(t.id, from, to, amount)
	return t.env.emit(t.id, event.Transferred{Sender: from, Recipient: to, Amount: amount})
}

// Burn requires the holder's authorization. Commitment assignment reaches
// it as a cross-instance call with the seller's proof.
func (t *Token) Burn(holder ledger.Address, amount int64) error {
	if err := t.env.RequireAuth(holder); err != nil {
		return err
	}
	if err := t.ledger.Burn(holder, amount); err != nil {
		return err
	}
	t.env.journals.Burn(t.id, holder, amount)
	return t.env.emit(t.id, event.Burned{Holder: holder, Amount: amount})
}
