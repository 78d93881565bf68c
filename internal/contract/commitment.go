package contract

import (
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/host"
	"CarbonLedger/internal/ledger"
	"CarbonLedger/internal/state"
	"fmt"
)

func newTracker(tx *host.Tx, id ledger.ContractID) *state.CommitmentTracker {
	return state.NewCommitmentTracker(tx.Commitment(id))
}

// Commitment is a commitment tracker instance bound to one call.
type Commitment struct {
	env     *Env
	id      ledger.ContractID
	tracker *state.CommitmentTracker
}

// Create requires the buyer's authorization. A malformed buyer is an
// invalid parameter, not an authorization failure.
func (c *Commitment) Create(buyer ledger.Address, unitPrice, totalQuantity int64) error {
	if err := buyer.Validate(); err != nil {
		return fmt.Errorf("%w: buyer: %v", state.ErrInvalidParameters, err)
	}
	if err := c.env.RequireAuth(buyer); err != nil {
		return err
	}
	if _, err := c.tracker.Create(buyer, unitPrice, totalQuantity); err != nil {
		return err
	}
	return c.env.emit(c.id, event.CommitmentCreated{
		Buyer:         buyer,
		UnitPrice:     unitPrice,
		TotalQuantity: totalQuantity,
	})
}

// Assign retires quantity of seller's credits on the token instance and
// counts them toward the commitment. Requires the seller's authorization,
// which also covers the burn.
func (c *Commitment) Assign(seller ledger.Address, token ledger.ContractID, quantity int64) error {
	if err := c.env.RequireAuth(seller); err != nil {
		return err
	}
	tok, err := c.env.Token(token)
	if err != nil {
		return err
	}

	a, err := c.tracker.Assign(seller, tok, quantity)
	if err != nil {
		return err
	}

	if err := c.env.emit(c.id, event.TokensAssigned{
		Seller:      a.Seller,
		Quantity:    a.Quantity,
		Outstanding: a.Outstanding,
	}); err != nil {
		return err
	}

	if !a.Fulfilled {
		return nil
	}
	cm, err := c.tracker.Get()
	if err != nil {
		return err
	}
	return c.env.emit(c.id, event.CommitmentFulfilled{Buyer: cm.Buyer, TotalQuantity: cm.TotalQuantity})
}
