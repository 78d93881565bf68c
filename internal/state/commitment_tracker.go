package state

import (
	"CarbonLedger/internal/ledger"
	fpmath "CarbonLedger/internal/math"
	"fmt"
)

// CommitmentStore persists the one commitment of a tracker instance.
// LoadCommitment returns (nil, nil) while the instance is uninitialized.
type CommitmentStore interface {
	LoadCommitment() (*Commitment, error)
	SaveCommitment(c *Commitment) error
}

// Burner retires credits on the ledger the seller is assigning from.
type Burner interface {
	Burn(holder ledger.Address, amount int64) error
}

// Assignment is the outcome of a successful assign.
type Assignment struct {
	Seller      ledger.Address
	Quantity    int64
	Outstanding int64
	Fulfilled   bool
}

// CommitmentTracker implements the commitment state machine. Authorization
// is checked by the caller before any method here runs.
type CommitmentTracker struct {
	store CommitmentStore
}

func NewCommitmentTracker(store CommitmentStore) *CommitmentTracker {
	return &CommitmentTracker{store: store}
}

// Create persists a new commitment with nothing assigned.
func (t *CommitmentTracker) Create(buyer ledger.Address, unitPrice, totalQuantity int64) (*Commitment, error) {
	if err := buyer.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if unitPrice <= 0 {
		return nil, fmt.Errorf("%w: unit price %d", ErrInvalidParameters, unitPrice)
	}
	if totalQuantity <= 0 {
		return nil, fmt.Errorf("%w: total quantity %d", ErrInvalidParameters, totalQuantity)
	}

	existing, err := t.store.LoadCommitment()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyExists
	}

	c := &Commitment{
		Buyer:         buyer,
		UnitPrice:     unitPrice,
		TotalQuantity: totalQuantity,
		Assigned:      0,
	}
	if err := t.store.SaveCommitment(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Assign burns quantity of seller's credits through burner and counts them
// toward the commitment.
//
// All checks run before the burn: a rejected assignment never retires
// credits. The burn and the commitment update share the caller's
// transaction, so a failure after the burn discards both.
func (t *CommitmentTracker) Assign(seller ledger.Address, burner Burner, quantity int64) (*Assignment, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity %d", ErrInvalidParameters, quantity)
	}

	c, err := t.store.LoadCommitment()
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	if c.State() == CommitmentFulfilled {
		return nil, ErrCommitmentFulfilled
	}
	if quantity > c.Outstanding() {
		return nil, fmt.Errorf("%w: quantity %d, outstanding %d", ErrExceedsOutstanding, quantity, c.Outstanding())
	}

	assigned, err := fpmath.AddChecked(c.Assigned, quantity)
	if err != nil {
		return nil, fmt.Errorf("%w: assigned quantity", ledger.ErrOverflow)
	}

	if err := burner.Burn(seller, quantity); err != nil {
		return nil, err
	}

	c.Assigned = assigned
	if err := t.store.SaveCommitment(c); err != nil {
		return nil, err
	}

	return &Assignment{
		Seller:      seller,
		Quantity:    quantity,
		Outstanding: c.Outstanding(),
		Fulfilled:   c.State() == CommitmentFulfilled,
	}, nil
}

// Get returns the commitment or ErrNotFound before Create.
func (t *CommitmentTracker) Get() (*Commitment, error) {
	c, err := t.store.LoadCommitment()
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

// State reports the lifecycle state, including Uninitialized.
func (t *CommitmentTracker) State() (CommitmentState, error) {
	c, err := t.store.LoadCommitment()
	if err != nil {
		return CommitmentUninitialized, err
	}
	if c == nil {
		return CommitmentUninitialized, nil
	}
	return c.State(), nil
}
