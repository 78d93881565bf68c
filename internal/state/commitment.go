package state

import (
	"CarbonLedger/internal/ledger"
	fpmath "CarbonLedger/internal/math"
	"fmt"
	"math/big"
)

// CommitmentState is the lifecycle of the single commitment a tracker owns.
// Uninitialized -> Active -> Fulfilled. Fulfilled is terminal.
type CommitmentState int32

const (
	CommitmentUninitialized CommitmentState = iota
	CommitmentActive
	CommitmentFulfilled
)

func (s CommitmentState) String() string {
	switch s {
	case CommitmentUninitialized:
		return "uninitialized"
	case CommitmentActive:
		return "active"
	case CommitmentFulfilled:
		return "fulfilled"
	default:
		return fmt.Sprintf("commitment_state(%d)", int32(s))
	}
}

// Commitment is a buyer's standing agreement to accept retirement of
// TotalQuantity credits at UnitPrice each.
type Commitment struct {
	Buyer         ledger.Address `msgpack:"buyer"`
	UnitPrice     int64          `msgpack:"unit_price"`
	TotalQuantity int64          `msgpack:"total_quantity"`
	Assigned      int64          `msgpack:"assigned"`
}

// Outstanding = TotalQuantity - Assigned
func (c *Commitment) Outstanding() int64 {
	return c.TotalQuantity - c.Assigned
}

func (c *Commitment) State() CommitmentState {
	if c.Outstanding() == 0 {
		return CommitmentFulfilled
	}
	return CommitmentActive
}

// TotalValue is UnitPrice * TotalQuantity. It is reported only, so it is not
// bounded to int64.
func (c *Commitment) TotalValue() *big.Int {
	return fpmath.Product(c.UnitPrice, c.TotalQuantity)
}

// Validate checks the stored invariants: positive price and quantity,
// 0 <= Assigned <= TotalQuantity.
func (c *Commitment) Validate() error {
	if c.UnitPrice <= 0 || c.TotalQuantity <= 0 {
		return fmt.Errorf("commitment has non-positive price %d or quantity %d", c.UnitPrice, c.TotalQuantity)
	}
	if c.Assigned < 0 || c.Assigned > c.TotalQuantity {
		return fmt.Errorf("commitment assigned %d outside [0, %d]", c.Assigned, c.TotalQuantity)
	}
	return nil
}
