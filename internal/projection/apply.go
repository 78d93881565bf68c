package projection

import (
	"CarbonLedger/internal/event"
	"context"
	"fmt"
)

// Store is the write side of the projection tables. Deltas are applied in
// fact order; seq is the sequence of the call that emitted the fact.
type Store interface {
	DeployInstance(ctx context.Context, contract, kind, admin string, seq int64) error
	AdjustBalance(ctx context.Context, contract, holder string, delta, seq int64) error
	// AdjustSupply returns the supply after the change.
	AdjustSupply(ctx context.Context, contract string, delta, seq int64) (int64, error)
	CreateCommitment(ctx context.Context, contract, buyer string, unitPrice, totalQuantity, seq int64) error
	RecordAssignment(ctx context.Context, contract, seller string, quantity, outstanding, seq int64) error
	FulfillCommitment(ctx context.Context, contract string, seq int64) error
}

// Effects reports gauges touched while applying facts.
type Effects struct {
	Supply      map[string]int64
	Outstanding map[string]int64
}

// Apply routes facts to store. Unknown fact types are an error so a newer
// core never silently skips projection updates.
func Apply(ctx context.Context, store Store, facts []event.FactRecord) (*Effects, error) {
	eff := &Effects{Supply: map[string]int64{}, Outstanding: map[string]int64{}}

	for _, rec := range facts {
		f, err := rec.Decode()
		if err != nil {
			return nil, err
		}
		contract := string(rec.Contract)
		seq := rec.Sequence

		switch f := f.(type) {
		case *event.ContractDeployed:
			err = store.DeployInstance(ctx, contract, f.Kind, string(f.Admin), seq)

		case *event.Minted:
			if err = store.AdjustBalance(ctx, contract, string(f.Recipient), f.Amount, seq); err == nil {
				eff.Supply[contract], err = store.AdjustSupply(ctx, contract, f.Amount, seq)
			}

		case *event.Transferred:
			if err = store.AdjustBalance(ctx, contract, string(f.Sender), -f.Amount, seq); err == nil {
				err = store.AdjustBalance(ctx, contract, string(f.Recipient), f.Amount, seq)
			}

		case *event.Burned:
			if err = store.AdjustBalance(ctx, contract, string(f.Holder), -f.Amount, seq); err == nil {
				eff.Supply[contract], err = store.AdjustSupply(ctx, contract, -f.Amount, seq)
			}

		case *event.CommitmentCreated:
			err = store.CreateCommitment(ctx, contract, string(f.Buyer), f.UnitPrice, f.TotalQuantity, seq)
			eff.Outstanding[contract] = f.TotalQuantity

		case *event.TokensAssigned:
			err = store.RecordAssignment(ctx, contract, string(f.Seller), f.Quantity, f.Outstanding, seq)
			eff.Outstanding[contract] = f.Outstanding

		case *event.CommitmentFulfilled:
			err = store.FulfillCommitment(ctx, contract, seq)

		default:
			return nil, fmt.Errorf("no projection for fact %s", rec.Type)
		}

		if err != nil {
			return nil, fmt.Errorf("project %s at seq=%d: %w", rec.Type, seq, err)
		}
	}

	return eff, nil
}
