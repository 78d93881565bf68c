package query_test

import (
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/ledger"
	"CarbonLedger/internal/projection"
	"CarbonLedger/internal/query"
	"CarbonLedger/internal/state"
	"CarbonLedger/internal/testutil"
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewCommitmentResponse_DerivedFields(t *testing.T) {
	c := &state.Commitment{
		Buyer:         "buyer",
		UnitPrice:     9_000_000_000_000_000_000,
		TotalQuantity: 4,
		Assigned:      1,
	}

	resp := query.NewCommitmentResponse("offtake", c, 12)
	if resp.Outstanding != 3 {
		t.Errorf("outstanding: got %d, want 3", resp.Outstanding)
	}
	if resp.State != "active" {
		t.Errorf("state: got %s, want active", resp.State)
	}
	if resp.TotalValue != "36000000000000000000" {
		t.Errorf("total value: got %s, want 36000000000000000000", resp.TotalValue)
	}
	if resp.AsOfSequence != 12 {
		t.Errorf("as of: got %d, want 12", resp.AsOfSequence)
	}

	c.Assigned = 4
	if got := query.NewCommitmentResponse("offtake", c, 13).State; got != "fulfilled" {
		t.Errorf("state: got %s, want fulfilled", got)
	}
}

func TestQueryService_ReadsProjections(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	facts := make(chan projection.ProjectionOutput, 4)
	worker := projection.NewProjectionWorker(db, facts, nil, testutil.NopLogger())

	mk := func(seq int64, contract ledger.ContractID, f event.Fact) event.FactRecord {
		rec, err := event.NewFactRecord(seq, "call", 0, contract, f)
		if err != nil {
			t.Fatalf("NewFactRecord: %v", err)
		}
		return rec
	}

	facts <- projection.ProjectionOutput{Sequence: 1, Facts: []event.FactRecord{
		mk(1, "credits", event.ContractDeployed{Kind: "token", Admin: "alice"}),
		mk(1, "credits", event.Minted{Recipient: "alice", Amount: 100}),
	}}
	facts <- projection.ProjectionOutput{Sequence: 2, Facts: []event.FactRecord{
		mk(2, "credits", event.Transferred{Sender: "alice", Recipient: "bob", Amount: 30}),
	}}
	facts <- projection.ProjectionOutput{Sequence: 3, Facts: []event.FactRecord{
		mk(3, "offtake", event.ContractDeployed{Kind: "commitment"}),
		mk(3, "offtake", event.CommitmentCreated{Buyer: "buyer", UnitPrice: 5, TotalQuantity: 10}),
	}}
	close(facts)

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := worker.Run(runCtx); err != nil {
		t.Fatalf("projection Run: %v", err)
	}

	qs := query.NewQueryService(db)

	bal, err := qs.GetBalance(ctx, "credits", "bob")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.Balance != 30 || bal.AsOfSequence != 3 {
		t.Errorf("bob: got balance=%d as_of=%d", bal.Balance, bal.AsOfSequence)
	}

	sup, err := qs.GetSupply(ctx, "credits")
	if err != nil {
		t.Fatalf("GetSupply: %v", err)
	}
	if sup.TotalSupply != 100 || sup.Holders != 2 || sup.Admin != "alice" {
		t.Errorf("supply: got %+v", sup)
	}

	cm, err := qs.GetCommitment(ctx, "offtake")
	if err != nil {
		t.Fatalf("GetCommitment: %v", err)
	}
	if cm.Outstanding != 10 || cm.TotalValue != "50" {
		t.Errorf("commitment: got %+v", cm)
	}

	if _, err := qs.GetSupply(ctx, "nope"); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	report, err := qs.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if !report.IsHealthy {
		t.Errorf("expected healthy report, got %+v", report)
	}
}
