package projection_test

import (
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/ledger"
	"CarbonLedger/internal/projection"
	"context"
	"strings"
	"testing"
)

type memStore struct {
	kinds       map[string]string
	balances    map[string]int64
	supply      map[string]int64
	assigned    map[string]int64
	total       map[string]int64
	fulfilled   map[string]bool
	assignments int
}

func newMemStore() *memStore {
	return &memStore{
		kinds:     map[string]string{},
		balances:  map[string]int64{},
		supply:    map[string]int64{},
		assigned:  map[string]int64{},
		total:     map[string]int64{},
		fulfilled: map[string]bool{},
	}
}

func (m *memStore) DeployInstance(_ context.Context, contract, kind, _ string, _ int64) error {
	m.kinds[contract] = kind
	return nil
}

func (m *memStore) AdjustBalance(_ context.Context, contract, holder string, delta, _ int64) error {
	m.balances[contract+"/"+holder] += delta
	return nil
}

func (m *memStore) AdjustSupply(_ context.Context, contract string, delta, _ int64) (int64, error) {
	m.supply[contract] += delta
	return m.supply[contract], nil
}

func (m *memStore) CreateCommitment(_ context.Context, contract, _ string, _, totalQuantity, _ int64) error {
	m.total[contract] = totalQuantity
	return nil
}

func (m *memStore) RecordAssignment(_ context.Context, contract, _ string, _, outstanding, _ int64) error {
	m.assigned[contract] = m.total[contract] - outstanding
	m.assignments++
	return nil
}

func (m *memStore) FulfillCommitment(_ context.Context, contract string, _ int64) error {
	m.fulfilled[contract] = true
	return nil
}

func fact(t *testing.T, seq int64, contract ledger.ContractID, f event.Fact) event.FactRecord {
	t.Helper()
	rec, err := event.NewFactRecord(seq, "call", 0, contract, f)
	if err != nil {
		t.Fatalf("NewFactRecord: %v", err)
	}
	return rec
}

func TestApply_TokenFacts(t *testing.T) {
	store := newMemStore()
	facts := []event.FactRecord{
		fact(t, 1, "credits", event.ContractDeployed{Kind: "token", Admin: "alice"}),
		fact(t, 1, "credits", event.Minted{Recipient: "alice", Amount: 1000}),
		fact(t, 2, "credits", event.Transferred{Sender: "alice", Recipient: "bob", Amount: 300}),
		fact(t, 3, "credits", event.Burned{Holder: "bob", Amount: 100}),
	}

	eff, err := projection.Apply(context.Background(), store, facts)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if got := store.balances["credits/alice"]; got != 700 {
		t.Errorf("alice: got %d, want 700", got)
	}
	if got := store.balances["credits/bob"]; got != 200 {
		t.Errorf("bob: got %d, want 200", got)
	}
	if got := store.supply["credits"]; got != 900 {
		t.Errorf("supply: got %d, want 900", got)
	}
	if got := eff.Supply["credits"]; got != 900 {
		t.Errorf("supply effect: got %d, want 900", got)
	}
	if store.kinds["credits"] != "token" {
		t.Errorf("kind: got %q", store.kinds["credits"])
	}
}

func TestApply_CommitmentFacts(t *testing.T) {
	store := newMemStore()
	facts := []event.FactRecord{
		fact(t, 1, "offtake", event.ContractDeployed{Kind: "commitment"}),
		fact(t, 2, "offtake", event.CommitmentCreated{Buyer: "buyer", UnitPrice: 25, TotalQuantity: 100}),
		fact(t, 3, "offtake", event.TokensAssigned{Seller: "seller", Quantity: 40, Outstanding: 60}),
		fact(t, 4, "offtake", event.TokensAssigned{Seller: "seller", Quantity: 60, Outstanding: 0}),
		fact(t, 4, "offtake", event.CommitmentFulfilled{Buyer: "buyer", TotalQuantity: 100}),
	}

	eff, err := projection.Apply(context.Background(), store, facts)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if got := store.assigned["offtake"]; got != 100 {
		t.Errorf("assigned: got %d, want 100", got)
	}
	if store.assignments != 2 {
		t.Errorf("assignments: got %d, want 2", store.assignments)
	}
	if !store.fulfilled["offtake"] {
		t.Error("commitment not marked fulfilled")
	}
	if got := eff.Outstanding["offtake"]; got != 0 {
		t.Errorf("outstanding effect: got %d, want 0", got)
	}
}

func TestApply_UnknownFact(t *testing.T) {
	rec := event.FactRecord{Sequence: 1, Contract: "x", Type: "Unheard", Payload: []byte(`{}`)}
	_, err := projection.Apply(context.Background(), newMemStore(), []event.FactRecord{rec})
	if err == nil || !strings.Contains(err.Error(), "Unheard") {
		t.Errorf("expected unknown fact error, got %v", err)
	}
}
