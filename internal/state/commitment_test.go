package state_test

import (
	"CarbonLedger/internal/ledger"
	"CarbonLedger/internal/state"
	"errors"
	"testing"
)

type memCommitmentStore struct {
	c *state.Commitment
}

func (m *memCommitmentStore) LoadCommitment() (*state.Commitment, error) {
	if m.c == nil {
		return nil, nil
	}
	cp := *m.c
	return &cp, nil
}

func (m *memCommitmentStore) SaveCommitment(c *state.Commitment) error {
	cp := *c
	m.c = &cp
	return nil
}

type failingBurner struct{ err error }

func (f failingBurner) Burn(ledger.Address, int64) error { return f.err }

func setup(t *testing.T, sellerBalance int64) (*state.CommitmentTracker, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(ledger.NewBalanceTracker())
	if sellerBalance > 0 {
		if err := l.Mint("S", sellerBalance); err != nil {
			t.Fatalf("Mint: %v", err)
		}
	}
	return state.NewCommitmentTracker(&memCommitmentStore{}), l
}

// ============================================================================
// Test: Create
// ============================================================================

func TestCreate(t *testing.T) {
	tr, _ := setup(t, 0)

	c, err := tr.Create("B", 10, 100)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Assigned != 0 {
		t.Errorf("assigned: got %d, want 0", c.Assigned)
	}

	got, err := tr.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Buyer != "B" || got.UnitPrice != 10 || got.TotalQuantity != 100 {
		t.Errorf("unexpected commitment: %+v", got)
	}
	if got.TotalValue().String() != "1000" {
		t.Errorf("total value: got %s, want 1000", got.TotalValue())
	}
}

func TestCreate_Twice(t *testing.T) {
	tr, _ := setup(t, 0)
	if _, err := tr.Create("B", 10, 100); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := tr.Create("B", 10, 100); !errors.Is(err, state.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreate_InvalidParameters(t *testing.T) {
	cases := []struct {
		name     string
		price    int64
		quantity int64
	}{
		{"zero price", 0, 10},
		{"negative price", -1, 10},
		{"zero quantity", 10, 0},
		{"negative quantity", 10, -3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, _ := setup(t, 0)
			if _, err := tr.Create("B", tc.price, tc.quantity); !errors.Is(err, state.ErrInvalidParameters) {
				t.Errorf("expected ErrInvalidParameters, got %v", err)
			}
			if st, _ := tr.State(); st != state.CommitmentUninitialized {
				t.Errorf("state: got %s, want uninitialized", st)
			}
		})
	}
}

func TestGet_BeforeCreate(t *testing.T) {
	tr, _ := setup(t, 0)
	if _, err := tr.Get(); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ============================================================================
// Test: Assign
// ============================================================================

func TestAssign_PartialThenFulfilled(t *testing.T) {
	tr, l := setup(t, 50)
	if _, err := tr.Create("B", 10, 100); err != nil {
		t.Fatalf("Create: %v", err)
	}

	a, err := tr.Assign("S", l, 40)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Outstanding != 60 || a.Fulfilled {
		t.Errorf("got outstanding=%d fulfilled=%v, want 60 false", a.Outstanding, a.Fulfilled)
	}
	if b, _ := l.BalanceOf("S"); b != 10 {
		t.Errorf("seller balance: got %d, want 10", b)
	}
	if s, _ := l.TotalSupply(); s != 10 {
		t.Errorf("supply: got %d, want 10", s)
	}

	_ = l.Mint("S", 60)
	a, err = tr.Assign("S", l, 60)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Outstanding != 0 || !a.Fulfilled {
		t.Errorf("got outstanding=%d fulfilled=%v, want 0 true", a.Outstanding, a.Fulfilled)
	}
	if st, _ := tr.State(); st != state.CommitmentFulfilled {
		t.Errorf("state: got %s, want fulfilled", st)
	}
}

func TestAssign_AfterFulfilled(t *testing.T) {
	tr, l := setup(t, 20)
	_, _ = tr.Create("B", 1, 10)
	if _, err := tr.Assign("S", l, 10); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	_, err := tr.Assign("S", l, 1)
	if !errors.Is(err, state.ErrCommitmentFulfilled) {
		t.Fatalf("expected ErrCommitmentFulfilled, got %v", err)
	}
	if b, _ := l.BalanceOf("S"); b != 10 {
		t.Errorf("seller balance: got %d, want 10 (nothing burned)", b)
	}
}

func TestAssign_Overshoot_BurnsNothing(t *testing.T) {
	tr, l := setup(t, 50)
	_, _ = tr.Create("B", 1, 30)

	_, err := tr.Assign("S", l, 31)
	if !errors.Is(err, state.ErrExceedsOutstanding) {
		t.Fatalf("expected ErrExceedsOutstanding, got %v", err)
	}
	if !errors.Is(err, state.ErrInvalidParameters) {
		t.Errorf("overshoot should also match ErrInvalidParameters")
	}
	if b, _ := l.BalanceOf("S"); b != 50 {
		t.Errorf("seller balance: got %d, want 50", b)
	}
	c, _ := tr.Get()
	if c.Assigned != 0 {
		t.Errorf("assigned: got %d, want 0", c.Assigned)
	}
}

func TestAssign_InsufficientBalance(t *testing.T) {
	tr, l := setup(t, 5)
	_, _ = tr.Create("B", 1, 30)

	_, err := tr.Assign("S", l, 10)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	c, _ := tr.Get()
	if c.Assigned != 0 {
		t.Errorf("assigned: got %d, want 0", c.Assigned)
	}
}

func TestAssign_NonPositiveQuantity(t *testing.T) {
	tr, l := setup(t, 5)
	_, _ = tr.Create("B", 1, 30)

	for _, q := range []int64{0, -1} {
		if _, err := tr.Assign("S", l, q); !errors.Is(err, state.ErrInvalidParameters) {
			t.Errorf("quantity %d: expected ErrInvalidParameters, got %v", q, err)
		}
	}
}

func TestAssign_BeforeCreate(t *testing.T) {
	tr, l := setup(t, 5)
	if _, err := tr.Assign("S", l, 1); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAssign_BurnErrorLeavesCommitment(t *testing.T) {
	tr, _ := setup(t, 0)
	_, _ = tr.Create("B", 1, 30)

	boom := errors.New("boom")
	if _, err := tr.Assign("S", failingBurner{err: boom}, 5); !errors.Is(err, boom) {
		t.Fatalf("expected burn error, got %v", err)
	}
	c, _ := tr.Get()
	if c.Assigned != 0 {
		t.Errorf("assigned: got %d, want 0", c.Assigned)
	}
}

func TestAssign_MonotonicAndBounded(t *testing.T) {
	tr, l := setup(t, 1000)
	_, _ = tr.Create("B", 3, 100)

	prev := int64(0)
	for _, q := range []int64{7, 200, 13, 0, 80, 1} {
		_, _ = tr.Assign("S", l, q)
		c, _ := tr.Get()
		if c.Assigned < prev {
			t.Fatalf("assigned decreased: %d -> %d", prev, c.Assigned)
		}
		if err := c.Validate(); err != nil {
			t.Fatalf("invariant broken: %v", err)
		}
		prev = c.Assigned
	}
	if prev != 100 {
		t.Errorf("assigned: got %d, want 100", prev)
	}
}
