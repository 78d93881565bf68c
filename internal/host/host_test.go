package host_test

import (
	"CarbonLedger/internal/host"
	"CarbonLedger/internal/ledger"
	"CarbonLedger/internal/state"
	"errors"
	"testing"

	dbm "github.com/tendermint/tm-db"
)

func TestTx_ReadYourWrites(t *testing.T) {
	db := dbm.NewMemDB()
	tx := host.NewTx(db)

	tok := tx.Token("tok")
	if err := tok.SetBalance("A", 42); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	if got, _ := tok.Balance("A"); got != 42 {
		t.Errorf("got %d, want 42", got)
	}

	// Not visible outside the Tx until commit
	if got, _ := host.NewTx(db).Token("tok").Balance("A"); got != 0 {
		t.Errorf("uncommitted write visible: %d", got)
	}
}

func TestTx_CommitAndDiscard(t *testing.T) {
	db := dbm.NewMemDB()

	tx := host.NewTx(db)
	_ = tx.Token("tok").SetBalance("A", 5)
	_ = tx.Token("tok").SetSupply(5)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2 := host.NewTx(db)
	_ = tx2.Token("tok").SetBalance("A", 1)
	tx2.Discard()

	read := host.NewTx(db).Token("tok")
	if got, _ := read.Balance("A"); got != 5 {
		t.Errorf("balance: got %d, want 5", got)
	}
	if got, _ := read.Supply(); got != 5 {
		t.Errorf("supply: got %d, want 5", got)
	}
}

func TestTokenStore_ScanMergesPending(t *testing.T) {
	db := dbm.NewMemDB()
	tx := host.NewTx(db)
	_ = tx.Token("tok").SetBalance("A", 1)
	_ = tx.Token("tok").SetBalance("C", 3)
	_ = tx.Token("other").SetBalance("Z", 9)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx = host.NewTx(db)
	_ = tx.Token("tok").SetBalance("B", 2)
	_ = tx.Token("tok").SetBalance("C", 4)

	var holders []ledger.Address
	var sum int64
	err := tx.Token("tok").ScanBalances(func(h ledger.Address, amount int64) error {
		holders = append(holders, h)
		sum += amount
		return nil
	})
	if err != nil {
		t.Fatalf("ScanBalances: %v", err)
	}

	if len(holders) != 3 || holders[0] != "A" || holders[1] != "B" || holders[2] != "C" {
		t.Errorf("holders: got %v, want [A B C]", holders)
	}
	if sum != 7 {
		t.Errorf("sum: got %d, want 7", sum)
	}
}

func TestTokenStore_LedgerConservation(t *testing.T) {
	db := dbm.NewMemDB()
	tx := host.NewTx(db)
	tok := tx.Token("tok")
	l := ledger.New(tok)

	_ = l.Mint("A", 100)
	_ = l.Transfer("A", "B", 40)
	_ = l.Burn("B", 15)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	read := host.NewTx(db).Token("tok")
	if err := ledger.NewInvariantValidator().ValidateConservation(read, read); err != nil {
		t.Errorf("conservation: %v", err)
	}
	if got, _ := read.Supply(); got != 85 {
		t.Errorf("supply: got %d, want 85", got)
	}
}

func TestTx_TouchedBalances(t *testing.T) {
	tx := host.NewTx(dbm.NewMemDB())
	_ = tx.Token("t2").SetBalance("B", 1)
	_ = tx.Token("t1").SetBalance("Z", 1)
	_ = tx.Token("t1").SetBalance("A", 1)

	got := tx.TouchedBalances()
	want := []host.BalanceRef{{"t1", "A"}, {"t1", "Z"}, {"t2", "B"}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d]: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCommitmentStore_RoundTrip(t *testing.T) {
	db := dbm.NewMemDB()
	tx := host.NewTx(db)
	store := tx.Commitment("cc")

	if c, err := store.LoadCommitment(); err != nil || c != nil {
		t.Fatalf("fresh store: got %v, %v", c, err)
	}

	want := &state.Commitment{Buyer: "B", UnitPrice: 7, TotalQuantity: 30, Assigned: 4}
	if err := store.SaveCommitment(want); err != nil {
		t.Fatalf("SaveCommitment: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := host.NewTx(db).Commitment("cc").LoadCommitment()
	if err != nil {
		t.Fatalf("LoadCommitment: %v", err)
	}
	if *got != *want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestMalformedState(t *testing.T) {
	db := dbm.NewMemDB()
	if err := db.Set([]byte("l/tok/b/A"), []byte{1, 2, 3}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := db.Set([]byte("c/cc/commitment"), []byte{0xc1}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	tx := host.NewTx(db)
	if _, err := tx.Token("tok").Balance("A"); !errors.Is(err, host.ErrMalformedState) {
		t.Errorf("balance: expected ErrMalformedState, got %v", err)
	}
	if _, err := tx.Commitment("cc").LoadCommitment(); !errors.Is(err, host.ErrMalformedState) {
		t.Errorf("commitment: expected ErrMalformedState, got %v", err)
	}
}

func TestInstance_NotFound(t *testing.T) {
	tx := host.NewTx(dbm.NewMemDB())
	if _, err := tx.LoadInstance("nope"); !errors.Is(err, host.ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}

	_ = tx.SaveInstance("tok", &host.Instance{Kind: host.KindToken, Admin: "adm", DeployedAt: 3})
	inst, err := tx.LoadInstance("tok")
	if err != nil {
		t.Fatalf("LoadInstance: %v", err)
	}
	if inst.Kind != host.KindToken || inst.Admin != "adm" || inst.DeployedAt != 3 {
		t.Errorf("unexpected instance: %+v", inst)
	}
}

func TestCoreMeta(t *testing.T) {
	db := dbm.NewMemDB()
	tx := host.NewTx(db)
	if _, ok, err := tx.LoadCoreMeta(); ok || err != nil {
		t.Fatalf("fresh store: ok=%v err=%v", ok, err)
	}

	_ = tx.SaveCoreMeta(host.CoreMeta{Sequence: 9, StateHash: []byte{1, 2}})
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	meta, ok, err := host.NewTx(db).LoadCoreMeta()
	if err != nil || !ok {
		t.Fatalf("LoadCoreMeta: ok=%v err=%v", ok, err)
	}
	if meta.Sequence != 9 || len(meta.StateHash) != 2 {
		t.Errorf("unexpected meta: %+v", meta)
	}
}
