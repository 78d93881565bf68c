package persistence_test

import (
	"CarbonLedger/internal/observability"
	"CarbonLedger/internal/persistence"
	"CarbonLedger/internal/testutil"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

func TestMigrations_UpAndDownPaired(t *testing.T) {
	fsys := persistence.Migrations()

	ups, err := persistence.ListMigrations(fsys, ".up.sql")
	if err != nil {
		t.Fatalf("ListMigrations: %v", err)
	}
	downs, err := persistence.ListMigrations(fsys, ".down.sql")
	if err != nil {
		t.Fatalf("ListMigrations: %v", err)
	}

	if len(ups) != len(downs) {
		t.Fatalf("got %d up and %d down migrations", len(ups), len(downs))
	}
	for i := range ups {
		if want := strings.Replace(ups[i], ".up.sql", ".down.sql", 1); downs[i] != want {
			t.Errorf("down migration %d: got %s, want %s", i, downs[i], want)
		}
	}

	testutil.AssertGolden(t, "migrations.golden", []byte(strings.Join(ups, "\n")+"\n"))
}

func TestCheckLink(t *testing.T) {
	h1 := []byte{1, 2, 3}

	ok := persistence.CallRow{Sequence: 5, PrevHash: []byte{1, 2, 3}}
	if err := persistence.CheckLink(4, h1, ok); err != nil {
		t.Errorf("valid link rejected: %v", err)
	}

	gap := persistence.CallRow{Sequence: 6, PrevHash: h1}
	if err := persistence.CheckLink(4, h1, gap); !errors.Is(err, persistence.ErrChainBroken) {
		t.Errorf("expected ErrChainBroken for gap, got %v", err)
	}

	bad := persistence.CallRow{Sequence: 5, PrevHash: []byte{9}}
	if err := persistence.CheckLink(4, h1, bad); !errors.Is(err, persistence.ErrChainBroken) {
		t.Errorf("expected ErrChainBroken for hash mismatch, got %v", err)
	}
}

// ============================================================================
// Integration (Postgres)
// ============================================================================

func output(seq int64, callID string, prev, hash byte) persistence.CoreOutput {
	return persistence.CoreOutput{
		Call: persistence.CallRow{
			Sequence:  seq,
			CallID:    callID,
			Contract:  "credits",
			Method:    "mint",
			Payload:   []byte(`{"call_id":"` + callID + `"}`),
			StateHash: []byte{hash},
			PrevHash:  []byte{prev},
			Timestamp: time.UnixMicro(1_000_000 + seq),
		},
		JournalRows: []persistence.JournalRow{{
			JournalID:     uuid.NewString(),
			BatchID:       uuid.NewString(),
			CallID:        callID,
			Sequence:      seq,
			Contract:      "credits",
			DebitAccount:  "alice",
			CreditAccount: "system:issuance",
			Amount:        10,
			JournalType:   "mint",
			Timestamp:     1_000_000 + seq,
		}},
		FactRows: []persistence.FactRow{{
			Sequence: seq,
			CallID:   callID,
			Contract: "credits",
			FactType: "minted",
			Payload:  []byte(`{"to":"alice","amount":10}`),
		}},
	}
}

func TestPersistenceWorker_WritesAndDedups(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	in := make(chan persistence.CoreOutput, 8)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	worker := persistence.NewPersistenceWorker(db, in, 2, 5*time.Millisecond, metrics, testutil.NopLogger())

	in <- output(1, "c-1", 0, 1)
	in <- output(2, "c-2", 1, 2)
	in <- output(3, "c-3", 2, 3)
	close(in)

	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ctx := context.Background()
	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("c-2")
	if err != nil || !dup {
		t.Errorf("IsDuplicate(c-2): got %v, %v", dup, err)
	}
	dup, err = checker.IsDuplicate("c-9")
	if err != nil || dup {
		t.Errorf("IsDuplicate(c-9): got %v, %v", dup, err)
	}

	ids, err := checker.RecentCallIDs(ctx, 2)
	if err != nil {
		t.Fatalf("RecentCallIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "c-2" || ids[1] != "c-3" {
		t.Errorf("RecentCallIDs: got %v", ids)
	}

	cm := persistence.NewCheckpointManager(db)
	checked, err := cm.VerifyChain(ctx, 1)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if checked != 3 {
		t.Errorf("VerifyChain checked %d calls, want 3", checked)
	}

	facts, err := cm.LoadFactsFrom(ctx, 2, 10)
	if err != nil {
		t.Fatalf("LoadFactsFrom: %v", err)
	}
	if len(facts) != 2 {
		t.Errorf("got %d facts, want 2", len(facts))
	}
}

func TestCheckpoint_SaveLoadVerify(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	in := make(chan persistence.CoreOutput, 1)
	in <- output(1, "c-1", 0, 7)
	close(in)
	if err := persistence.NewPersistenceWorker(db, in, 10, time.Millisecond, nil, testutil.NopLogger()).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cm := persistence.NewCheckpointManager(db)
	cp := &persistence.Checkpoint{Sequence: 1, StateHash: []byte{7}, CallIDs: []string{"c-1"}, CreatedAt: time.Now()}
	if err := cm.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	loaded, err := cm.LoadLatestCheckpoint(ctx)
	if err != nil {
		t.Fatalf("LoadLatestCheckpoint: %v", err)
	}
	if loaded == nil || loaded.Sequence != 1 || len(loaded.CallIDs) != 1 {
		t.Fatalf("unexpected checkpoint: %+v", loaded)
	}

	ok, err := cm.VerifyCheckpoint(ctx, loaded)
	if err != nil || !ok {
		t.Errorf("VerifyCheckpoint: got %v, %v", ok, err)
	}

	loaded.StateHash = []byte{8}
	if _, err := cm.VerifyCheckpoint(ctx, loaded); !errors.Is(err, persistence.ErrChainBroken) {
		t.Errorf("expected ErrChainBroken, got %v", err)
	}
}
