package main

import (
	"CarbonLedger/internal/auth"
	"CarbonLedger/internal/core"
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/ingestion"
	"CarbonLedger/internal/persistence"
	"CarbonLedger/internal/projection"
	"CarbonLedger/internal/testutil"
	"bytes"
	"testing"
	"time"

	dbm "github.com/tendermint/tm-db"
)

func TestBridge_ConvertsCoreOutputs(t *testing.T) {
	persistIn := make(chan core.CoreOutput, 4)
	projectionIn := make(chan core.CoreOutput, 4)
	c, err := core.NewDeterministicCore(dbm.NewMemDB(), auth.NewStaticAuthorizer("issuer"),
		persistIn, projectionIn, nil, nil, testutil.NopLogger(), core.Config{})
	if err != nil {
		t.Fatalf("NewDeterministicCore: %v", err)
	}

	calls, err := provisionCalls("vcu.2024", "issuer", "clearing", 500, nil)
	if err != nil {
		t.Fatalf("provisionCalls: %v", err)
	}
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, call := range calls {
		call.Timestamp = ts.Add(time.Duration(i) * time.Second)
		if _, err := c.ProcessCall(call); err != nil {
			t.Fatalf("ProcessCall %s: %v", call.CallID, err)
		}
	}
	close(persistIn)
	close(projectionIn)

	persistOut := make(chan persistence.CoreOutput, 4)
	projectionOut := make(chan projection.ProjectionOutput, 4)
	publishOut := make(chan ingestion.PublishableFacts, 4)
	bridgeCoreOutputs(persistIn, projectionIn, persistOut, projectionOut, publishOut, nil)

	var persisted []persistence.CoreOutput
	for o := range persistOut {
		persisted = append(persisted, o)
	}
	if len(persisted) != 2 {
		t.Fatalf("persisted: got %d outputs, want 2", len(persisted))
	}

	deploy, mint := persisted[0].Call, persisted[1].Call
	if deploy.CallID != "provision-vcu.2024-deploy" || deploy.Sequence != 1 {
		t.Errorf("deploy row: got %s at %d", deploy.CallID, deploy.Sequence)
	}
	if !bytes.Equal(mint.PrevHash, deploy.StateHash) {
		t.Errorf("mint prev_hash %x does not chain to deploy state_hash %x", mint.PrevHash, deploy.StateHash)
	}
	if !mint.Timestamp.Equal(ts.Add(time.Second)) {
		t.Errorf("mint timestamp: got %v", mint.Timestamp)
	}

	journals := persisted[1].JournalRows
	if len(journals) != 1 {
		t.Fatalf("mint journals: got %d, want 1", len(journals))
	}
	if journals[0].JournalType != "mint" || journals[0].Amount != 500 || journals[0].CallID != mint.CallID {
		t.Errorf("mint journal: got %+v", journals[0])
	}
	if journals[0].DebitAccount != "clearing" {
		t.Errorf("mint debit account: got %s, want clearing", journals[0].DebitAccount)
	}

	facts := persisted[1].FactRows
	if len(facts) != 1 || facts[0].FactType != string(event.FactMinted) || facts[0].Contract != "vcu.2024" {
		t.Errorf("mint facts: got %+v", facts)
	}

	var projected []projection.ProjectionOutput
	for o := range projectionOut {
		projected = append(projected, o)
	}
	if len(projected) != 2 || projected[1].Sequence != 2 || projected[1].Method != "mint" {
		t.Errorf("projection outputs: got %+v", projected)
	}
	if projected[1].Timestamp != ts.Add(time.Second).UnixMicro() {
		t.Errorf("projection timestamp: got %d", projected[1].Timestamp)
	}

	var published []ingestion.PublishableFacts
	for o := range publishOut {
		published = append(published, o)
	}
	if len(published) != 2 {
		t.Fatalf("published: got %d batches, want 2", len(published))
	}
	if published[1].StateHash != c.GetStateHash() {
		t.Errorf("published state hash %x, core at %x", published[1].StateHash, c.GetStateHash())
	}
}

func TestBridge_WithoutPostgresOrNATS(t *testing.T) {
	persistIn := make(chan core.CoreOutput, 1)
	persistIn <- core.CoreOutput{Envelope: &event.CallEnvelope{Sequence: 1, IdempotencyKey: "c1"}}
	close(persistIn)

	done := make(chan struct{})
	go func() {
		bridgeCoreOutputs(persistIn, nil, nil, nil, nil, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not return after its input closed")
	}
}

func TestBridge_FullPublishChannelDrops(t *testing.T) {
	persistIn := make(chan core.CoreOutput, 2)
	for seq := int64(1); seq <= 2; seq++ {
		persistIn <- core.CoreOutput{
			Envelope: &event.CallEnvelope{Sequence: seq, IdempotencyKey: "c"},
			Facts:    []event.FactRecord{{Sequence: seq, Type: event.FactMinted}},
		}
	}
	close(persistIn)

	publishOut := make(chan ingestion.PublishableFacts, 1)
	bridgeCoreOutputs(persistIn, nil, nil, nil, publishOut, nil)

	var got []int64
	for p := range publishOut {
		got = append(got, p.Sequence)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("published sequences: got %v, want [1]", got)
	}
}
