package ingestion_test

import (
	"CarbonLedger/internal/core"
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/ingestion"
	"CarbonLedger/internal/testutil"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

var published = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func rawFromJSON(t *testing.T, subject string, seq int64, v interface{}) ingestion.RawCall {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCall{
		Subject:        subject,
		Data:           data,
		StreamSequence: seq,
		Published:      published,
	}
}

func TestParseCall_FromSubject(t *testing.T) {
	payload := map[string]interface{}{
		"call_id": "mint-1",
		"args":    map[string]interface{}{"recipient": "clearing", "amount": 500},
		"proofs":  []map[string]interface{}{{"address": "issuer"}},
	}

	raw := rawFromJSON(t, "carbon.calls.mint.vcu.2024", 7, payload)
	call, err := ingestion.ParseCall(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if call.Method != event.MethodMint {
		t.Errorf("method: got %s, want mint", call.Method)
	}
	if call.Contract != "vcu.2024" {
		t.Errorf("contract: got %s, want vcu.2024", call.Contract)
	}
	if len(call.Proofs) != 1 || call.Proofs[0].Address != "issuer" {
		t.Errorf("proofs: got %+v", call.Proofs)
	}
	if !call.Timestamp.Equal(published) {
		t.Errorf("timestamp: got %v, want publish time %v", call.Timestamp, published)
	}

	var args event.MintArgs
	if err := call.DecodeArgs(&args); err != nil {
		t.Fatalf("decode args: %v", err)
	}
	if args.Amount != 500 || args.Recipient != "clearing" {
		t.Errorf("args: got %+v", args)
	}
}

func TestParseCall_BodyTimestampWins(t *testing.T) {
	raw := rawFromJSON(t, "carbon.calls.burn.credits", 1, map[string]interface{}{
		"call_id":      "b-1",
		"args":         map[string]interface{}{"holder": "alice", "amount": 1},
		"timestamp_us": int64(1700000000000000),
	})
	call, err := ingestion.ParseCall(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := call.Timestamp.UnixMicro(); got != 1700000000000000 {
		t.Errorf("timestamp: got %d, want 1700000000000000", got)
	}
}

func TestParseCall_Rejects(t *testing.T) {
	cases := []struct {
		name    string
		subject string
		body    string
	}{
		{"wrong prefix", "carbon.facts.mint.credits", `{"call_id":"x"}`},
		{"no contract", "carbon.calls.mint", `{"call_id":"x"}`},
		{"unknown method", "carbon.calls.steal.credits", `{"call_id":"x"}`},
		{"invalid json", "carbon.calls.mint.credits", `{invalid json`},
		{"missing call id", "carbon.calls.mint.credits", `{"args":{}}`},
		{"contract mismatch", "carbon.calls.mint.credits", `{"call_id":"x","contract":"other"}`},
		{"method mismatch", "carbon.calls.mint.credits", `{"call_id":"x","method":"burn"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := ingestion.RawCall{Subject: tc.subject, Data: []byte(tc.body)}
			_, err := ingestion.ParseCall(raw)
			if !errors.Is(err, event.ErrMalformedCall) {
				t.Fatalf("expected ErrMalformedCall, got %v", err)
			}
		})
	}
}

func TestCallSubject_RoundTrip(t *testing.T) {
	subject := ingestion.CallSubject("offtake.q3", event.MethodAssign)
	if subject != "carbon.calls.assign.offtake.q3" {
		t.Fatalf("subject: got %s", subject)
	}
	method, contract, err := ingestion.ParseSubject(subject)
	if err != nil {
		t.Fatalf("ParseSubject: %v", err)
	}
	if method != event.MethodAssign || contract != "offtake.q3" {
		t.Errorf("got %s/%s", method, contract)
	}
}

func TestEncodeCall_ParsesBack(t *testing.T) {
	call, err := event.NewCall("deploy-1", "vcu.2024", event.MethodDeployToken, event.DeployTokenArgs{Admin: "issuer"})
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}
	call.Timestamp = published.Add(time.Minute)

	data, err := ingestion.EncodeCall(call)
	if err != nil {
		t.Fatalf("EncodeCall: %v", err)
	}
	got, err := ingestion.ParseCall(ingestion.RawCall{
		Subject:   ingestion.CallSubject(call.Contract, call.Method),
		Data:      data,
		Published: published,
	})
	if err != nil {
		t.Fatalf("ParseCall: %v", err)
	}
	if got.CallID != call.CallID || got.Contract != call.Contract || got.Method != call.Method {
		t.Errorf("got %s/%s/%s", got.CallID, got.Contract, got.Method)
	}
	if !got.Timestamp.Equal(call.Timestamp) {
		t.Errorf("timestamp: got %v, want %v", got.Timestamp, call.Timestamp)
	}
}

func TestFactSubjectAndMsgID(t *testing.T) {
	rec, err := event.NewFactRecord(42, "call-1", 2, "my credits", event.Burned{Holder: "alice", Amount: 3})
	if err != nil {
		t.Fatalf("NewFactRecord: %v", err)
	}
	if got := ingestion.FactSubject(rec); got != "carbon.facts.Burned.my_credits" {
		t.Errorf("subject: got %s", got)
	}
	if got := ingestion.FactMsgID(rec); got != "42-2" {
		t.Errorf("msg id: got %s, want 42-2", got)
	}
}

// fakeSubmitter records what the subscriber handed to the core.
type fakeSubmitter struct {
	err     error
	calls   []*event.Call
	skipped []int64
}

func (f *fakeSubmitter) Submit(_ context.Context, call *event.Call) (*core.Result, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	return &core.Result{Sequence: int64(len(f.calls))}, nil
}

func (f *fakeSubmitter) Skip(_ context.Context, _ string, seq int64) error {
	f.skipped = append(f.skipped, seq)
	return f.err
}

func TestProcess_Dispositions(t *testing.T) {
	good := map[string]interface{}{
		"call_id": "t-1",
		"args":    map[string]interface{}{"from": "alice", "to": "bob", "amount": 5},
	}

	cases := []struct {
		name string
		err  error
		want ingestion.Disposition
	}{
		{"applied", nil, ingestion.Ack},
		{"duplicate", core.ErrDuplicateCall, ingestion.Ack},
		{"contract rejection", errors.New("ledger: insufficient balance"), ingestion.Ack},
		{"stale redelivery", fmt.Errorf("wrap: %w", core.ErrOutOfOrder), ingestion.Ack},
		{"dependency down", fmt.Errorf("%w: postgres", core.ErrUnavailable), ingestion.Nak},
		{"shutdown", context.Canceled, ingestion.Nak},
		{"hole in stream", fmt.Errorf("wrap: %w", core.ErrSequenceGap), ingestion.Term},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := &fakeSubmitter{err: tc.err}
			ns := ingestion.NewNATSSubscriber(nil, sub, nil, testutil.NopLogger())

			got := ns.Process(context.Background(), rawFromJSON(t, "carbon.calls.transfer.credits", 9, good))
			if got != tc.want {
				t.Errorf("disposition: got %s, want %s", got, tc.want)
			}
			if len(sub.calls) != 1 {
				t.Fatalf("submitted: got %d, want 1", len(sub.calls))
			}
			call := sub.calls[0]
			if call.Source != ingestion.SourceName(ingestion.CallStream) || call.SourceSequence != 9 {
				t.Errorf("source: got %s/%d", call.Source, call.SourceSequence)
			}
		})
	}
}

func TestProcess_UndecodableMessageSkipsPosition(t *testing.T) {
	sub := &fakeSubmitter{}
	ns := ingestion.NewNATSSubscriber(nil, sub, nil, testutil.NopLogger())

	raw := ingestion.RawCall{Subject: "carbon.calls.mint.credits", Data: []byte("garbage"), StreamSequence: 4}
	if got := ns.Process(context.Background(), raw); got != ingestion.Ack {
		t.Errorf("disposition: got %s, want ack", got)
	}
	if len(sub.calls) != 0 {
		t.Errorf("submitted: got %d calls, want 0", len(sub.calls))
	}
	if len(sub.skipped) != 1 || sub.skipped[0] != 4 {
		t.Errorf("skipped: got %v, want [4]", sub.skipped)
	}
}
