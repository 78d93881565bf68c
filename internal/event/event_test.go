package event_test

import (
	"CarbonLedger/internal/event"
	"errors"
	"testing"
)

func TestCall_Validate(t *testing.T) {
	c, err := event.NewCall("c1", "tok", event.MethodMint, event.MintArgs{Recipient: "A", Amount: 1})
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	c.Method = "steal"
	if err := c.Validate(); !errors.Is(err, event.ErrMalformedCall) {
		t.Errorf("unknown method: expected ErrMalformedCall, got %v", err)
	}

	c.Method = event.MethodMint
	c.CallID = ""
	if err := c.Validate(); !errors.Is(err, event.ErrMalformedCall) {
		t.Errorf("empty call id: expected ErrMalformedCall, got %v", err)
	}
}

func TestCall_DecodeArgs_RejectsUnknownFields(t *testing.T) {
	c := &event.Call{CallID: "c1", Contract: "tok", Method: event.MethodMint, Args: []byte(`{"recipient":"A","amount":1,"extra":true}`)}

	var args event.MintArgs
	if err := c.DecodeArgs(&args); !errors.Is(err, event.ErrMalformedCall) {
		t.Errorf("expected ErrMalformedCall, got %v", err)
	}
}

func TestCall_DecodeArgs_EmptyArgs(t *testing.T) {
	c := &event.Call{CallID: "c1", Contract: "cc", Method: event.MethodDeployCommitment}

	var args event.DeployCommitmentArgs
	if err := c.DecodeArgs(&args); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCall_DigestStableAcrossKeyOrder(t *testing.T) {
	a := &event.Call{CallID: "c1", Contract: "tok", Method: event.MethodTransfer, Args: []byte(`{"from":"A","to":"B","amount":3}`)}
	b := &event.Call{CallID: "c1", Contract: "tok", Method: event.MethodTransfer, Args: []byte(`{"amount":3,"to":"B","from":"A"}`)}

	da, err := a.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	db, _ := b.Digest()
	if string(da) != string(db) {
		t.Error("digest depends on key order")
	}
}

func TestFactRecord_Decode(t *testing.T) {
	rec, err := event.NewFactRecord(4, "c1", 0, "cc", event.TokensAssigned{Seller: "S", Quantity: 40, Outstanding: 60})
	if err != nil {
		t.Fatalf("NewFactRecord: %v", err)
	}
	if rec.Type != event.FactTokensAssigned {
		t.Errorf("type: got %s, want %s", rec.Type, event.FactTokensAssigned)
	}

	f, err := rec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ta, ok := f.(*event.TokensAssigned)
	if !ok {
		t.Fatalf("got %T, want *TokensAssigned", f)
	}
	if ta.Seller != "S" || ta.Quantity != 40 || ta.Outstanding != 60 {
		t.Errorf("unexpected payload: %+v", ta)
	}
}
