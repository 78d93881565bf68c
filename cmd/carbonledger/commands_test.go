package main

import (
	"CarbonLedger/internal/auth"
	"CarbonLedger/internal/event"
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProvisionCalls_SignedMint(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	issuer := auth.AddressFromPublicKey(priv.Public().(ed25519.PublicKey))

	calls, err := provisionCalls("vcu.2024", "ignored", "clearing", 1000, priv)
	if err != nil {
		t.Fatalf("provisionCalls: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}

	var deploy event.DeployTokenArgs
	if err := calls[0].DecodeArgs(&deploy); err != nil {
		t.Fatalf("decode deploy args: %v", err)
	}
	if deploy.Admin != issuer || deploy.InitialSupply != 0 {
		t.Errorf("deploy args: got %+v, want admin %s and no initial supply", deploy, issuer)
	}

	if calls[1].CallID != "provision-vcu.2024-mint" {
		t.Errorf("mint call id: got %s", calls[1].CallID)
	}
	for _, call := range calls {
		digest, err := call.Digest()
		if err != nil {
			t.Fatalf("Digest: %v", err)
		}
		if err := auth.NewSignatureAuthorizer().Authorize(issuer, digest, call.Proofs); err != nil {
			t.Errorf("%s proof rejected: %v", call.Method, err)
		}
	}
}

func TestProvisionCalls_NoSupplyDeploysOnly(t *testing.T) {
	calls, err := provisionCalls("vcu.2024", "issuer", "clearing", 0, nil)
	if err != nil {
		t.Fatalf("provisionCalls: %v", err)
	}
	if len(calls) != 1 || calls[0].Method != event.MethodDeployToken {
		t.Errorf("got %d calls, want deploy only", len(calls))
	}
}

func TestProvisionCalls_RequiresAdmin(t *testing.T) {
	if _, err := provisionCalls("vcu.2024", "", "clearing", 10, nil); err == nil {
		t.Error("expected an error for an empty admin")
	}
}

func TestFetchBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/tokens/vcu/balances/alice":
			w.Write([]byte(`{"contract":"vcu","holder":"alice","balance":42,"as_of_sequence":7}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":"not_found","message":"contract not deployed"}`))
		}
	}))
	defer srv.Close()

	got, err := fetchBalance(srv.Client(), srv.URL+"/", "vcu", "alice")
	if err != nil {
		t.Fatalf("fetchBalance: %v", err)
	}
	if want := "42 (as of sequence 7)"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	_, err = fetchBalance(srv.Client(), srv.URL, "nope", "alice")
	if err == nil || err.Error() != "not_found: contract not deployed" {
		t.Errorf("got %v, want not_found error", err)
	}
}
