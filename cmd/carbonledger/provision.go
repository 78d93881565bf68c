package main

import (
	"CarbonLedger/internal/auth"
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/ingestion"
	"CarbonLedger/internal/ledger"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"
)

var provisionFlags struct {
	contract string
	admin    string
	adminKey string
	supply   int64
	clearing string
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Deploy a credit token and mint its supply to the clearing account",
	Long: `Publishes deploy_token and mint calls for one token on the call stream.
Call ids are derived from the contract id, so provisioning the same token
twice is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return provision(cmd.Context())
	},
}

func init() {
	f := provisionCmd.Flags()
	f.StringVar(&provisionFlags.contract, "contract", "", "token contract id")
	f.StringVar(&provisionFlags.admin, "admin", "", "issuer address (derived from --admin-key when set)")
	f.StringVar(&provisionFlags.adminKey, "admin-key", "", "hex ed25519 seed of the issuer, used to sign the mint")
	f.Int64Var(&provisionFlags.supply, "supply", 0, "credits to mint")
	f.StringVar(&provisionFlags.clearing, "clearing", "clearing", "account receiving the minted supply")
	provisionCmd.MarkFlagRequired("contract")
}

// provisionCalls builds the deploy and mint calls for a token, both
// authorized by the issuer. With priv set the proofs are signed.
func provisionCalls(contract ledger.ContractID, admin, clearing ledger.Address, supply int64, priv ed25519.PrivateKey) ([]*event.Call, error) {
	if priv != nil {
		admin = auth.AddressFromPublicKey(priv.Public().(ed25519.PublicKey))
	}
	if err := admin.Validate(); err != nil {
		return nil, err
	}

	deploy, err := event.NewCall(
		fmt.Sprintf("provision-%s-deploy", contract), contract, event.MethodDeployToken,
		event.DeployTokenArgs{Admin: admin})
	if err != nil {
		return nil, err
	}
	calls := []*event.Call{deploy}

	if supply != 0 {
		mint, err := event.NewCall(
			fmt.Sprintf("provision-%s-mint", contract), contract, event.MethodMint,
			event.MintArgs{Recipient: clearing, Amount: supply})
		if err != nil {
			return nil, err
		}
		calls = append(calls, mint)
	}

	for _, call := range calls {
		if priv == nil {
			call.Proofs = []auth.Proof{{Address: admin}}
			continue
		}
		digest, err := call.Digest()
		if err != nil {
			return nil, err
		}
		call.Proofs = []auth.Proof{auth.Sign(priv, digest)}
	}
	return calls, nil
}

func provision(ctx context.Context) error {
	logger := newLogger("provision")
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var priv ed25519.PrivateKey
	if provisionFlags.adminKey != "" {
		seed, err := hex.DecodeString(provisionFlags.adminKey)
		if err != nil || len(seed) != ed25519.SeedSize {
			return fmt.Errorf("--admin-key must be %d hex-encoded bytes", ed25519.SeedSize)
		}
		priv = ed25519.NewKeyFromSeed(seed)
	}

	calls, err := provisionCalls(
		ledger.ContractID(provisionFlags.contract),
		ledger.Address(provisionFlags.admin),
		ledger.Address(provisionFlags.clearing),
		provisionFlags.supply,
		priv,
	)
	if err != nil {
		return err
	}

	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		return err
	}

	for _, call := range calls {
		data, err := ingestion.EncodeCall(call)
		if err != nil {
			return err
		}
		ack, err := js.Publish(ctx, ingestion.CallSubject(call.Contract, call.Method), data,
			jetstream.WithMsgID(call.CallID))
		if err != nil {
			return fmt.Errorf("publish %s: %w", call.CallID, err)
		}
		logger.Info().
			Str("call_id", call.CallID).
			Uint64("stream_seq", ack.Sequence).
			Bool("duplicate", ack.Duplicate).
			Msg("call published")
	}
	return nil
}
