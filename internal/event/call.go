package event

import (
	"CarbonLedger/internal/auth"
	"CarbonLedger/internal/ledger"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedCall is returned for calls that cannot be dispatched at all:
// unknown method, missing call id, undecodable args.
var ErrMalformedCall = errors.New("event: malformed call")

// Method names a contract entry point.
type Method string

const (
	MethodDeployToken      Method = "deploy_token"
	MethodDeployCommitment Method = "deploy_commitment"

	// token
	MethodMint     Method = "mint"
	MethodTransfer Method = "transfer"
	MethodBurn     Method = "burn"

	// commitment tracker
	MethodCreate Method = "create"
	MethodAssign Method = "assign"
)

var knownMethods = map[Method]struct{}{
	MethodDeployToken:      {},
	MethodDeployCommitment: {},
	MethodMint:             {},
	MethodTransfer:         {},
	MethodBurn:             {},
	MethodCreate:           {},
	MethodAssign:           {},
}

// Call is one top-level mutating invocation of a contract instance.
type Call struct {
	// Stable idempotency key chosen by the submitter
	CallID string `json:"call_id"`

	Contract ledger.ContractID `json:"contract"`
	Method   Method            `json:"method"`
	Args     json.RawMessage   `json:"args"`
	Proofs   []auth.Proof      `json:"proofs,omitempty"`

	// Upstream stream and its sequence, for ordering validation.
	// Empty for calls that arrive over request/response transports.
	Source         string `json:"source,omitempty"`
	SourceSequence int64  `json:"source_sequence,omitempty"`

	// Versioned input timestamp (NOT wall-clock), stamped by the transport on receipt
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NewCall builds a call with args encoded as JSON.
func NewCall(callID string, contract ledger.ContractID, method Method, args interface{}) (*Call, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	return &Call{
		CallID:   callID,
		Contract: contract,
		Method:   method,
		Args:     raw,
	}, nil
}

func (c *Call) IdempotencyKey() string {
	return c.CallID
}

// Validate checks the call envelope. Args are validated by the contract.
func (c *Call) Validate() error {
	if c.CallID == "" {
		return fmt.Errorf("%w: empty call id", ErrMalformedCall)
	}
	if len(c.CallID) > ledger.MaxIdentityLength {
		return fmt.Errorf("%w: call id longer than %d bytes", ErrMalformedCall, ledger.MaxIdentityLength)
	}
	if err := c.Contract.Validate(); err != nil {
		return err
	}
	if _, ok := knownMethods[c.Method]; !ok {
		return fmt.Errorf("%w: unknown method %q", ErrMalformedCall, c.Method)
	}
	return nil
}

// Digest is the message signers sign to authorize this call.
func (c *Call) Digest() ([]byte, error) {
	d, err := auth.CallDigest(c.CallID, c.Contract, string(c.Method), c.Args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}
	return d, nil
}

// DecodeArgs strictly decodes the args into v. Unknown fields are rejected.
func (c *Call) DecodeArgs(v interface{}) error {
	raw := c.Args
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s args: %v", ErrMalformedCall, c.Method, err)
	}
	return nil
}

type DeployTokenArgs struct {
	Admin         ledger.Address `json:"admin"`
	InitialSupply int64          `json:"initial_supply"`
}

type DeployCommitmentArgs struct{}

type MintArgs struct {
	Recipient ledger.Address `json:"recipient"`
	Amount    int64          `json:"amount"`
}

type TransferArgs struct {
	From   ledger.Address `json:"from"`
	To     ledger.Address `json:"to"`
	Amount int64          `json:"amount"`
}

type BurnArgs struct {
	Holder ledger.Address `json:"holder"`
	Amount int64          `json:"amount"`
}

type CreateArgs struct {
	Buyer         ledger.Address `json:"buyer"`
	UnitPrice     int64          `json:"unit_price"`
	TotalQuantity int64          `json:"total_quantity"`
}

type AssignArgs struct {
	Seller   ledger.Address    `json:"seller"`
	Token    ledger.ContractID `json:"token"`
	Quantity int64             `json:"quantity"`
}
