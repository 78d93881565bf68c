package event

import (
	"CarbonLedger/internal/ledger"
	"encoding/json"
	"fmt"
)

// FactType discriminator for observable facts
type FactType string

const (
	FactContractDeployed    FactType = "ContractDeployed"
	FactMinted              FactType = "Minted"
	FactTransferred         FactType = "Transferred"
	FactBurned              FactType = "Burned"
	FactCommitmentCreated   FactType = "CommitmentCreated"
	FactTokensAssigned      FactType = "TokensAssigned"
	FactCommitmentFulfilled FactType = "CommitmentFulfilled"
)

// Fact is an observable record emitted by a committed call. Facts from a
// failed call are never published.
type Fact interface {
	FactType() FactType
}

type ContractDeployed struct {
	Kind  string         `json:"kind"`
	Admin ledger.Address `json:"admin,omitempty"`
}

type Minted struct {
	Recipient ledger.Address `json:"recipient"`
	Amount    int64          `json:"amount"`
}

type Transferred struct {
	Sender    ledger.Address `json:"sender"`
	Recipient ledger.Address `json:"recipient"`
	Amount    int64          `json:"amount"`
}

type Burned struct {
	Holder ledger.Address `json:"holder"`
	Amount int64          `json:"amount"`
}

type CommitmentCreated struct {
	Buyer         ledger.Address `json:"buyer"`
	UnitPrice     int64          `json:"unit_price"`
	TotalQuantity int64          `json:"total_quantity"`
}

type TokensAssigned struct {
	Seller      ledger.Address `json:"seller"`
	Quantity    int64          `json:"quantity"`
	Outstanding int64          `json:"outstanding"`
}

type CommitmentFulfilled struct {
	Buyer         ledger.Address `json:"buyer"`
	TotalQuantity int64          `json:"total_quantity"`
}

func (ContractDeployed) FactType() FactType    { return FactContractDeployed }
func (Minted) FactType() FactType              { return FactMinted }
func (Transferred) FactType() FactType         { return FactTransferred }
func (Burned) FactType() FactType              { return FactBurned }
func (CommitmentCreated) FactType() FactType   { return FactCommitmentCreated }
func (TokensAssigned) FactType() FactType      { return FactTokensAssigned }
func (CommitmentFulfilled) FactType() FactType { return FactCommitmentFulfilled }

// FactRecord is a fact stamped with where it came from. This is the form
// persisted, projected and published.
type FactRecord struct {
	Sequence int64             `json:"sequence"`
	CallID   string            `json:"call_id"`
	Index    int               `json:"index"`
	Contract ledger.ContractID `json:"contract"`
	Type     FactType          `json:"type"`
	Payload  json.RawMessage   `json:"payload"`
}

// NewFactRecord encodes f under its emitting contract.
func NewFactRecord(seq int64, callID string, index int, contract ledger.ContractID, f Fact) (FactRecord, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return FactRecord{}, fmt.Errorf("encode %s fact: %w", f.FactType(), err)
	}
	return FactRecord{
		Sequence: seq,
		CallID:   callID,
		Index:    index,
		Contract: contract,
		Type:     f.FactType(),
		Payload:  payload,
	}, nil
}

// Decode returns the typed fact.
func (r FactRecord) Decode() (Fact, error) {
	var f Fact
	switch r.Type {
	case FactContractDeployed:
		f = &ContractDeployed{}
	case FactMinted:
		f = &Minted{}
	case FactTransferred:
		f = &Transferred{}
	case FactBurned:
		f = &Burned{}
	case FactCommitmentCreated:
		f = &CommitmentCreated{}
	case FactTokensAssigned:
		f = &TokensAssigned{}
	case FactCommitmentFulfilled:
		f = &CommitmentFulfilled{}
	default:
		return nil, fmt.Errorf("unknown fact type %q", r.Type)
	}
	if err := json.Unmarshal(r.Payload, f); err != nil {
		return nil, fmt.Errorf("decode %s fact: %w", r.Type, err)
	}
	return f, nil
}
