package ingestion

import (
	"CarbonLedger/internal/auth"
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/ledger"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const callSubjectPrefix = "carbon.calls."

// callJSON is the wire format on the call stream. contract and method may
// be omitted; the subject carries them.
type callJSON struct {
	CallID      string          `json:"call_id"`
	Contract    string          `json:"contract,omitempty"`
	Method      string          `json:"method,omitempty"`
	Args        json.RawMessage `json:"args"`
	Proofs      []auth.Proof    `json:"proofs,omitempty"`
	TimestampUs int64           `json:"timestamp_us,omitempty"`
}

// CallSubject is the subject a call for contract/method is published on.
func CallSubject(contract ledger.ContractID, method event.Method) string {
	return callSubjectPrefix + string(method) + "." + string(contract)
}

// ParseSubject splits carbon.calls.<method>.<contract>. The contract is
// everything after the method token.
func ParseSubject(subject string) (event.Method, ledger.ContractID, error) {
	rest, ok := strings.CutPrefix(subject, callSubjectPrefix)
	if !ok {
		return "", "", fmt.Errorf("%w: subject %q outside %s", event.ErrMalformedCall, subject, CallSubjects)
	}
	method, contract, ok := strings.Cut(rest, ".")
	if !ok || method == "" || contract == "" {
		return "", "", fmt.Errorf("%w: subject %q has no method/contract", event.ErrMalformedCall, subject)
	}
	return event.Method(method), ledger.ContractID(contract), nil
}

// ParseCall decodes and validates a call message.
func ParseCall(raw RawCall) (*event.Call, error) {
	method, contract, err := ParseSubject(raw.Subject)
	if err != nil {
		return nil, err
	}

	var j callJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("%w: parse call: %v", event.ErrMalformedCall, err)
	}
	if j.Contract != "" && ledger.ContractID(j.Contract) != contract {
		return nil, fmt.Errorf("%w: body contract %q, subject contract %q", event.ErrMalformedCall, j.Contract, contract)
	}
	if j.Method != "" && event.Method(j.Method) != method {
		return nil, fmt.Errorf("%w: body method %q, subject method %q", event.ErrMalformedCall, j.Method, method)
	}

	ts := raw.Published.UTC()
	if j.TimestampUs > 0 {
		ts = time.UnixMicro(j.TimestampUs).UTC()
	}

	call := &event.Call{
		CallID:    j.CallID,
		Contract:  contract,
		Method:    method,
		Args:      j.Args,
		Proofs:    j.Proofs,
		Timestamp: ts,
	}
	if err := call.Validate(); err != nil {
		return nil, err
	}
	return call, nil
}

// EncodeCall renders call in the call stream's wire format, for producers.
func EncodeCall(call *event.Call) ([]byte, error) {
	j := callJSON{
		CallID:   call.CallID,
		Contract: string(call.Contract),
		Method:   string(call.Method),
		Args:     call.Args,
		Proofs:   call.Proofs,
	}
	if !call.Timestamp.IsZero() {
		j.TimestampUs = call.Timestamp.UnixMicro()
	}
	return json.Marshal(j)
}
