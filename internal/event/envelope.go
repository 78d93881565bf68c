package event

import (
	"CarbonLedger/internal/ledger"
	"time"
)

// CallEnvelope is the committed record of one call in the log
type CallEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Call id from the submitter
	IdempotencyKey string

	Contract ledger.ContractID
	Method   Method

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	Source         string
	SourceSequence int64

	// JSON-encoded Call, proofs included, for replay
	Payload []byte

	// SHA-256 of state AFTER applying this call
	StateHash [32]byte

	// Previous call's state hash (chain integrity)
	PrevHash [32]byte
}
