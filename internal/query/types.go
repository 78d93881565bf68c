package query

import (
	"encoding/json"
	"time"
)

// CommitmentResponse is a projected commitment plus derived fields.
type CommitmentResponse struct {
	Contract      string `json:"contract"`
	Buyer         string `json:"buyer"`
	UnitPrice     int64  `json:"unit_price"`
	TotalQuantity int64  `json:"total_quantity"`
	Assigned      int64  `json:"assigned"`
	Outstanding   int64  `json:"outstanding"`
	State         string `json:"state"`
	TotalValue    string `json:"total_value"` // unit_price * total_quantity, decimal
	AsOfSequence  int64  `json:"as_of_sequence"`
}

// AssignmentEntry is one assign call against a commitment.
type AssignmentEntry struct {
	Sequence    int64  `json:"sequence"`
	Seller      string `json:"seller"`
	Quantity    int64  `json:"quantity"`
	Outstanding int64  `json:"outstanding"`
}

// FactEntry is a logged fact for history queries.
type FactEntry struct {
	Sequence int64           `json:"sequence"`
	Index    int             `json:"index"`
	CallID   string          `json:"call_id"`
	Contract string          `json:"contract"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	CallID        string `json:"call_id"`
	Sequence      int64  `json:"sequence"`
	Contract      string `json:"contract"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// CallRecord is a committed call from the log.
type CallRecord struct {
	Sequence  int64           `json:"sequence"`
	CallID    string          `json:"call_id"`
	Contract  string          `json:"contract"`
	Method    string          `json:"method"`
	Payload   json.RawMessage `json:"payload"`
	StateHash string          `json:"state_hash"`
	Timestamp time.Time       `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy           bool                 `json:"is_healthy"`
	HashChainBreaks     []int64              `json:"hash_chain_breaks,omitempty"`
	UnbalancedContracts []UnbalancedContract `json:"unbalanced_contracts,omitempty"`
	OverAssigned        []string             `json:"over_assigned,omitempty"`
	AsOfSequence        int64                `json:"as_of_sequence"`
}

// UnbalancedContract is a token whose projected balances do not sum to its
// projected supply.
type UnbalancedContract struct {
	Contract     string `json:"contract"`
	TotalSupply  int64  `json:"total_supply"`
	BalanceSum   int64  `json:"balance_sum"`
	NegativeRows int64  `json:"negative_rows"`
}
