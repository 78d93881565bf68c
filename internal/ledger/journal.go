package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeMint JournalType = iota
	JournalTypeTransfer
	JournalTypeBurn
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeMint:
		return "mint"
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeBurn:
		return "burn"
	default:
		return fmt.Sprintf("journal_type(%d)", int32(t))
	}
}

// Journal is a single double-entry movement of credits on one token contract.
// Mint credits IssuanceAccount, burn debits RetirementAccount.
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string // call id of the top-level call
	Sequence      int64
	Contract      ContractID
	DebitAccount  Address // balance increases
	CreditAccount Address // balance decreases
	Amount        int64   // always positive
	JournalType   JournalType
	Timestamp     int64 // epoch microseconds
}

// Batch groups the journals produced by one top-level call.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. An empty batch is valid: calls
// such as commitment creation move no credits.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		switch j.JournalType {
		case JournalTypeMint:
			if j.CreditAccount != IssuanceAccount {
				return fmt.Errorf("mint journal %s not credited to issuance", j.JournalID)
			}
		case JournalTypeBurn:
			if j.DebitAccount != RetirementAccount {
				return fmt.Errorf("burn journal %s not debited to retirement", j.JournalID)
			}
		case JournalTypeTransfer:
			if j.DebitAccount.IsSystem() || j.CreditAccount.IsSystem() {
				return fmt.Errorf("transfer journal %s touches a system account", j.JournalID)
			}
		default:
			return fmt.Errorf("journal %s has unknown type %d", j.JournalID, j.JournalType)
		}
	}

	return nil
}

// Empty reports whether the batch moved any credits.
func (b *Batch) Empty() bool {
	return len(b.Journals) == 0
}
