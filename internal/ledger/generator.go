package ledger

import (
	"github.com/google/uuid"
)

// JournalGenerator records the journals for one top-level call. Ledger
// mutations are applied to the store directly; the generator only keeps the
// audit trail that gets persisted alongside the committed state.
type JournalGenerator struct {
	batch *Batch
}

func NewJournalGenerator(eventRef string, sequence, timestamp int64) *JournalGenerator {
	return &JournalGenerator{
		batch: &Batch{
			BatchID:   uuid.New(),
			EventRef:  eventRef,
			Sequence:  sequence,
			Timestamp: timestamp,
			Journals:  make([]Journal, 0, 1),
		},
	}
}

// Mint records: system:issuance -> recipient
func (jg *JournalGenerator) Mint(contract ContractID, recipient Address, amount int64) {
	jg.append(contract, recipient, IssuanceAccount, amount, JournalTypeMint)
}

// Transfer records: sender -> recipient. Self-transfers move nothing and are skipped.
func (jg *JournalGenerator) Transfer(contract ContractID, sender, recipient Address, amount int64) {
	if sender == recipient {
		return
	}
	jg.append(contract, recipient, sender, amount, JournalTypeTransfer)
}

// Burn records: holder -> system:retired
func (jg *JournalGenerator) Burn(contract ContractID, holder Address, amount int64) {
	jg.append(contract, RetirementAccount, holder, amount, JournalTypeBurn)
}

// Batch returns the batch built so far.
func (jg *JournalGenerator) Batch() *Batch {
	return jg.batch
}

func (jg *JournalGenerator) append(contract ContractID, debit, credit Address, amount int64, typ JournalType) {
	jg.batch.Journals = append(jg.batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       jg.batch.BatchID,
		EventRef:      jg.batch.EventRef,
		Sequence:      jg.batch.Sequence,
		Contract:      contract,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		JournalType:   typ,
		Timestamp:     jg.batch.Timestamp,
	})
}
