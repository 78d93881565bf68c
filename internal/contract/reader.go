package contract

import (
	"CarbonLedger/internal/host"
	"CarbonLedger/internal/ledger"
	"CarbonLedger/internal/state"
	"fmt"

	dbm "github.com/tendermint/tm-db"
)

// Reader serves the read-only entry points straight from the state DB.
// Each read is a single key lookup against committed state.
type Reader struct {
	db dbm.DB
}

func NewReader(db dbm.DB) *Reader {
	return &Reader{db: db}
}

// CommitmentView is get_commitment's result: the stored record plus derived
// fields.
type CommitmentView struct {
	Buyer         ledger.Address
	UnitPrice     int64
	TotalQuantity int64
	Assigned      int64
	Outstanding   int64
	State         state.CommitmentState
	TotalValue    string
}

func (r *Reader) token(id ledger.ContractID) (*host.Tx, *host.Instance, error) {
	tx := host.NewTx(r.db)
	inst, err := tx.LoadInstance(id)
	if err != nil {
		return nil, nil, err
	}
	if inst.Kind != host.KindToken {
		return nil, nil, fmt.Errorf("%w: %s is not a token", host.ErrInstanceNotFound, id)
	}
	return tx, inst, nil
}

// BalanceOf returns 0 for holders that never received credits.
func (r *Reader) BalanceOf(id ledger.ContractID, holder ledger.Address) (int64, error) {
	tx, _, err := r.token(id)
	if err != nil {
		return 0, err
	}
	return ledger.New(tx.Token(id)).BalanceOf(holder)
}

func (r *Reader) TotalSupply(id ledger.ContractID) (int64, error) {
	tx, _, err := r.token(id)
	if err != nil {
		return 0, err
	}
	return ledger.New(tx.Token(id)).TotalSupply()
}

// Admin returns the address allowed to mint on the token.
func (r *Reader) Admin(id ledger.ContractID) (ledger.Address, error) {
	_, inst, err := r.token(id)
	if err != nil {
		return "", err
	}
	return inst.Admin, nil
}

// GetCommitment fails with state.ErrNotFound before create.
func (r *Reader) GetCommitment(id ledger.ContractID) (*CommitmentView, error) {
	tx := host.NewTx(r.db)
	inst, err := tx.LoadInstance(id)
	if err != nil {
		return nil, err
	}
	if inst.Kind != host.KindCommitment {
		return nil, fmt.Errorf("%w: %s is not a commitment", host.ErrInstanceNotFound, id)
	}

	c, err := newTracker(tx, id).Get()
	if err != nil {
		return nil, err
	}
	return &CommitmentView{
		Buyer:         c.Buyer,
		UnitPrice:     c.UnitPrice,
		TotalQuantity: c.TotalQuantity,
		Assigned:      c.Assigned,
		Outstanding:   c.Outstanding(),
		State:         c.State(),
		TotalValue:    c.TotalValue().String(),
	}, nil
}

// Sequence is the last committed call sequence, 0 before the first call.
func (r *Reader) Sequence() (int64, error) {
	meta, _, err := host.NewTx(r.db).LoadCoreMeta()
	if err != nil {
		return 0, err
	}
	return meta.Sequence, nil
}
