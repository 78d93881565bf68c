package contract

import (
	"CarbonLedger/internal/auth"
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/host"
	"CarbonLedger/internal/ledger"
	"errors"
	"fmt"
)

var ErrAlreadyDeployed = errors.New("contract: instance already deployed")

// Env is the hosting environment of one top-level call. Every contract
// instance the call reaches, directly or through a cross-instance call,
// shares its Tx, so the whole call commits or discards as one.
type Env struct {
	tx         *host.Tx
	call       *event.Call
	digest     []byte
	authorizer auth.Authorizer
	sequence   int64

	journals *ledger.JournalGenerator
	facts    []event.FactRecord
}

func NewEnv(tx *host.Tx, call *event.Call, authorizer auth.Authorizer, sequence, timestamp int64) (*Env, error) {
	digest, err := call.Digest()
	if err != nil {
		return nil, err
	}
	return &Env{
		tx:         tx,
		call:       call,
		digest:     digest,
		authorizer: authorizer,
		sequence:   sequence,
		journals:   ledger.NewJournalGenerator(call.CallID, sequence, timestamp),
	}, nil
}

// RequireAuth fails with auth.ErrUnauthorized unless the call carries a
// proof for addr.
func (e *Env) RequireAuth(addr ledger.Address) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	return e.authorizer.Authorize(addr, e.digest, e.call.Proofs)
}

func (e *Env) emit(contract ledger.ContractID, f event.Fact) error {
	rec, err := event.NewFactRecord(e.sequence, e.call.CallID, len(e.facts), contract, f)
	if err != nil {
		return err
	}
	e.facts = append(e.facts, rec)
	return nil
}

// Facts returns the facts emitted so far, in emission order.
func (e *Env) Facts() []event.FactRecord {
	return e.facts
}

// Journals returns the credit movements recorded so far.
func (e *Env) Journals() *ledger.Batch {
	return e.journals.Batch()
}

func (e *Env) Tx() *host.Tx {
	return e.tx
}

// Token opens the token instance id for this call.
func (e *Env) Token(id ledger.ContractID) (*Token, error) {
	inst, err := e.tx.LoadInstance(id)
	if err != nil {
		return nil, err
	}
	if inst.Kind != host.KindToken {
		return nil, fmt.Errorf("%w: %s is a %s contract, not a token", host.ErrInstanceNotFound, id, inst.Kind)
	}
	return &Token{
		env:    e,
		id:     id,
		admin:  inst.Admin,
		ledger: ledger.New(e.tx.Token(id)),
	}, nil
}

// Commitment opens the commitment tracker instance id for this call.
func (e *Env) Commitment(id ledger.ContractID) (*Commitment, error) {
	inst, err := e.tx.LoadInstance(id)
	if err != nil {
		return nil, err
	}
	if inst.Kind != host.KindCommitment {
		return nil, fmt.Errorf("%w: %s is a %s contract, not a commitment", host.ErrInstanceNotFound, id, inst.Kind)
	}
	return &Commitment{
		env:     e,
		id:      id,
		tracker: newTracker(e.tx, id),
	}, nil
}

// DeployToken creates a token instance administered by admin and mints
// initialSupply to it. Requires admin's authorization.
func (e *Env) DeployToken(id ledger.ContractID, admin ledger.Address, initialSupply int64) error {
	if initialSupply < 0 {
		return fmt.Errorf("%w: initial supply %d", ledger.ErrInvalidAmount, initialSupply)
	}
	if err := e.RequireAuth(admin); err != nil {
		return err
	}
	if err := e.ensureFree(id); err != nil {
		return err
	}

	if err := e.tx.SaveInstance(id, &host.Instance{Kind: host.KindToken, Admin: admin, DeployedAt: e.sequence}); err != nil {
		return err
	}
	if err := e.emit(id, event.ContractDeployed{Kind: string(host.KindToken), Admin: admin}); err != nil {
		return err
	}

	if initialSupply == 0 {
		return nil
	}
	tok, err := e.Token(id)
	if err != nil {
		return err
	}
	return tok.Mint(admin, initialSupply)
}

// DeployCommitment creates an uninitialized commitment tracker instance.
func (e *Env) DeployCommitment(id ledger.ContractID) error {
	if err := e.ensureFree(id); err != nil {
		return err
	}
	if err := e.tx.SaveInstance(id, &host.Instance{Kind: host.KindCommitment, DeployedAt: e.sequence}); err != nil {
		return err
	}
	return e.emit(id, event.ContractDeployed{Kind: string(host.KindCommitment)})
}

func (e *Env) ensureFree(id ledger.ContractID) error {
	_, err := e.tx.LoadInstance(id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrAlreadyDeployed, id)
	case errors.Is(err, host.ErrInstanceNotFound):
		return nil
	default:
		return err
	}
}
