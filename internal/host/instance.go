package host

import (
	"CarbonLedger/internal/ledger"
	"CarbonLedger/internal/state"
	"errors"
	"fmt"
)

// Kind is the contract type deployed at an instance.
type Kind string

const (
	KindToken      Kind = "token"
	KindCommitment Kind = "commitment"
)

// ErrInstanceNotFound is returned when no contract is deployed at an id.
var ErrInstanceNotFound = errors.New("host: contract instance not found")

// Instance is the record kept for every deployed contract.
type Instance struct {
	Kind       Kind           `msgpack:"kind"`
	Admin      ledger.Address `msgpack:"admin,omitempty"`
	DeployedAt int64          `msgpack:"deployed_at_sequence"`
}

// LoadInstance returns the instance record for id, or ErrInstanceNotFound.
func (tx *Tx) LoadInstance(id ledger.ContractID) (*Instance, error) {
	key := instanceKey(id)
	raw, err := tx.Get(key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}

	var inst Instance
	if err := decodeRecord(key, raw, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// SaveInstance stores a new instance record.
func (tx *Tx) SaveInstance(id ledger.ContractID, inst *Instance) error {
	b, err := encodeRecord(inst)
	if err != nil {
		return err
	}
	tx.Set(instanceKey(id), b)
	return nil
}

// Token returns the balance view of a token instance. It implements
// ledger.BalanceStore and ledger.BalanceScanner.
func (tx *Tx) Token(id ledger.ContractID) *TokenStore {
	return &TokenStore{tx: tx, contract: id}
}

// Commitment returns the commitment view of a tracker instance. It
// implements state.CommitmentStore.
func (tx *Tx) Commitment(id ledger.ContractID) *CommitmentStore {
	return &CommitmentStore{tx: tx, contract: id}
}

type TokenStore struct {
	tx       *Tx
	contract ledger.ContractID
}

func (s *TokenStore) Balance(holder ledger.Address) (int64, error) {
	key := balanceKey(s.contract, holder)
	raw, err := s.tx.Get(key)
	if err != nil {
		return 0, err
	}
	return decodeAmount(key, raw)
}

func (s *TokenStore) SetBalance(holder ledger.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative balance %d for %s", amount, holder)
	}
	s.tx.Set(balanceKey(s.contract, holder), encodeAmount(amount))
	s.tx.touchedBalances[BalanceRef{Contract: s.contract, Holder: holder}] = struct{}{}
	return nil
}

func (s *TokenStore) Supply() (int64, error) {
	key := supplyKey(s.contract)
	raw, err := s.tx.Get(key)
	if err != nil {
		return 0, err
	}
	return decodeAmount(key, raw)
}

func (s *TokenStore) SetSupply(amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative supply %d", amount)
	}
	s.tx.Set(supplyKey(s.contract), encodeAmount(amount))
	return nil
}

func (s *TokenStore) ScanBalances(fn func(holder ledger.Address, amount int64) error) error {
	prefix := balancePrefix(s.contract)
	return s.tx.Iterate(prefix, func(key, value []byte) error {
		amount, err := decodeAmount(key, value)
		if err != nil {
			return err
		}
		return fn(ledger.Address(key[len(prefix):]), amount)
	})
}

type CommitmentStore struct {
	tx       *Tx
	contract ledger.ContractID
}

func (s *CommitmentStore) LoadCommitment() (*state.Commitment, error) {
	key := commitmentKey(s.contract)
	raw, err := s.tx.Get(key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var c state.Commitment
	if err := decodeRecord(key, raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CommitmentStore) SaveCommitment(c *state.Commitment) error {
	b, err := encodeRecord(c)
	if err != nil {
		return err
	}
	s.tx.Set(commitmentKey(s.contract), b)
	s.tx.touchedCommitments[s.contract] = struct{}{}
	return nil
}
