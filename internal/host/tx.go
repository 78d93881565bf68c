package host

import (
	"CarbonLedger/internal/ledger"
	"bytes"
	"fmt"
	"sort"

	dbm "github.com/tendermint/tm-db"
)

// KV is one pending write. A nil Value is a delete.
type KV struct {
	Key   []byte
	Value []byte
}

// BalanceRef names one token balance written by a transaction.
type BalanceRef struct {
	Contract ledger.ContractID
	Holder   ledger.Address
}

// Tx buffers every write of one top-level call over the state DB. Reads see
// the buffered writes. Commit flushes them in one synced batch; Discard drops
// them. A Tx is used by a single goroutine.
type Tx struct {
	db     dbm.DB
	writes map[string][]byte
	done   bool

	touchedBalances    map[BalanceRef]struct{}
	touchedCommitments map[ledger.ContractID]struct{}
}

func NewTx(db dbm.DB) *Tx {
	return &Tx{
		db:                 db,
		writes:             make(map[string][]byte),
		touchedBalances:    make(map[BalanceRef]struct{}),
		touchedCommitments: make(map[ledger.ContractID]struct{}),
	}
}

// Get returns the value for key, nil if absent.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	if v, ok := tx.writes[string(key)]; ok {
		return v, nil
	}
	v, err := tx.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("state get %s: %w", key, err)
	}
	return v, nil
}

func (tx *Tx) Set(key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	tx.writes[string(key)] = v
}

func (tx *Tx) Delete(key []byte) {
	tx.writes[string(key)] = nil
}

// Iterate visits every key under prefix in ascending order, merging stored
// keys with buffered writes. Returning an error from fn stops iteration.
func (tx *Tx) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)

	it, err := tx.db.Iterator(prefix, prefixEnd(prefix))
	if err != nil {
		return fmt.Errorf("state iterate %s: %w", prefix, err)
	}
	for ; it.Valid(); it.Next() {
		merged[string(it.Key())] = append([]byte(nil), it.Value()...)
	}
	if err := it.Error(); err != nil {
		it.Close()
		return fmt.Errorf("state iterate %s: %w", prefix, err)
	}
	if err := it.Close(); err != nil {
		return err
	}

	for k, v := range tx.writes {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := fn([]byte(k), merged[k]); err != nil {
			return err
		}
	}
	return nil
}

// WriteSet returns the buffered writes sorted by key. The core hashes it
// into the state chain.
func (tx *Tx) WriteSet() []KV {
	keys := make([]string, 0, len(tx.writes))
	for k := range tx.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]KV, 0, len(keys))
	for _, k := range keys {
		out = append(out, KV{Key: []byte(k), Value: tx.writes[k]})
	}
	return out
}

// TouchedBalances lists balances written through a TokenStore, sorted.
func (tx *Tx) TouchedBalances() []BalanceRef {
	out := make([]BalanceRef, 0, len(tx.touchedBalances))
	for ref := range tx.touchedBalances {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Contract != out[j].Contract {
			return out[i].Contract < out[j].Contract
		}
		return out[i].Holder < out[j].Holder
	})
	return out
}

// TouchedCommitments lists commitment instances written by this Tx, sorted.
func (tx *Tx) TouchedCommitments() []ledger.ContractID {
	out := make([]ledger.ContractID, 0, len(tx.touchedCommitments))
	for c := range tx.touchedCommitments {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Commit writes all buffered writes atomically and durably.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("tx already finished")
	}
	tx.done = true

	if len(tx.writes) == 0 {
		return nil
	}

	batch := tx.db.NewBatch()
	defer batch.Close()

	for _, kv := range tx.WriteSet() {
		var err error
		if kv.Value == nil {
			err = batch.Delete(kv.Key)
		} else {
			err = batch.Set(kv.Key, kv.Value)
		}
		if err != nil {
			return fmt.Errorf("stage %s: %w", kv.Key, err)
		}
	}

	if err := batch.WriteSync(); err != nil {
		return fmt.Errorf("commit state batch: %w", err)
	}
	return nil
}

// Discard drops every buffered write.
func (tx *Tx) Discard() {
	tx.done = true
	tx.writes = make(map[string][]byte)
}
