package host

import (
	"CarbonLedger/internal/ledger"
	"fmt"

	dbm "github.com/tendermint/tm-db"
)

// Keys outside the contract namespaces
//
//	x/<call id>     sequence that committed the call
//	s/<source>      next expected sequence of an upstream source
func callKey(callID string) []byte {
	return []byte("x/" + callID)
}

func sourceKey(source string) []byte {
	return []byte("s/" + source)
}

var sourcePrefix = []byte("s/")

var instancePrefix = []byte("i/")

// MarkCall records that callID committed at sequence.
func (tx *Tx) MarkCall(callID string, sequence int64) {
	tx.Set(callKey(callID), encodeAmount(sequence))
}

// CallSequence returns the sequence a call id committed at, if any.
func (tx *Tx) CallSequence(callID string) (int64, bool, error) {
	key := callKey(callID)
	raw, err := tx.Get(key)
	if err != nil {
		return 0, false, err
	}
	if raw == nil {
		return 0, false, nil
	}
	seq, err := decodeAmount(key, raw)
	if err != nil {
		return 0, false, err
	}
	return seq, true, nil
}

// SetSourcePosition stores the next expected sequence for source.
func (tx *Tx) SetSourcePosition(source string, next int64) {
	tx.Set(sourceKey(source), encodeAmount(next))
}

// LoadSourcePositions returns every stored source position.
func LoadSourcePositions(db dbm.DB) (map[string]int64, error) {
	out := make(map[string]int64)
	err := NewTx(db).Iterate(sourcePrefix, func(key, value []byte) error {
		next, err := decodeAmount(key, value)
		if err != nil {
			return err
		}
		out[string(key[len(sourcePrefix):])] = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load source positions: %w", err)
	}
	return out, nil
}

// ScanInstances visits every deployed contract in id order.
func (tx *Tx) ScanInstances(fn func(id ledger.ContractID, inst *Instance) error) error {
	return tx.Iterate(instancePrefix, func(key, value []byte) error {
		var inst Instance
		if err := decodeRecord(key, value, &inst); err != nil {
			return err
		}
		return fn(ledger.ContractID(key[len(instancePrefix):]), &inst)
	})
}
