package host

import (
	"fmt"
)

// CoreMeta is the engine position persisted with every committed call, so a
// restart resumes the sequence and the state hash chain.
type CoreMeta struct {
	Sequence  int64  `msgpack:"sequence"`
	StateHash []byte `msgpack:"state_hash"`
}

const coreMetaName = "core"

// LoadCoreMeta returns the persisted position, or ok=false on a fresh store.
func (tx *Tx) LoadCoreMeta() (meta CoreMeta, ok bool, err error) {
	key := metaKey(coreMetaName)
	raw, err := tx.Get(key)
	if err != nil {
		return CoreMeta{}, false, err
	}
	if raw == nil {
		return CoreMeta{}, false, nil
	}
	if err := decodeRecord(key, raw, &meta); err != nil {
		return CoreMeta{}, false, err
	}
	return meta, true, nil
}

// SaveCoreMeta stages the engine position. Call it after WriteSet has been
// hashed; the position is not part of the state digest.
func (tx *Tx) SaveCoreMeta(meta CoreMeta) error {
	b, err := encodeRecord(&meta)
	if err != nil {
		return fmt.Errorf("encode core meta: %w", err)
	}
	tx.Set(metaKey(coreMetaName), b)
	return nil
}
