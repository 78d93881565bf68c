package core

import (
	"CarbonLedger/internal/host"
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "CarbonLedger:genesis:v1"

// StateHasher chains state hashes across committed calls
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed)),
	}
}

// ComputeHash returns SHA-256(prev_hash || sequence || state_digest). The
// chain only moves on Advance, after the call has been committed.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	// sequence (8 bytes LE)
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// Advance moves the chain tip to hash.
func (h *StateHasher) Advance(hash [32]byte) {
	h.prevHash = hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash restores the chain tip on restart.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// computeStateDigest encodes a call's write set canonically: for each key in
// order, len(key) || key || len(value) || value, lengths as 8-byte LE. A
// delete is encoded with length -1.
func computeStateDigest(writes []host.KV) []byte {
	size := 0
	for _, kv := range writes {
		size += 16 + len(kv.Key) + len(kv.Value)
	}

	digest := make([]byte, 0, size)
	for _, kv := range writes {
		digest = appendInt64LE(digest, int64(len(kv.Key)))
		digest = append(digest, kv.Key...)
		if kv.Value == nil {
			digest = appendInt64LE(digest, -1)
			continue
		}
		digest = appendInt64LE(digest, int64(len(kv.Value)))
		digest = append(digest, kv.Value...)
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
