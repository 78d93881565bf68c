package host

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack"
)

// ErrMalformedState means stored bytes could not be decoded. The call that
// hit it fails; nothing is repaired automatically.
var ErrMalformedState = errors.New("host: malformed state")

func encodeAmount(v int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return buf[:]
}

// decodeAmount reads an 8-byte big-endian amount. Absent (nil) is zero.
func decodeAmount(key, raw []byte) (int64, error) {
	if raw == nil {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("%w: %s has %d bytes, want 8", ErrMalformedState, key, len(raw))
	}
	v := int64(binary.BigEndian.Uint64(raw))
	if v < 0 {
		return 0, fmt.Errorf("%w: %s holds negative amount %d", ErrMalformedState, key, v)
	}
	return v, nil
}

func encodeRecord(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

func decodeRecord(key, raw []byte, v interface{}) error {
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedState, key, err)
	}
	return nil
}
