package auth

import (
	"CarbonLedger/internal/ledger"
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// AddressPrefix marks addresses derived from a public key.
const AddressPrefix = "cx"

// AddressFromPublicKey derives the holder address of an ed25519 key:
// "cx" + hex(last 20 bytes of Keccak-256(pub)).
func AddressFromPublicKey(pub ed25519.PublicKey) ledger.Address {
	hw := sha3.NewLegacyKeccak256()
	hw.Write(pub)
	sum := hw.Sum(nil)
	return ledger.Address(AddressPrefix + hex.EncodeToString(sum[12:]))
}

// CanonicalJSON re-encodes a JSON document with sorted object keys and no
// insignificant whitespace. Numbers keep their literal text.
func CanonicalJSON(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return json.Marshal(v)
}

// CallDigest is the message a holder signs to authorize one call:
// SHA-256 over length-prefixed call id, contract, method and canonical args.
func CallDigest(callID string, contract ledger.ContractID, method string, args []byte) ([]byte, error) {
	canonical, err := CanonicalJSON(args)
	if err != nil {
		return nil, err
	}

	h := sha256.New()
	for _, field := range [][]byte{[]byte(callID), []byte(contract), []byte(method), canonical} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(field)))
		h.Write(n[:])
		h.Write(field)
	}
	return h.Sum(nil), nil
}

// Sign produces a proof for the address of priv over digest.
func Sign(priv ed25519.PrivateKey, digest []byte) Proof {
	pub := priv.Public().(ed25519.PublicKey)
	return Proof{
		Address:   AddressFromPublicKey(pub),
		PublicKey: []byte(pub),
		Signature: ed25519.Sign(priv, digest),
	}
}

// SignatureAuthorizer accepts a proof when its key derives to the address
// and its ed25519 signature verifies over the call digest.
type SignatureAuthorizer struct{}

func NewSignatureAuthorizer() *SignatureAuthorizer {
	return &SignatureAuthorizer{}
}

func (a *SignatureAuthorizer) Authorize(addr ledger.Address, digest []byte, proofs []Proof) error {
	for _, p := range proofs {
		if p.Address != addr {
			continue
		}
		if len(p.PublicKey) != ed25519.PublicKeySize || len(p.Signature) != ed25519.SignatureSize {
			continue
		}
		pub := ed25519.PublicKey(p.PublicKey)
		if AddressFromPublicKey(pub) != addr {
			continue
		}
		if ed25519.Verify(pub, digest, p.Signature) {
			return nil
		}
	}
	return fmt.Errorf("%w: no valid signature for %s", ErrUnauthorized, addr)
}
