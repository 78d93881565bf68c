package auth

import (
	"CarbonLedger/internal/ledger"
	"errors"
	"fmt"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Proof claims control of Address for one call. Authorizers decide which of
// PublicKey and Signature they need.
type Proof struct {
	Address   ledger.Address `json:"address" msgpack:"address"`
	PublicKey []byte         `json:"public_key,omitempty" msgpack:"public_key,omitempty"`
	Signature []byte         `json:"signature,omitempty" msgpack:"signature,omitempty"`
}

// Authorizer checks that the proofs attached to a call authorize addr.
// digest identifies the call (see CallDigest).
type Authorizer interface {
	Authorize(addr ledger.Address, digest []byte, proofs []Proof) error
}

// New returns the authorizer for a configured mode: "signature" or "static".
func New(mode string, trusted []string) (Authorizer, error) {
	switch strings.ToLower(mode) {
	case "", "signature":
		return NewSignatureAuthorizer(), nil
	case "static":
		addrs := make([]ledger.Address, 0, len(trusted))
		for _, t := range trusted {
			addrs = append(addrs, ledger.Address(t))
		}
		return NewStaticAuthorizer(addrs...), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// StaticAuthorizer trusts a fixed set of addresses. A call still has to
// claim the address with a proof, but signatures are not checked. Meant for
// trusted internal channels and tests.
type StaticAuthorizer struct {
	trusted map[ledger.Address]struct{}
}

func NewStaticAuthorizer(addrs ...ledger.Address) *StaticAuthorizer {
	s := &StaticAuthorizer{trusted: make(map[ledger.Address]struct{}, len(addrs))}
	for _, a := range addrs {
		s.trusted[a] = struct{}{}
	}
	return s
}

func (s *StaticAuthorizer) Authorize(addr ledger.Address, _ []byte, proofs []Proof) error {
	if _, ok := s.trusted[addr]; !ok {
		return fmt.Errorf("%w: %s is not trusted", ErrUnauthorized, addr)
	}
	for _, p := range proofs {
		if p.Address == addr {
			return nil
		}
	}
	return fmt.Errorf("%w: no proof for %s", ErrUnauthorized, addr)
}
