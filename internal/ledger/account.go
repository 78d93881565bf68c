package ledger

import (
	"fmt"
	"strings"
)

// MaxIdentityLength bounds addresses and contract ids so they fit storage keys.
const MaxIdentityLength = 128

// Address identifies an account holder. Matching is by exact bytes; no
// normalization or case folding is ever applied.
type Address string

// ContractID identifies a deployed contract instance.
type ContractID string

// System accounts used only as journal counterparties. They never hold a
// balance in the store; mint credits the issuance account and burn debits
// the retirement account so that every journal entry has two sides.
const (
	IssuanceAccount   Address = "system:issuance"
	RetirementAccount Address = "system:retired"
)

// Validate checks that the address can be used as a storage key and is not
// reserved for journal counterparties.
func (a Address) Validate() error {
	if err := validateIdentity("address", string(a)); err != nil {
		return err
	}
	if a.IsSystem() {
		return fmt.Errorf("%w: %s is a reserved system account", ErrInvalidAddress, a)
	}
	return nil
}

// IsSystem reports whether the address is one of the journal-only accounts.
func (a Address) IsSystem() bool {
	return strings.HasPrefix(string(a), "system:")
}

func (a Address) String() string {
	return string(a)
}

// Validate checks that the contract id can be used as a storage key prefix.
func (c ContractID) Validate() error {
	if err := validateIdentity("contract", string(c)); err != nil {
		return err
	}
	if strings.Contains(string(c), "/") {
		return fmt.Errorf("%w: contract id %q contains '/'", ErrInvalidAddress, c)
	}
	return nil
}

func (c ContractID) String() string {
	return string(c)
}

func validateIdentity(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidAddress, kind)
	}
	if len(s) > MaxIdentityLength {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidAddress, kind, MaxIdentityLength)
	}
	return nil
}
