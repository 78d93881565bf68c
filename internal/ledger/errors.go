package ledger

import "errors"

// Sentinel errors for ledger operations. Every one of them aborts the call.
var (
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrOverflow            = errors.New("ledger: arithmetic overflow")
	ErrInvalidAddress      = errors.New("ledger: invalid address")
)
