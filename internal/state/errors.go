package state

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameters   = errors.New("commitment: invalid parameters")
	ErrAlreadyExists       = errors.New("commitment: already exists")
	ErrNotFound            = errors.New("commitment: not found")
	ErrCommitmentFulfilled = errors.New("commitment: already fulfilled")

	// ErrExceedsOutstanding is a more specific InvalidParameters: the
	// requested quantity is larger than what is still outstanding.
	ErrExceedsOutstanding = fmt.Errorf("%w: quantity exceeds outstanding", ErrInvalidParameters)
)
