package server

import (
	"CarbonLedger/internal/auth"
	"CarbonLedger/internal/contract"
	"CarbonLedger/internal/core"
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/host"
	"CarbonLedger/internal/ledger"
	"CarbonLedger/internal/query"
	"CarbonLedger/internal/state"
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errQueriesDisabled = errors.New("server: projection queries need postgres")

// errorClasses maps sentinels to a transport code and a stable string code.
// Order matters: ErrExceedsOutstanding also matches ErrInvalidParameters.
var errorClasses = []struct {
	target error
	code   codes.Code
	name   string
}{
	{state.ErrExceedsOutstanding, codes.FailedPrecondition, "exceeds_outstanding"},
	{state.ErrCommitmentFulfilled, codes.FailedPrecondition, "commitment_fulfilled"},
	{ledger.ErrInsufficientBalance, codes.FailedPrecondition, "insufficient_balance"},
	{ledger.ErrInvalidAmount, codes.InvalidArgument, "invalid_amount"},
	{ledger.ErrInvalidAddress, codes.InvalidArgument, "invalid_address"},
	{state.ErrInvalidParameters, codes.InvalidArgument, "invalid_parameters"},
	{event.ErrMalformedCall, codes.InvalidArgument, "malformed_call"},
	{auth.ErrUnauthorized, codes.PermissionDenied, "unauthorized"},
	{core.ErrDuplicateCall, codes.AlreadyExists, "duplicate_call"},
	{state.ErrAlreadyExists, codes.AlreadyExists, "already_exists"},
	{contract.ErrAlreadyDeployed, codes.AlreadyExists, "already_exists"},
	{state.ErrNotFound, codes.NotFound, "not_found"},
	{host.ErrInstanceNotFound, codes.NotFound, "not_found"},
	{query.ErrNotFound, codes.NotFound, "not_found"},
	{ledger.ErrOverflow, codes.OutOfRange, "overflow"},
	{core.ErrUnavailable, codes.Unavailable, "unavailable"},
	{errQueriesDisabled, codes.Unavailable, "unavailable"},
	{context.DeadlineExceeded, codes.DeadlineExceeded, "deadline_exceeded"},
	{context.Canceled, codes.Canceled, "canceled"},
}

// Classify returns the gRPC code and string code for err.
func Classify(err error) (codes.Code, string) {
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.code, c.name
		}
	}
	return codes.Internal, "internal"
}

// toStatus converts a domain error into a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code, name := Classify(err)
	return status.Errorf(code, "%s: %v", name, err)
}
