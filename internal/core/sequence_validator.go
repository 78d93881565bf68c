package core

import (
	"CarbonLedger/internal/observability"
	"errors"
	"fmt"
)

var (
	ErrSequenceGap = errors.New("core: source sequence gap")
	ErrOutOfOrder  = errors.New("core: out-of-order call")
)

// SequenceValidator validates per-source call sequences.
// Only accessed from the single-threaded core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // source -> next expected sequence
	metrics         *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         metrics,
	}
}

// Check validates sourceSequence against the source's expected next value
// without advancing it. A stale sequence is accepted only for a duplicate.
// The first call seen from a source sets its position.
func (sv *SequenceValidator) Check(source string, sourceSequence int64, isDuplicate bool) error {
	expected, known := sv.expectedNextSeq[source]
	if !known {
		return nil
	}

	switch {
	case sourceSequence == expected:
		return nil
	case sourceSequence < expected:
		if isDuplicate {
			return nil
		}
		if sv.metrics != nil {
			sv.metrics.CallOutOfOrder.WithLabelValues(source).Inc()
		}
		return fmt.Errorf("%w: source=%s, expected=%d, got=%d", ErrOutOfOrder, source, expected, sourceSequence)
	default:
		if sv.metrics != nil {
			sv.metrics.CallSequenceGap.WithLabelValues(source).Inc()
		}
		return fmt.Errorf("%w: source=%s, expected=%d, got=%d", ErrSequenceGap, source, expected, sourceSequence)
	}
}

// Advance records that sourceSequence was consumed.
func (sv *SequenceValidator) Advance(source string, sourceSequence int64) {
	if next, known := sv.expectedNextSeq[source]; !known || sourceSequence+1 > next {
		sv.expectedNextSeq[source] = sourceSequence + 1
	}
}

// GetExpectedSequence returns next expected sequence for a source
func (sv *SequenceValidator) GetExpectedSequence(source string) int64 {
	return sv.expectedNextSeq[source]
}

// RestorePartition initializes a source position on restart.
func (sv *SequenceValidator) RestorePartition(source string, next int64) {
	sv.expectedNextSeq[source] = next
}
