package core

import (
	"CarbonLedger/internal/event"
	"context"
	"time"
)

// Submission is a call waiting for the core, with the channel its outcome
// goes to. Reply may be nil for fire-and-forget transports. A Skip
// submission only consumes Call.Source/SourceSequence.
type Submission struct {
	Call      *event.Call
	Skip      bool
	Transport string
	Received  time.Time
	Reply     chan<- Outcome
}

// Outcome is what ProcessCall returned for one submission.
type Outcome struct {
	Result *Result
	Err    error
}

// Run drains submissions until ctx is done or in is closed. It is the only
// goroutine that calls ProcessCall.
func (c *DeterministicCore) Run(ctx context.Context, in <-chan Submission) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sub, ok := <-in:
			if !ok {
				return nil
			}
			if c.metrics != nil && !sub.Received.IsZero() {
				c.metrics.IngestToApply.WithLabelValues(sub.Transport).Observe(time.Since(sub.Received).Seconds())
			}

			if sub.Skip {
				err := c.SkipSource(sub.Call.Source, sub.Call.SourceSequence)
				if err != nil {
					c.logger.Warn().Err(err).Str("source", sub.Call.Source).Msg("skip rejected")
				}
				if sub.Reply != nil {
					sub.Reply <- Outcome{Err: err}
				}
				continue
			}

			res, err := c.ProcessCall(sub.Call)
			if err != nil {
				c.logger.Warn().
					Err(err).
					Str("call_id", sub.Call.CallID).
					Str("method", string(sub.Call.Method)).
					Str("transport", sub.Transport).
					Msg("call rejected")
			}
			if sub.Reply != nil {
				sub.Reply <- Outcome{Result: res, Err: err}
			}
		}
	}
}

// Submitter hands calls to a running core and waits for the outcome.
type Submitter struct {
	in        chan<- Submission
	transport string
}

func NewSubmitter(in chan<- Submission, transport string) *Submitter {
	return &Submitter{in: in, transport: transport}
}

// Skip asks the core to consume a source position without a call.
func (s *Submitter) Skip(ctx context.Context, source string, sourceSequence int64) error {
	reply := make(chan Outcome, 1)
	sub := Submission{
		Call:      &event.Call{Source: source, SourceSequence: sourceSequence},
		Skip:      true,
		Transport: s.transport,
		Reply:     reply,
	}
	select {
	case s.in <- sub:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case out := <-reply:
		return out.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit stamps call with the receive time if it has none, queues it and
// blocks until the core answers or ctx ends.
func (s *Submitter) Submit(ctx context.Context, call *event.Call) (*Result, error) {
	now := time.Now().UTC()
	if call.Timestamp.IsZero() {
		call.Timestamp = now
	}

	reply := make(chan Outcome, 1)
	select {
	case s.in <- Submission{Call: call, Transport: s.transport, Received: now, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-reply:
		return out.Result, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
