package main

import (
	"CarbonLedger/internal/core"
	"CarbonLedger/internal/ingestion"
	"CarbonLedger/internal/observability"
	"CarbonLedger/internal/persistence"
	"CarbonLedger/internal/projection"
	"time"
)

// bridgeCoreOutputs converts core outputs to the persistence, projection and
// publish formats, keeping core free of those packages. It returns once both
// inputs are closed and closes its outputs.
func bridgeCoreOutputs(
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableFacts,
	metrics *observability.Metrics,
) {
	defer func() {
		if persistOut != nil {
			close(persistOut)
		}
		if projectionOut != nil {
			close(projectionOut)
		}
		if publishOut != nil {
			close(publishOut)
		}
	}()

	for persistIn != nil || projectionIn != nil {
		select {
		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			if persistOut != nil {
				persistOut <- toPersistOutput(output)
			}

			if publishOut != nil && len(output.Facts) > 0 {
				select {
				case publishOut <- toPublishable(output):
				default:
					if metrics != nil {
						metrics.PublishDrops.Inc()
					}
				}
			}

		case output, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}
			if projectionOut == nil {
				continue
			}
			select {
			case projectionOut <- toProjectionOutput(output):
			default:
				if metrics != nil {
					metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
				}
			}
		}
	}
}

func toPersistOutput(output core.CoreOutput) persistence.CoreOutput {
	env := output.Envelope
	p := persistence.CoreOutput{
		Call: persistence.CallRow{
			Sequence:       env.Sequence,
			CallID:         env.IdempotencyKey,
			Contract:       string(env.Contract),
			Method:         string(env.Method),
			Source:         env.Source,
			SourceSequence: env.SourceSequence,
			Payload:        env.Payload,
			StateHash:      env.StateHash[:],
			PrevHash:       env.PrevHash[:],
			Timestamp:      env.Timestamp,
		},
		AppliedAt: time.Now(),
	}

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			p.JournalRows = append(p.JournalRows, persistence.JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				CallID:        j.EventRef,
				Sequence:      j.Sequence,
				Contract:      string(j.Contract),
				DebitAccount:  string(j.DebitAccount),
				CreditAccount: string(j.CreditAccount),
				Amount:        j.Amount,
				JournalType:   j.JournalType.String(),
				Timestamp:     j.Timestamp,
			})
		}
	}

	for _, f := range output.Facts {
		p.FactRows = append(p.FactRows, persistence.FactRow{
			Sequence: f.Sequence,
			Index:    f.Index,
			CallID:   f.CallID,
			Contract: string(f.Contract),
			FactType: string(f.Type),
			Payload:  f.Payload,
		})
	}
	return p
}

func toProjectionOutput(output core.CoreOutput) projection.ProjectionOutput {
	return projection.ProjectionOutput{
		Sequence:  output.Envelope.Sequence,
		Method:    string(output.Envelope.Method),
		Facts:     output.Facts,
		Timestamp: output.Envelope.Timestamp.UnixMicro(),
	}
}

func toPublishable(output core.CoreOutput) ingestion.PublishableFacts {
	return ingestion.PublishableFacts{
		Sequence:  output.Envelope.Sequence,
		CallID:    output.Envelope.IdempotencyKey,
		StateHash: output.Envelope.StateHash,
		Timestamp: output.Envelope.Timestamp,
		Facts:     output.Facts,
	}
}
