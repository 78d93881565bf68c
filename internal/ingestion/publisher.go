package ingestion

import (
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/observability"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	FactStream   = "CARBON_FACTS"
	FactSubjects = "carbon.facts.>"
)

// PublishableFacts are the facts of one call, sent after persistence.
type PublishableFacts struct {
	Sequence  int64
	CallID    string
	StateHash [32]byte
	Timestamp time.Time
	Facts     []event.FactRecord
}

// factMessage is the outbound wire format, one message per fact.
type factMessage struct {
	event.FactRecord
	StateHash string    `json:"state_hash"`
	Timestamp time.Time `json:"timestamp"`
}

// OutboundPublisher publishes facts to carbon.facts.<type>.<contract>.
// Publishing is best effort: consumers can read call_log.facts directly.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableFacts
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableFacts, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case batch, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			for _, f := range batch.Facts {
				if err := op.publish(ctx, batch, f); err != nil {
					if op.metrics != nil {
						op.metrics.PublishDrops.Inc()
					}
					op.logger.Warn().
						Err(err).
						Int64("sequence", batch.Sequence).
						Int("index", f.Index).
						Msg("outbound publish failed")
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, batch PublishableFacts, f event.FactRecord) error {
	data, err := json.Marshal(factMessage{
		FactRecord: f,
		StateHash:  hex.EncodeToString(batch.StateHash[:]),
		Timestamp:  batch.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal fact: %w", err)
	}

	_, err = op.js.Publish(ctx, FactSubject(f), data, jetstream.WithMsgID(FactMsgID(f)))
	return err
}

// FactSubject is carbon.facts.<type>.<contract>.
func FactSubject(f event.FactRecord) string {
	return "carbon.facts." + string(f.Type) + "." + subjectToken(string(f.Contract))
}

// FactMsgID makes republished facts collapse in the stream's dedup window.
func FactMsgID(f event.FactRecord) string {
	return fmt.Sprintf("%d-%d", f.Sequence, f.Index)
}

// subjectToken replaces characters NATS does not allow inside a subject.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n', '*', '>':
			return '_'
		}
		return r
	}, s)
}

// EnsureOutboundStream creates the outbound facts stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       FactStream,
		Subjects:   []string{FactSubjects},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", FactStream).Msg("ensured outbound stream")
	return nil
}
