package ingestion

import (
	"CarbonLedger/internal/core"
	"CarbonLedger/internal/event"
	"CarbonLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CallStream      = "CARBON_CALLS"
	CallSubjects    = "carbon.calls.>"
	DefaultConsumer = "carbonledger-calls"

	nakDelay = 2 * time.Second
)

// SourceName is the sequence-validation source for calls read from stream.
func SourceName(stream string) string {
	return "nats:" + stream
}

// CallSubmitter is the core side of ingestion.
type CallSubmitter interface {
	Submit(ctx context.Context, call *event.Call) (*core.Result, error)
	Skip(ctx context.Context, source string, sourceSequence int64) error
}

// RawCall is one undecoded message from the call stream.
type RawCall struct {
	Subject        string
	Data           []byte
	StreamSequence int64
	Published      time.Time
}

// Disposition is what to tell JetStream about a handled message.
type Disposition int

const (
	Ack  Disposition = iota // done, success or permanent rejection
	Nak                     // redeliver later
	Term                    // never redeliver; needs an operator
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	case Term:
		return "term"
	default:
		return "unknown"
	}
}

// NATSSubscriber feeds the call stream into the core. The consumer allows
// one unacknowledged message, and a message is acked only after the core
// has judged it, so calls reach the core in stream order.
type NATSSubscriber struct {
	js        jetstream.JetStream
	submitter CallSubmitter
	stream    string
	consumer  string
	cc        jetstream.ConsumeContext
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, submitter CallSubmitter, metrics *observability.Metrics, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		submitter: submitter,
		stream:    CallStream,
		consumer:  DefaultConsumer,
		metrics:   metrics,
		logger:    logger,
	}
}

// Subscribe creates the durable consumer and starts delivery.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, ns.stream, jetstream.ConsumerConfig{
		Durable:       ns.consumer,
		FilterSubject: CallSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", ns.consumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ns.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", ns.consumer, err)
	}
	ns.cc = cc

	ns.logger.Info().
		Str("stream", ns.stream).
		Str("consumer", ns.consumer).
		Msg("subscribed to call stream")
	return nil
}

func (ns *NATSSubscriber) handle(ctx context.Context, msg jetstream.Msg) {
	meta, err := msg.Metadata()
	if err != nil {
		ns.logger.Error().Err(err).Str("subject", msg.Subject()).Msg("message without metadata")
		_ = msg.Term()
		return
	}
	if ns.metrics != nil {
		ns.metrics.NATSPullLatency.WithLabelValues(ns.stream).Observe(time.Since(meta.Timestamp).Seconds())
	}

	raw := RawCall{
		Subject:        msg.Subject(),
		Data:           msg.Data(),
		StreamSequence: int64(meta.Sequence.Stream),
		Published:      meta.Timestamp,
	}

	var ackErr error
	switch d := ns.Process(ctx, raw); d {
	case Ack:
		ackErr = msg.Ack()
	case Nak:
		ackErr = msg.NakWithDelay(nakDelay)
	case Term:
		ackErr = msg.Term()
	}
	if ackErr != nil {
		ns.logger.Warn().Err(ackErr).Int64("stream_seq", raw.StreamSequence).Msg("ack failed")
	}
}

// Process hands one message to the core and decides its disposition.
func (ns *NATSSubscriber) Process(ctx context.Context, raw RawCall) Disposition {
	source := SourceName(ns.stream)

	call, err := ParseCall(raw)
	if err != nil {
		ns.logger.Warn().
			Err(err).
			Str("subject", raw.Subject).
			Int64("stream_seq", raw.StreamSequence).
			Msg("undecodable call, skipping")
		return classify(ns.submitter.Skip(ctx, source, raw.StreamSequence))
	}

	call.Source = source
	call.SourceSequence = raw.StreamSequence
	_, err = ns.submitter.Submit(ctx, call)

	d := classify(err)
	if d == Term {
		ns.logger.Error().
			Err(err).
			Str("call_id", call.CallID).
			Int64("stream_seq", raw.StreamSequence).
			Msg("call stream has a hole, consumer halted on this message")
	}
	return d
}

func classify(err error) Disposition {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, core.ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return Nak
	case errors.Is(err, core.ErrSequenceGap):
		// earlier stream messages are gone; redelivery cannot fill the hole
		return Term
	default:
		// duplicates, stale redeliveries and contract rejections are final
		return Ack
	}
}

// EnsureStreams creates the call stream if it does not exist. Calls are
// kept until consumed, so no max age.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	cfg := jetstream.StreamConfig{
		Name:       CallStream,
		Subjects:   []string{CallSubjects},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	return nil
}

// Stop stops delivery. The in-flight message, if any, is redelivered.
func (ns *NATSSubscriber) Stop() {
	if ns.cc != nil {
		ns.cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscriber stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("carbonledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
