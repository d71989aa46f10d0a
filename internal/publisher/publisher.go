package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/catalog-adapter/internal/metrics"
	"github.com/Checker-Finance/catalog-adapter/pkg/logger"
	"github.com/Checker-Finance/catalog-adapter/pkg/model"
)

const (
	RunCompletedType    = "catalog.ingestion.completed"
	RunCompletedVersion = "1.0.0"
)

// JetStream is the subset of nats.JetStreamContext used for publishing.
type JetStream interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher wraps a NATS connection and publishes canonical catalog events.
type Publisher struct {
	nc      *nats.Conn
	js      JetStream
	subject string
	service string
}

// New creates a Publisher on the connection's JetStream context.
func New(nc *nats.Conn, subject, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		nc:      nc,
		js:      js,
		subject: subject,
		service: service,
	}, nil
}

// NewWithJetStream builds a Publisher over an existing JetStream context.
func NewWithJetStream(js JetStream, subject, service string) *Publisher {
	return &Publisher{js: js, subject: subject, service: service}
}

// EnsureStream creates the stream capturing subject when it does not exist yet.
func EnsureStream(nc *nats.Conn, stream, subject string) error {
	js, err := nc.JetStream()
	if err != nil {
		return err
	}
	if _, err := js.StreamInfo(stream); err == nil {
		return nil
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     stream,
		Subjects: []string{subject},
		Storage:  nats.FileStorage,
	})
	return err
}

// PublishEnvelope serializes and publishes a canonical event envelope.
// An empty subject falls back to the publisher's default subject.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	if subject == "" {
		subject = p.subject
	}

	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			// JetStream drops duplicate ids inside the stream's dedupe window.
			nats.MsgIdHdr: []string{env.ID.String()},
		},
	}

	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	logger.S().Infow("publisher.publish_success",
		"subject", subject,
		"event_type", env.EventType,
	)
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// PublishRunCompleted emits evt.catalog.ingestion.completed.v1 for a finished run.
// The run id doubles as the correlation id.
func (p *Publisher) PublishRunCompleted(ctx context.Context, summary model.RunSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	env := &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: summary.RunID,
		Topic:         p.subject,
		EventType:     RunCompletedType,
		Version:       RunCompletedVersion,
		Source:        p.service,
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
	}
	return p.PublishEnvelope(ctx, p.subject, env)
}

// Close drains the underlying connection so in-flight publishes are flushed.
// It is a no-op for publishers built over a bare JetStream context.
func (p *Publisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	return p.nc.Drain()
}
