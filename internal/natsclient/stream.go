package natsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/arc-self/sanctions-watch/internal/domain"
)

// Stream and subject layout. The digest subjects hold MEDIUM/LOW events until
// the daily consumer drains them; the changes subjects fan committed events
// out to downstream systems.
const (
	StreamName = "SANCTIONS_EVENTS"

	DigestSubjectPrefix  = "sanctions.digest."
	ChangesSubjectPrefix = "sanctions.changes."

	// DigestTickSubject is the plain (non-JetStream) subject the scheduler
	// publishes on when the daily digest should go out.
	DigestTickSubject = "SYSTEM_EVENTS.cron.digest"
)

// DigestSubject returns the per-source digest subject.
func DigestSubject(source domain.Source) string {
	return DigestSubjectPrefix + source.Lower()
}

// ChangesSubject returns the per-source fan-out subject.
func ChangesSubject(source domain.Source) string {
	return ChangesSubjectPrefix + source.Lower()
}

// ProvisionStreams creates or updates the JetStream stream the service needs.
// Idempotent; safe to call on every boot.
func ProvisionStreams(js nats.JetStreamContext, logger *zap.Logger) error {
	cfg := &nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"sanctions.>"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    0, // digest consumer acks what it drains
	}
	_, err := js.AddStream(cfg)
	if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		_, err = js.UpdateStream(cfg)
	}
	if err != nil {
		return fmt.Errorf("provision stream %s: %w", StreamName, err)
	}
	logger.Info("jetstream stream provisioned", zap.String("stream", StreamName))
	return nil
}

// Publisher pushes change events onto JetStream subjects.
type Publisher struct {
	js nats.JetStreamContext
}

// NewPublisher wraps a JetStream context.
func NewPublisher(js nats.JetStreamContext) *Publisher { return &Publisher{js: js} }

// QueueDigest publishes each MEDIUM/LOW event onto the source's digest
// subject for the daily digest consumer.
func (p *Publisher) QueueDigest(ctx context.Context, source domain.Source, events []domain.ChangeEvent) error {
	subject := DigestSubject(source)
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.EventID, err)
		}
		if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish event %s to %s: %w", ev.EventID, subject, err)
		}
	}
	return nil
}

// PublishChanges fans committed events out for downstream consumers. Failures
// are logged by the caller; fan-out is best effort.
func (p *Publisher) PublishChanges(ctx context.Context, source domain.Source, events []domain.ChangeEvent) error {
	subject := ChangesSubject(source)
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.EventID, err)
		}
		if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish event %s to %s: %w", ev.EventID, subject, err)
		}
	}
	return nil
}
