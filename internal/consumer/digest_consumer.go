// Package consumer drains the durable digest queue. MEDIUM and LOW risk
// events wait on JetStream until the daily tick, then go out as one digest
// message per source.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/arc-self/sanctions-watch/internal/domain"
	"github.com/arc-self/sanctions-watch/internal/natsclient"
	"github.com/arc-self/sanctions-watch/internal/notifier"
	"github.com/arc-self/sanctions-watch/internal/repository"
)

const (
	durableName = "digest-worker"
	fetchBatch  = 256
	fetchWait   = 2 * time.Second
)

// poisonPillError marks a message that can never be processed; the consumer
// terminates it instead of redelivering forever.
type poisonPillError struct {
	reason string
	err    error
}

func (e *poisonPillError) Error() string {
	return fmt.Sprintf("poison pill (%s): %v", e.reason, e.err)
}

func (e *poisonPillError) Unwrap() error { return e.err }

// Msg is the slice of a JetStream message the consumer needs. The indirection
// keeps the drain logic testable without a running server.
type Msg interface {
	Payload() []byte
	Ack() error
	Nak() error
	Term() error
}

// Fetcher pulls the next batch of queued digest messages. An empty batch
// means the queue is drained.
type Fetcher interface {
	Fetch(batch int, wait time.Duration) ([]Msg, error)
}

// DigestConsumer drains queued events on the daily tick and sends one digest
// per source through the notification channels.
type DigestConsumer struct {
	fetcher  Fetcher
	channels []notifier.Channel
	events   repository.ChangeEventRepository
	logger   *zap.Logger
}

// New builds a digest consumer over an abstract fetcher.
func New(fetcher Fetcher, channels []notifier.Channel, events repository.ChangeEventRepository, logger *zap.Logger) *DigestConsumer {
	return &DigestConsumer{fetcher: fetcher, channels: channels, events: events, logger: logger}
}

// NewFromConn provisions the durable pull subscription and subscribes the
// consumer to the digest tick subject. Returned cleanup unsubscribes.
func NewFromConn(nc *nats.Conn, js nats.JetStreamContext, channels []notifier.Channel, events repository.ChangeEventRepository, logger *zap.Logger) (*DigestConsumer, func(), error) {
	sub, err := js.PullSubscribe(natsclient.DigestSubjectPrefix+">", durableName,
		nats.BindStream(natsclient.StreamName))
	if err != nil {
		return nil, nil, fmt.Errorf("pull subscribe digest queue: %w", err)
	}

	c := New(&natsFetcher{sub: sub}, channels, events, logger)

	tickSub, err := nc.Subscribe(natsclient.DigestTickSubject, func(*nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := c.Drain(ctx); err != nil {
			logger.Error("digest drain failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe digest tick: %w", err)
	}

	cleanup := func() {
		_ = tickSub.Unsubscribe()
		_ = sub.Unsubscribe()
	}
	return c, cleanup, nil
}

// Drain empties the digest queue and sends one digest message per source.
// Successfully digested messages are acked; structurally broken payloads are
// terminated; transient send failures are nak'd for the next tick.
func (c *DigestConsumer) Drain(ctx context.Context) error {
	type pending struct {
		events []domain.ChangeEvent
		msgs   []Msg
	}
	bySource := map[domain.Source]*pending{}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := c.fetcher.Fetch(fetchBatch, fetchWait)
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			return fmt.Errorf("fetch digest batch: %w", err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			var ev domain.ChangeEvent
			if err := json.Unmarshal(m.Payload(), &ev); err != nil {
				pill := &poisonPillError{reason: "undecodable event", err: err}
				c.logger.Error("terminating digest message", zap.Error(pill))
				_ = m.Term()
				continue
			}
			p := bySource[ev.Source]
			if p == nil {
				p = &pending{}
				bySource[ev.Source] = p
			}
			p.events = append(p.events, ev)
			p.msgs = append(p.msgs, m)
		}
		if len(msgs) < fetchBatch {
			break
		}
	}

	for source, p := range bySource {
		msg := notifier.RenderDigest(source, p.events)
		if err := c.send(ctx, msg); err != nil {
			c.logger.Warn("digest send failed, requeueing",
				zap.String("source", string(source)),
				zap.Int("events", len(p.events)),
				zap.Error(err))
			for _, m := range p.msgs {
				_ = m.Nak()
			}
			continue
		}
		for _, m := range p.msgs {
			_ = m.Ack()
		}
		c.logger.Info("digest sent",
			zap.String("source", string(source)),
			zap.Int("events", len(p.events)))
	}
	return nil
}

// send delivers the digest through every channel; one success suffices.
func (c *DigestConsumer) send(ctx context.Context, msg notifier.Message) error {
	var sentVia []string
	var lastErr error
	for _, ch := range c.channels {
		if err := ch.Send(ctx, msg); err != nil {
			lastErr = err
			continue
		}
		sentVia = append(sentVia, ch.Name())
	}
	if len(sentVia) == 0 {
		if lastErr == nil {
			lastErr = errors.New("no channels configured")
		}
		return lastErr
	}
	if err := c.events.MarkNotified(ctx, msg.EventIDs, sentVia, time.Now().UTC()); err != nil {
		c.logger.Error("mark digest events notified", zap.Error(err))
	}
	return nil
}

// natsFetcher adapts a JetStream pull subscription to the Fetcher interface.
type natsFetcher struct {
	sub *nats.Subscription
}

func (f *natsFetcher) Fetch(batch int, wait time.Duration) ([]Msg, error) {
	msgs, err := f.sub.Fetch(batch, nats.MaxWait(wait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Msg, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, &natsMsg{m: m})
	}
	return out, nil
}

type natsMsg struct {
	m *nats.Msg
}

func (w *natsMsg) Payload() []byte { return w.m.Data }
func (w *natsMsg) Ack() error      { return w.m.Ack() }
func (w *natsMsg) Nak() error      { return w.m.Nak() }
func (w *natsMsg) Term() error     { return w.m.Term() }
