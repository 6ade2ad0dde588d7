// Package notifier routes committed change events to channels by risk level:
// CRITICAL events go out immediately one message per event, HIGH events as a
// single grouped message, MEDIUM and LOW are queued for the daily digest.
// Channel failures are isolated; they never roll back the run.
package notifier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/sanctions-watch/internal/domain"
	"github.com/arc-self/sanctions-watch/internal/repository"
)

// DigestPublisher queues lower-risk events onto the durable digest stream.
type DigestPublisher interface {
	QueueDigest(ctx context.Context, source domain.Source, events []domain.ChangeEvent) error
}

// DispatchResult summarizes one dispatch pass.
type DispatchResult struct {
	ImmediateSent int // CRITICAL messages delivered to at least one channel
	BatchSent     int // HIGH grouped messages delivered
	Queued        int // MEDIUM/LOW events handed to the digest queue
	Errors        []error
}

// Failed reports whether nothing at all could be delivered or queued.
func (r DispatchResult) Failed() bool {
	return len(r.Errors) > 0 && r.ImmediateSent == 0 && r.BatchSent == 0 && r.Queued == 0
}

// Dispatcher fans committed change events out to the configured channels.
type Dispatcher struct {
	channels []Channel
	digest   DigestPublisher
	events   repository.ChangeEventRepository
	logger   *zap.Logger
	now      func() time.Time
}

// New builds a dispatcher. digest may be nil when no queue is configured;
// MEDIUM/LOW events are then dropped with a warning.
func New(channels []Channel, digest DigestPublisher, events repository.ChangeEventRepository, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		digest:   digest,
		events:   events,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch routes one run's events. Called after the run's transaction has
// committed; errors here never change the run status. A total delivery
// failure is recorded on the run's error_message by the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, source domain.Source, events []domain.ChangeEvent) DispatchResult {
	var res DispatchResult

	var high, queued []domain.ChangeEvent
	for _, ev := range events {
		switch ev.RiskLevel {
		case domain.RiskCritical:
			msg := renderImmediate(ev)
			if d.deliver(ctx, msg, &res) {
				res.ImmediateSent++
			}
		case domain.RiskHigh:
			high = append(high, ev)
		default:
			queued = append(queued, ev)
		}
	}

	if len(high) > 0 {
		msg := renderBatch(source, high)
		if d.deliver(ctx, msg, &res) {
			res.BatchSent++
		}
	}

	if len(queued) > 0 {
		if d.digest == nil {
			d.logger.Warn("no digest queue configured, dropping lower-risk events",
				zap.String("source", string(source)), zap.Int("events", len(queued)))
		} else if err := d.digest.QueueDigest(ctx, source, queued); err != nil {
			res.Errors = append(res.Errors, &domain.NotificationError{Channel: "DIGEST_QUEUE", Err: err})
		} else {
			res.Queued = len(queued)
		}
	}

	return res
}

// deliver sends one message through every channel, isolating failures, and
// records the notification bookkeeping for the channels that succeeded.
func (d *Dispatcher) deliver(ctx context.Context, msg Message, res *DispatchResult) bool {
	var sentVia []string
	for _, ch := range d.channels {
		if err := ch.Send(ctx, msg); err != nil {
			res.Errors = append(res.Errors, err)
			d.logger.Warn("notification channel failed",
				zap.String("channel", ch.Name()),
				zap.String("subject", msg.Subject),
				zap.Error(err))
			continue
		}
		sentVia = append(sentVia, ch.Name())
	}
	if len(sentVia) == 0 {
		return false
	}

	if err := d.events.MarkNotified(ctx, msg.EventIDs, sentVia, d.now()); err != nil {
		// Bookkeeping failure does not undo a delivered notification.
		res.Errors = append(res.Errors, err)
		d.logger.Error("mark events notified", zap.Error(err))
	}
	return true
}
