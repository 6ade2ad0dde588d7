package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arc-self/sanctions-watch/internal/config"
	"github.com/arc-self/sanctions-watch/internal/domain"
	"github.com/arc-self/sanctions-watch/internal/natsclient"
)

// TickPublisher publishes scheduler ticks onto plain NATS subjects.
// *nats.Conn satisfies it directly.
type TickPublisher interface {
	Publish(subject string, data []byte) error
}

// Scheduler issues runs on the configured per-source cadence and fires the
// daily digest tick. Busy sources are skipped silently; the next tick will
// catch up.
type Scheduler struct {
	cron   *cron.Cron
	orch   *Orchestrator
	cfg    *config.Config
	ticks  TickPublisher // optional
	logger *zap.Logger
}

// NewScheduler builds the cron-backed scheduler. ticks may be nil when no
// message bus is configured; the digest tick is then skipped.
func NewScheduler(orch *Orchestrator, cfg *config.Config, ticks TickPublisher, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		orch:   orch,
		cfg:    cfg,
		ticks:  ticks,
		logger: logger,
	}

	for _, source := range domain.AllSources() {
		sc, ok := cfg.Sources[source]
		if !ok {
			continue
		}
		src := source
		spec := fmt.Sprintf("@every %dh", sc.IntervalHours)
		if _, err := s.cron.AddFunc(spec, func() { s.runSource(src) }); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", src, err)
		}
	}

	if ticks != nil {
		// Daily digest at 08:00 UTC.
		if _, err := s.cron.AddFunc("0 8 * * *", s.publishDigestTick); err != nil {
			return nil, fmt.Errorf("schedule digest tick: %w", err)
		}
	}
	return s, nil
}

// Start begins scheduling. Non-blocking.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("sources", len(s.cfg.Sources)))
}

// Stop halts scheduling and waits for jobs started by cron to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn("scheduler stop timed out waiting for running jobs")
	}
}

func (s *Scheduler) runSource(source domain.Source) {
	runID := domain.ScheduledRunID(source, time.Now().UTC())
	run, err := s.orch.RunOnce(context.Background(), source, runID)
	if errors.Is(err, domain.ErrSourceBusy) {
		s.logger.Info("scheduled run skipped, source busy", zap.String("source", string(source)))
		return
	}
	if err != nil {
		s.logger.Error("scheduled run could not start",
			zap.String("source", string(source)), zap.Error(err))
		return
	}
	s.logger.Info("scheduled run finished",
		zap.String("run_id", run.RunID),
		zap.String("status", string(run.Status)))
}

func (s *Scheduler) publishDigestTick() {
	if err := s.ticks.Publish(natsclient.DigestTickSubject, nil); err != nil {
		s.logger.Error("publish digest tick", zap.Error(err))
		return
	}
	s.logger.Info("digest tick published")
}
