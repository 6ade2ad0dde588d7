// Package orchestrator drives the ingestion pipeline: fetch, skip check,
// parse, diff, classify, transactional store, then notification dispatch.
// It owns single-flight per source, the global concurrency ceiling, per-run
// deadlines and the retry policy for transient fetch failures.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arc-self/sanctions-watch/internal/config"
	"github.com/arc-self/sanctions-watch/internal/differ"
	"github.com/arc-self/sanctions-watch/internal/domain"
	"github.com/arc-self/sanctions-watch/internal/fetcher"
	"github.com/arc-self/sanctions-watch/internal/notifier"
	"github.com/arc-self/sanctions-watch/internal/parser"
	"github.com/arc-self/sanctions-watch/internal/repository"
	"github.com/arc-self/sanctions-watch/internal/risk"
)

// ChangesPublisher fans committed events out to downstream consumers.
// Best effort; failures never affect the run outcome.
type ChangesPublisher interface {
	PublishChanges(ctx context.Context, source domain.Source, events []domain.ChangeEvent) error
}

// RunCache receives the latest terminal run per source for cheap reads.
type RunCache interface {
	StoreLatestRun(ctx context.Context, run *domain.ScraperRun) error
}

// Orchestrator coordinates runs across sources.
type Orchestrator struct {
	cfg        *config.Config
	fetcher    *fetcher.Fetcher
	parsers    parser.Registry
	uow        repository.UnitOfWork
	runs       repository.ScraperRunRepository
	entities   repository.EntityRepository
	dispatcher *notifier.Dispatcher
	changes    ChangesPublisher // optional
	cache      RunCache         // optional
	logger     *zap.Logger
	tracer     trace.Tracer

	mu       sync.Mutex
	inflight map[domain.Source]struct{}
	sem      chan struct{}

	wg sync.WaitGroup
}

// New wires the pipeline. changes and cache may be nil.
func New(
	cfg *config.Config,
	f *fetcher.Fetcher,
	parsers parser.Registry,
	uow repository.UnitOfWork,
	runs repository.ScraperRunRepository,
	entities repository.EntityRepository,
	dispatcher *notifier.Dispatcher,
	changes ChangesPublisher,
	cache RunCache,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		fetcher:    f,
		parsers:    parsers,
		uow:        uow,
		runs:       runs,
		entities:   entities,
		dispatcher: dispatcher,
		changes:    changes,
		cache:      cache,
		logger:     logger,
		tracer:     otel.Tracer("sanctions-orchestrator"),
		inflight:   make(map[domain.Source]struct{}),
		sem:        make(chan struct{}, cfg.ParallelScrapers),
	}
}

// TriggerRun starts a run asynchronously and returns its RUNNING record.
// A second call for the same source while one is in flight returns
// domain.ErrSourceBusy without creating a run.
func (o *Orchestrator) TriggerRun(ctx context.Context, source domain.Source, runID string) (*domain.ScraperRun, error) {
	run, err := o.begin(ctx, source, runID)
	if err != nil {
		return nil, err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(source)
		// Detached from the trigger request; the run carries its own deadline.
		o.execute(context.Background(), run)
	}()
	return run, nil
}

// RunOnce executes a run synchronously. Used by the scheduler and tests.
func (o *Orchestrator) RunOnce(ctx context.Context, source domain.Source, runID string) (*domain.ScraperRun, error) {
	run, err := o.begin(ctx, source, runID)
	if err != nil {
		return nil, err
	}
	defer o.release(source)
	o.execute(ctx, run)
	return run, nil
}

// Wait blocks until all in-flight triggered runs finish. Used on shutdown.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// begin enforces single-flight and creates the RUNNING run record.
func (o *Orchestrator) begin(ctx context.Context, source domain.Source, runID string) (*domain.ScraperRun, error) {
	sc, ok := o.cfg.Sources[source]
	if !ok {
		return nil, fmt.Errorf("%w: source %s is not configured", domain.ErrValidation, source)
	}
	if runID == "" {
		runID = domain.ScheduledRunID(source, time.Now().UTC())
	}

	o.mu.Lock()
	if _, busy := o.inflight[source]; busy {
		o.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", source, domain.ErrSourceBusy)
	}
	o.inflight[source] = struct{}{}
	o.mu.Unlock()

	run, err := domain.NewScraperRun(runID, source, sc.URL)
	if err != nil {
		o.release(source)
		return nil, err
	}
	if err := o.runs.Create(ctx, run); err != nil {
		o.release(source)
		return nil, fmt.Errorf("create run %s: %w", runID, err)
	}
	return run, nil
}

func (o *Orchestrator) release(source domain.Source) {
	o.mu.Lock()
	delete(o.inflight, source)
	o.mu.Unlock()
}

// execute runs the pipeline stages under the per-run deadline and finalizes
// the run record. The run record passed in is already RUNNING and persisted.
func (o *Orchestrator) execute(ctx context.Context, run *domain.ScraperRun) {
	// Global concurrency ceiling.
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		o.fail(run, "cancelled before start: "+ctx.Err().Error())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout())
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "run."+run.Source.Lower())
	defer span.End()

	logger := o.logger.With(
		zap.String("run_id", run.RunID),
		zap.String("source", string(run.Source)),
	)
	logger.Info("run started")

	if err := o.pipeline(ctx, run, logger); err != nil {
		span.RecordError(err)
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "timeout"
		}
		o.fail(run, msg)
		logger.Error("run failed", zap.Error(err))
	}
	o.cacheRun(run)
}

// pipeline performs fetch through dispatch. Any returned error means the run
// must be marked FAILED; SKIPPED, SUCCESS and PARTIAL finalization happens
// inside.
func (o *Orchestrator) pipeline(ctx context.Context, run *domain.ScraperRun, logger *zap.Logger) error {
	source := run.Source
	sc := o.cfg.Sources[source]
	var timings domain.StageTimings

	// ── fetch, with retries for transient failures only ──
	res, err := o.fetchWithRetry(ctx, run)
	if err != nil {
		return err
	}
	timings.DownloadMs = res.DownloadTimeMs
	run.ContentHash = res.ContentHash
	run.ContentSizeBytes = res.SizeBytes

	// ── skip short-circuit ──
	skip, err := o.fetcher.ShouldSkip(ctx, source, res.ContentHash)
	if err != nil {
		return err
	}
	if skip {
		if err := run.MarkSkipped(res.ContentHash, res.DownloadTimeMs); err != nil {
			return err
		}
		if err := o.runs.Update(ctx, run); err != nil {
			return err
		}
		logger.Info("run skipped, content unchanged",
			zap.String("content_hash", res.ContentHash[:12]))
		return nil
	}

	// ── parse ──
	p, err := o.parsers.Get(source)
	if err != nil {
		return err
	}
	parseStart := time.Now()
	parsed, err := p.Parse(ctx, res.Content)
	if err != nil {
		return err
	}
	timings.ParsingMs = time.Since(parseStart).Milliseconds()

	if len(parsed.Entities) < sc.MinEntities {
		return &domain.InvalidSourceDataError{
			Source:      source,
			EntityCount: len(parsed.Entities),
			MinEntities: sc.MinEntities,
		}
	}

	// ── diff and classify ──
	prior, err := o.entities.GetAllForChangeDetection(ctx, source)
	if err != nil {
		return fmt.Errorf("load prior entities: %w", err)
	}
	diffStart := time.Now()
	changes := differ.Diff(prior, parsed.Entities)
	timings.DiffMs = time.Since(diffStart).Milliseconds()

	events, counters := o.buildEvents(run, changes, time.Since(run.StartedAt).Milliseconds())
	counters.EntitiesProcessed = len(parsed.Entities)

	// ── transactional store ──
	storeStart := time.Now()
	if err := o.store(ctx, run, res, parsed, events, &counters, &timings, storeStart); err != nil {
		return err
	}

	logger.Info("run committed",
		zap.Int("entities", counters.EntitiesProcessed),
		zap.Int("added", counters.EntitiesAdded),
		zap.Int("modified", counters.EntitiesModified),
		zap.Int("removed", counters.EntitiesRemoved),
		zap.Int("change_events", len(events)),
	)

	// ── dispatch, outside the transaction ──
	o.dispatch(ctx, run, events, logger)
	return nil
}

// fetchWithRetry applies the retry policy: transient failures retried up to
// max_retries with exponential backoff, everything else surfaces immediately.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, run *domain.ScraperRun) (*fetcher.Result, error) {
	url := o.cfg.Sources[run.Source].URL
	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			run.RetryCount = attempt
			select {
			case <-time.After(o.cfg.Backoff(attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		res, err := o.fetcher.Fetch(ctx, run.Source, url)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		o.logger.Warn("fetch failed, retrying",
			zap.String("source", string(run.Source)),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

// buildEvents classifies each change and materializes the change events.
func (o *Orchestrator) buildEvents(run *domain.ScraperRun, changes []differ.EntityChange, processingMs int64) ([]domain.ChangeEvent, domain.RunCounters) {
	now := time.Now().UTC()
	var counters domain.RunCounters
	events := make([]domain.ChangeEvent, 0, len(changes))

	for _, c := range changes {
		level := risk.Classify(c)
		ev := domain.ChangeEvent{
			EventID:          domain.NewEventID(),
			EntityUID:        c.UID(),
			EntityName:       c.Name(),
			Source:           run.Source,
			ChangeType:       c.ChangeType,
			RiskLevel:        level,
			FieldChanges:     c.FieldChanges,
			ChangeSummary:    domain.Summarize(c.ChangeType, c.Name(), run.Source, c.FieldChanges),
			DetectedAt:       now,
			ScraperRunID:     run.RunID,
			ProcessingTimeMs: processingMs,
		}
		if c.OldEntity != nil {
			ev.OldContentHash = c.OldEntity.ContentHash
		}
		if c.ChangeType != domain.ChangeRemoved {
			ev.NewContentHash = c.Entity.ContentHash
		}
		events = append(events, ev)

		switch c.ChangeType {
		case domain.ChangeAdded:
			counters.EntitiesAdded++
		case domain.ChangeModified:
			counters.EntitiesModified++
		case domain.ChangeRemoved:
			counters.EntitiesRemoved++
		}
		switch level {
		case domain.RiskCritical:
			counters.CriticalRiskChanges++
		case domain.RiskHigh:
			counters.HighRiskChanges++
		case domain.RiskMedium:
			counters.MediumRiskChanges++
		case domain.RiskLow:
			counters.LowRiskChanges++
		}
	}
	return events, counters
}

// store commits snapshot, events, entity replacement and the terminal status
// in one unit of work. Persistence order is fixed. Runs whose parse dropped
// records finish PARTIAL instead of SUCCESS; the committed data is identical.
func (o *Orchestrator) store(
	ctx context.Context,
	run *domain.ScraperRun,
	res *fetcher.Result,
	parsed *parser.Result,
	events []domain.ChangeEvent,
	counters *domain.RunCounters,
	timings *domain.StageTimings,
	storeStart time.Time,
) error {
	snap, err := domain.NewContentSnapshot(run.Source, res.ContentHash, res.SizeBytes, run.RunID)
	if err != nil {
		return err
	}

	tx, err := o.uow.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.Snapshots().Create(ctx, snap); err != nil {
		return err
	}
	if err := tx.ChangeEvents().CreateMany(ctx, events); err != nil {
		return err
	}
	if _, err := tx.Entities().ReplaceSourceData(ctx, run.Source, parsed.Entities); err != nil {
		return err
	}

	timings.StorageMs = time.Since(storeStart).Milliseconds()
	if parsed.RecordsFailed > 0 {
		msg := fmt.Sprintf("%d source records failed to parse", parsed.RecordsFailed)
		if err := run.MarkPartial(msg, *counters, *timings); err != nil {
			return err
		}
	} else if err := run.MarkSuccess(*counters, *timings); err != nil {
		return err
	}
	if err := tx.Runs().Update(ctx, run); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// dispatch routes the committed events and fans them out. Failures here never
// fail the run; a total notification failure is recorded on the run record.
func (o *Orchestrator) dispatch(ctx context.Context, run *domain.ScraperRun, events []domain.ChangeEvent, logger *zap.Logger) {
	if len(events) == 0 {
		return
	}

	res := o.dispatcher.Dispatch(ctx, run.Source, events)
	if len(res.Errors) > 0 {
		logger.Warn("notification dispatch finished with errors",
			zap.Int("immediate_sent", res.ImmediateSent),
			zap.Int("batch_sent", res.BatchSent),
			zap.Int("queued", res.Queued),
			zap.Errors("errors", res.Errors))
	}
	if res.Failed() {
		msg := "all notification deliveries failed"
		if run.ErrorMessage != "" {
			msg = run.ErrorMessage + "; " + msg
		}
		run.ErrorMessage = msg
		if err := o.runs.Update(ctx, run); err != nil {
			logger.Error("record notification failure", zap.Error(err))
		}
	}

	if o.changes != nil {
		if err := o.changes.PublishChanges(ctx, run.Source, events); err != nil {
			logger.Warn("change fan-out failed", zap.Error(err))
		}
	}
}

// fail finalizes a run as FAILED with a best-effort write outside any UoW.
func (o *Orchestrator) fail(run *domain.ScraperRun, msg string) {
	if run.Status.Terminal() {
		return
	}
	if err := run.MarkFailed(msg); err != nil {
		o.logger.Error("mark run failed", zap.String("run_id", run.RunID), zap.Error(err))
		return
	}
	// Detached context: the run context may already be past its deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.runs.Update(ctx, run); err != nil {
		o.logger.Error("persist failed run", zap.String("run_id", run.RunID), zap.Error(err))
	}
}

func (o *Orchestrator) cacheRun(run *domain.ScraperRun) {
	if o.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.cache.StoreLatestRun(ctx, run); err != nil {
		o.logger.Warn("cache latest run", zap.String("run_id", run.RunID), zap.Error(err))
	}
}
