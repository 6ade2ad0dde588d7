package domain

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a scraper run. RUNNING transitions to
// exactly one terminal state; terminal states are final.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
	RunPartial RunStatus = "PARTIAL"
	RunSkipped RunStatus = "SKIPPED"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool { return s != RunRunning }

// ValidTransition reports whether from → to is a legal status move.
func ValidTransition(from, to RunStatus) bool {
	if from == to {
		return false
	}
	return from == RunRunning && to.Terminal()
}

// StageTimings carries per-stage durations in milliseconds.
type StageTimings struct {
	DownloadMs int64 `json:"download_ms"`
	ParsingMs  int64 `json:"parsing_ms"`
	DiffMs     int64 `json:"diff_ms"`
	StorageMs  int64 `json:"storage_ms"`
}

// RunCounters aggregates per-run entity and risk counts.
type RunCounters struct {
	EntitiesProcessed   int `json:"entities_processed"`
	EntitiesAdded       int `json:"entities_added"`
	EntitiesModified    int `json:"entities_modified"`
	EntitiesRemoved     int `json:"entities_removed"`
	CriticalRiskChanges int `json:"critical_risk_changes"`
	HighRiskChanges     int `json:"high_risk_changes"`
	MediumRiskChanges   int `json:"medium_risk_changes"`
	LowRiskChanges      int `json:"low_risk_changes"`
}

// ScraperRun records one end-to-end pipeline execution for one source.
type ScraperRun struct {
	RunID            string       `json:"run_id"`
	Source           Source       `json:"source"`
	StartedAt        time.Time    `json:"started_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	Status           RunStatus    `json:"status"`
	SourceURL        string       `json:"source_url,omitempty"`
	ContentHash      string       `json:"content_hash,omitempty"`
	ContentSizeBytes int64        `json:"content_size_bytes,omitempty"`
	ContentChanged   bool         `json:"content_changed"`
	Counters         RunCounters  `json:"counters"`
	Timings          StageTimings `json:"timings"`
	ErrorMessage     string       `json:"error_message,omitempty"`
	RetryCount       int          `json:"retry_count"`
}

// NewScraperRun starts a run in RUNNING state with a UTC start timestamp.
func NewScraperRun(runID string, source Source, sourceURL string) (*ScraperRun, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: run_id is required", ErrValidation)
	}
	return &ScraperRun{
		RunID:     runID,
		Source:    source,
		StartedAt: time.Now().UTC(),
		Status:    RunRunning,
		SourceURL: sourceURL,
	}, nil
}

// ScheduledRunID builds the <source_lower>_<unix_seconds> identifier used for
// cadence-triggered runs.
func ScheduledRunID(source Source, at time.Time) string {
	return fmt.Sprintf("%s_%d", source.Lower(), at.Unix())
}

func (r *ScraperRun) transition(to RunStatus) error {
	if !ValidTransition(r.Status, to) {
		return fmt.Errorf("%w: illegal run status transition %s -> %s", ErrValidation, r.Status, to)
	}
	r.Status = to
	now := time.Now().UTC()
	r.CompletedAt = &now
	return nil
}

// MarkSuccess finalizes a run with its counters and timings.
func (r *ScraperRun) MarkSuccess(counters RunCounters, timings StageTimings) error {
	if err := r.transition(RunSuccess); err != nil {
		return err
	}
	r.Counters = counters
	r.Timings = timings
	r.ContentChanged = true
	return nil
}

// MarkSkipped finalizes a run whose content was byte-identical to the last
// SUCCESS. ContentChanged is forced false; SKIPPED runs never mutate state.
func (r *ScraperRun) MarkSkipped(contentHash string, downloadMs int64) error {
	if err := r.transition(RunSkipped); err != nil {
		return err
	}
	r.ContentHash = contentHash
	r.ContentChanged = false
	r.Timings.DownloadMs = downloadMs
	return nil
}

// MarkFailed finalizes a run with a human-readable error message.
func (r *ScraperRun) MarkFailed(msg string) error {
	if err := r.transition(RunFailed); err != nil {
		return err
	}
	r.ErrorMessage = msg
	return nil
}

// MarkPartial finalizes a run that committed its writes even though some
// source records failed to parse and were dropped.
func (r *ScraperRun) MarkPartial(msg string, counters RunCounters, timings StageTimings) error {
	if err := r.transition(RunPartial); err != nil {
		return err
	}
	r.ErrorMessage = msg
	r.Counters = counters
	r.Timings = timings
	r.ContentChanged = true
	return nil
}
