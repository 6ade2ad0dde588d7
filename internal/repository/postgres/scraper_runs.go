package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arc-self/sanctions-watch/internal/domain"
)

// ScraperRunRepo persists run records. Status transitions are validated on
// update so a terminal row can never move again, regardless of caller bugs.
type ScraperRunRepo struct {
	db DBTX
}

// NewScraperRunRepo binds the repository to a pool or transaction.
func NewScraperRunRepo(db DBTX) *ScraperRunRepo { return &ScraperRunRepo{db: db} }

const insertRun = `
INSERT INTO scraper_runs (
	run_id, source, started_at, completed_at, status, source_url,
	content_hash, content_size_bytes, content_changed,
	entities_processed, entities_added, entities_modified, entities_removed,
	critical_risk_changes, high_risk_changes, medium_risk_changes, low_risk_changes,
	download_ms, parsing_ms, diff_ms, storage_ms,
	error_message, retry_count
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9,
	$10, $11, $12, $13, $14, $15, $16, $17,
	$18, $19, $20, $21, $22, $23
)`

func (r *ScraperRunRepo) Create(ctx context.Context, run *domain.ScraperRun) error {
	if _, err := r.db.Exec(ctx, insertRun, runArgs(run)...); err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}
	return nil
}

const selectRunStatus = `SELECT status FROM scraper_runs WHERE run_id = $1`

const updateRun = `
UPDATE scraper_runs SET
	completed_at = $2, status = $3, source_url = $4,
	content_hash = $5, content_size_bytes = $6, content_changed = $7,
	entities_processed = $8, entities_added = $9, entities_modified = $10, entities_removed = $11,
	critical_risk_changes = $12, high_risk_changes = $13, medium_risk_changes = $14, low_risk_changes = $15,
	download_ms = $16, parsing_ms = $17, diff_ms = $18, storage_ms = $19,
	error_message = $20, retry_count = $21
WHERE run_id = $1`

// Update persists the run's current state. The stored status is re-read and
// the transition re-validated so stale in-memory runs cannot regress a row.
func (r *ScraperRunRepo) Update(ctx context.Context, run *domain.ScraperRun) error {
	var stored string
	err := r.db.QueryRow(ctx, selectRunStatus, run.RunID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("run %s: %w", run.RunID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load run %s status: %w", run.RunID, err)
	}
	if stored != string(run.Status) && !domain.ValidTransition(domain.RunStatus(stored), run.Status) {
		return fmt.Errorf("%w: illegal run status transition %s -> %s",
			domain.ErrValidation, stored, run.Status)
	}

	args := append([]any{run.RunID}, runArgs(run)[3:]...)
	if _, err := r.db.Exec(ctx, updateRun, args...); err != nil {
		return fmt.Errorf("update run %s: %w", run.RunID, err)
	}
	return nil
}

const selectRuns = `
SELECT run_id, source, started_at, completed_at, status, source_url,
       content_hash, content_size_bytes, content_changed,
       entities_processed, entities_added, entities_modified, entities_removed,
       critical_risk_changes, high_risk_changes, medium_risk_changes, low_risk_changes,
       download_ms, parsing_ms, diff_ms, storage_ms,
       error_message, retry_count
FROM scraper_runs`

// GetByID returns one run by its identifier.
func (r *ScraperRunRepo) GetByID(ctx context.Context, runID string) (*domain.ScraperRun, error) {
	query := selectRuns + `
WHERE run_id = $1`
	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("select run %s: %w", runID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	return scanRun(rows)
}

// GetLastSuccessfulRun returns the most recent SUCCESS run for a source.
func (r *ScraperRunRepo) GetLastSuccessfulRun(ctx context.Context, source domain.Source) (*domain.ScraperRun, error) {
	query := selectRuns + `
WHERE source = $1 AND status = 'SUCCESS'
ORDER BY started_at DESC
LIMIT 1`
	rows, err := r.db.Query(ctx, query, string(source))
	if err != nil {
		return nil, fmt.Errorf("select last successful run for %s: %w", source, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("last successful run for %s: %w", source, domain.ErrNotFound)
	}
	return scanRun(rows)
}

// FindRecent returns runs started within the last N hours, newest first.
func (r *ScraperRunRepo) FindRecent(ctx context.Context, hours int, source *domain.Source) ([]domain.ScraperRun, error) {
	query := selectRuns + `
WHERE started_at >= now() - make_interval(hours => $1)`
	args := []any{hours}
	if source != nil {
		args = append(args, string(*source))
		query += " AND source = $2"
	}
	query += " ORDER BY started_at DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select recent runs: %w", err)
	}
	defer rows.Close()

	var out []domain.ScraperRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func (r *ScraperRunRepo) Health(ctx context.Context) error { return ping(ctx, r.db) }

func runArgs(run *domain.ScraperRun) []any {
	return []any{
		run.RunID, string(run.Source), run.StartedAt, run.CompletedAt,
		string(run.Status), run.SourceURL,
		run.ContentHash, run.ContentSizeBytes, run.ContentChanged,
		run.Counters.EntitiesProcessed, run.Counters.EntitiesAdded,
		run.Counters.EntitiesModified, run.Counters.EntitiesRemoved,
		run.Counters.CriticalRiskChanges, run.Counters.HighRiskChanges,
		run.Counters.MediumRiskChanges, run.Counters.LowRiskChanges,
		run.Timings.DownloadMs, run.Timings.ParsingMs,
		run.Timings.DiffMs, run.Timings.StorageMs,
		run.ErrorMessage, run.RetryCount,
	}
}

func scanRun(rows pgx.Rows) (*domain.ScraperRun, error) {
	var run domain.ScraperRun
	if err := rows.Scan(&run.RunID, &run.Source, &run.StartedAt, &run.CompletedAt,
		&run.Status, &run.SourceURL,
		&run.ContentHash, &run.ContentSizeBytes, &run.ContentChanged,
		&run.Counters.EntitiesProcessed, &run.Counters.EntitiesAdded,
		&run.Counters.EntitiesModified, &run.Counters.EntitiesRemoved,
		&run.Counters.CriticalRiskChanges, &run.Counters.HighRiskChanges,
		&run.Counters.MediumRiskChanges, &run.Counters.LowRiskChanges,
		&run.Timings.DownloadMs, &run.Timings.ParsingMs,
		&run.Timings.DiffMs, &run.Timings.StorageMs,
		&run.ErrorMessage, &run.RetryCount); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &run, nil
}
