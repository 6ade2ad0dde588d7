package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arc-self/sanctions-watch/internal/domain"
	"github.com/arc-self/sanctions-watch/internal/repository"
)

// ChangeEventRepo persists the immutable change audit trail.
type ChangeEventRepo struct {
	db DBTX
}

// NewChangeEventRepo binds the repository to a pool or transaction.
func NewChangeEventRepo(db DBTX) *ChangeEventRepo { return &ChangeEventRepo{db: db} }

const insertChangeEvent = `
INSERT INTO change_events (
	event_id, entity_uid, entity_name, source, change_type, risk_level,
	field_changes, change_summary, old_content_hash, new_content_hash,
	detected_at, scraper_run_id, processing_time_ms
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// CreateMany bulk-inserts events in one batch. No deduplication.
func (r *ChangeEventRepo) CreateMany(ctx context.Context, events []domain.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(insertChangeEvent,
			ev.EventID, ev.EntityUID, ev.EntityName, string(ev.Source),
			string(ev.ChangeType), string(ev.RiskLevel), mustJSON(ev.FieldChanges),
			ev.ChangeSummary, ev.OldContentHash, ev.NewContentHash,
			ev.DetectedAt, ev.ScraperRunID, ev.ProcessingTimeMs)
	}
	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert change event: %w", err)
		}
	}
	return nil
}

const selectChangeEvents = `
SELECT event_id, entity_uid, entity_name, source, change_type, risk_level,
       field_changes, change_summary, old_content_hash, new_content_hash,
       detected_at, scraper_run_id, processing_time_ms,
       notification_sent_at, notification_channels
FROM change_events`

// FindRecent returns events detected within the last N days, optionally
// narrowed by source and risk level, newest first.
func (r *ChangeEventRepo) FindRecent(ctx context.Context, days int, filter repository.ChangeEventFilter) ([]domain.ChangeEvent, error) {
	query := selectChangeEvents + `
WHERE detected_at >= now() - make_interval(days => $1)`
	args := []any{days}
	if filter.Source != nil {
		args = append(args, string(*filter.Source))
		query += fmt.Sprintf(" AND source = $%d", len(args))
	}
	if filter.RiskLevel != nil {
		args = append(args, string(*filter.RiskLevel))
		query += fmt.Sprintf(" AND risk_level = $%d", len(args))
	}
	query += " ORDER BY detected_at DESC"
	return r.queryEvents(ctx, query, args...)
}

// FindByRiskLevel returns all events of one risk level since a point in time.
func (r *ChangeEventRepo) FindByRiskLevel(ctx context.Context, risk domain.RiskLevel, since time.Time) ([]domain.ChangeEvent, error) {
	query := selectChangeEvents + `
WHERE risk_level = $1 AND detected_at >= $2
ORDER BY detected_at DESC`
	return r.queryEvents(ctx, query, string(risk), since)
}

// CountByRiskLevel aggregates event counts per risk level since a point in
// time, optionally scoped to one source.
func (r *ChangeEventRepo) CountByRiskLevel(ctx context.Context, since time.Time, source *domain.Source) (map[domain.RiskLevel]int64, error) {
	query := `
SELECT risk_level, count(*) FROM change_events
WHERE detected_at >= $1`
	args := []any{since}
	if source != nil {
		args = append(args, string(*source))
		query += " AND source = $2"
	}
	query += " GROUP BY risk_level"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count change events by risk: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.RiskLevel]int64)
	for rows.Next() {
		var level string
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		out[domain.RiskLevel(level)] = n
	}
	return out, rows.Err()
}

// CountByChangeType aggregates event counts per change type since a point in
// time, optionally scoped to one source.
func (r *ChangeEventRepo) CountByChangeType(ctx context.Context, since time.Time, source *domain.Source) (map[domain.ChangeType]int64, error) {
	query := `
SELECT change_type, count(*) FROM change_events
WHERE detected_at >= $1`
	args := []any{since}
	if source != nil {
		args = append(args, string(*source))
		query += " AND source = $2"
	}
	query += " GROUP BY change_type"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count change events by type: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.ChangeType]int64)
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[domain.ChangeType(typ)] = n
	}
	return out, rows.Err()
}

const markNotified = `
UPDATE change_events
SET notification_sent_at = $1, notification_channels = $2
WHERE event_id = ANY($3)`

// MarkNotified records notification bookkeeping after dispatch. The only
// mutation change events ever receive.
func (r *ChangeEventRepo) MarkNotified(ctx context.Context, eventIDs []string, channels []string, sentAt time.Time) error {
	if len(eventIDs) == 0 {
		return nil
	}
	if _, err := r.db.Exec(ctx, markNotified, sentAt, channels, eventIDs); err != nil {
		return fmt.Errorf("mark %d events notified: %w", len(eventIDs), err)
	}
	return nil
}

func (r *ChangeEventRepo) Health(ctx context.Context) error { return ping(ctx, r.db) }

func (r *ChangeEventRepo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.ChangeEvent, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select change events: %w", err)
	}
	defer rows.Close()

	var out []domain.ChangeEvent
	for rows.Next() {
		var (
			ev           domain.ChangeEvent
			fieldChanges []byte
		)
		if err := rows.Scan(&ev.EventID, &ev.EntityUID, &ev.EntityName, &ev.Source,
			&ev.ChangeType, &ev.RiskLevel, &fieldChanges, &ev.ChangeSummary,
			&ev.OldContentHash, &ev.NewContentHash, &ev.DetectedAt,
			&ev.ScraperRunID, &ev.ProcessingTimeMs,
			&ev.NotificationSentAt, &ev.NotificationChannels); err != nil {
			return nil, fmt.Errorf("scan change event: %w", err)
		}
		if len(fieldChanges) > 0 {
			if err := json.Unmarshal(fieldChanges, &ev.FieldChanges); err != nil {
				return nil, fmt.Errorf("decode field_changes for %s: %w", ev.EventID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
