package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arc-self/sanctions-watch/internal/domain"
)

// ContentSnapshotRepo persists the append-only fetch fingerprints.
type ContentSnapshotRepo struct {
	db DBTX
}

// NewContentSnapshotRepo binds the repository to a pool or transaction.
func NewContentSnapshotRepo(db DBTX) *ContentSnapshotRepo { return &ContentSnapshotRepo{db: db} }

const insertSnapshot = `
INSERT INTO content_snapshots (
	snapshot_id, source, content_hash, content_size_bytes,
	snapshot_time, scraper_run_id, archive_path
) VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (r *ContentSnapshotRepo) Create(ctx context.Context, snap *domain.ContentSnapshot) error {
	if _, err := r.db.Exec(ctx, insertSnapshot,
		snap.SnapshotID, string(snap.Source), snap.ContentHash,
		snap.ContentSizeBytes, snap.SnapshotTime, snap.ScraperRunID,
		snap.ArchivePath); err != nil {
		return fmt.Errorf("insert snapshot for %s: %w", snap.Source, err)
	}
	return nil
}

const selectLastHash = `
SELECT content_hash FROM content_snapshots
WHERE source = $1
ORDER BY snapshot_time DESC
LIMIT 1`

// GetLastContentHash returns the most recent snapshot hash for a source, or
// the empty string when no snapshot exists yet.
func (r *ContentSnapshotRepo) GetLastContentHash(ctx context.Context, source domain.Source) (string, error) {
	var hash string
	err := r.db.QueryRow(ctx, selectLastHash, string(source)).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select last snapshot hash for %s: %w", source, err)
	}
	return hash, nil
}

func (r *ContentSnapshotRepo) Health(ctx context.Context) error { return ping(ctx, r.db) }
