package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ContentSnapshot fingerprints one raw fetch. Snapshots are append-only and
// are the deduplication authority for the skip path.
type ContentSnapshot struct {
	SnapshotID       string    `json:"snapshot_id"`
	Source           Source    `json:"source"`
	ContentHash      string    `json:"content_hash"`
	ContentSizeBytes int64     `json:"content_size_bytes"`
	SnapshotTime     time.Time `json:"snapshot_time"`
	ScraperRunID     string    `json:"scraper_run_id"`
	ArchivePath      string    `json:"archive_path,omitempty"`
}

// NewContentSnapshot validates the snapshot invariants and assigns an ID.
func NewContentSnapshot(source Source, contentHash string, sizeBytes int64, runID string) (*ContentSnapshot, error) {
	if contentHash == "" {
		return nil, fmt.Errorf("%w: content_hash is required", ErrValidation)
	}
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("%w: content_size_bytes must be positive", ErrValidation)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("snapshot id: %w", err)
	}
	return &ContentSnapshot{
		SnapshotID:       id.String(),
		Source:           source,
		ContentHash:      contentHash,
		ContentSizeBytes: sizeBytes,
		SnapshotTime:     time.Now().UTC(),
		ScraperRunID:     runID,
	}, nil
}
