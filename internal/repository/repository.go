// Package repository defines the storage contracts the pipeline depends on:
// four repositories plus a unit of work that commits them atomically for one
// run. Concrete implementations live in repository/postgres; first-class
// in-memory fakes used by tests live in repository/fake.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/arc-self/sanctions-watch/internal/domain"
)

// ErrTxFinished is returned for any operation on a unit of work that has
// already committed or rolled back. Both states are final.
var ErrTxFinished = errors.New("unit of work already finished")

// ReplaceCounts summarizes a full-source entity replacement.
type ReplaceCounts struct {
	Added   int
	Updated int
	Removed int
}

// EntityRepository owns the sanctioned_entities collection. All queries are
// scoped by source; implementations must never scan across sources.
type EntityRepository interface {
	// ReplaceSourceData upserts all provided entities for the source and
	// soft-deletes entities present before but absent now.
	ReplaceSourceData(ctx context.Context, source domain.Source, entities []domain.SanctionedEntity) (ReplaceCounts, error)

	// GetAllForChangeDetection returns the active entities for a source.
	GetAllForChangeDetection(ctx context.Context, source domain.Source) ([]domain.SanctionedEntity, error)

	Health(ctx context.Context) error
}

// ChangeEventFilter narrows change-event queries. Nil fields match all.
type ChangeEventFilter struct {
	Source    *domain.Source
	RiskLevel *domain.RiskLevel
}

// ChangeEventRepository owns the immutable change audit trail.
type ChangeEventRepository interface {
	// CreateMany bulk-inserts events. No deduplication is performed.
	CreateMany(ctx context.Context, events []domain.ChangeEvent) error

	FindRecent(ctx context.Context, days int, filter ChangeEventFilter) ([]domain.ChangeEvent, error)
	FindByRiskLevel(ctx context.Context, risk domain.RiskLevel, since time.Time) ([]domain.ChangeEvent, error)
	CountByRiskLevel(ctx context.Context, since time.Time, source *domain.Source) (map[domain.RiskLevel]int64, error)
	CountByChangeType(ctx context.Context, since time.Time, source *domain.Source) (map[domain.ChangeType]int64, error)

	// MarkNotified records notification bookkeeping after dispatch. This is
	// the only mutation change events ever receive.
	MarkNotified(ctx context.Context, eventIDs []string, channels []string, sentAt time.Time) error

	Health(ctx context.Context) error
}

// ScraperRunRepository owns run records. Run IDs are caller-assigned and
// globally unique; status transitions are validated on update.
type ScraperRunRepository interface {
	Create(ctx context.Context, run *domain.ScraperRun) error
	Update(ctx context.Context, run *domain.ScraperRun) error

	// GetByID returns one run, or domain.ErrNotFound when it does not exist.
	GetByID(ctx context.Context, runID string) (*domain.ScraperRun, error)

	// GetLastSuccessfulRun returns the most recent SUCCESS run for a source,
	// or domain.ErrNotFound when the source has never succeeded.
	GetLastSuccessfulRun(ctx context.Context, source domain.Source) (*domain.ScraperRun, error)

	FindRecent(ctx context.Context, hours int, source *domain.Source) ([]domain.ScraperRun, error)

	Health(ctx context.Context) error
}

// ContentSnapshotRepository owns the append-only fetch fingerprints.
type ContentSnapshotRepository interface {
	Create(ctx context.Context, snap *domain.ContentSnapshot) error

	// GetLastContentHash returns the hash of the most recent snapshot for a
	// source, or "" when none exists.
	GetLastContentHash(ctx context.Context, source domain.Source) (string, error)

	Health(ctx context.Context) error
}

// Tx is one open unit of work. All four repositories obtained from it share
// a single transaction with snapshot-isolation reads; Commit makes every
// write visible atomically, Rollback discards them. After either, every
// method returns ErrTxFinished. A failed Commit triggers an automatic
// rollback attempt; both states are final.
type Tx interface {
	Entities() EntityRepository
	ChangeEvents() ChangeEventRepository
	Runs() ScraperRunRepository
	Snapshots() ContentSnapshotRepository

	// Begin is a no-op on an open transaction, kept so callers can treat a
	// Tx uniformly with the UnitOfWork that produced it.
	Begin(ctx context.Context) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UnitOfWork opens transactions spanning the four repositories.
type UnitOfWork interface {
	Begin(ctx context.Context) (Tx, error)

	// Health aggregates the health probes of every repository.
	Health(ctx context.Context) error
}
