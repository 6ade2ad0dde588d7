package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/arc-self/sanctions-watch/internal/domain"
	"github.com/arc-self/sanctions-watch/internal/repository"
)

// UnitOfWork opens pgx transactions spanning all four repositories.
type UnitOfWork struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewUnitOfWork wraps a connection pool.
func NewUnitOfWork(pool *pgxpool.Pool, logger *zap.Logger) *UnitOfWork {
	return &UnitOfWork{pool: pool, logger: logger}
}

// Begin opens one transaction and binds the four repositories to it.
func (u *UnitOfWork) Begin(ctx context.Context) (repository.Tx, error) {
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return nil, &domain.TransactionError{Op: "begin", Err: err}
	}
	return &pgxTx{
		tx:        tx,
		logger:    u.logger,
		entities:  NewEntityRepo(tx),
		events:    NewChangeEventRepo(tx),
		runs:      NewScraperRunRepo(tx),
		snapshots: NewContentSnapshotRepo(tx),
	}, nil
}

// Health probes every repository against the pool.
func (u *UnitOfWork) Health(ctx context.Context) error {
	probes := map[string]interface{ Health(context.Context) error }{
		"entities":      NewEntityRepo(u.pool),
		"change_events": NewChangeEventRepo(u.pool),
		"scraper_runs":  NewScraperRunRepo(u.pool),
		"snapshots":     NewContentSnapshotRepo(u.pool),
	}
	for name, repo := range probes {
		if err := repo.Health(ctx); err != nil {
			return fmt.Errorf("repository %s unhealthy: %w", name, err)
		}
	}
	return nil
}

// pgxTx is one open unit of work. After Commit or Rollback every method
// returns repository.ErrTxFinished.
type pgxTx struct {
	tx        pgx.Tx
	logger    *zap.Logger
	done      bool
	entities  *EntityRepo
	events    *ChangeEventRepo
	runs      *ScraperRunRepo
	snapshots *ContentSnapshotRepo
}

func (t *pgxTx) Entities() repository.EntityRepository           { return t.entities }
func (t *pgxTx) ChangeEvents() repository.ChangeEventRepository  { return t.events }
func (t *pgxTx) Runs() repository.ScraperRunRepository           { return t.runs }
func (t *pgxTx) Snapshots() repository.ContentSnapshotRepository { return t.snapshots }

// Begin is a no-op on an already open transaction.
func (t *pgxTx) Begin(ctx context.Context) error {
	if t.done {
		return repository.ErrTxFinished
	}
	return nil
}

func (t *pgxTx) Commit(ctx context.Context) error {
	if t.done {
		return repository.ErrTxFinished
	}
	t.done = true
	if err := t.tx.Commit(ctx); err != nil {
		// Make the rollback attempt even though pgx releases the tx on a
		// failed commit; the state is final either way.
		if rbErr := t.tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			t.logger.Error("rollback after failed commit", zap.Error(rbErr))
		}
		return &domain.TransactionError{Op: "commit", Err: err}
	}
	return nil
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	if t.done {
		return repository.ErrTxFinished
	}
	t.done = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return &domain.TransactionError{Op: "rollback", Err: err}
	}
	return nil
}
