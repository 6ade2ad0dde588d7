package fake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/sanctions-watch/internal/domain"
	"github.com/arc-self/sanctions-watch/internal/repository"
)

func entity(t *testing.T, uid, name string) domain.SanctionedEntity {
	t.Helper()
	e, err := domain.NewSanctionedEntity(domain.EntityInput{
		UID: uid, Source: domain.SourceOFAC, Name: name,
	})
	require.NoError(t, err)
	return e
}

func TestTx_CommitPublishesAtomically(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	counts, err := tx.Entities().ReplaceSourceData(ctx, domain.SourceOFAC,
		[]domain.SanctionedEntity{entity(t, "OFAC-1", "Alpha")})
	require.NoError(t, err)
	assert.Equal(t, repository.ReplaceCounts{Added: 1}, counts)

	// Not visible until commit.
	assert.Empty(t, store.ActiveEntities(domain.SourceOFAC))

	require.NoError(t, tx.Commit(ctx))
	assert.Len(t, store.ActiveEntities(domain.SourceOFAC), 1)
}

func TestTx_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Entities().ReplaceSourceData(ctx, domain.SourceOFAC,
		[]domain.SanctionedEntity{entity(t, "OFAC-1", "Alpha")})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	assert.Empty(t, store.ActiveEntities(domain.SourceOFAC))
}

func TestTx_FinishedIsFinal(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.ErrorIs(t, tx.Commit(ctx), repository.ErrTxFinished)
	assert.ErrorIs(t, tx.Rollback(ctx), repository.ErrTxFinished)
	_, err = tx.Entities().ReplaceSourceData(ctx, domain.SourceOFAC, nil)
	assert.ErrorIs(t, err, repository.ErrTxFinished)

	// Begin on an open tx is a no-op; on a finished tx it is rejected.
	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	assert.NoError(t, tx2.Begin(ctx))
	require.NoError(t, tx2.Rollback(ctx))
	assert.ErrorIs(t, tx2.Begin(ctx), repository.ErrTxFinished)
}

func TestTx_ConcurrentCommitsForDistinctSourcesMerge(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	txA, err := store.Begin(ctx)
	require.NoError(t, err)
	txB, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = txA.Entities().ReplaceSourceData(ctx, domain.SourceOFAC,
		[]domain.SanctionedEntity{entity(t, "OFAC-1", "Alpha")})
	require.NoError(t, err)
	snapA, err := domain.NewContentSnapshot(domain.SourceOFAC, "aaa", 10, "ofac_1")
	require.NoError(t, err)
	require.NoError(t, txA.Snapshots().Create(ctx, snapA))
	require.NoError(t, txA.Commit(ctx))
	require.Len(t, store.ActiveEntities(domain.SourceOFAC), 1)

	// txB was opened before txA committed; its commit must merge, not clobber.
	un, err := domain.NewSanctionedEntity(domain.EntityInput{
		UID: "UN-IND-1", Source: domain.SourceUN, Name: "Other",
	})
	require.NoError(t, err)
	_, err = txB.Entities().ReplaceSourceData(ctx, domain.SourceUN, []domain.SanctionedEntity{un})
	require.NoError(t, err)
	snapB, err := domain.NewContentSnapshot(domain.SourceUN, "bbb", 20, "un_1")
	require.NoError(t, err)
	require.NoError(t, txB.Snapshots().Create(ctx, snapB))
	require.NoError(t, txB.Commit(ctx))

	assert.Len(t, store.ActiveEntities(domain.SourceOFAC), 1,
		"entities committed by the first transaction survive the second commit")
	assert.Len(t, store.ActiveEntities(domain.SourceUN), 1)
	assert.Equal(t, 2, store.SnapshotCount())

	hash, err := store.Snapshots().GetLastContentHash(ctx, domain.SourceOFAC)
	require.NoError(t, err)
	assert.Equal(t, "aaa", hash)
}

func TestTx_FailedCommitLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.FailCommit = true

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Entities().ReplaceSourceData(ctx, domain.SourceOFAC,
		[]domain.SanctionedEntity{entity(t, "OFAC-1", "Alpha")})
	require.NoError(t, err)

	var txErr *domain.TransactionError
	require.ErrorAs(t, tx.Commit(ctx), &txErr)
	assert.Empty(t, store.ActiveEntities(domain.SourceOFAC))
	assert.Zero(t, store.SnapshotCount())
}

func TestReplaceSourceData_SoftDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_, err := store.Entities().ReplaceSourceData(ctx, domain.SourceOFAC,
		[]domain.SanctionedEntity{entity(t, "OFAC-1", "Alpha"), entity(t, "OFAC-2", "Beta")})
	require.NoError(t, err)

	counts, err := store.Entities().ReplaceSourceData(ctx, domain.SourceOFAC,
		[]domain.SanctionedEntity{entity(t, "OFAC-2", "Beta Renamed")})
	require.NoError(t, err)
	assert.Equal(t, repository.ReplaceCounts{Updated: 1, Removed: 1}, counts)

	assert.False(t, store.IsActive(domain.SourceOFAC, "OFAC-1"))
	assert.True(t, store.IsActive(domain.SourceOFAC, "OFAC-2"))

	active := store.ActiveEntities(domain.SourceOFAC)
	require.Len(t, active, 1)
	assert.Equal(t, "Beta Renamed", active[0].Name)
}

func TestReplaceSourceData_ScopedBySource(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	un, err := domain.NewSanctionedEntity(domain.EntityInput{
		UID: "UN-IND-1", Source: domain.SourceUN, Name: "Other",
	})
	require.NoError(t, err)
	_, err = store.Entities().ReplaceSourceData(ctx, domain.SourceUN, []domain.SanctionedEntity{un})
	require.NoError(t, err)

	// Replacing OFAC data must never touch UN rows.
	_, err = store.Entities().ReplaceSourceData(ctx, domain.SourceOFAC,
		[]domain.SanctionedEntity{entity(t, "OFAC-1", "Alpha")})
	require.NoError(t, err)
	assert.True(t, store.IsActive(domain.SourceUN, "UN-IND-1"))
}

func TestRuns_TransitionValidated(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	run, err := domain.NewScraperRun("ofac_1", domain.SourceOFAC, "")
	require.NoError(t, err)
	require.NoError(t, store.Runs().Create(ctx, run))

	require.NoError(t, run.MarkFailed("boom"))
	require.NoError(t, store.Runs().Update(ctx, run))

	// Terminal rows never move again.
	stale := *run
	stale.Status = domain.RunSuccess
	assert.ErrorIs(t, store.Runs().Update(ctx, &stale), domain.ErrValidation)
}

func TestRuns_GetLastSuccessful(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_, err := store.Runs().GetLastSuccessfulRun(ctx, domain.SourceOFAC)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	first, err := domain.NewScraperRun("ofac_1", domain.SourceOFAC, "")
	require.NoError(t, err)
	first.StartedAt = time.Now().UTC().Add(-time.Hour)
	first.ContentHash = "old"
	require.NoError(t, first.MarkSuccess(domain.RunCounters{}, domain.StageTimings{}))
	require.NoError(t, store.Runs().Create(ctx, first))

	second, err := domain.NewScraperRun("ofac_2", domain.SourceOFAC, "")
	require.NoError(t, err)
	second.ContentHash = "new"
	require.NoError(t, second.MarkSuccess(domain.RunCounters{}, domain.StageTimings{}))
	require.NoError(t, store.Runs().Create(ctx, second))

	last, err := store.Runs().GetLastSuccessfulRun(ctx, domain.SourceOFAC)
	require.NoError(t, err)
	assert.Equal(t, "new", last.ContentHash)
}

func TestSnapshots_LastHash(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	hash, err := store.Snapshots().GetLastContentHash(ctx, domain.SourceEU)
	require.NoError(t, err)
	assert.Empty(t, hash)

	snapA, err := domain.NewContentSnapshot(domain.SourceEU, "aaa", 10, "eu_1")
	require.NoError(t, err)
	require.NoError(t, store.Snapshots().Create(ctx, snapA))
	snapB, err := domain.NewContentSnapshot(domain.SourceEU, "bbb", 20, "eu_2")
	require.NoError(t, err)
	require.NoError(t, store.Snapshots().Create(ctx, snapB))

	hash, err = store.Snapshots().GetLastContentHash(ctx, domain.SourceEU)
	require.NoError(t, err)
	assert.Equal(t, "bbb", hash)
}

func TestEvents_MarkNotified(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	ev := domain.ChangeEvent{
		EventID:    domain.NewEventID(),
		EntityUID:  "OFAC-1",
		Source:     domain.SourceOFAC,
		ChangeType: domain.ChangeAdded,
		RiskLevel:  domain.RiskCritical,
		DetectedAt: time.Now().UTC(),
	}
	require.NoError(t, store.ChangeEvents().CreateMany(ctx, []domain.ChangeEvent{ev}))

	sentAt := time.Now().UTC()
	require.NoError(t, store.ChangeEvents().MarkNotified(ctx, []string{ev.EventID}, []string{"LOG", "SLACK"}, sentAt))

	events := store.AllEvents()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].NotificationSentAt)
	assert.Equal(t, []string{"LOG", "SLACK"}, events[0].NotificationChannels)
}

func TestEvents_Counts(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()

	events := []domain.ChangeEvent{
		{EventID: domain.NewEventID(), EntityUID: "OFAC-1", Source: domain.SourceOFAC, ChangeType: domain.ChangeAdded, RiskLevel: domain.RiskCritical, DetectedAt: now},
		{EventID: domain.NewEventID(), EntityUID: "OFAC-2", Source: domain.SourceOFAC, ChangeType: domain.ChangeRemoved, RiskLevel: domain.RiskCritical, DetectedAt: now},
		{EventID: domain.NewEventID(), EntityUID: "UN-IND-1", Source: domain.SourceUN, ChangeType: domain.ChangeAdded, RiskLevel: domain.RiskLow, DetectedAt: now},
	}
	require.NoError(t, store.ChangeEvents().CreateMany(ctx, events))

	since := now.Add(-time.Minute)
	all, err := store.ChangeEvents().CountByRiskLevel(ctx, since, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), all[domain.RiskCritical])
	assert.Equal(t, int64(1), all[domain.RiskLow])

	src := domain.SourceOFAC
	byType, err := store.ChangeEvents().CountByChangeType(ctx, since, &src)
	require.NoError(t, err)
	assert.Equal(t, int64(1), byType[domain.ChangeAdded])
	assert.Equal(t, int64(1), byType[domain.ChangeRemoved])
}
