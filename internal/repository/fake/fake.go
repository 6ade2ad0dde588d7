// Package fake is a first-class in-memory implementation of the repository
// contracts. Transactions stage their writes on a deep copy of the store for
// snapshot-isolated reads and replay the recorded writes into the live store
// on Commit, so concurrent transactions for distinct sources merge instead of
// overwriting each other. Induced commit failures leave the store untouched.
package fake

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arc-self/sanctions-watch/internal/domain"
	"github.com/arc-self/sanctions-watch/internal/repository"
)

// state is the flat storage behind a Store. Copies are value-deep for the
// maps; domain values are treated as immutable by convention.
type state struct {
	entities  map[string]map[string]entityRow // source -> uid -> row
	events    map[string]domain.ChangeEvent   // event_id -> event
	runs      map[string]domain.ScraperRun    // run_id -> run
	snapshots []domain.ContentSnapshot
}

type entityRow struct {
	entity domain.SanctionedEntity
	active bool
}

func newState() *state {
	return &state{
		entities: make(map[string]map[string]entityRow),
		events:   make(map[string]domain.ChangeEvent),
		runs:     make(map[string]domain.ScraperRun),
	}
}

func (s *state) clone() *state {
	c := newState()
	for src, byUID := range s.entities {
		m := make(map[string]entityRow, len(byUID))
		for uid, row := range byUID {
			m[uid] = row
		}
		c.entities[src] = m
	}
	for id, ev := range s.events {
		c.events[id] = ev
	}
	for id, run := range s.runs {
		c.runs[id] = run
	}
	c.snapshots = append([]domain.ContentSnapshot(nil), s.snapshots...)
	return c
}

// Store is the shared in-memory database. Safe for concurrent use.
type Store struct {
	mu sync.Mutex
	st *state

	// FailCommit makes the next Commit fail, leaving the store untouched.
	FailCommit bool
	// FailHealth makes health probes fail.
	FailHealth error
}

// NewStore builds an empty in-memory database.
func NewStore() *Store {
	return &Store{st: newState()}
}

// Begin opens a transaction staging writes on a snapshot copy.
func (s *Store) Begin(ctx context.Context) (repository.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &fakeTx{store: s, staged: s.st.clone()}, nil
}

// Health reports the configured probe result.
func (s *Store) Health(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FailHealth
}

// ── direct (non-transactional) repositories ───────────────────────────────

// Entities returns a repository reading and writing the live store directly.
func (s *Store) Entities() repository.EntityRepository { return &entityRepo{store: s} }

// ChangeEvents returns a repository over the live store.
func (s *Store) ChangeEvents() repository.ChangeEventRepository { return &eventRepo{store: s} }

// Runs returns a repository over the live store.
func (s *Store) Runs() repository.ScraperRunRepository { return &runRepo{store: s} }

// Snapshots returns a repository over the live store.
func (s *Store) Snapshots() repository.ContentSnapshotRepository { return &snapshotRepo{store: s} }

// ── introspection helpers for tests ───────────────────────────────────────

// ActiveEntities returns the active entity set for a source, sorted by uid.
func (s *Store) ActiveEntities(source domain.Source) []domain.SanctionedEntity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return activeEntities(s.st, source)
}

// AllEvents returns every stored change event, sorted by entity uid.
func (s *Store) AllEvents() []domain.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChangeEvent, 0, len(s.st.events))
	for _, ev := range s.st.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityUID < out[j].EntityUID })
	return out
}

// Run returns a stored run by id.
func (s *Store) Run(runID string) (domain.ScraperRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.st.runs[runID]
	return run, ok
}

// SnapshotCount reports how many snapshots have been committed.
func (s *Store) SnapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.snapshots)
}

// IsActive reports whether an entity exists and is active.
func (s *Store) IsActive(source domain.Source, uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.st.entities[string(source)][uid]
	return ok && row.active
}

// ── transaction ───────────────────────────────────────────────────────────

type fakeTx struct {
	store  *Store
	staged *state
	ops    []func(*state)
	done   bool
}

// stage applies one write to the staged snapshot and records it for replay
// into the live store at commit.
func (t *fakeTx) stage(mutate func(*state)) {
	mutate(t.staged)
	t.ops = append(t.ops, mutate)
}

func (t *fakeTx) Entities() repository.EntityRepository {
	return &entityRepo{tx: t}
}
func (t *fakeTx) ChangeEvents() repository.ChangeEventRepository {
	return &eventRepo{tx: t}
}
func (t *fakeTx) Runs() repository.ScraperRunRepository {
	return &runRepo{tx: t}
}
func (t *fakeTx) Snapshots() repository.ContentSnapshotRepository {
	return &snapshotRepo{tx: t}
}

func (t *fakeTx) Begin(ctx context.Context) error {
	if t.done {
		return repository.ErrTxFinished
	}
	return nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.done {
		return repository.ErrTxFinished
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.FailCommit {
		t.store.FailCommit = false
		return &domain.TransactionError{Op: "commit", Err: context.Canceled}
	}
	for _, op := range t.ops {
		op(t.store.st)
	}
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.done {
		return repository.ErrTxFinished
	}
	t.done = true
	return nil
}

// view returns the state a repository reads from plus the guarding mutex.
// Transactional repos read the staged snapshot without locking (one goroutine
// per run); direct repos lock the live store. Writes go through stage/replay
// instead so concurrent commits merge.
func (r *entityRepo) view() (*state, func()) {
	if r.tx != nil {
		return r.tx.staged, func() {}
	}
	r.store.mu.Lock()
	return r.store.st, r.store.mu.Unlock
}

// ── entity repository ─────────────────────────────────────────────────────

type entityRepo struct {
	store *Store
	tx    *fakeTx
}

func (r *entityRepo) ReplaceSourceData(ctx context.Context, source domain.Source, entities []domain.SanctionedEntity) (repository.ReplaceCounts, error) {
	if r.tx != nil {
		if r.tx.done {
			return repository.ReplaceCounts{}, repository.ErrTxFinished
		}
		// Counts come from the staged snapshot; the replay op only mutates.
		counts := applyReplace(r.tx.staged, source, entities)
		r.tx.ops = append(r.tx.ops, func(st *state) { applyReplace(st, source, entities) })
		return counts, nil
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return applyReplace(r.store.st, source, entities), nil
}

func applyReplace(st *state, source domain.Source, entities []domain.SanctionedEntity) repository.ReplaceCounts {
	var counts repository.ReplaceCounts
	byUID := st.entities[string(source)]
	if byUID == nil {
		byUID = make(map[string]entityRow)
		st.entities[string(source)] = byUID
	}

	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		seen[e.UID] = struct{}{}
		if _, existed := byUID[e.UID]; existed {
			counts.Updated++
		} else {
			counts.Added++
		}
		byUID[e.UID] = entityRow{entity: e, active: true}
	}
	for uid, row := range byUID {
		if _, ok := seen[uid]; !ok && row.active {
			row.active = false
			byUID[uid] = row
			counts.Removed++
		}
	}
	return counts
}

func (r *entityRepo) GetAllForChangeDetection(ctx context.Context, source domain.Source) ([]domain.SanctionedEntity, error) {
	if r.tx != nil && r.tx.done {
		return nil, repository.ErrTxFinished
	}
	st, unlock := r.view()
	defer unlock()
	return activeEntities(st, source), nil
}

func (r *entityRepo) Health(ctx context.Context) error {
	if r.tx != nil {
		return nil
	}
	return r.store.Health(ctx)
}

func activeEntities(st *state, source domain.Source) []domain.SanctionedEntity {
	var out []domain.SanctionedEntity
	for _, row := range st.entities[string(source)] {
		if row.active {
			out = append(out, row.entity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// ── change event repository ───────────────────────────────────────────────

type eventRepo struct {
	store *Store
	tx    *fakeTx
}

func (r *eventRepo) view() (*state, func()) {
	if r.tx != nil {
		return r.tx.staged, func() {}
	}
	r.store.mu.Lock()
	return r.store.st, r.store.mu.Unlock
}

func (r *eventRepo) CreateMany(ctx context.Context, events []domain.ChangeEvent) error {
	if r.tx != nil {
		if r.tx.done {
			return repository.ErrTxFinished
		}
		r.tx.stage(func(st *state) {
			for _, ev := range events {
				st.events[ev.EventID] = ev
			}
		})
		return nil
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, ev := range events {
		r.store.st.events[ev.EventID] = ev
	}
	return nil
}

func (r *eventRepo) FindRecent(ctx context.Context, days int, filter repository.ChangeEventFilter) ([]domain.ChangeEvent, error) {
	st, unlock := r.view()
	defer unlock()
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var out []domain.ChangeEvent
	for _, ev := range st.events {
		if ev.DetectedAt.Before(cutoff) {
			continue
		}
		if filter.Source != nil && ev.Source != *filter.Source {
			continue
		}
		if filter.RiskLevel != nil && ev.RiskLevel != *filter.RiskLevel {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

func (r *eventRepo) FindByRiskLevel(ctx context.Context, risk domain.RiskLevel, since time.Time) ([]domain.ChangeEvent, error) {
	st, unlock := r.view()
	defer unlock()
	var out []domain.ChangeEvent
	for _, ev := range st.events {
		if ev.RiskLevel == risk && !ev.DetectedAt.Before(since) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

func (r *eventRepo) CountByRiskLevel(ctx context.Context, since time.Time, source *domain.Source) (map[domain.RiskLevel]int64, error) {
	st, unlock := r.view()
	defer unlock()
	out := make(map[domain.RiskLevel]int64)
	for _, ev := range st.events {
		if ev.DetectedAt.Before(since) {
			continue
		}
		if source != nil && ev.Source != *source {
			continue
		}
		out[ev.RiskLevel]++
	}
	return out, nil
}

func (r *eventRepo) CountByChangeType(ctx context.Context, since time.Time, source *domain.Source) (map[domain.ChangeType]int64, error) {
	st, unlock := r.view()
	defer unlock()
	out := make(map[domain.ChangeType]int64)
	for _, ev := range st.events {
		if ev.DetectedAt.Before(since) {
			continue
		}
		if source != nil && ev.Source != *source {
			continue
		}
		out[ev.ChangeType]++
	}
	return out, nil
}

func (r *eventRepo) MarkNotified(ctx context.Context, eventIDs []string, channels []string, sentAt time.Time) error {
	if r.tx != nil {
		if r.tx.done {
			return repository.ErrTxFinished
		}
		r.tx.stage(func(st *state) { applyMarkNotified(st, eventIDs, channels, sentAt) })
		return nil
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	applyMarkNotified(r.store.st, eventIDs, channels, sentAt)
	return nil
}

func applyMarkNotified(st *state, eventIDs []string, channels []string, sentAt time.Time) {
	for _, id := range eventIDs {
		ev, ok := st.events[id]
		if !ok {
			continue
		}
		t := sentAt
		ev.NotificationSentAt = &t
		ev.NotificationChannels = append([]string(nil), channels...)
		st.events[id] = ev
	}
}

func (r *eventRepo) Health(ctx context.Context) error {
	if r.tx != nil {
		return nil
	}
	return r.store.Health(ctx)
}

// ── scraper run repository ────────────────────────────────────────────────

type runRepo struct {
	store *Store
	tx    *fakeTx
}

func (r *runRepo) view() (*state, func()) {
	if r.tx != nil {
		return r.tx.staged, func() {}
	}
	r.store.mu.Lock()
	return r.store.st, r.store.mu.Unlock
}

func (r *runRepo) Create(ctx context.Context, run *domain.ScraperRun) error {
	rec := *run
	if r.tx != nil {
		if r.tx.done {
			return repository.ErrTxFinished
		}
		if _, exists := r.tx.staged.runs[rec.RunID]; exists {
			return &domain.TransactionError{Op: "create run", Err: domain.ErrValidation}
		}
		r.tx.stage(func(st *state) { st.runs[rec.RunID] = rec })
		return nil
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.st.runs[rec.RunID]; exists {
		return &domain.TransactionError{Op: "create run", Err: domain.ErrValidation}
	}
	r.store.st.runs[rec.RunID] = rec
	return nil
}

func (r *runRepo) Update(ctx context.Context, run *domain.ScraperRun) error {
	rec := *run
	if r.tx != nil {
		if r.tx.done {
			return repository.ErrTxFinished
		}
		if err := checkRunUpdate(r.tx.staged, &rec); err != nil {
			return err
		}
		r.tx.stage(func(st *state) { st.runs[rec.RunID] = rec })
		return nil
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := checkRunUpdate(r.store.st, &rec); err != nil {
		return err
	}
	r.store.st.runs[rec.RunID] = rec
	return nil
}

func checkRunUpdate(st *state, run *domain.ScraperRun) error {
	stored, ok := st.runs[run.RunID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Status != run.Status && !domain.ValidTransition(stored.Status, run.Status) {
		return domain.ErrValidation
	}
	return nil
}

func (r *runRepo) GetByID(ctx context.Context, runID string) (*domain.ScraperRun, error) {
	st, unlock := r.view()
	defer unlock()
	run, ok := st.runs[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &run, nil
}

func (r *runRepo) GetLastSuccessfulRun(ctx context.Context, source domain.Source) (*domain.ScraperRun, error) {
	st, unlock := r.view()
	defer unlock()
	var best *domain.ScraperRun
	for id := range st.runs {
		run := st.runs[id]
		if run.Source != source || run.Status != domain.RunSuccess {
			continue
		}
		if best == nil || run.StartedAt.After(best.StartedAt) {
			b := run
			best = &b
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return best, nil
}

func (r *runRepo) FindRecent(ctx context.Context, hours int, source *domain.Source) ([]domain.ScraperRun, error) {
	st, unlock := r.view()
	defer unlock()
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	var out []domain.ScraperRun
	for _, run := range st.runs {
		if run.StartedAt.Before(cutoff) {
			continue
		}
		if source != nil && run.Source != *source {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return strings.Compare(out[i].RunID, out[j].RunID) < 0
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (r *runRepo) Health(ctx context.Context) error {
	if r.tx != nil {
		return nil
	}
	return r.store.Health(ctx)
}

// ── content snapshot repository ───────────────────────────────────────────

type snapshotRepo struct {
	store *Store
	tx    *fakeTx
}

func (r *snapshotRepo) view() (*state, func()) {
	if r.tx != nil {
		return r.tx.staged, func() {}
	}
	r.store.mu.Lock()
	return r.store.st, r.store.mu.Unlock
}

func (r *snapshotRepo) Create(ctx context.Context, snap *domain.ContentSnapshot) error {
	rec := *snap
	if r.tx != nil {
		if r.tx.done {
			return repository.ErrTxFinished
		}
		r.tx.stage(func(st *state) { st.snapshots = append(st.snapshots, rec) })
		return nil
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.st.snapshots = append(r.store.st.snapshots, rec)
	return nil
}

func (r *snapshotRepo) GetLastContentHash(ctx context.Context, source domain.Source) (string, error) {
	st, unlock := r.view()
	defer unlock()
	for i := len(st.snapshots) - 1; i >= 0; i-- {
		if st.snapshots[i].Source == source {
			return st.snapshots[i].ContentHash, nil
		}
	}
	return "", nil
}

func (r *snapshotRepo) Health(ctx context.Context) error {
	if r.tx != nil {
		return nil
	}
	return r.store.Health(ctx)
}
