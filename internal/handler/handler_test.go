package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/sanctions-watch/internal/domain"
	"github.com/arc-self/sanctions-watch/internal/repository/fake"
)

// ── fakes ─────────────────────────────────────────────────────────

type fakeTrigger struct {
	calls []domain.Source
	run   *domain.ScraperRun
	err   error
}

func (f *fakeTrigger) TriggerRun(_ context.Context, source domain.Source, runID string) (*domain.ScraperRun, error) {
	f.calls = append(f.calls, source)
	if f.err != nil {
		return nil, f.err
	}
	if f.run != nil {
		return f.run, nil
	}
	run, err := domain.NewScraperRun(runID, source, "https://example.com/list.xml")
	if err != nil {
		return nil, err
	}
	return run, nil
}

type memCache struct {
	data map[string][]byte
	gets int
	sets int
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) GetRecentChanges(_ context.Context, key string) []byte {
	m.gets++
	return m.data[key]
}

func (m *memCache) SetRecentChanges(_ context.Context, key string, payload []byte) {
	m.sets++
	m.data[key] = payload
}

type env struct {
	echo    *echo.Echo
	trigger *fakeTrigger
	store   *fake.Store
	cache   *memCache
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := fake.NewStore()
	trigger := &fakeTrigger{}
	cache := newMemCache()
	h := New(trigger, store.Runs(), store.ChangeEvents(), store, cache, zaptest.NewLogger(t))
	e := echo.New()
	h.Register(e)
	return &env{echo: e, trigger: trigger, store: store, cache: cache}
}

func (e *env) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.echo.ServeHTTP(rec, req)
	return rec
}

func seedEvent(t *testing.T, store *fake.Store, source domain.Source, risk domain.RiskLevel) domain.ChangeEvent {
	t.Helper()
	ev := domain.ChangeEvent{
		EventID:       domain.NewEventID(),
		EntityUID:     fmt.Sprintf("%s-1", source),
		EntityName:    "ACME HOLDINGS",
		Source:        source,
		ChangeType:    domain.ChangeAdded,
		RiskLevel:     risk,
		ChangeSummary: "Entity added",
		DetectedAt:    time.Now().UTC(),
		ScraperRunID:  "test-run",
	}
	require.NoError(t, store.ChangeEvents().CreateMany(context.Background(), []domain.ChangeEvent{ev}))
	return ev
}

// ── trigger ───────────────────────────────────────────────────────

func TestTriggerRun_Accepted(t *testing.T) {
	env := newEnv(t)

	rec := env.do(http.MethodPost, "/v1/runs/OFAC?run_id=manual-1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []domain.Source{domain.SourceOFAC}, env.trigger.calls)

	var run domain.ScraperRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "manual-1", run.RunID)
	assert.Equal(t, domain.RunRunning, run.Status)
}

func TestTriggerRun_UnknownSource(t *testing.T) {
	env := newEnv(t)

	rec := env.do(http.MethodPost, "/v1/runs/NASA")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.trigger.calls)
}

func TestTriggerRun_Busy(t *testing.T) {
	env := newEnv(t)
	env.trigger.err = fmt.Errorf("OFAC: %w", domain.ErrSourceBusy)

	rec := env.do(http.MethodPost, "/v1/runs/OFAC")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerRun_ValidationError(t *testing.T) {
	env := newEnv(t)
	env.trigger.err = fmt.Errorf("%w: source EU is not configured", domain.ErrValidation)

	rec := env.do(http.MethodPost, "/v1/runs/EU")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ── runs ──────────────────────────────────────────────────────────

func TestRecentRuns(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	run, err := domain.NewScraperRun("run-ofac", domain.SourceOFAC, "https://example.com/sdn.xml")
	require.NoError(t, err)
	require.NoError(t, env.store.Runs().Create(ctx, run))

	rec := env.do(http.MethodGet, "/v1/runs/recent?hours=24")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs  []domain.ScraperRun `json:"runs"`
		Hours int                 `json:"hours"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 24, resp.Hours)
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, "run-ofac", resp.Runs[0].RunID)
}

func TestRecentRuns_SourceFilter(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	for _, src := range []domain.Source{domain.SourceOFAC, domain.SourceUN} {
		run, err := domain.NewScraperRun("run-"+src.Lower(), src, "https://example.com/list.xml")
		require.NoError(t, err)
		require.NoError(t, env.store.Runs().Create(ctx, run))
	}

	rec := env.do(http.MethodGet, "/v1/runs/recent?source=UN")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs []domain.ScraperRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, domain.SourceUN, resp.Runs[0].Source)
}

func TestRecentRuns_BadHours(t *testing.T) {
	env := newEnv(t)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/runs/recent?hours=0").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/runs/recent?hours=100000").Code)
}

func TestRunByID(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	run, err := domain.NewScraperRun("run-42", domain.SourceEU, "https://example.com/eu.xml")
	require.NoError(t, err)
	// Well outside any recent window; lookup is keyed, not time-bounded.
	run.StartedAt = time.Now().UTC().AddDate(0, 0, -30)
	require.NoError(t, env.store.Runs().Create(ctx, run))

	rec := env.do(http.MethodGet, "/v1/runs/run-42")
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.ScraperRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-42", got.RunID)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/v1/runs/run-missing").Code)
}

// ── changes ───────────────────────────────────────────────────────

func TestRecentChanges(t *testing.T) {
	env := newEnv(t)
	seedEvent(t, env.store, domain.SourceOFAC, domain.RiskCritical)
	seedEvent(t, env.store, domain.SourceUN, domain.RiskLow)

	rec := env.do(http.MethodGet, "/v1/changes/recent?days=7")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Changes []domain.ChangeEvent `json:"changes"`
		Days    int                  `json:"days"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.Days)
	assert.Len(t, resp.Changes, 2)
}

func TestRecentChanges_Filters(t *testing.T) {
	env := newEnv(t)
	seedEvent(t, env.store, domain.SourceOFAC, domain.RiskCritical)
	seedEvent(t, env.store, domain.SourceUN, domain.RiskLow)

	rec := env.do(http.MethodGet, "/v1/changes/recent?source=OFAC&risk_level=CRITICAL")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Changes []domain.ChangeEvent `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Changes, 1)
	assert.Equal(t, domain.SourceOFAC, resp.Changes[0].Source)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/changes/recent?risk_level=EXTREME").Code)
}

func TestRecentChanges_CacheAside(t *testing.T) {
	env := newEnv(t)
	seedEvent(t, env.store, domain.SourceOFAC, domain.RiskHigh)

	first := env.do(http.MethodGet, "/v1/changes/recent?days=7")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, 1, env.cache.sets)

	// A new event lands, but within the TTL the cached payload is served.
	seedEvent(t, env.store, domain.SourceUN, domain.RiskLow)
	second := env.do(http.MethodGet, "/v1/changes/recent?days=7")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 1, env.cache.sets)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	// A different query key misses the cache and sees both events.
	third := env.do(http.MethodGet, "/v1/changes/recent?days=14")
	require.Equal(t, http.StatusOK, third.Code)
	var resp struct {
		Changes []domain.ChangeEvent `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(third.Body.Bytes(), &resp))
	assert.Len(t, resp.Changes, 2)
}

func TestChangeStats(t *testing.T) {
	env := newEnv(t)
	seedEvent(t, env.store, domain.SourceOFAC, domain.RiskCritical)
	seedEvent(t, env.store, domain.SourceOFAC, domain.RiskCritical)
	seedEvent(t, env.store, domain.SourceUN, domain.RiskLow)

	rec := env.do(http.MethodGet, "/v1/changes/stats?since_hours=24")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ByRisk map[string]int64 `json:"by_risk_level"`
		ByType map[string]int64 `json:"by_change_type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.ByRisk["CRITICAL"])
	assert.Equal(t, int64(1), resp.ByRisk["LOW"])
	assert.Equal(t, int64(3), resp.ByType["ADDED"])
}

// ── health ────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	env := newEnv(t)
	rec := env.do(http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
