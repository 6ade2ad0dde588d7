package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/sanctions-watch/internal/domain"
)

// fakeRunsRepo satisfies only what ShouldSkip needs.
type fakeRunsRepo struct {
	last *domain.ScraperRun
	err  error
}

func (f *fakeRunsRepo) Create(context.Context, *domain.ScraperRun) error { return nil }
func (f *fakeRunsRepo) Update(context.Context, *domain.ScraperRun) error { return nil }
func (f *fakeRunsRepo) GetByID(context.Context, string) (*domain.ScraperRun, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeRunsRepo) GetLastSuccessfulRun(context.Context, domain.Source) (*domain.ScraperRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.last == nil {
		return nil, domain.ErrNotFound
	}
	return f.last, nil
}
func (f *fakeRunsRepo) FindRecent(context.Context, int, *domain.Source) ([]domain.ScraperRun, error) {
	return nil, nil
}
func (f *fakeRunsRepo) Health(context.Context) error { return nil }

func xmlBody(padding int) string {
	return `<?xml version="1.0"?><sdnList>` + strings.Repeat("<x/>", padding) + `</sdnList>`
}

func newTestFetcher(t *testing.T, runs *fakeRunsRepo) *Fetcher {
	t.Helper()
	if runs == nil {
		runs = &fakeRunsRepo{}
	}
	return New(5*time.Second, "sanctions-watch-test/1.0", 100, 1<<20, runs, zaptest.NewLogger(t))
}

func TestFetch_Success(t *testing.T) {
	body := xmlBody(200)
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	res, err := f.Fetch(context.Background(), domain.SourceOFAC, srv.URL)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(body))
	assert.Equal(t, hex.EncodeToString(sum[:]), res.ContentHash)
	assert.EqualValues(t, len(body), res.SizeBytes)
	assert.Equal(t, "sanctions-watch-test/1.0", gotUA)
}

func TestFetch_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	_, err := f.Fetch(context.Background(), domain.SourceUN, srv.URL)

	var de *domain.DownloadError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusServiceUnavailable, de.StatusCode)
	assert.True(t, domain.IsRetryable(err), "5xx is transient")
}

func TestFetch_4xxNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	_, err := f.Fetch(context.Background(), domain.SourceUN, srv.URL)
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
}

func TestFetch_TooSmall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<?xml version=\"1.0\"?><a/>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	_, err := f.Fetch(context.Background(), domain.SourceEU, srv.URL)
	var de *domain.DownloadError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Err.Error(), "too small")
}

func TestFetch_NotXML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("definitely not xml ", 20)))
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	_, err := f.Fetch(context.Background(), domain.SourceEU, srv.URL)
	var de *domain.DownloadError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Err.Error(), "not an XML document")
}

func TestFetch_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	_, err := f.Fetch(context.Background(), domain.SourceUKHMT, srv.URL)
	var de *domain.DownloadError
	require.ErrorAs(t, err, &de)
}

func TestShouldSkip(t *testing.T) {
	run, err := domain.NewScraperRun("ofac_1", domain.SourceOFAC, "")
	require.NoError(t, err)
	run.ContentHash = "abc123"
	require.NoError(t, run.MarkSuccess(domain.RunCounters{}, domain.StageTimings{}))

	f := newTestFetcher(t, &fakeRunsRepo{last: run})

	skip, err := f.ShouldSkip(context.Background(), domain.SourceOFAC, "abc123")
	require.NoError(t, err)
	assert.True(t, skip, "identical hash short-circuits")

	skip, err = f.ShouldSkip(context.Background(), domain.SourceOFAC, "other")
	require.NoError(t, err)
	assert.False(t, skip)
}

func TestShouldSkip_NoPriorRun(t *testing.T) {
	f := newTestFetcher(t, &fakeRunsRepo{err: domain.ErrNotFound})
	skip, err := f.ShouldSkip(context.Background(), domain.SourceOFAC, "abc123")
	require.NoError(t, err)
	assert.False(t, skip)
}

func TestShouldSkip_RepoError(t *testing.T) {
	f := newTestFetcher(t, &fakeRunsRepo{err: errors.New("connection refused")})
	_, err := f.ShouldSkip(context.Background(), domain.SourceOFAC, "abc123")
	assert.Error(t, err)
}
