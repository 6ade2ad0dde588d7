// Package fetcher retrieves raw list content for one source. It is
// pure-once-through: one GET, one fingerprint, no retries (retrying is the
// orchestrator's concern).
package fetcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arc-self/sanctions-watch/internal/domain"
	"github.com/arc-self/sanctions-watch/internal/repository"
)

var xmlPrefix = []byte("<?xml")

// Result is the outcome of one successful fetch.
type Result struct {
	Content        []byte
	ContentHash    string // SHA-256 hex over the raw bytes
	SizeBytes      int64
	DownloadTimeMs int64
}

// Fetcher performs HTTP retrieval and content fingerprinting for all sources.
type Fetcher struct {
	client    *http.Client
	userAgent string
	minSize   int
	maxSize   int
	runs      repository.ScraperRunRepository
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New constructs a Fetcher. timeout guards a single GET end to end.
func New(timeout time.Duration, userAgent string, minSize, maxSize int, runs repository.ScraperRunRepository, logger *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		minSize:   minSize,
		maxSize:   maxSize,
		runs:      runs,
		logger:    logger,
		tracer:    otel.Tracer("sanctions-fetcher"),
	}
}

// Fetch performs one GET against the source URL, validates plausibility and
// returns the fingerprinted content. Failures are *domain.DownloadError.
func (f *Fetcher) Fetch(ctx context.Context, source domain.Source, url string) (*Result, error) {
	ctx, span := f.tracer.Start(ctx, "fetch."+source.Lower())
	defer span.End()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.DownloadError{Source: source, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, &domain.DownloadError{Source: source, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.DownloadError{Source: source, URL: url, StatusCode: resp.StatusCode}
	}

	// Cap the read so a misbehaving source cannot exhaust memory.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.maxSize)+1))
	if err != nil {
		span.RecordError(err)
		return nil, &domain.DownloadError{Source: source, URL: url, Err: err}
	}
	if len(body) == 0 {
		return nil, &domain.DownloadError{Source: source, URL: url, Err: errors.New("empty body")}
	}
	if len(body) > f.maxSize {
		return nil, &domain.DownloadError{Source: source, URL: url,
			Err: fmt.Errorf("content exceeds max size %d bytes", f.maxSize)}
	}
	if len(body) < f.minSize {
		return nil, &domain.DownloadError{Source: source, URL: url,
			Err: fmt.Errorf("content too small: %d bytes, minimum %d", len(body), f.minSize)}
	}
	if !looksLikeXML(body) {
		return nil, &domain.DownloadError{Source: source, URL: url,
			Err: errors.New("content is not an XML document")}
	}

	sum := sha256.Sum256(body)
	res := &Result{
		Content:        body,
		ContentHash:    hex.EncodeToString(sum[:]),
		SizeBytes:      int64(len(body)),
		DownloadTimeMs: time.Since(start).Milliseconds(),
	}

	f.logger.Info("source fetched",
		zap.String("source", string(source)),
		zap.Int64("size_bytes", res.SizeBytes),
		zap.Int64("download_ms", res.DownloadTimeMs),
		zap.String("content_hash", res.ContentHash[:12]),
	)
	return res, nil
}

// ShouldSkip reports whether the source's most recent SUCCESS run carries an
// identical content hash. Content hashes are the deduplication authority;
// callers must not bypass this check.
func (f *Fetcher) ShouldSkip(ctx context.Context, source domain.Source, contentHash string) (bool, error) {
	last, err := f.runs.GetLastSuccessfulRun(ctx, source)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("last successful run for %s: %w", source, err)
	}
	return last.ContentHash != "" && last.ContentHash == contentHash, nil
}

// looksLikeXML checks the structural plausibility of an XML feed, tolerating
// a UTF-8 BOM and leading whitespace.
func looksLikeXML(body []byte) bool {
	b := bytes.TrimLeft(bytes.TrimPrefix(body, []byte{0xEF, 0xBB, 0xBF}), " \t\r\n")
	return bytes.HasPrefix(b, xmlPrefix) || bytes.HasPrefix(b, []byte("<"))
}
