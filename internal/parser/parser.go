// Package parser decodes source-specific list formats into the canonical
// entity model. One parser per source; the registry is a plain map built at
// startup and passed to the orchestrator (no global registration).
//
// Parsers tolerate per-record failures: a malformed record is counted and its
// detail retained (first few only), and parsing continues. Only document-level
// structural failures abort a parse.
package parser

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arc-self/sanctions-watch/internal/domain"
)

// maxFailureDetails bounds how many per-record failures are retained verbatim.
const maxFailureDetails = 5

// Result is the outcome of parsing one document.
type Result struct {
	Entities       []domain.SanctionedEntity
	RecordsFailed  int
	FailureDetails []string
}

func (r *Result) recordFailure(detail string) {
	r.RecordsFailed++
	if len(r.FailureDetails) < maxFailureDetails {
		r.FailureDetails = append(r.FailureDetails, detail)
	}
}

// Parser decodes one source's raw content into canonical entities.
type Parser interface {
	Source() domain.Source
	Parse(ctx context.Context, content []byte) (*Result, error)
}

// Registry maps each source to its parser.
type Registry map[domain.Source]Parser

// NewRegistry builds the parser set for all supported sources.
func NewRegistry(logger *zap.Logger) Registry {
	return Registry{
		domain.SourceOFAC:  NewOFACParser(logger),
		domain.SourceUN:    NewUNParser(logger),
		domain.SourceEU:    NewEUParser(logger),
		domain.SourceUKHMT: NewUKHMTParser(logger),
	}
}

// Get returns the parser for a source or an error for unsupported sources.
func (r Registry) Get(src domain.Source) (Parser, error) {
	p, ok := r[src]
	if !ok {
		return nil, fmt.Errorf("%w: no parser registered for source %s", domain.ErrValidation, src)
	}
	return p, nil
}

// logResult emits the shared post-parse log line.
func logResult(logger *zap.Logger, src domain.Source, res *Result) {
	fields := []zap.Field{
		zap.String("source", string(src)),
		zap.Int("entities", len(res.Entities)),
		zap.Int("records_failed", res.RecordsFailed),
	}
	if res.RecordsFailed > 0 {
		fields = append(fields, zap.Strings("first_failures", res.FailureDetails))
		logger.Warn("parse completed with record failures", fields...)
		return
	}
	logger.Info("parse completed", fields...)
}
