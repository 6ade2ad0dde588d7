// Package domain holds the canonical value contracts shared by every stage of
// the ingestion pipeline: sanctioned entities, change events, scraper runs and
// content snapshots. All types are storage-agnostic; persistence lives in
// internal/repository.
package domain

import (
	"fmt"
	"strings"
)

// Source identifies an upstream sanctions authority.
type Source string

const (
	SourceOFAC  Source = "OFAC"   // US Treasury OFAC SDN list
	SourceUN    Source = "UN"     // UN Security Council Consolidated List
	SourceEU    Source = "EU"     // EU consolidated financial sanctions
	SourceUKHMT Source = "UK_HMT" // UK HM Treasury / OFSI sanctions list
)

// AllSources lists every supported source in a stable order.
func AllSources() []Source {
	return []Source{SourceOFAC, SourceUN, SourceEU, SourceUKHMT}
}

// ParseSource canonicalizes a source identifier to the uppercase enum.
// Legacy lower-case and prefixed forms ("ofac", "us_ofac") that older
// scraper_runs rows carried are accepted on input and normalized.
func ParseSource(s string) (Source, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OFAC", "US_OFAC":
		return SourceOFAC, nil
	case "UN":
		return SourceUN, nil
	case "EU":
		return SourceEU, nil
	case "UK_HMT", "UK", "UKHMT":
		return SourceUKHMT, nil
	default:
		return "", fmt.Errorf("%w: unknown source %q", ErrValidation, s)
	}
}

// Lower returns the lower-case form used in run IDs and NATS subjects.
func (s Source) Lower() string { return strings.ToLower(string(s)) }

// EntityType classifies a sanctioned party.
type EntityType string

const (
	EntityTypePerson   EntityType = "PERSON"
	EntityTypeCompany  EntityType = "COMPANY"
	EntityTypeVessel   EntityType = "VESSEL"
	EntityTypeAircraft EntityType = "AIRCRAFT"
	EntityTypeOther    EntityType = "OTHER"
)
