package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChangeType classifies an entity-level change detected in one run.
type ChangeType string

const (
	ChangeAdded    ChangeType = "ADDED"
	ChangeModified ChangeType = "MODIFIED"
	ChangeRemoved  ChangeType = "REMOVED"
)

// RiskLevel is the ordinal classification driving notification routing.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Severity orders risk levels: LOW < MEDIUM < HIGH < CRITICAL.
func (r RiskLevel) Severity() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// Max returns the higher of two risk levels. Risk never downgrades.
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.Severity() > r.Severity() {
		return other
	}
	return r
}

// FieldChangeKind describes how a tracked field changed.
type FieldChangeKind string

const (
	FieldAdded    FieldChangeKind = "added"
	FieldRemoved  FieldChangeKind = "removed"
	FieldModified FieldChangeKind = "modified"
)

// FieldChange is one field-level diff produced by the Differ.
type FieldChange struct {
	FieldName string          `json:"field_name"`
	OldValue  string          `json:"old_value,omitempty"`
	NewValue  string          `json:"new_value,omitempty"`
	Kind      FieldChangeKind `json:"kind"`
}

// ChangeEvent is the committed record of one entity-level change observed in
// one run. Immutable after creation except for the notification bookkeeping
// columns, which only the notifier writes.
type ChangeEvent struct {
	EventID              string        `json:"event_id"`
	EntityUID            string        `json:"entity_uid"`
	EntityName           string        `json:"entity_name"`
	Source               Source        `json:"source"`
	ChangeType           ChangeType    `json:"change_type"`
	RiskLevel            RiskLevel     `json:"risk_level"`
	FieldChanges         []FieldChange `json:"field_changes,omitempty"`
	ChangeSummary        string        `json:"change_summary"`
	OldContentHash       string        `json:"old_content_hash,omitempty"`
	NewContentHash       string        `json:"new_content_hash,omitempty"`
	DetectedAt           time.Time     `json:"detected_at"`
	ScraperRunID         string        `json:"scraper_run_id"`
	ProcessingTimeMs     int64         `json:"processing_time_ms"`
	NotificationSentAt   *time.Time    `json:"notification_sent_at,omitempty"`
	NotificationChannels []string      `json:"notification_channels,omitempty"`
}

// NewEventID mints a server-assigned, time-ordered event identifier.
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Summarize builds the human-readable one-line summary for a change.
func Summarize(changeType ChangeType, name string, source Source, fields []FieldChange) string {
	switch changeType {
	case ChangeAdded:
		return fmt.Sprintf("%s: new entity %q added to list", source, name)
	case ChangeRemoved:
		return fmt.Sprintf("%s: entity %q removed from list", source, name)
	default:
		names := make([]string, 0, len(fields))
		for _, f := range fields {
			names = append(names, f.FieldName)
		}
		return fmt.Sprintf("%s: entity %q modified (%s)", source, name, strings.Join(names, ", "))
	}
}
