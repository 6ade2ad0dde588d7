package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/arc-self/sanctions-watch/internal/domain"
)

// Message is one rendered notification. Rendering is deterministic given the
// events, so retries and tests see identical payloads.
type Message struct {
	Subject   string
	Body      string
	RiskLevel domain.RiskLevel
	Source    domain.Source
	EventIDs  []string
}

// renderImmediate builds the per-event CRITICAL message.
func renderImmediate(ev domain.ChangeEvent) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Entity: %s\n", ev.EntityName)
	fmt.Fprintf(&b, "UID: %s\n", ev.EntityUID)
	fmt.Fprintf(&b, "Source: %s\n", ev.Source)
	fmt.Fprintf(&b, "Change: %s\n", ev.ChangeType)
	fmt.Fprintf(&b, "Risk: %s\n", ev.RiskLevel)
	fmt.Fprintf(&b, "Detected: %s\n", ev.DetectedAt.UTC().Format(time.RFC3339))
	if len(ev.FieldChanges) > 0 {
		b.WriteString("Field changes:\n")
		for _, fc := range ev.FieldChanges {
			fmt.Fprintf(&b, "  - %s (%s): %q -> %q\n", fc.FieldName, fc.Kind, fc.OldValue, fc.NewValue)
		}
	}
	b.WriteString(ev.ChangeSummary)

	return Message{
		Subject:   fmt.Sprintf("[CRITICAL] %s: %s %s", ev.Source, ev.ChangeType, ev.EntityName),
		Body:      b.String(),
		RiskLevel: domain.RiskCritical,
		Source:    ev.Source,
		EventIDs:  []string{ev.EventID},
	}
}

// renderBatch builds the single grouped HIGH message for one run.
func renderBatch(source domain.Source, events []domain.ChangeEvent) Message {
	ids := make([]string, 0, len(events))
	var b strings.Builder
	fmt.Fprintf(&b, "%d high-risk changes detected on %s:\n", len(events), source)
	for _, ev := range events {
		ids = append(ids, ev.EventID)
		fmt.Fprintf(&b, "  - %s %s (%s), detected %s\n",
			ev.ChangeType, ev.EntityName, ev.EntityUID,
			ev.DetectedAt.UTC().Format(time.RFC3339))
		for _, fc := range ev.FieldChanges {
			fmt.Fprintf(&b, "      %s (%s): %q -> %q\n", fc.FieldName, fc.Kind, fc.OldValue, fc.NewValue)
		}
	}

	return Message{
		Subject:   fmt.Sprintf("[HIGH] %s: %d changes", source, len(events)),
		Body:      b.String(),
		RiskLevel: domain.RiskHigh,
		Source:    source,
		EventIDs:  ids,
	}
}

// RenderDigest builds the daily digest message for one source from the
// queued MEDIUM and LOW events. Exported for the digest consumer.
func RenderDigest(source domain.Source, events []domain.ChangeEvent) Message {
	ids := make([]string, 0, len(events))
	byType := map[domain.ChangeType]int{}
	var b strings.Builder
	fmt.Fprintf(&b, "Daily digest for %s: %d lower-risk changes\n", source, len(events))
	for _, ev := range events {
		ids = append(ids, ev.EventID)
		byType[ev.ChangeType]++
	}
	fmt.Fprintf(&b, "Added: %d, Modified: %d, Removed: %d\n",
		byType[domain.ChangeAdded], byType[domain.ChangeModified], byType[domain.ChangeRemoved])
	for _, ev := range events {
		fmt.Fprintf(&b, "  - [%s] %s %s (%s)\n", ev.RiskLevel, ev.ChangeType, ev.EntityName, ev.EntityUID)
	}

	return Message{
		Subject:   fmt.Sprintf("[DIGEST] %s: %d changes", source, len(events)),
		Body:      b.String(),
		RiskLevel: domain.RiskMedium,
		Source:    source,
		EventIDs:  ids,
	}
}
