// Package risk assigns a risk level to each detected change. Classification
// is a pure function of the change record, so it carries no state, no I/O and
// no clock.
package risk

import (
	"github.com/arc-self/sanctions-watch/internal/domain"
	"github.com/arc-self/sanctions-watch/internal/differ"
)

// highRiskPrograms escalate any newly listed entity to CRITICAL regardless
// of entity type.
var highRiskPrograms = map[string]struct{}{
	"SDGT":          {},
	"TERRORISM":     {},
	"PROLIFERATION": {},
	"CYBER":         {},
}

// criticalFields and highFields drive MODIFIED classification; everything
// else tracked falls through to the MEDIUM and LOW rules.
var (
	criticalFields = map[string]struct{}{
		"name": {}, "programs": {}, "entity_type": {},
	}
	highFields = map[string]struct{}{
		"addresses": {}, "aliases": {}, "nationalities": {},
	}
	mediumFields = map[string]struct{}{
		"dates_of_birth": {}, "places_of_birth": {}, "remarks": {},
	}
)

// Classify assigns the risk level for one change. When several rules apply
// the highest severity wins; risk never downgrades.
func Classify(change differ.EntityChange) domain.RiskLevel {
	switch change.ChangeType {
	case domain.ChangeRemoved:
		// Delistings always require compliance review.
		return domain.RiskCritical
	case domain.ChangeAdded:
		return classifyAdded(change.Entity)
	default:
		return classifyModified(change.FieldChanges)
	}
}

func classifyAdded(e domain.SanctionedEntity) domain.RiskLevel {
	level := domain.RiskMedium
	for _, p := range e.Programs {
		if _, ok := highRiskPrograms[p]; ok {
			return domain.RiskCritical
		}
	}
	if e.EntityType == domain.EntityTypePerson {
		level = level.Max(domain.RiskHigh)
	}
	return level
}

func classifyModified(fields []domain.FieldChange) domain.RiskLevel {
	level := domain.RiskLow
	for _, fc := range fields {
		if _, ok := criticalFields[fc.FieldName]; ok {
			return domain.RiskCritical
		}
		if _, ok := highFields[fc.FieldName]; ok {
			level = level.Max(domain.RiskHigh)
		}
		if _, ok := mediumFields[fc.FieldName]; ok {
			level = level.Max(domain.RiskMedium)
		}
	}
	if len(fields) >= 3 {
		level = level.Max(domain.RiskMedium)
	}
	return level
}
