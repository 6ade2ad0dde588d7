// Package differ compares a source's prior entity set against the freshly
// parsed set and emits per-entity change records with field-level detail.
// The comparison is a single hash-map join over uids, linear in the size of
// both sets, and fully deterministic: no clock, no randomness.
package differ

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arc-self/sanctions-watch/internal/domain"
)

// EntityChange is one entity-level change plus its field diffs. MODIFIED
// changes carry both entity versions so downstream stages can snapshot names
// and hashes without re-querying.
type EntityChange struct {
	ChangeType   domain.ChangeType
	Entity       domain.SanctionedEntity  // current version (zero for REMOVED)
	OldEntity    *domain.SanctionedEntity // prior version (nil for ADDED)
	FieldChanges []domain.FieldChange
}

// UID returns the stable identifier of the changed entity.
func (c EntityChange) UID() string {
	if c.ChangeType == domain.ChangeRemoved {
		return c.OldEntity.UID
	}
	return c.Entity.UID
}

// Name returns the entity name as of detection time. Removals report the
// last known name.
func (c EntityChange) Name() string {
	if c.ChangeType == domain.ChangeRemoved {
		return c.OldEntity.Name
	}
	return c.Entity.Name
}

// Diff joins the two sets on uid and classifies every difference. Output is
// sorted by uid so equivalent inputs always produce identical output.
func Diff(old, new []domain.SanctionedEntity) []EntityChange {
	oldByUID := make(map[string]domain.SanctionedEntity, len(old))
	for _, e := range old {
		oldByUID[e.UID] = e
	}

	changes := make([]EntityChange, 0)
	seen := make(map[string]struct{}, len(new))

	for _, cur := range new {
		seen[cur.UID] = struct{}{}
		prev, existed := oldByUID[cur.UID]
		if !existed {
			changes = append(changes, EntityChange{
				ChangeType: domain.ChangeAdded,
				Entity:     cur,
			})
			continue
		}
		if prev.ContentHash == cur.ContentHash {
			continue
		}
		fields := diffFields(prev, cur)
		p := prev
		changes = append(changes, EntityChange{
			ChangeType:   domain.ChangeModified,
			Entity:       cur,
			OldEntity:    &p,
			FieldChanges: fields,
		})
	}

	for _, prev := range old {
		if _, ok := seen[prev.UID]; ok {
			continue
		}
		p := prev
		changes = append(changes, EntityChange{
			ChangeType: domain.ChangeRemoved,
			OldEntity:  &p,
		})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].UID() < changes[j].UID() })
	return changes
}

// trackedFields is the fixed set of entity fields compared for MODIFIED
// detection. Extraction returns the normalized comparable string per field.
var trackedFields = []struct {
	name    string
	extract func(domain.SanctionedEntity) string
}{
	{"name", func(e domain.SanctionedEntity) string { return strings.TrimSpace(e.Name) }},
	{"entity_type", func(e domain.SanctionedEntity) string { return string(e.EntityType) }},
	{"programs", func(e domain.SanctionedEntity) string { return setKey(e.Programs) }},
	{"aliases", func(e domain.SanctionedEntity) string { return setKey(e.Aliases) }},
	{"addresses", func(e domain.SanctionedEntity) string { return addressSetKey(e.Addresses) }},
	{"nationalities", func(e domain.SanctionedEntity) string { return setKey(e.Nationalities) }},
	{"remarks", func(e domain.SanctionedEntity) string { return strings.TrimSpace(e.Remarks) }},
	{"dates_of_birth", func(e domain.SanctionedEntity) string {
		if e.PersonalInfo == nil {
			return ""
		}
		return e.PersonalInfo.DateOfBirth
	}},
	{"places_of_birth", func(e domain.SanctionedEntity) string {
		if e.PersonalInfo == nil {
			return ""
		}
		return e.PersonalInfo.PlaceOfBirth
	}},
}

func diffFields(prev, cur domain.SanctionedEntity) []domain.FieldChange {
	var out []domain.FieldChange
	for _, tf := range trackedFields {
		oldVal, newVal := tf.extract(prev), tf.extract(cur)
		if oldVal == newVal {
			continue
		}
		out = append(out, domain.FieldChange{
			FieldName: tf.name,
			OldValue:  oldVal,
			NewValue:  newVal,
			Kind:      fieldKind(oldVal, newVal),
		})
	}
	if len(out) == 0 {
		// The hashes disagree but every tracked field compares equal. This
		// covers the residual hash inputs: address ordering and the untracked
		// personal_info attributes. Keep the uid in the modified set so the
		// audit trail stays complete relative to hash equality.
		out = append(out, domain.FieldChange{
			FieldName: "personal_info",
			OldValue:  personalInfoKey(prev),
			NewValue:  personalInfoKey(cur),
			Kind:      domain.FieldModified,
		})
	}
	return out
}

func personalInfoKey(e domain.SanctionedEntity) string {
	if e.PersonalInfo == nil {
		return ""
	}
	pi := e.PersonalInfo
	return joinNonEmptyKey(pi.FirstName, pi.LastName, pi.DateOfBirth, pi.PlaceOfBirth, pi.Nationality)
}

func joinNonEmptyKey(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, " | ")
}

func fieldKind(oldVal, newVal string) domain.FieldChangeKind {
	switch {
	case oldVal == "":
		return domain.FieldAdded
	case newVal == "":
		return domain.FieldRemoved
	default:
		return domain.FieldModified
	}
}

// setKey renders a string collection as an order- and duplicate-insensitive
// comparison key. Entity construction already sorts set fields, but the key
// re-normalizes so the comparison never depends on upstream discipline.
func setKey(values []string) string {
	if len(values) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(values))
	norm := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		norm = append(norm, v)
	}
	sort.Strings(norm)
	return fmt.Sprintf("[%s]", strings.Join(norm, ", "))
}

func addressSetKey(addrs []domain.Address) string {
	lines := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if s := a.String(); s != "" {
			lines = append(lines, s)
		}
	}
	return setKey(lines)
}
