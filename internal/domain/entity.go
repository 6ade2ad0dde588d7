package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const maxNameLength = 500

// dobPattern accepts a full ISO date or a bare year.
var dobPattern = regexp.MustCompile(`^\d{4}(-\d{2}-\d{2})?$`)

// Address is a structured location attached to a sanctioned entity.
// At least one of Street, City or Country must be non-empty.
type Address struct {
	Street        string `json:"street,omitempty"`
	City          string `json:"city,omitempty"`
	StateProvince string `json:"state_province,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Country       string `json:"country,omitempty"`
}

// IsZero reports whether every field is empty after trimming.
func (a Address) IsZero() bool {
	return strings.TrimSpace(a.Street) == "" &&
		strings.TrimSpace(a.City) == "" &&
		strings.TrimSpace(a.StateProvince) == "" &&
		strings.TrimSpace(a.PostalCode) == "" &&
		strings.TrimSpace(a.Country) == ""
}

func (a Address) validate() error {
	if strings.TrimSpace(a.Street) == "" &&
		strings.TrimSpace(a.City) == "" &&
		strings.TrimSpace(a.Country) == "" {
		return fmt.Errorf("%w: address needs at least one of street, city or country", ErrValidation)
	}
	return nil
}

// String renders the address as a single comparable line.
func (a Address) String() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Street, a.City, a.StateProvince, a.PostalCode, a.Country} {
		if t := strings.TrimSpace(p); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, ", ")
}

// PersonalInfo carries person-only attributes. Present implies the entity
// type is PERSON.
type PersonalInfo struct {
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	DateOfBirth  string `json:"date_of_birth,omitempty"` // YYYY-MM-DD or YYYY
	PlaceOfBirth string `json:"place_of_birth,omitempty"`
	Nationality  string `json:"nationality,omitempty"`
}

func (p PersonalInfo) validate() error {
	if p.DateOfBirth != "" && !dobPattern.MatchString(p.DateOfBirth) {
		return fmt.Errorf("%w: date_of_birth %q must match YYYY-MM-DD or YYYY", ErrValidation, p.DateOfBirth)
	}
	return nil
}

func (p PersonalInfo) canonical() string {
	return strings.Join([]string{p.FirstName, p.LastName, p.DateOfBirth, p.PlaceOfBirth, p.Nationality}, "|")
}

// SanctionedEntity is the canonical, source-independent representation of a
// sanctioned individual or organization. Construct via NewSanctionedEntity so
// every instance is normalized and carries a content hash.
type SanctionedEntity struct {
	UID           string        `json:"uid"`
	Source        Source        `json:"source"`
	EntityType    EntityType    `json:"entity_type"`
	Name          string        `json:"name"`
	Programs      []string      `json:"programs,omitempty"`      // set: uppercased, sorted
	Aliases       []string      `json:"aliases,omitempty"`       // set: sorted
	Addresses     []Address     `json:"addresses,omitempty"`     // sequence: encounter order
	PersonalInfo  *PersonalInfo `json:"personal_info,omitempty"` // PERSON only
	Nationalities []string      `json:"nationalities,omitempty"` // set: sorted
	Remarks       string        `json:"remarks,omitempty"`
	ContentHash   string        `json:"content_hash"`
}

// EntityInput is the raw material a parser extracts before normalization.
type EntityInput struct {
	UID           string
	Source        Source
	EntityType    EntityType
	Name          string
	Programs      []string
	Aliases       []string
	Addresses     []Address
	PersonalInfo  *PersonalInfo
	Nationalities []string
	Remarks       string
}

// NewSanctionedEntity normalizes and validates parser output into a canonical
// entity: strings trimmed, programs uppercased, set fields deduplicated and
// sorted, empty addresses dropped, and the content hash computed.
func NewSanctionedEntity(in EntityInput) (SanctionedEntity, error) {
	e := SanctionedEntity{
		UID:        strings.TrimSpace(in.UID),
		Source:     in.Source,
		EntityType: in.EntityType,
		Name:       collapseSpaces(in.Name),
		Remarks:    strings.TrimSpace(in.Remarks),
	}

	if e.UID == "" {
		return SanctionedEntity{}, fmt.Errorf("%w: uid is required", ErrValidation)
	}
	if e.Name == "" {
		return SanctionedEntity{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(e.Name) > maxNameLength {
		return SanctionedEntity{}, fmt.Errorf("%w: name exceeds %d chars", ErrValidation, maxNameLength)
	}
	if e.EntityType == "" {
		e.EntityType = EntityTypeOther
	}

	e.Programs = normalizeSet(in.Programs, strings.ToUpper)
	e.Nationalities = normalizeSet(in.Nationalities, nil)

	// Aliases equal to the primary name carry no information.
	aliases := normalizeSet(in.Aliases, nil)
	e.Aliases = aliases[:0:len(aliases)]
	for _, a := range aliases {
		if !strings.EqualFold(a, e.Name) {
			e.Aliases = append(e.Aliases, a)
		}
	}
	if len(e.Aliases) == 0 {
		e.Aliases = nil
	}

	for _, addr := range in.Addresses {
		if addr.IsZero() {
			continue
		}
		if err := addr.validate(); err != nil {
			return SanctionedEntity{}, err
		}
		e.Addresses = append(e.Addresses, addr)
	}

	if in.PersonalInfo != nil {
		if e.EntityType != EntityTypePerson {
			return SanctionedEntity{}, fmt.Errorf("%w: personal_info requires entity_type PERSON, got %s", ErrValidation, e.EntityType)
		}
		if err := in.PersonalInfo.validate(); err != nil {
			return SanctionedEntity{}, err
		}
		pi := *in.PersonalInfo
		e.PersonalInfo = &pi
	}

	e.ContentHash = e.computeContentHash()
	return e, nil
}

// computeContentHash fingerprints the canonical fields. Two entities with the
// same hash are treated as equal by the skip path and the differ.
func (e SanctionedEntity) computeContentHash() string {
	var b strings.Builder
	b.WriteString(e.UID)
	b.WriteByte('\n')
	b.WriteString(string(e.Source))
	b.WriteByte('\n')
	b.WriteString(string(e.EntityType))
	b.WriteByte('\n')
	b.WriteString(e.Name)
	b.WriteByte('\n')
	b.WriteString(strings.Join(e.Programs, ","))
	b.WriteByte('\n')
	b.WriteString(strings.Join(e.Aliases, ","))
	b.WriteByte('\n')
	for _, a := range e.Addresses {
		b.WriteString(a.String())
		b.WriteByte(';')
	}
	b.WriteByte('\n')
	if e.PersonalInfo != nil {
		b.WriteString(e.PersonalInfo.canonical())
	}
	b.WriteByte('\n')
	b.WriteString(strings.Join(e.Nationalities, ","))
	b.WriteByte('\n')
	b.WriteString(e.Remarks)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// normalizeSet trims, optionally transforms, deduplicates and sorts.
func normalizeSet(in []string, transform func(string) string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = collapseSpaces(s)
		if s == "" {
			continue
		}
		if transform != nil {
			s = transform(s)
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// collapseSpaces trims and squeezes internal whitespace runs to one space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
