package parser

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/arc-self/sanctions-watch/internal/domain"
)

// OFACParser decodes the US Treasury OFAC SDN list (sdn.xml). Entries are
// streamed with a token decoder so the full document is never materialized as
// a node tree; unqualified element names match regardless of the XML
// namespace the publication carries, so namespace changes are absorbed.
type OFACParser struct {
	logger *zap.Logger
}

// NewOFACParser constructs the OFAC SDN parser.
func NewOFACParser(logger *zap.Logger) *OFACParser {
	return &OFACParser{logger: logger}
}

func (p *OFACParser) Source() domain.Source { return domain.SourceOFAC }

// ── wire structures ───────────────────────────────────────────────────────

type ofacAka struct {
	FirstName string `xml:"firstName"`
	LastName  string `xml:"lastName"`
	Title     string `xml:"title"`
}

type ofacAddress struct {
	Address1        string `xml:"address1"`
	Address2        string `xml:"address2"`
	Address3        string `xml:"address3"`
	City            string `xml:"city"`
	StateOrProvince string `xml:"stateOrProvince"`
	PostalCode      string `xml:"postalCode"`
	Country         string `xml:"country"`
}

type ofacDOBItem struct {
	DateOfBirth string `xml:"dateOfBirth"`
}

type ofacPOBItem struct {
	PlaceOfBirth string `xml:"placeOfBirth"`
}

type ofacNationality struct {
	Country string `xml:"country"`
}

type ofacSDNEntry struct {
	UID           string            `xml:"uid"`
	FirstName     string            `xml:"firstName"`
	LastName      string            `xml:"lastName"`
	Title         string            `xml:"title"`
	SdnType       string            `xml:"sdnType"`
	Remarks       string            `xml:"remarks"`
	Programs      []string          `xml:"programList>program"`
	Akas          []ofacAka         `xml:"akaList>aka"`
	Addresses     []ofacAddress     `xml:"addressList>address"`
	DOBItems      []ofacDOBItem     `xml:"dateOfBirthList>dateOfBirthItem"`
	POBItems      []ofacPOBItem     `xml:"placeOfBirthList>placeOfBirthItem"`
	Nationalities []ofacNationality `xml:"nationalityList>nationality"`
}

// Parse streams sdnEntry elements out of the document.
func (p *OFACParser) Parse(ctx context.Context, content []byte) (*Result, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	res := &Result{}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &domain.ParsingError{Source: domain.SourceOFAC, Err: err}
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "sdnEntry" {
			continue
		}

		var entry ofacSDNEntry
		if err := dec.DecodeElement(&entry, &start); err != nil {
			res.recordFailure(fmt.Sprintf("sdnEntry decode: %v", err))
			continue
		}
		entity, err := p.toEntity(entry)
		if err != nil {
			res.recordFailure(fmt.Sprintf("sdnEntry uid=%s: %v", entry.UID, err))
			continue
		}
		res.Entities = append(res.Entities, entity)
	}

	logResult(p.logger, domain.SourceOFAC, res)
	return res, nil
}

func (p *OFACParser) toEntity(entry ofacSDNEntry) (domain.SanctionedEntity, error) {
	entityType := ofacEntityType(entry.SdnType)
	name := ofacDisplayName(entityType, entry.FirstName, entry.LastName, entry.Title)

	in := domain.EntityInput{
		UID:        "OFAC-" + strings.TrimSpace(entry.UID),
		Source:     domain.SourceOFAC,
		EntityType: entityType,
		Name:       name,
		Programs:   entry.Programs,
		Remarks:    entry.Remarks,
	}

	for _, aka := range entry.Akas {
		alias := ofacDisplayName(entityType, aka.FirstName, aka.LastName, aka.Title)
		if alias != "" {
			in.Aliases = append(in.Aliases, alias)
		}
	}

	for _, a := range entry.Addresses {
		street := joinNonEmpty(", ", a.Address1, a.Address2, a.Address3)
		in.Addresses = append(in.Addresses, domain.Address{
			Street:        street,
			City:          a.City,
			StateProvince: a.StateOrProvince,
			PostalCode:    a.PostalCode,
			Country:       a.Country,
		})
	}

	for _, n := range entry.Nationalities {
		if n.Country != "" {
			in.Nationalities = append(in.Nationalities, n.Country)
		}
	}

	if entityType == domain.EntityTypePerson {
		pi := &domain.PersonalInfo{
			FirstName: strings.TrimSpace(entry.FirstName),
			LastName:  strings.TrimSpace(entry.LastName),
		}
		if len(entry.DOBItems) > 0 {
			pi.DateOfBirth = normalizeDOB(entry.DOBItems[0].DateOfBirth)
		}
		if len(entry.POBItems) > 0 {
			pi.PlaceOfBirth = strings.TrimSpace(entry.POBItems[0].PlaceOfBirth)
		}
		if len(in.Nationalities) > 0 {
			pi.Nationality = in.Nationalities[0]
		}
		in.PersonalInfo = pi
	}

	return domain.NewSanctionedEntity(in)
}

// ofacEntityType maps <sdnType> to the canonical entity type.
func ofacEntityType(sdnType string) domain.EntityType {
	switch strings.ToLower(strings.TrimSpace(sdnType)) {
	case "individual":
		return domain.EntityTypePerson
	case "entity":
		return domain.EntityTypeCompany
	case "vessel":
		return domain.EntityTypeVessel
	case "aircraft":
		return domain.EntityTypeAircraft
	default:
		return domain.EntityTypeOther
	}
}

// ofacDisplayName follows the SDN convention: PERSON entries carry first/last
// names, everything else stores its name in lastName; title is the fallback.
func ofacDisplayName(t domain.EntityType, first, last, title string) string {
	var name string
	if t == domain.EntityTypePerson {
		name = strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	} else {
		name = strings.TrimSpace(last)
	}
	if name == "" {
		name = strings.TrimSpace(title)
	}
	return name
}

// normalizeDOB reduces OFAC date spellings ("12 Apr 1975", "circa 1960",
// "1975") to the canonical YYYY-MM-DD or YYYY form where possible.
func normalizeDOB(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if t, err := parseDMY(raw); err == nil {
		return t
	}
	// Fall back to a bare year anywhere in the value.
	for _, f := range strings.Fields(raw) {
		if len(f) == 4 && allDigits(f) {
			return f
		}
	}
	return ""
}

func parseDMY(raw string) (string, error) {
	months := map[string]string{
		"jan": "01", "feb": "02", "mar": "03", "apr": "04", "may": "05", "jun": "06",
		"jul": "07", "aug": "08", "sep": "09", "oct": "10", "nov": "11", "dec": "12",
	}
	fields := strings.Fields(raw)
	if len(fields) != 3 {
		return "", fmt.Errorf("not a day-month-year date")
	}
	day, monRaw, year := fields[0], strings.ToLower(fields[1]), fields[2]
	mon, ok := months[monRaw[:min(3, len(monRaw))]]
	if !ok || !allDigits(day) || len(year) != 4 || !allDigits(year) {
		return "", fmt.Errorf("not a day-month-year date")
	}
	if len(day) == 1 {
		day = "0" + day
	}
	return year + "-" + mon + "-" + day, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, sep)
}
