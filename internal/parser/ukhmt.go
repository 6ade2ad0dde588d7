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

// UKHMTParser decodes the UK OFSI consolidated list published by HM Treasury.
// Each Designation carries a UniqueID, a RegimeName acting as the program,
// and a Names block where exactly one name is flagged Primary.
type UKHMTParser struct {
	logger *zap.Logger
}

// NewUKHMTParser constructs the UK HMT consolidated-list parser.
func NewUKHMTParser(logger *zap.Logger) *UKHMTParser {
	return &UKHMTParser{logger: logger}
}

func (p *UKHMTParser) Source() domain.Source { return domain.SourceUKHMT }

// ── wire structures ───────────────────────────────────────────────────────

type ukName struct {
	Name6    string `xml:"Name6"`
	NameType string `xml:"NameType"` // "Primary Name" or "Alias"
}

type ukAddress struct {
	AddressLine1 string `xml:"AddressLine1"`
	AddressLine2 string `xml:"AddressLine2"`
	AddressLine3 string `xml:"AddressLine3"`
	AddressLine4 string `xml:"AddressLine4"`
	AddressLine5 string `xml:"AddressLine5"`
	PostCode     string `xml:"PostCode"`
	Country      string `xml:"AddressCountry"`
}

type ukIndividualDetails struct {
	DOBs           []string `xml:"DOBs>DOB"`
	TownOfBirth    string   `xml:"TownOfBirth"`
	CountryOfBirth string   `xml:"CountryOfBirth"`
	Nationalities  []string `xml:"Nationalities>Nationality"`
}

type ukDesignation struct {
	UniqueID             string              `xml:"UniqueID"`
	RegimeName           string              `xml:"RegimeName"`
	IndividualEntityShip string              `xml:"IndividualEntityShip"`
	OtherInformation     string              `xml:"OtherInformation"`
	Names                []ukName            `xml:"Names>Name"`
	Addresses            []ukAddress         `xml:"Addresses>Address"`
	Individual           ukIndividualDetails `xml:"IndividualDetails"`
}

// Parse streams Designation elements out of the document.
func (p *UKHMTParser) Parse(ctx context.Context, content []byte) (*Result, error) {
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
			return nil, &domain.ParsingError{Source: domain.SourceUKHMT, Err: err}
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Designation" {
			continue
		}

		var des ukDesignation
		if err := dec.DecodeElement(&des, &start); err != nil {
			res.recordFailure(fmt.Sprintf("Designation decode: %v", err))
			continue
		}
		entity, err := p.toEntity(des)
		if err != nil {
			res.recordFailure(fmt.Sprintf("Designation id=%s: %v", des.UniqueID, err))
			continue
		}
		res.Entities = append(res.Entities, entity)
	}

	logResult(p.logger, domain.SourceUKHMT, res)
	return res, nil
}

func (p *UKHMTParser) toEntity(des ukDesignation) (domain.SanctionedEntity, error) {
	entityType := ukEntityType(des.IndividualEntityShip)

	var name string
	var aliases []string
	for _, n := range des.Names {
		v := strings.TrimSpace(n.Name6)
		if v == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(n.NameType), "Primary Name") && name == "" {
			name = v
			continue
		}
		aliases = append(aliases, v)
	}
	// Lists occasionally lack the Primary flag; first name wins.
	if name == "" && len(aliases) > 0 {
		name, aliases = aliases[0], aliases[1:]
	}

	in := domain.EntityInput{
		UID:        "UK-" + strings.TrimSpace(des.UniqueID),
		Source:     domain.SourceUKHMT,
		EntityType: entityType,
		Name:       name,
		Aliases:    aliases,
		Remarks:    des.OtherInformation,
	}
	if regime := strings.TrimSpace(des.RegimeName); regime != "" {
		in.Programs = append(in.Programs, regime)
	}

	for _, a := range des.Addresses {
		addr := domain.Address{
			Street:     joinNonEmpty(", ", a.AddressLine1, a.AddressLine2, a.AddressLine3, a.AddressLine4, a.AddressLine5),
			PostalCode: a.PostCode,
			Country:    a.Country,
		}
		if !addr.IsZero() {
			in.Addresses = append(in.Addresses, addr)
		}
	}

	for _, n := range des.Individual.Nationalities {
		if strings.TrimSpace(n) != "" {
			in.Nationalities = append(in.Nationalities, n)
		}
	}

	if entityType == domain.EntityTypePerson {
		pi := &domain.PersonalInfo{
			PlaceOfBirth: joinNonEmpty(", ", des.Individual.TownOfBirth, des.Individual.CountryOfBirth),
		}
		for _, d := range des.Individual.DOBs {
			if v := ukDOBValue(d); v != "" {
				pi.DateOfBirth = v
				break
			}
		}
		if len(in.Nationalities) > 0 {
			pi.Nationality = in.Nationalities[0]
		}
		in.PersonalInfo = pi
	}

	return domain.NewSanctionedEntity(in)
}

// ukEntityType maps the IndividualEntityShip discriminator.
func ukEntityType(v string) domain.EntityType {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "individual":
		return domain.EntityTypePerson
	case "entity":
		return domain.EntityTypeCompany
	case "ship":
		return domain.EntityTypeVessel
	default:
		return domain.EntityTypeOther
	}
}

// ukDOBValue converts the OFSI DD/MM/YYYY convention to YYYY-MM-DD; partial
// dates spelled 00/00/YYYY reduce to the bare year.
func ukDOBValue(raw string) string {
	raw = strings.TrimSpace(raw)
	if dobLooksValid(raw) {
		return raw
	}
	parts := strings.Split(raw, "/")
	if len(parts) != 3 {
		return ""
	}
	day, mon, year := parts[0], parts[1], parts[2]
	if len(year) != 4 || !allDigits(year) {
		return ""
	}
	if day == "00" || mon == "00" || !allDigits(day) || !allDigits(mon) {
		return year
	}
	if len(day) == 1 {
		day = "0" + day
	}
	if len(mon) == 1 {
		mon = "0" + mon
	}
	return year + "-" + mon + "-" + day
}
