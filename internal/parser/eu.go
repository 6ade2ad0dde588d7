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

// EUParser decodes the EU consolidated financial sanctions list. The feed is
// a flat sequence of sanctionEntity elements; the logical identifier lives on
// the element attribute, names and citizenships on child elements.
type EUParser struct {
	logger *zap.Logger
}

// NewEUParser constructs the EU consolidated-list parser.
func NewEUParser(logger *zap.Logger) *EUParser {
	return &EUParser{logger: logger}
}

func (p *EUParser) Source() domain.Source { return domain.SourceEU }

// ── wire structures ───────────────────────────────────────────────────────

type euNameAlias struct {
	WholeName string `xml:"wholeName,attr"`
	Strong    string `xml:"strong,attr"`
}

type euAddress struct {
	Street  string `xml:"street,attr"`
	City    string `xml:"city,attr"`
	ZipCode string `xml:"zipCode,attr"`
	Country string `xml:"countryDescription,attr"`
}

type euBirthdate struct {
	Birthdate string `xml:"birthdate,attr"`
	Year      string `xml:"year,attr"`
	City      string `xml:"city,attr"`
	Country   string `xml:"countryDescription,attr"`
}

type euCitizenship struct {
	Country string `xml:"countryDescription,attr"`
}

type euSubjectType struct {
	Code string `xml:"code,attr"`
}

type euRegulation struct {
	Programme string `xml:"programme,attr"`
}

type euSanctionEntity struct {
	LogicalID    string          `xml:"logicalId,attr"`
	Remark       string          `xml:"remark"`
	Regulation   euRegulation    `xml:"regulation"`
	SubjectType  euSubjectType   `xml:"subjectType"`
	NameAliases  []euNameAlias   `xml:"nameAlias"`
	Addresses    []euAddress     `xml:"address"`
	Birthdates   []euBirthdate   `xml:"birthdate"`
	Citizenships []euCitizenship `xml:"citizenship"`
}

// Parse streams sanctionEntity elements out of the document.
func (p *EUParser) Parse(ctx context.Context, content []byte) (*Result, error) {
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
			return nil, &domain.ParsingError{Source: domain.SourceEU, Err: err}
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "sanctionEntity" {
			continue
		}

		var ent euSanctionEntity
		if err := dec.DecodeElement(&ent, &start); err != nil {
			res.recordFailure(fmt.Sprintf("sanctionEntity decode: %v", err))
			continue
		}
		entity, err := p.toEntity(ent)
		if err != nil {
			res.recordFailure(fmt.Sprintf("sanctionEntity logicalId=%s: %v", ent.LogicalID, err))
			continue
		}
		res.Entities = append(res.Entities, entity)
	}

	logResult(p.logger, domain.SourceEU, res)
	return res, nil
}

func (p *EUParser) toEntity(ent euSanctionEntity) (domain.SanctionedEntity, error) {
	entityType := euEntityType(ent.SubjectType.Code)

	// The first nameAlias is the primary designation, the rest are aliases.
	var name string
	var aliases []string
	for _, na := range ent.NameAliases {
		whole := strings.TrimSpace(na.WholeName)
		if whole == "" {
			continue
		}
		if name == "" {
			name = whole
			continue
		}
		aliases = append(aliases, whole)
	}

	in := domain.EntityInput{
		UID:        "EU-" + strings.TrimSpace(ent.LogicalID),
		Source:     domain.SourceEU,
		EntityType: entityType,
		Name:       name,
		Aliases:    aliases,
		Remarks:    ent.Remark,
	}
	if prog := strings.TrimSpace(ent.Regulation.Programme); prog != "" {
		in.Programs = append(in.Programs, prog)
	}

	for _, a := range ent.Addresses {
		addr := domain.Address{
			Street:     a.Street,
			City:       a.City,
			PostalCode: a.ZipCode,
			Country:    a.Country,
		}
		if !addr.IsZero() {
			in.Addresses = append(in.Addresses, addr)
		}
	}

	for _, c := range ent.Citizenships {
		if strings.TrimSpace(c.Country) != "" {
			in.Nationalities = append(in.Nationalities, c.Country)
		}
	}

	if entityType == domain.EntityTypePerson {
		pi := &domain.PersonalInfo{}
		if len(ent.Birthdates) > 0 {
			bd := ent.Birthdates[0]
			if d := strings.TrimSpace(bd.Birthdate); dobLooksValid(d) {
				pi.DateOfBirth = d
			} else if y := strings.TrimSpace(bd.Year); len(y) == 4 && allDigits(y) {
				pi.DateOfBirth = y
			}
			pi.PlaceOfBirth = joinNonEmpty(", ", bd.City, bd.Country)
		}
		if len(in.Nationalities) > 0 {
			pi.Nationality = in.Nationalities[0]
		}
		in.PersonalInfo = pi
	}

	return domain.NewSanctionedEntity(in)
}

// euEntityType maps subjectType codes. The EU feed only distinguishes
// persons from enterprises; vessels and aircraft appear as enterprises.
func euEntityType(code string) domain.EntityType {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "person":
		return domain.EntityTypePerson
	case "enterprise":
		return domain.EntityTypeCompany
	default:
		return domain.EntityTypeOther
	}
}
