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

// UNParser decodes the UN Security Council consolidated list. Individuals and
// entities live in separate sections with similar but not identical shapes,
// so the two are decoded by distinct wire structs and funneled through the
// same canonicalization.
type UNParser struct {
	logger *zap.Logger
}

// NewUNParser constructs the UN consolidated-list parser.
func NewUNParser(logger *zap.Logger) *UNParser {
	return &UNParser{logger: logger}
}

func (p *UNParser) Source() domain.Source { return domain.SourceUN }

// ── wire structures ───────────────────────────────────────────────────────

type unAddress struct {
	Street        string `xml:"STREET"`
	City          string `xml:"CITY"`
	StateProvince string `xml:"STATE_PROVINCE"`
	ZipCode       string `xml:"ZIP_CODE"`
	Country       string `xml:"COUNTRY"`
}

type unAlias struct {
	AliasName string `xml:"ALIAS_NAME"`
}

type unDOB struct {
	TypeOfDate string `xml:"TYPE_OF_DATE"`
	Year       string `xml:"YEAR"`
	Date       string `xml:"DATE"`
}

type unPOB struct {
	City    string `xml:"CITY"`
	Country string `xml:"COUNTRY"`
}

type unNationality struct {
	Values []string `xml:"VALUE"`
}

type unIndividual struct {
	DataID      string          `xml:"DATAID"`
	FirstName   string          `xml:"FIRST_NAME"`
	SecondName  string          `xml:"SECOND_NAME"`
	ThirdName   string          `xml:"THIRD_NAME"`
	FourthName  string          `xml:"FOURTH_NAME"`
	ListType    string          `xml:"UN_LIST_TYPE"`
	Committee   string          `xml:"COMMITTEE"`
	Comments    string          `xml:"COMMENTS1"`
	Aliases     []unAlias       `xml:"INDIVIDUAL_ALIAS"`
	Addresses   []unAddress     `xml:"INDIVIDUAL_ADDRESS"`
	DOBs        []unDOB         `xml:"INDIVIDUAL_DATE_OF_BIRTH"`
	POBs        []unPOB         `xml:"INDIVIDUAL_PLACE_OF_BIRTH"`
	Nationality []unNationality `xml:"NATIONALITY"`
}

type unEntity struct {
	DataID    string      `xml:"DATAID"`
	FirstName string      `xml:"FIRST_NAME"` // the UN puts org names here
	ListType  string      `xml:"UN_LIST_TYPE"`
	Committee string      `xml:"COMMITTEE"`
	Comments  string      `xml:"COMMENTS1"`
	Aliases   []unAlias   `xml:"ENTITY_ALIAS"`
	Addresses []unAddress `xml:"ENTITY_ADDRESS"`
}

// Parse streams INDIVIDUAL and ENTITY elements out of the document.
func (p *UNParser) Parse(ctx context.Context, content []byte) (*Result, error) {
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
			return nil, &domain.ParsingError{Source: domain.SourceUN, Err: err}
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "INDIVIDUAL":
			var ind unIndividual
			if err := dec.DecodeElement(&ind, &start); err != nil {
				res.recordFailure(fmt.Sprintf("INDIVIDUAL decode: %v", err))
				continue
			}
			entity, err := p.individualToEntity(ind)
			if err != nil {
				res.recordFailure(fmt.Sprintf("INDIVIDUAL dataid=%s: %v", ind.DataID, err))
				continue
			}
			res.Entities = append(res.Entities, entity)
		case "ENTITY":
			var ent unEntity
			if err := dec.DecodeElement(&ent, &start); err != nil {
				res.recordFailure(fmt.Sprintf("ENTITY decode: %v", err))
				continue
			}
			entity, err := p.entityToEntity(ent)
			if err != nil {
				res.recordFailure(fmt.Sprintf("ENTITY dataid=%s: %v", ent.DataID, err))
				continue
			}
			res.Entities = append(res.Entities, entity)
		}
	}

	logResult(p.logger, domain.SourceUN, res)
	return res, nil
}

func (p *UNParser) individualToEntity(ind unIndividual) (domain.SanctionedEntity, error) {
	name := joinNonEmpty(" ", ind.FirstName, ind.SecondName, ind.ThirdName, ind.FourthName)

	in := domain.EntityInput{
		UID:        "UN-IND-" + strings.TrimSpace(ind.DataID),
		Source:     domain.SourceUN,
		EntityType: domain.EntityTypePerson,
		Name:       name,
		Programs:   unPrograms(ind.ListType, ind.Committee),
		Remarks:    ind.Comments,
	}

	for _, a := range ind.Aliases {
		if strings.TrimSpace(a.AliasName) != "" {
			in.Aliases = append(in.Aliases, a.AliasName)
		}
	}
	in.Addresses = unAddresses(ind.Addresses)
	for _, n := range ind.Nationality {
		for _, v := range n.Values {
			if strings.TrimSpace(v) != "" {
				in.Nationalities = append(in.Nationalities, v)
			}
		}
	}

	pi := &domain.PersonalInfo{
		FirstName: strings.TrimSpace(ind.FirstName),
		LastName:  joinNonEmpty(" ", ind.SecondName, ind.ThirdName, ind.FourthName),
	}
	if len(ind.DOBs) > 0 {
		pi.DateOfBirth = unDOBValue(ind.DOBs[0])
	}
	if len(ind.POBs) > 0 {
		pi.PlaceOfBirth = ind.POBs[0].String()
	}
	if len(in.Nationalities) > 0 {
		pi.Nationality = in.Nationalities[0]
	}
	in.PersonalInfo = pi

	return domain.NewSanctionedEntity(in)
}

func (p *UNParser) entityToEntity(ent unEntity) (domain.SanctionedEntity, error) {
	in := domain.EntityInput{
		UID:        "UN-ENT-" + strings.TrimSpace(ent.DataID),
		Source:     domain.SourceUN,
		EntityType: domain.EntityTypeCompany,
		Name:       ent.FirstName,
		Programs:   unPrograms(ent.ListType, ent.Committee),
		Remarks:    ent.Comments,
	}
	for _, a := range ent.Aliases {
		if strings.TrimSpace(a.AliasName) != "" {
			in.Aliases = append(in.Aliases, a.AliasName)
		}
	}
	in.Addresses = unAddresses(ent.Addresses)
	return domain.NewSanctionedEntity(in)
}

// unPrograms derives the program set from the list type and committee.
func unPrograms(listType, committee string) []string {
	var out []string
	if t := strings.TrimSpace(listType); t != "" {
		out = append(out, t)
	}
	if c := strings.TrimSpace(committee); c != "" {
		out = append(out, c)
	}
	return out
}

func unAddresses(in []unAddress) []domain.Address {
	out := make([]domain.Address, 0, len(in))
	for _, a := range in {
		addr := domain.Address{
			Street:        a.Street,
			City:          a.City,
			StateProvince: a.StateProvince,
			PostalCode:    a.ZipCode,
			Country:       a.Country,
		}
		if !addr.IsZero() {
			out = append(out, addr)
		}
	}
	return out
}

// unDOBValue prefers the exact date; "EXACT" entries carry DATE, approximate
// ones only YEAR.
func unDOBValue(d unDOB) string {
	if date := strings.TrimSpace(d.Date); date != "" {
		// Dates occasionally carry a timezone suffix (1975-04-12Z).
		if len(date) >= 10 {
			date = date[:10]
		}
		if dobLooksValid(date) {
			return date
		}
	}
	if y := strings.TrimSpace(d.Year); len(y) == 4 && allDigits(y) {
		return y
	}
	return ""
}

func dobLooksValid(s string) bool {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return false
	}
	return allDigits(s[:4]) && allDigits(s[5:7]) && allDigits(s[8:])
}

func (p unPOB) String() string {
	return joinNonEmpty(", ", p.City, p.Country)
}
