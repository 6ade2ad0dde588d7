package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() EntityInput {
	return EntityInput{
		UID:        "OFAC-12345",
		Source:     SourceOFAC,
		EntityType: EntityTypeCompany,
		Name:       "  Acme   Trading  Ltd ",
		Programs:   []string{"sdgt", "CYBER", "sdgt"},
		Aliases:    []string{"Acme Trading", "ACME TRADING LTD", "Acme Trading"},
	}
}

func TestNewSanctionedEntity_Normalizes(t *testing.T) {
	e, err := NewSanctionedEntity(validInput())
	require.NoError(t, err)

	assert.Equal(t, "Acme Trading Ltd", e.Name, "whitespace collapsed")
	assert.Equal(t, []string{"CYBER", "SDGT"}, e.Programs, "uppercased, deduped, sorted")
	assert.Equal(t, []string{"Acme Trading"}, e.Aliases, "alias equal to primary name dropped")
	assert.NotEmpty(t, e.ContentHash)
}

func TestNewSanctionedEntity_EmptyName(t *testing.T) {
	in := validInput()
	in.Name = "   "
	_, err := NewSanctionedEntity(in)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewSanctionedEntity_NameTooLong(t *testing.T) {
	in := validInput()
	in.Name = strings.Repeat("x", 501)
	_, err := NewSanctionedEntity(in)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewSanctionedEntity_PersonalInfoRequiresPerson(t *testing.T) {
	in := validInput()
	in.PersonalInfo = &PersonalInfo{FirstName: "John"}
	_, err := NewSanctionedEntity(in)
	assert.ErrorIs(t, err, ErrValidation)

	in.EntityType = EntityTypePerson
	e, err := NewSanctionedEntity(in)
	require.NoError(t, err)
	require.NotNil(t, e.PersonalInfo)
	assert.Equal(t, "John", e.PersonalInfo.FirstName)
}

func TestNewSanctionedEntity_DateOfBirthFormats(t *testing.T) {
	for _, dob := range []string{"1975-04-12", "1975"} {
		in := validInput()
		in.EntityType = EntityTypePerson
		in.PersonalInfo = &PersonalInfo{DateOfBirth: dob}
		_, err := NewSanctionedEntity(in)
		assert.NoError(t, err, dob)
	}

	in := validInput()
	in.EntityType = EntityTypePerson
	in.PersonalInfo = &PersonalInfo{DateOfBirth: "12/04/1975"}
	_, err := NewSanctionedEntity(in)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewSanctionedEntity_AddressInvariant(t *testing.T) {
	in := validInput()
	in.Addresses = []Address{{PostalCode: "10115", StateProvince: "Berlin"}}
	_, err := NewSanctionedEntity(in)
	assert.ErrorIs(t, err, ErrValidation, "address without street/city/country rejected")

	in.Addresses = []Address{{City: "Berlin", PostalCode: "10115"}}
	e, err := NewSanctionedEntity(in)
	require.NoError(t, err)
	assert.Len(t, e.Addresses, 1)
}

func TestNewSanctionedEntity_EmptyAddressesDropped(t *testing.T) {
	in := validInput()
	in.Addresses = []Address{{}, {City: "  "}}
	e, err := NewSanctionedEntity(in)
	require.NoError(t, err)
	assert.Empty(t, e.Addresses)
}

func TestContentHash_Deterministic(t *testing.T) {
	a, err := NewSanctionedEntity(validInput())
	require.NoError(t, err)

	// Same logical content, different raw ordering and casing of set fields.
	in := validInput()
	in.Programs = []string{"CYBER", "SDGT"}
	b, err := NewSanctionedEntity(in)
	require.NoError(t, err)

	assert.Equal(t, a.ContentHash, b.ContentHash)
}

func TestContentHash_SensitiveToChange(t *testing.T) {
	a, err := NewSanctionedEntity(validInput())
	require.NoError(t, err)

	in := validInput()
	in.Programs = append(in.Programs, "TERRORISM")
	b, err := NewSanctionedEntity(in)
	require.NoError(t, err)

	assert.NotEqual(t, a.ContentHash, b.ContentHash)
}

func TestParseSource_CanonicalizesLegacyForms(t *testing.T) {
	for raw, want := range map[string]Source{
		"OFAC":   SourceOFAC,
		"ofac":   SourceOFAC,
		"us_ofac": SourceOFAC,
		"un":     SourceUN,
		"EU":     SourceEU,
		"uk_hmt": SourceUKHMT,
	} {
		got, err := ParseSource(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseSource("interpol")
	assert.ErrorIs(t, err, ErrValidation)
}
