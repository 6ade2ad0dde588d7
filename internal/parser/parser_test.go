package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/sanctions-watch/internal/domain"
)

func TestRegistry_CoversAllSources(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t))
	for _, src := range domain.AllSources() {
		p, err := reg.Get(src)
		require.NoError(t, err, src)
		assert.Equal(t, src, p.Source())
	}
	_, err := reg.Get(domain.Source("INTERPOL"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// ── OFAC ──────────────────────────────────────────────────────────────────

const ofacFixture = `<?xml version="1.0" encoding="utf-8"?>
<sdnList xmlns="https://www.treasury.gov/ofac/downloads/sdn.xml">
  <sdnEntry>
    <uid>10001</uid>
    <firstName>Ivan</firstName>
    <lastName>Petrov</lastName>
    <sdnType>Individual</sdnType>
    <remarks>Linked to procurement network.</remarks>
    <programList>
      <program>SDGT</program>
      <program>cyber</program>
    </programList>
    <akaList>
      <aka><firstName>Ivan</firstName><lastName>Petroff</lastName></aka>
      <aka><firstName>Ivan</firstName><lastName>Petrov</lastName></aka>
    </akaList>
    <addressList>
      <address>
        <address1>12 Lenina St</address1>
        <address2>Apt 4</address2>
        <city>Moscow</city>
        <country>Russia</country>
      </address>
    </addressList>
    <dateOfBirthList>
      <dateOfBirthItem><dateOfBirth>12 Apr 1975</dateOfBirth></dateOfBirthItem>
    </dateOfBirthList>
    <placeOfBirthList>
      <placeOfBirthItem><placeOfBirth>Kazan, Russia</placeOfBirth></placeOfBirthItem>
    </placeOfBirthList>
    <nationalityList>
      <nationality><country>Russia</country></nationality>
    </nationalityList>
  </sdnEntry>
  <sdnEntry>
    <uid>10002</uid>
    <lastName>ACME TRADING FZE</lastName>
    <sdnType>Entity</sdnType>
    <programList><program>IRAN</program></programList>
  </sdnEntry>
  <sdnEntry>
    <uid>10003</uid>
    <lastName>BLUE HORIZON</lastName>
    <sdnType>vessel</sdnType>
  </sdnEntry>
  <sdnEntry>
    <uid>10004</uid>
    <sdnType>Entity</sdnType>
  </sdnEntry>
</sdnList>`

func TestOFACParser(t *testing.T) {
	p := NewOFACParser(zaptest.NewLogger(t))
	res, err := p.Parse(context.Background(), []byte(ofacFixture))
	require.NoError(t, err)

	// Entry 10004 has no name anywhere and must fail without aborting.
	require.Len(t, res.Entities, 3)
	assert.Equal(t, 1, res.RecordsFailed)
	require.Len(t, res.FailureDetails, 1)
	assert.Contains(t, res.FailureDetails[0], "10004")

	person := res.Entities[0]
	assert.Equal(t, "OFAC-10001", person.UID)
	assert.Equal(t, domain.SourceOFAC, person.Source)
	assert.Equal(t, domain.EntityTypePerson, person.EntityType)
	assert.Equal(t, "Ivan Petrov", person.Name)
	assert.Equal(t, []string{"CYBER", "SDGT"}, person.Programs)
	// The aka equal to the primary name is dropped.
	assert.Equal(t, []string{"Ivan Petroff"}, person.Aliases)
	require.Len(t, person.Addresses, 1)
	assert.Equal(t, "12 Lenina St, Apt 4", person.Addresses[0].Street)
	assert.Equal(t, "Moscow", person.Addresses[0].City)
	require.NotNil(t, person.PersonalInfo)
	assert.Equal(t, "1975-04-12", person.PersonalInfo.DateOfBirth)
	assert.Equal(t, "Kazan, Russia", person.PersonalInfo.PlaceOfBirth)
	assert.Equal(t, []string{"Russia"}, person.Nationalities)
	assert.NotEmpty(t, person.ContentHash)

	company := res.Entities[1]
	assert.Equal(t, "OFAC-10002", company.UID)
	assert.Equal(t, domain.EntityTypeCompany, company.EntityType)
	assert.Equal(t, "ACME TRADING FZE", company.Name)
	assert.Nil(t, company.PersonalInfo)

	vessel := res.Entities[2]
	assert.Equal(t, domain.EntityTypeVessel, vessel.EntityType)
	assert.Equal(t, "BLUE HORIZON", vessel.Name)
}

func TestOFACParser_Deterministic(t *testing.T) {
	p := NewOFACParser(zaptest.NewLogger(t))
	a, err := p.Parse(context.Background(), []byte(ofacFixture))
	require.NoError(t, err)
	b, err := p.Parse(context.Background(), []byte(ofacFixture))
	require.NoError(t, err)
	require.Equal(t, len(a.Entities), len(b.Entities))
	for i := range a.Entities {
		assert.Equal(t, a.Entities[i].ContentHash, b.Entities[i].ContentHash)
	}
}

func TestOFACParser_MalformedDocument(t *testing.T) {
	p := NewOFACParser(zaptest.NewLogger(t))
	_, err := p.Parse(context.Background(), []byte(`<?xml version="1.0"?><sdnList><sdnEntry>`))

	var pe *domain.ParsingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.SourceOFAC, pe.Source)
}

func TestNormalizeDOB(t *testing.T) {
	cases := map[string]string{
		"12 Apr 1975":   "1975-04-12",
		"1 Jan 2000":    "2000-01-01",
		"circa 1960":    "1960",
		"1975":          "1975",
		"unknown":       "",
		"":              "",
		"12 April 1975": "1975-04-12",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeDOB(in), "input %q", in)
	}
}

// ── UN ────────────────────────────────────────────────────────────────────

const unFixture = `<?xml version="1.0" encoding="utf-8"?>
<CONSOLIDATED_LIST>
  <INDIVIDUALS>
    <INDIVIDUAL>
      <DATAID>6908555</DATAID>
      <FIRST_NAME>ABDUL</FIRST_NAME>
      <SECOND_NAME>AZIZ</SECOND_NAME>
      <THIRD_NAME>ABBASIN</THIRD_NAME>
      <UN_LIST_TYPE>Taliban</UN_LIST_TYPE>
      <COMMITTEE>1988 Committee</COMMITTEE>
      <COMMENTS1>Key commander.</COMMENTS1>
      <INDIVIDUAL_ALIAS><ALIAS_NAME>Abdul Aziz Mahsud</ALIAS_NAME></INDIVIDUAL_ALIAS>
      <INDIVIDUAL_ADDRESS><CITY>Kabul</CITY><COUNTRY>Afghanistan</COUNTRY></INDIVIDUAL_ADDRESS>
      <INDIVIDUAL_DATE_OF_BIRTH><TYPE_OF_DATE>EXACT</TYPE_OF_DATE><DATE>1969-05-03</DATE></INDIVIDUAL_DATE_OF_BIRTH>
      <INDIVIDUAL_PLACE_OF_BIRTH><CITY>Sheykhan</CITY><COUNTRY>Afghanistan</COUNTRY></INDIVIDUAL_PLACE_OF_BIRTH>
      <NATIONALITY><VALUE>Afghanistan</VALUE></NATIONALITY>
    </INDIVIDUAL>
    <INDIVIDUAL>
      <DATAID>6908556</DATAID>
      <UN_LIST_TYPE>Al-Qaida</UN_LIST_TYPE>
    </INDIVIDUAL>
  </INDIVIDUALS>
  <ENTITIES>
    <ENTITY>
      <DATAID>110000</DATAID>
      <FIRST_NAME>RAHAT LTD</FIRST_NAME>
      <UN_LIST_TYPE>Al-Qaida</UN_LIST_TYPE>
      <ENTITY_ALIAS><ALIAS_NAME>Rahat Trading Company</ALIAS_NAME></ENTITY_ALIAS>
      <ENTITY_ADDRESS><STREET>Room 33</STREET><CITY>Lahore</CITY><COUNTRY>Pakistan</COUNTRY></ENTITY_ADDRESS>
    </ENTITY>
  </ENTITIES>
</CONSOLIDATED_LIST>`

func TestUNParser(t *testing.T) {
	p := NewUNParser(zaptest.NewLogger(t))
	res, err := p.Parse(context.Background(), []byte(unFixture))
	require.NoError(t, err)

	// The nameless individual fails; one individual and one entity survive.
	require.Len(t, res.Entities, 2)
	assert.Equal(t, 1, res.RecordsFailed)

	person := res.Entities[0]
	assert.Equal(t, "UN-IND-6908555", person.UID)
	assert.Equal(t, domain.SourceUN, person.Source)
	assert.Equal(t, domain.EntityTypePerson, person.EntityType)
	assert.Equal(t, "ABDUL AZIZ ABBASIN", person.Name)
	assert.Equal(t, []string{"1988 COMMITTEE", "TALIBAN"}, person.Programs)
	assert.Equal(t, []string{"Abdul Aziz Mahsud"}, person.Aliases)
	require.NotNil(t, person.PersonalInfo)
	assert.Equal(t, "1969-05-03", person.PersonalInfo.DateOfBirth)
	assert.Equal(t, "Sheykhan, Afghanistan", person.PersonalInfo.PlaceOfBirth)
	assert.Equal(t, "Afghanistan", person.PersonalInfo.Nationality)

	org := res.Entities[1]
	assert.Equal(t, "UN-ENT-110000", org.UID)
	assert.Equal(t, domain.EntityTypeCompany, org.EntityType)
	assert.Equal(t, "RAHAT LTD", org.Name)
	require.Len(t, org.Addresses, 1)
	assert.Equal(t, "Lahore", org.Addresses[0].City)
}

func TestUNDOBValue(t *testing.T) {
	assert.Equal(t, "1969-05-03", unDOBValue(unDOB{Date: "1969-05-03"}))
	assert.Equal(t, "1969-05-03", unDOBValue(unDOB{Date: "1969-05-03T00:00:00Z"}))
	assert.Equal(t, "1969", unDOBValue(unDOB{Year: "1969"}))
	assert.Equal(t, "", unDOBValue(unDOB{Year: "approximately"}))
}

// ── EU ────────────────────────────────────────────────────────────────────

const euFixture = `<?xml version="1.0" encoding="utf-8"?>
<export xmlns="http://eu.europa.ec/fpi/fsd/export">
  <sanctionEntity logicalId="13">
    <remark>Listed under restrictive measures.</remark>
    <regulation programme="SYR" />
    <subjectType code="person" />
    <nameAlias wholeName="Bashar Al-Assad" strong="true" />
    <nameAlias wholeName="Bashar Assad" strong="false" />
    <address city="Damascus" countryDescription="Syria" />
    <birthdate birthdate="1965-09-11" city="Damascus" countryDescription="Syria" />
    <citizenship countryDescription="Syria" />
  </sanctionEntity>
  <sanctionEntity logicalId="77">
    <regulation programme="RUS" />
    <subjectType code="enterprise" />
    <nameAlias wholeName="Wagner Group" strong="true" />
  </sanctionEntity>
  <sanctionEntity logicalId="99">
    <subjectType code="person" />
  </sanctionEntity>
</export>`

func TestEUParser(t *testing.T) {
	p := NewEUParser(zaptest.NewLogger(t))
	res, err := p.Parse(context.Background(), []byte(euFixture))
	require.NoError(t, err)

	require.Len(t, res.Entities, 2)
	assert.Equal(t, 1, res.RecordsFailed)

	person := res.Entities[0]
	assert.Equal(t, "EU-13", person.UID)
	assert.Equal(t, domain.SourceEU, person.Source)
	assert.Equal(t, domain.EntityTypePerson, person.EntityType)
	assert.Equal(t, "Bashar Al-Assad", person.Name)
	assert.Equal(t, []string{"SYR"}, person.Programs)
	assert.Equal(t, []string{"Bashar Assad"}, person.Aliases)
	require.NotNil(t, person.PersonalInfo)
	assert.Equal(t, "1965-09-11", person.PersonalInfo.DateOfBirth)
	assert.Equal(t, "Damascus, Syria", person.PersonalInfo.PlaceOfBirth)

	org := res.Entities[1]
	assert.Equal(t, "EU-77", org.UID)
	assert.Equal(t, domain.EntityTypeCompany, org.EntityType)
	assert.Equal(t, "Wagner Group", org.Name)
	assert.Nil(t, org.PersonalInfo)
}

// ── UK HMT ────────────────────────────────────────────────────────────────

const ukFixture = `<?xml version="1.0" encoding="utf-8"?>
<Designations>
  <Designation>
    <UniqueID>AFG0001</UniqueID>
    <RegimeName>Afghanistan</RegimeName>
    <IndividualEntityShip>Individual</IndividualEntityShip>
    <OtherInformation>UN Ref TAi.001</OtherInformation>
    <Names>
      <Name><Name6>ABDUL AHAD AZHAND</Name6><NameType>Primary Name</NameType></Name>
      <Name><Name6>Ahad Agha</Name6><NameType>Alias</NameType></Name>
    </Names>
    <Addresses>
      <Address><AddressLine1>Kandahar</AddressLine1><AddressCountry>Afghanistan</AddressCountry></Address>
    </Addresses>
    <IndividualDetails>
      <DOBs><DOB>00/00/1966</DOB></DOBs>
      <TownOfBirth>Spin Boldak</TownOfBirth>
      <CountryOfBirth>Afghanistan</CountryOfBirth>
      <Nationalities><Nationality>Afghanistan</Nationality></Nationalities>
    </IndividualDetails>
  </Designation>
  <Designation>
    <UniqueID>RUS9001</UniqueID>
    <RegimeName>Russia</RegimeName>
    <IndividualEntityShip>Ship</IndividualEntityShip>
    <Names>
      <Name><Name6>SEVERNY VETER</Name6><NameType>Primary Name</NameType></Name>
    </Names>
  </Designation>
</Designations>`

func TestUKHMTParser(t *testing.T) {
	p := NewUKHMTParser(zaptest.NewLogger(t))
	res, err := p.Parse(context.Background(), []byte(ukFixture))
	require.NoError(t, err)

	require.Len(t, res.Entities, 2)
	assert.Zero(t, res.RecordsFailed)

	person := res.Entities[0]
	assert.Equal(t, "UK-AFG0001", person.UID)
	assert.Equal(t, domain.SourceUKHMT, person.Source)
	assert.Equal(t, domain.EntityTypePerson, person.EntityType)
	assert.Equal(t, "ABDUL AHAD AZHAND", person.Name)
	assert.Equal(t, []string{"AFGHANISTAN"}, person.Programs)
	assert.Equal(t, []string{"Ahad Agha"}, person.Aliases)
	require.NotNil(t, person.PersonalInfo)
	assert.Equal(t, "1966", person.PersonalInfo.DateOfBirth, "partial date keeps the year")
	assert.Equal(t, "Spin Boldak, Afghanistan", person.PersonalInfo.PlaceOfBirth)

	ship := res.Entities[1]
	assert.Equal(t, "UK-RUS9001", ship.UID)
	assert.Equal(t, domain.EntityTypeVessel, ship.EntityType)
}

func TestUKDOBValue(t *testing.T) {
	cases := map[string]string{
		"12/04/1975": "1975-04-12",
		"00/00/1966": "1966",
		"1975-04-12": "1975-04-12",
		"garbage":    "",
		"":           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ukDOBValue(in), "input %q", in)
	}
}
