// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openownership/bodspipelines/pkg/bods"
	"github.com/openownership/bodspipelines/pkg/gleif"
)

func testLEIRecord() *gleif.LEIRecord {
	return &gleif.LEIRecord{
		LEI: "213800BJPX8V9HVY1Y11",
		Entity: gleif.Entity{
			LegalName:         "EXAMPLE HOLDINGS LTD",
			LegalJurisdiction: "GB",
			LegalAddress: gleif.EntityAddress{
				FirstAddressLine: "1 High Street", City: "London", Country: "GB", PostalCode: "EC1A 1AA",
			},
			HeadquartersAddress: gleif.EntityAddress{
				FirstAddressLine: "2 Low Street", City: "Leeds", Country: "GB",
			},
			RegistrationAuthority: &gleif.RegistrationAuthority{
				RegistrationAuthorityID:       "RA000585",
				RegistrationAuthorityEntityID: "01234567",
			},
			EntityCreationDate: "2001-02-03",
		},
		Registration: gleif.Registration{
			LastUpdateDate:     "2023-04-25T13:18:00Z",
			RegistrationStatus: "ISSUED",
			ValidationSources:  "FULLY_CORROBORATED",
		},
	}
}

func TestEntity(t *testing.T) {
	statement := Entity(testLEIRecord())

	assert.Equal(t, "e2d096a9-23d5-ab26-0943-44c62c6a6a98", statement.StatementID)
	assert.Equal(t, bods.EntityStatement, statement.StatementType)
	assert.Equal(t, "2023-04-25", statement.StatementDate)
	assert.Equal(t, bods.RegisteredEntity, statement.EntityType)
	assert.Equal(t, "EXAMPLE HOLDINGS LTD", statement.Name)
	assert.Equal(t, "2001-02-03", statement.FoundingDate)

	require.NotNil(t, statement.IncorporatedInJurisdiction)
	assert.Equal(t, "GB", statement.IncorporatedInJurisdiction.Code)
	assert.Equal(t, "United Kingdom", statement.IncorporatedInJurisdiction.Name)

	require.Len(t, statement.Identifiers, 2)
	assert.Equal(t, bods.Identifier{
		ID: "213800BJPX8V9HVY1Y11", Scheme: bods.SchemeLEI, SchemeName: bods.SchemeLEIName,
	}, statement.Identifiers[0])
	assert.Equal(t, bods.Identifier{ID: "01234567", SchemeName: "RA000585"}, statement.Identifiers[1])

	require.Len(t, statement.Addresses, 2)
	assert.Equal(t, bods.Address{
		Type: "registered", Address: "1 High Street, London", PostCode: "EC1A 1AA", Country: "GB",
	}, statement.Addresses[0])
	assert.Equal(t, bods.Address{
		Type: "business", Address: "2 Low Street, Leeds", Country: "GB",
	}, statement.Addresses[1])

	require.NotNil(t, statement.Source)
	assert.Equal(t, []string{"officialRegister", "verified"}, statement.Source.Type)
	assert.Equal(t, "GLEIF", statement.Source.Description)

	require.Len(t, statement.Annotations, 1)
	assert.Contains(t, statement.Annotations[0].Description, "LEI: 213800BJPX8V9HVY1Y11")
}

func TestEntityUncorroborated(t *testing.T) {
	rec := testLEIRecord()
	rec.Registration.ValidationSources = "PARTIALLY_CORROBORATED"
	statement := Entity(rec)
	assert.Equal(t, []string{"officialRegister"}, statement.Source.Type)
}

func TestOwnership(t *testing.T) {
	rec := &gleif.RelationshipRecord{
		Relationship: gleif.Relationship{
			StartNode:        gleif.Node{NodeID: "010G7UHBHEI87EKP0Q97"},
			EndNode:          gleif.Node{NodeID: "549300GW9ZOFEMK68A28"},
			RelationshipType: gleif.RelUltimatelyConsolidated,
			RelationshipPeriods: []gleif.RelationshipPeriod{
				{StartDate: "2019-01-01T00:00:00Z", PeriodType: "ACCOUNTING_PERIOD"},
				{StartDate: "2018-06-01T00:00:00Z", PeriodType: gleif.PeriodTypeRelationship},
			},
		},
		Registration: gleif.Registration{
			LastUpdateDate:     "2023-05-16T06:34:45Z",
			RegistrationStatus: gleif.StatusPublished,
		},
	}

	mapping := Mapping{"010G7UHBHEI87EKP0Q97": "start-entity-id"}
	statement := Ownership(rec, mapping)

	assert.Equal(t, bods.OwnershipStatement, statement.StatementType)
	assert.Equal(t, "2023-05-16", statement.StatementDate)
	assert.Equal(t, "start-entity-id", statement.Subject.DescribedByEntityStatement)
	// end node has no mapping entry; tombstone reference from the LEI alone
	assert.Equal(t,
		bods.StatementID("549300GW9ZOFEMK68A28", string(bods.EntityStatement)),
		statement.InterestedParty.EntityID())

	require.Len(t, statement.Interests, 1)
	interest := statement.Interests[0]
	assert.Equal(t, bods.InterestTypeOther, interest.Type)
	assert.Equal(t, bods.InterestLevelUnknown, interest.InterestLevel)
	assert.False(t, interest.BeneficialOwnershipOrControl)
	assert.Equal(t, "2018-06-01T00:00:00Z", interest.StartDate)
	assert.Equal(t, "LEI RelationshipType: IS_ULTIMATELY_CONSOLIDATED_BY", interest.Details)
}

func TestInterestStartDate(t *testing.T) {
	assert.Equal(t, "", interestStartDate(nil))
	assert.Equal(t, "2019-01-01", interestStartDate([]gleif.RelationshipPeriod{
		{StartDate: "2019-01-01", PeriodType: "ACCOUNTING_PERIOD"},
	}))
	assert.Equal(t, "2018-06-01", interestStartDate([]gleif.RelationshipPeriod{
		{StartDate: "2019-01-01", PeriodType: "ACCOUNTING_PERIOD"},
		{StartDate: "2018-06-01", PeriodType: gleif.PeriodTypeRelationship},
	}))
}

func TestExceptionNaturalPersons(t *testing.T) {
	rec := &gleif.ReportingException{
		LEI:               "315700J9BH1UJ3KSBI43",
		ExceptionCategory: gleif.CategoryUltimateParent,
		ExceptionReason:   gleif.ReasonNaturalPersons,
		ContentDate:       "2023-06-13T08:00:00Z",
	}
	statements := Exception(rec, Mapping{"315700J9BH1UJ3KSBI43": "subject-entity-id"})
	require.Len(t, statements, 2)

	person, ooc := statements[0], statements[1]
	assert.Equal(t, bods.PersonStatement, person.StatementType)
	assert.Equal(t, bods.UnknownPerson, person.PersonType)
	require.NotNil(t, person.UnspecifiedPersonDetails)
	assert.Equal(t, bods.UnspecifiedReasonExempt, person.UnspecifiedPersonDetails.Reason)
	assert.Contains(t, person.UnspecifiedPersonDetails.Description, "NATURAL_PERSONS")

	assert.Equal(t, "subject-entity-id", ooc.Subject.DescribedByEntityStatement)
	require.NotNil(t, ooc.InterestedParty.DescribedByPersonStatement)
	assert.Equal(t, person.StatementID, *ooc.InterestedParty.DescribedByPersonStatement)
	assert.Equal(t, bods.InterestLevelIndirect, ooc.Interests[0].InterestLevel)
	require.Len(t, ooc.Annotations, 1)
	assert.Equal(t, "/interests/0/type", ooc.Annotations[0].StatementPointerTarget)
}

func TestExceptionNoLEI(t *testing.T) {
	rec := &gleif.ReportingException{
		LEI:               "315700J9BH1UJ3KSBI43",
		ExceptionCategory: gleif.CategoryDirectParent,
		ExceptionReason:   gleif.ReasonNoLEI,
		ContentDate:       "2023-06-13T08:00:00Z",
	}
	statements := Exception(rec, Mapping{})
	require.Len(t, statements, 2)

	entity, ooc := statements[0], statements[1]
	assert.Equal(t, bods.UnknownEntity, entity.EntityType)
	require.NotNil(t, ooc.InterestedParty.Unspecified)
	assert.Equal(t, gleif.ReasonNoLEI, ooc.InterestedParty.Unspecified.Reason)
	assert.Nil(t, ooc.InterestedParty.DescribedByEntityStatement)
	assert.Equal(t, bods.InterestLevelDirect, ooc.Interests[0].InterestLevel)
}

func TestExceptionDeprecatedReason(t *testing.T) {
	rec := &gleif.ReportingException{
		LEI:               "315700J9BH1UJ3KSBI43",
		ExceptionCategory: gleif.CategoryUltimateParent,
		ExceptionReason:   "LEGAL_OBSTACLES",
		ContentDate:       "2023-06-13T08:00:00Z",
	}
	statements := Exception(rec, Mapping{})
	require.Len(t, statements, 2)
	assert.Equal(t, bods.UnknownEntity, statements[0].EntityType)
	assert.Contains(t, statements[0].UnspecifiedEntityDetails.Description, "NON_PUBLIC")
}

func TestExceptionReferenceAppended(t *testing.T) {
	rec := &gleif.ReportingException{
		LEI:                "315700J9BH1UJ3KSBI43",
		ExceptionCategory:  gleif.CategoryUltimateParent,
		ExceptionReason:    gleif.ReasonNonPublic,
		ExceptionReference: "internal policy 7",
		ContentDate:        "2023-06-13T08:00:00Z",
	}
	statements := Exception(rec, Mapping{})
	require.Len(t, statements, 2)
	assert.Contains(t, statements[0].UnspecifiedEntityDetails.Description, "internal policy 7")
}

func TestExceptionUnknownReason(t *testing.T) {
	rec := &gleif.ReportingException{
		LEI:               "315700J9BH1UJ3KSBI43",
		ExceptionCategory: gleif.CategoryUltimateParent,
		ExceptionReason:   "SOMETHING_NEW",
	}
	assert.Nil(t, Exception(rec, Mapping{}))
}

func TestJurisdictionName(t *testing.T) {
	assert.Equal(t, "United Kingdom", JurisdictionName("GB"))
	assert.Equal(t, "Scotland, United Kingdom", JurisdictionName("GB-SCT"))
	assert.Equal(t, "ZZ", JurisdictionName("ZZ"))
	assert.Equal(t, "GB-ZZZ", JurisdictionName("GB-ZZZ"))
}

func TestVoiderSuppressesRepeats(t *testing.T) {
	voider := NewVoider()

	first := voider.VoidEntityRetired("prior-id", "2023-07-01T00:00:00Z", "LEI1", "RETIRED")
	require.NotNil(t, first)
	assert.Equal(t, bods.StatementID("prior-id", bods.RoleVoided), first.StatementID)
	assert.Equal(t, []string{"prior-id"}, first.ReplacesStatements)

	assert.Nil(t, voider.VoidEntityRetired("prior-id", "2023-07-01T00:00:00Z", "LEI1", "RETIRED"))

	var s bods.Statement
	assert.False(t, voider.Replace(&s, "prior-id"), "voided prior cannot also be replaced")
	assert.Empty(t, s.ReplacesStatements)
}

func TestVoiderReplaceOncePerPrior(t *testing.T) {
	voider := NewVoider()
	var a, b bods.Statement
	assert.True(t, voider.Replace(&a, "prior-id"))
	assert.False(t, voider.Replace(&b, "prior-id"))
	assert.Nil(t, voider.VoidOwnershipRetired("prior-id", "2023-07-01T00:00:00Z", "A", "B"))
}
