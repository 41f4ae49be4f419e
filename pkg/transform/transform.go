// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// Package transform builds BODS statements from GLEIF source records. The
// builders are pure: all state needed to resolve cross-references arrives in
// the Mapping argument.
package transform

import (
	"fmt"

	"github.com/openownership/bodspipelines/pkg/bods"
	"github.com/openownership/bodspipelines/pkg/gleif"
)

// Mapping carries the latest entity statement ID per LEI, as far as the
// caller knows it.
type Mapping map[string]string

// EntityID returns the entity statement ID for lei. Without a mapped entry
// the ID is computed from the LEI alone, a tombstone reference to an entity
// statement that may never have been published.
func (m Mapping) EntityID(lei string) string {
	if id, ok := m[lei]; ok && id != "" {
		return id
	}
	return bods.StatementID(lei, string(bods.EntityStatement))
}

const sourceDescription = "GLEIF"

func source(registration gleif.Registration) *bods.Source {
	types := []string{"officialRegister"}
	if registration.FullyCorroborated() {
		types = append(types, "verified")
	}
	return &bods.Source{Type: types, Description: sourceDescription}
}

// Statements builds the statement sequence for a record. LEI and RR records
// produce one statement, reporting exceptions two. Exceptions with an
// unhandled reason produce none.
func Statements(rec gleif.Record, mapping Mapping) []*bods.Statement {
	switch rec.Kind {
	case gleif.KindLEI:
		return []*bods.Statement{Entity(rec.LEI)}
	case gleif.KindRelationship:
		return []*bods.Statement{Ownership(rec.Relationship, mapping)}
	case gleif.KindException:
		return Exception(rec.Exception, mapping)
	}
	return nil
}

// Entity builds the entity statement for an LEI record.
func Entity(rec *gleif.LEIRecord) *bods.Statement {
	identifiers := []bods.Identifier{{
		ID:         rec.LEI,
		Scheme:     bods.SchemeLEI,
		SchemeName: bods.SchemeLEIName,
	}}
	if authority := rec.Entity.RegistrationAuthority; authority != nil {
		local := bods.Identifier{
			ID:         authority.RegistrationAuthorityEntityID,
			SchemeName: authority.RegistrationAuthorityID,
		}
		if local.ID != "" || local.SchemeName != "" {
			identifiers = append(identifiers, local)
		}
	}

	statement := &bods.Statement{
		StatementID:   bods.StatementID(rec.Seed(), string(bods.EntityStatement)),
		StatementType: bods.EntityStatement,
		StatementDate: bods.FormatDate(rec.Registration.LastUpdateDate),
		EntityType:    bods.RegisteredEntity,
		Name:          rec.Entity.LegalName,
		IncorporatedInJurisdiction: &bods.Jurisdiction{
			Name: JurisdictionName(rec.Entity.LegalJurisdiction),
			Code: rec.Entity.LegalJurisdiction,
		},
		Identifiers: identifiers,
		Addresses: []bods.Address{
			address("registered", rec.Entity.LegalAddress),
			address("business", rec.Entity.HeadquartersAddress),
		},
		PublicationDetails: bods.NewPublicationDetails(),
		Source:             source(rec.Registration),
		Annotations: []bods.Annotation{
			bods.LEIAnnotation(rec.LEI, rec.Registration.RegistrationStatus),
		},
	}
	if rec.Entity.EntityCreationDate != "" {
		statement.FoundingDate = rec.Entity.EntityCreationDate
	}
	return statement
}

func address(addressType string, a gleif.EntityAddress) bods.Address {
	return bods.Address{
		Type:     addressType,
		Address:  fmt.Sprintf("%s, %s", a.FirstAddressLine, a.City),
		PostCode: a.PostalCode,
		Country:  a.Country,
	}
}

// Ownership builds the ownership-or-control statement for a relationship
// record. The start node is the subject; the end node holds the interest.
func Ownership(rec *gleif.RelationshipRecord, mapping Mapping) *bods.Statement {
	rel := rec.Relationship
	return &bods.Statement{
		StatementID:   bods.StatementID(rec.Seed(), string(bods.OwnershipStatement)),
		StatementType: bods.OwnershipStatement,
		StatementDate: bods.FormatDate(rec.Registration.LastUpdateDate),
		Subject: &bods.Subject{
			DescribedByEntityStatement: mapping.EntityID(rel.StartNode.NodeID),
		},
		InterestedParty: &bods.InterestedParty{
			DescribedByEntityStatement: bods.StringPtr(mapping.EntityID(rel.EndNode.NodeID)),
		},
		Interests: []bods.Interest{{
			Type:                         bods.InterestTypeOther,
			InterestLevel:                bods.InterestLevelUnknown,
			BeneficialOwnershipOrControl: false,
			StartDate:                    interestStartDate(rel.RelationshipPeriods),
			Details:                      fmt.Sprintf("LEI RelationshipType: %s", rel.RelationshipType),
		}},
		PublicationDetails: bods.NewPublicationDetails(),
		Source:             source(rec.Registration),
		Annotations: []bods.Annotation{
			bods.RelationshipAnnotation(rel.StartNode.NodeID, rel.EndNode.NodeID),
		},
	}
}

// interestStartDate prefers the RELATIONSHIP_PERIOD start date, then any
// other period's start date, then empty.
func interestStartDate(periods []gleif.RelationshipPeriod) string {
	other := ""
	for _, period := range periods {
		if period.StartDate == "" {
			continue
		}
		if period.PeriodType == gleif.PeriodTypeRelationship {
			return period.StartDate
		}
		if other == "" {
			other = period.StartDate
		}
	}
	return other
}

// exceptionDescriptions are the unspecified-details texts per exception
// reason.
var exceptionDescriptions = map[string]string{
	gleif.ReasonNoLEI:            "From LEI ExemptionReason `NO_LEI`. This parent legal entity does not consent to obtain an LEI or to authorize its “child entity” to obtain an LEI on its behalf.",
	gleif.ReasonNaturalPersons:   "From LEI ExemptionReason `NATURAL_PERSONS`. An unknown natural person or persons controls an entity.",
	gleif.ReasonNoKnownPerson:    "From LEI ExemptionReason `NO_KNOWN_PERSON`. An unknown natural person or persons controls an entity.",
	gleif.ReasonNonConsolidating: "From LEI ExemptionReason `NON_CONSOLIDATING`. The legal entity or entities are not obliged to provide consolidated accounts in relation to the entity they control.",
	gleif.ReasonNonPublic:        "From LEI ExemptionReason `NON_PUBLIC` or related deprecated values. The legal entity’s relationship information with an entity it controls is non-public. There are therefore obstacles to releasing this information.",
}

// NormalizeReason folds the deprecated non-public reasons into NON_PUBLIC.
func NormalizeReason(reason string) string {
	for _, synonym := range gleif.NonPublicSynonyms {
		if reason == synonym {
			return gleif.ReasonNonPublic
		}
	}
	return reason
}

// ExceptionEntityType reports whether the reason produces a person or an
// entity statement, and whether the reason is handled at all.
func ExceptionEntityType(reason string) (bods.StatementType, bool) {
	switch NormalizeReason(reason) {
	case gleif.ReasonNaturalPersons, gleif.ReasonNoKnownPerson:
		return bods.PersonStatement, true
	case gleif.ReasonNoLEI, gleif.ReasonNonConsolidating, gleif.ReasonNonPublic:
		return bods.EntityStatement, true
	}
	return "", false
}

// Exception builds the unknown-party statement and the ownership-or-control
// statement for a reporting exception. Unhandled reasons yield nil.
func Exception(rec *gleif.ReportingException, mapping Mapping) []*bods.Statement {
	partyType, ok := ExceptionEntityType(rec.ExceptionReason)
	if !ok {
		return nil
	}
	party := exceptionParty(rec, partyType)
	ooc := exceptionOwnership(rec, mapping, party)
	return []*bods.Statement{party, ooc}
}

func exceptionParty(rec *gleif.ReportingException, partyType bods.StatementType) *bods.Statement {
	description := exceptionDescriptions[NormalizeReason(rec.ExceptionReason)]
	if rec.ExceptionReference != "" {
		description = fmt.Sprintf("%s %s", description, rec.ExceptionReference)
	}
	details := &bods.Unspecified{
		Reason:      bods.UnspecifiedReasonExempt,
		Description: description,
	}

	statement := &bods.Statement{
		StatementID:        bods.StatementID(rec.Seed(), string(partyType)),
		StatementType:      partyType,
		PublicationDetails: bods.NewPublicationDetails(),
		Source:             &bods.Source{Type: []string{"officialRegister"}, Description: sourceDescription},
		Annotations: []bods.Annotation{
			bods.ExceptionReasonAnnotation(rec.ExceptionReason, rec.LEI),
		},
	}
	if partyType == bods.PersonStatement {
		statement.PersonType = bods.UnknownPerson
		statement.UnspecifiedPersonDetails = details
	} else {
		statement.EntityType = bods.UnknownEntity
		statement.UnspecifiedEntityDetails = details
	}
	return statement
}

func exceptionOwnership(rec *gleif.ReportingException, mapping Mapping, party *bods.Statement) *bods.Statement {
	var interested bods.InterestedParty
	switch {
	case rec.ExceptionReason == gleif.ReasonNoLEI:
		interested.Unspecified = &bods.Unspecified{Reason: rec.ExceptionReason}
	case party.StatementType == bods.PersonStatement:
		interested.DescribedByPersonStatement = bods.StringPtr(party.StatementID)
	default:
		interested.DescribedByEntityStatement = bods.StringPtr(party.StatementID)
	}

	return &bods.Statement{
		StatementID:   bods.StatementID(rec.Seed(), string(bods.OwnershipStatement)),
		StatementType: bods.OwnershipStatement,
		Subject: &bods.Subject{
			DescribedByEntityStatement: mapping.EntityID(rec.LEI),
		},
		InterestedParty: &interested,
		Interests: []bods.Interest{{
			Type:                         bods.InterestTypeOther,
			InterestLevel:                exceptionInterestLevel(rec.ExceptionCategory),
			BeneficialOwnershipOrControl: false,
			Details:                      "A controlling interest.",
		}},
		PublicationDetails: bods.NewPublicationDetails(),
		Source:             &bods.Source{Type: []string{"officialRegister"}, Description: sourceDescription},
		Annotations:        []bods.Annotation{bods.UnknownInterestAnnotation()},
	}
}

func exceptionInterestLevel(category string) string {
	switch category {
	case gleif.CategoryUltimateParent:
		return bods.InterestLevelIndirect
	case gleif.CategoryDirectParent:
		return bods.InterestLevelDirect
	}
	return bods.InterestLevelUnknown
}
