// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package bods

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementIndex(t *testing.T) {
	assert.Equal(t, IndexEntity, (&Statement{StatementType: EntityStatement}).Index())
	assert.Equal(t, IndexPerson, (&Statement{StatementType: PersonStatement}).Index())
	assert.Equal(t, IndexOwnership, (&Statement{StatementType: OwnershipStatement}).Index())
}

func TestInterestedPartyEncoding(t *testing.T) {
	// normal statements carry exactly one reference field
	normal := Statement{
		StatementID:        "abc",
		StatementType:      OwnershipStatement,
		Subject:            &Subject{DescribedByEntityStatement: "subject-id"},
		InterestedParty:    &InterestedParty{DescribedByEntityStatement: StringPtr("interested-id")},
		PublicationDetails: NewPublicationDetails(),
	}
	data, err := json.Marshal(normal)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"describedByEntityStatement":"interested-id"`)
	assert.NotContains(t, string(data), "describedByPersonStatement")
	assert.Equal(t, "interested-id", normal.InterestedParty.EntityID())

	// voiding statements carry the field present but empty
	void := Statement{
		StatementID:        "def",
		StatementType:      OwnershipStatement,
		Subject:            &Subject{},
		InterestedParty:    &InterestedParty{DescribedByEntityStatement: StringPtr("")},
		IsComponent:        BoolPtr(false),
		PublicationDetails: VoidPublicationDetails(),
	}
	data, err = json.Marshal(void)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"describedByEntityStatement":""`)
	assert.Contains(t, string(data), `"subject":{"describedByEntityStatement":""}`)
	assert.Contains(t, string(data), `"isComponent":false`)

	// exempt parties carry unspecified only
	exempt := InterestedParty{Unspecified: &Unspecified{Reason: UnspecifiedReasonExempt}}
	data, err = json.Marshal(exempt)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "describedBy")
	assert.Equal(t, "", exempt.EntityID())
}

func TestReplaces(t *testing.T) {
	var s Statement
	s.Replaces("prior-id")
	assert.Equal(t, []string{"prior-id"}, s.ReplacesStatements)
}

func TestPublicationDetails(t *testing.T) {
	pub := NewPublicationDetails()
	assert.Equal(t, "0.2", pub.BODSVersion)
	assert.Equal(t, "OpenOwnership Register", pub.Publisher.Name)
	assert.NotEmpty(t, pub.License)
	assert.NotEmpty(t, pub.PublicationDate)

	void := VoidPublicationDetails()
	assert.Equal(t, "GLEIF", void.Publisher.Name)
	assert.Empty(t, void.License)
}

func TestAnnotations(t *testing.T) {
	lei := LEIAnnotation("213800BJPX8V9HVY1Y11", "ISSUED")
	assert.Equal(t, "GLEIF data for this entity - LEI: 213800BJPX8V9HVY1Y11; Registration Status: ISSUED", lei.Description)
	assert.Equal(t, "commenting", lei.Motivation)
	assert.Equal(t, "/", lei.StatementPointerTarget)
	assert.Equal(t, "Open Ownership", lei.CreatedBy.Name)

	rel := RelationshipAnnotation("AAA", "BBB")
	assert.Equal(t, "Describes GLEIF relationship: AAA is subject, BBB is interested party", rel.Description)

	interest := UnknownInterestAnnotation()
	assert.Equal(t, "/interests/0/type", interest.StatementPointerTarget)
	assert.Equal(t, "The nature of this interest is unknown", interest.Description)

	assert.Equal(t,
		"This statement was created due to a NATURAL_PERSONS GLEIF Reporting Exception for 315700J9BH1UJ3KSBI43",
		ExceptionReasonAnnotation("NATURAL_PERSONS", "315700J9BH1UJ3KSBI43").Description)
}
