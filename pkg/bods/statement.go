// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// Package bods models the subset of the Beneficial Ownership Data Standard
// emitted by the pipeline, and the deterministic statement ID rules.
package bods

// StatementType discriminates the three statement kinds.
type StatementType string

// Statement kinds.
const (
	EntityStatement    StatementType = "entityStatement"
	PersonStatement    StatementType = "personStatement"
	OwnershipStatement StatementType = "ownershipOrControlStatement"
)

// Entity and person types used by the pipeline.
const (
	RegisteredEntity = "registeredEntity"
	UnknownEntity    = "unknownEntity"
	UnknownPerson    = "unknownPerson"
)

// Interest levels.
const (
	InterestLevelDirect   = "direct"
	InterestLevelIndirect = "indirect"
	InterestLevelUnknown  = "unknown"
)

// InterestTypeOther is the only interest type the pipeline emits.
const InterestTypeOther = "other-influence-or-control"

// UnspecifiedReasonExempt is the reason attached to unknown entity/person
// statements synthesized from reporting exceptions.
const UnspecifiedReasonExempt = "interested-party-exempt-from-disclosure"

// Statement store index names.
const (
	IndexEntity    = "entity"
	IndexPerson    = "person"
	IndexOwnership = "ownership"
)

// Statement is a BODS statement. A single struct covers all three statement
// types; absent fields are dropped from the JSON encoding.
type Statement struct {
	StatementID                string              `json:"statementID"`
	StatementType              StatementType       `json:"statementType"`
	StatementDate              string              `json:"statementDate,omitempty"`
	EntityType                 string              `json:"entityType,omitempty"`
	PersonType                 string              `json:"personType,omitempty"`
	Name                       string              `json:"name,omitempty"`
	IncorporatedInJurisdiction *Jurisdiction       `json:"incorporatedInJurisdiction,omitempty"`
	Identifiers                []Identifier        `json:"identifiers,omitempty"`
	FoundingDate               string              `json:"foundingDate,omitempty"`
	Addresses                  []Address           `json:"addresses,omitempty"`
	UnspecifiedEntityDetails   *Unspecified        `json:"unspecifiedEntityDetails,omitempty"`
	UnspecifiedPersonDetails   *Unspecified        `json:"unspecifiedPersonDetails,omitempty"`
	Subject                    *Subject            `json:"subject,omitempty"`
	InterestedParty            *InterestedParty    `json:"interestedParty,omitempty"`
	Interests                  []Interest          `json:"interests,omitempty"`
	IsComponent                *bool               `json:"isComponent,omitempty"`
	PublicationDetails         PublicationDetails  `json:"publicationDetails"`
	Source                     *Source             `json:"source,omitempty"`
	Annotations                []Annotation        `json:"annotations,omitempty"`
	ReplacesStatements         []string            `json:"replacesStatements,omitempty"`
}

// Index returns the statement store index for the statement's type.
func (s *Statement) Index() string {
	switch s.StatementType {
	case PersonStatement:
		return IndexPerson
	case OwnershipStatement:
		return IndexOwnership
	default:
		return IndexEntity
	}
}

// Replaces marks s as the successor of prior.
func (s *Statement) Replaces(prior string) {
	s.ReplacesStatements = []string{prior}
}

// Jurisdiction is an incorporation jurisdiction.
type Jurisdiction struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Identifier is an external identifier for an entity.
type Identifier struct {
	ID         string `json:"id,omitempty"`
	Scheme     string `json:"scheme,omitempty"`
	SchemeName string `json:"schemeName,omitempty"`
}

// The LEI identifier scheme.
const (
	SchemeLEI     = "XI-LEI"
	SchemeLEIName = "Global Legal Entity Identifier Index"
)

// Address is a formatted entity address.
type Address struct {
	Type     string `json:"type"`
	Address  string `json:"address"`
	PostCode string `json:"postCode,omitempty"`
	Country  string `json:"country"`
}

// Unspecified carries the reason an entity or person cannot be described.
type Unspecified struct {
	Reason      string `json:"reason"`
	Description string `json:"description,omitempty"`
}

// Subject is the entity an ownership-or-control statement is about.
type Subject struct {
	DescribedByEntityStatement string `json:"describedByEntityStatement"`
}

// InterestedParty is the controlling party of an ownership-or-control
// statement. Exactly one field is set, except on voiding statements where
// DescribedByEntityStatement is present but empty.
type InterestedParty struct {
	DescribedByEntityStatement *string      `json:"describedByEntityStatement,omitempty"`
	DescribedByPersonStatement *string      `json:"describedByPersonStatement,omitempty"`
	Unspecified                *Unspecified `json:"unspecified,omitempty"`
}

// EntityID returns the referenced entity statement ID, if any.
func (p *InterestedParty) EntityID() string {
	if p == nil || p.DescribedByEntityStatement == nil {
		return ""
	}
	return *p.DescribedByEntityStatement
}

// Interest is a single interest held by the interested party.
type Interest struct {
	Type                         string `json:"type"`
	InterestLevel                string `json:"interestLevel"`
	BeneficialOwnershipOrControl bool   `json:"beneficialOwnershipOrControl"`
	StartDate                    string `json:"startDate,omitempty"`
	Details                      string `json:"details,omitempty"`
}

// PublicationDetails records who published the statement and when.
type PublicationDetails struct {
	PublicationDate string    `json:"publicationDate"`
	BODSVersion     string    `json:"bodsVersion"`
	License         string    `json:"license,omitempty"`
	Publisher       Publisher `json:"publisher"`
}

// Publisher identifies the publishing organisation.
type Publisher struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Source describes where a statement's claims come from.
type Source struct {
	Type        []string `json:"type"`
	Description string   `json:"description,omitempty"`
}

// NewPublicationDetails returns the register's publication details dated
// today.
func NewPublicationDetails() PublicationDetails {
	return PublicationDetails{
		PublicationDate: Today(),
		BODSVersion:     "0.2",
		License:         "https://register.openownership.org/terms-and-conditions",
		Publisher: Publisher{
			Name: "OpenOwnership Register",
			URL:  "https://register.openownership.org",
		},
	}
}

// VoidPublicationDetails returns the publication details carried by
// synthesized voiding statements.
func VoidPublicationDetails() PublicationDetails {
	return PublicationDetails{
		PublicationDate: Today(),
		BODSVersion:     "0.2",
		Publisher:       Publisher{Name: "GLEIF"},
	}
}

// StringPtr returns a pointer to s, for InterestedParty fields.
func StringPtr(s string) *string { return &s }

// BoolPtr returns a pointer to b, for IsComponent.
func BoolPtr(b bool) *bool { return &b }
