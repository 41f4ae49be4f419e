// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// Package gleif models the GLEIF golden-copy record kinds and their
// content-addressed keys.
package gleif

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/errs"
)

// Error is the gleif package error class.
var Error = errs.Class("gleif error")

// Kind discriminates the three golden-copy record kinds. It doubles as the
// raw-record index name.
type Kind string

// Record kinds.
const (
	KindLEI          Kind = "lei"
	KindRelationship Kind = "rr"
	KindException    Kind = "repex"
)

// Kinds lists all record kinds in ingest order.
var Kinds = []Kind{KindLEI, KindRelationship, KindException}

// Registration statuses the pipeline reacts to.
const (
	StatusRetired   = "RETIRED"
	StatusPublished = "PUBLISHED"
)

// Relationship types corresponding to reporting-exception categories.
const (
	RelDirectlyConsolidated  = "IS_DIRECTLY_CONSOLIDATED_BY"
	RelUltimatelyConsolidated = "IS_ULTIMATELY_CONSOLIDATED_BY"
)

// Reporting-exception categories.
const (
	CategoryDirectParent   = "DIRECT_ACCOUNTING_CONSOLIDATION_PARENT"
	CategoryUltimateParent = "ULTIMATE_ACCOUNTING_CONSOLIDATION_PARENT"
)

// Reporting-exception reasons.
const (
	ReasonNoLEI            = "NO_LEI"
	ReasonNaturalPersons   = "NATURAL_PERSONS"
	ReasonNoKnownPerson    = "NO_KNOWN_PERSON"
	ReasonNonConsolidating = "NON_CONSOLIDATING"
	ReasonNonPublic        = "NON_PUBLIC"
)

// NonPublicSynonyms are the deprecated reasons treated as NON_PUBLIC.
var NonPublicSynonyms = []string{
	"BINDING_LEGAL_COMMITMENTS",
	"LEGAL_OBSTACLES",
	"DISCLOSURE_DETRIMENTAL",
	"DETRIMENT_NOT_EXCLUDED",
	"CONSENT_NOT_OBTAINED",
}

// Record is the tagged envelope carried on the inter-stage bus. Exactly one
// of the kind-specific fields is set.
type Record struct {
	Kind         Kind                `json:"kind"`
	LEI          *LEIRecord          `json:"lei,omitempty"`
	Relationship *RelationshipRecord `json:"relationship,omitempty"`
	Exception    *ReportingException `json:"exception,omitempty"`
}

// Valid reports whether the envelope carries the record its kind announces.
func (r Record) Valid() bool {
	switch r.Kind {
	case KindLEI:
		return r.LEI != nil && r.LEI.LEI != ""
	case KindRelationship:
		return r.Relationship != nil &&
			r.Relationship.Relationship.StartNode.NodeID != "" &&
			r.Relationship.Relationship.EndNode.NodeID != ""
	case KindException:
		return r.Exception != nil && r.Exception.LEI != ""
	}
	return false
}

// ID returns the record's content-addressed key: the statement ID seed,
// which changes with every revision of the source record.
func (r Record) ID() (string, error) {
	switch r.Kind {
	case KindLEI:
		if r.LEI == nil {
			return "", Error.New("lei record missing payload")
		}
		return r.LEI.Seed(), nil
	case KindRelationship:
		if r.Relationship == nil {
			return "", Error.New("relationship record missing payload")
		}
		return r.Relationship.Seed(), nil
	case KindException:
		if r.Exception == nil {
			return "", Error.New("exception record missing payload")
		}
		return r.Exception.Seed(), nil
	}
	return "", Error.New("unknown record kind %q", r.Kind)
}

// Index returns the raw-record store index for the record.
func (r Record) Index() string { return string(r.Kind) }

// LEIRecord is one LEI-CDF record.
type LEIRecord struct {
	LEI          string       `xml:"LEI" json:"LEI"`
	Entity       Entity       `xml:"Entity" json:"Entity"`
	Registration Registration `xml:"Registration" json:"Registration"`
}

// Seed returns the statement ID seed for the record revision.
func (r *LEIRecord) Seed() string {
	return fmt.Sprintf("%s_%s", r.LEI, r.Registration.LastUpdateDate)
}

// Entity is the legal entity section of an LEI record.
type Entity struct {
	LegalName             string                 `xml:"LegalName" json:"LegalName"`
	LegalJurisdiction     string                 `xml:"LegalJurisdiction" json:"LegalJurisdiction"`
	LegalAddress          EntityAddress          `xml:"LegalAddress" json:"LegalAddress"`
	HeadquartersAddress   EntityAddress          `xml:"HeadquartersAddress" json:"HeadquartersAddress"`
	RegistrationAuthority *RegistrationAuthority `xml:"RegistrationAuthority" json:"RegistrationAuthority,omitempty"`
	EntityCategory        string                 `xml:"EntityCategory" json:"EntityCategory,omitempty"`
	EntityCreationDate    string                 `xml:"EntityCreationDate" json:"EntityCreationDate,omitempty"`
	EntityStatus          string                 `xml:"EntityStatus" json:"EntityStatus,omitempty"`
}

// EntityAddress is a legal or headquarters address.
type EntityAddress struct {
	FirstAddressLine string `xml:"FirstAddressLine" json:"FirstAddressLine"`
	AdditionalLine   string `xml:"AdditionalAddressLine" json:"AdditionalAddressLine,omitempty"`
	City             string `xml:"City" json:"City"`
	Region           string `xml:"Region" json:"Region,omitempty"`
	Country          string `xml:"Country" json:"Country"`
	PostalCode       string `xml:"PostalCode" json:"PostalCode,omitempty"`
}

// RegistrationAuthority is the local register an entity is recorded in.
type RegistrationAuthority struct {
	RegistrationAuthorityID       string `xml:"RegistrationAuthorityID" json:"RegistrationAuthorityID,omitempty"`
	RegistrationAuthorityEntityID string `xml:"RegistrationAuthorityEntityID" json:"RegistrationAuthorityEntityID,omitempty"`
}

// Registration is the registration section shared by LEI and relationship
// records.
type Registration struct {
	InitialRegistrationDate string `xml:"InitialRegistrationDate" json:"InitialRegistrationDate,omitempty"`
	LastUpdateDate          string `xml:"LastUpdateDate" json:"LastUpdateDate"`
	RegistrationStatus      string `xml:"RegistrationStatus" json:"RegistrationStatus"`
	NextRenewalDate         string `xml:"NextRenewalDate" json:"NextRenewalDate,omitempty"`
	ManagingLOU             string `xml:"ManagingLOU" json:"ManagingLOU,omitempty"`
	ValidationSources       string `xml:"ValidationSources" json:"ValidationSources,omitempty"`
}

// FullyCorroborated reports whether the record was fully corroborated by its
// validation sources.
func (r Registration) FullyCorroborated() bool {
	return r.ValidationSources == "FULLY_CORROBORATED"
}

// RelationshipRecord is one RR-CDF record.
type RelationshipRecord struct {
	Relationship Relationship `xml:"Relationship" json:"Relationship"`
	Registration Registration `xml:"Registration" json:"Registration"`
	Extension    *Extension   `xml:"Extension" json:"Extension,omitempty"`
}

// Seed returns the statement ID seed for the record revision.
func (r *RelationshipRecord) Seed() string {
	return fmt.Sprintf("%s_%s", r.Key(), r.Registration.LastUpdateDate)
}

// Key returns the relationship domain key "{Start}_{End}_{RelType}".
func (r *RelationshipRecord) Key() string {
	rel := r.Relationship
	return fmt.Sprintf("%s_%s_%s", rel.StartNode.NodeID, rel.EndNode.NodeID, rel.RelationshipType)
}

// Deleted returns the deletion timestamp when the record carries a deletion
// extension.
func (r *RelationshipRecord) Deleted() (string, bool) {
	return r.Extension.deleted()
}

// Relationship is the relationship section of an RR record.
type Relationship struct {
	StartNode           Node                 `xml:"StartNode" json:"StartNode"`
	EndNode             Node                 `xml:"EndNode" json:"EndNode"`
	RelationshipType    string               `xml:"RelationshipType" json:"RelationshipType"`
	RelationshipPeriods []RelationshipPeriod `xml:"RelationshipPeriods>RelationshipPeriod" json:"RelationshipPeriods,omitempty"`
	RelationshipStatus  string               `xml:"RelationshipStatus" json:"RelationshipStatus,omitempty"`
}

// Node is a relationship endpoint.
type Node struct {
	NodeID     string `xml:"NodeID" json:"NodeID"`
	NodeIDType string `xml:"NodeIDType" json:"NodeIDType,omitempty"`
}

// RelationshipPeriod is one validity period of a relationship.
type RelationshipPeriod struct {
	StartDate  string `xml:"StartDate" json:"StartDate,omitempty"`
	EndDate    string `xml:"EndDate" json:"EndDate,omitempty"`
	PeriodType string `xml:"PeriodType" json:"PeriodType,omitempty"`
}

// PeriodTypeRelationship is the period type preferred for interest start
// dates.
const PeriodTypeRelationship = "RELATIONSHIP_PERIOD"

// ReportingException is one reporting-exception record. ContentDate is
// stamped from the file header during ingest and travels on the wire.
type ReportingException struct {
	LEI                string     `xml:"LEI" json:"LEI"`
	ExceptionCategory  string     `xml:"ExceptionCategory" json:"ExceptionCategory"`
	ExceptionReason    string     `xml:"ExceptionReason" json:"ExceptionReason"`
	ExceptionReference string     `xml:"ExceptionReference" json:"ExceptionReference,omitempty"`
	ContentDate        string     `xml:"-" json:"ContentDate,omitempty"`
	Extension          *Extension `xml:"Extension" json:"Extension,omitempty"`
}

// Seed returns the statement ID seed for the record revision. The exception
// reference contributes as a digest so that free-text references keep the
// seed printable.
func (r *ReportingException) Seed() string {
	ref := "None"
	if r.ExceptionReference != "" {
		sum := sha256.Sum256([]byte(r.ExceptionReference))
		ref = hex.EncodeToString(sum[:])
	}
	return fmt.Sprintf("%s_%s_%s_%s_%s", r.LEI, r.ExceptionCategory, r.ExceptionReason, ref, r.ContentDate)
}

// Deleted returns the deletion timestamp when the record carries a deletion
// extension.
func (r *ReportingException) Deleted() (string, bool) {
	return r.Extension.deleted()
}

// Extension is the golden-copy extension element; only deletions are used.
type Extension struct {
	Deletion *Deletion `xml:"Deletion" json:"Deletion,omitempty"`
}

func (e *Extension) deleted() (string, bool) {
	if e == nil || e.Deletion == nil || e.Deletion.DeletedAt == "" {
		return "", false
	}
	return e.Deletion.DeletedAt, true
}

// empty reports whether the extension carries nothing worth keeping.
func (e *Extension) empty() bool {
	_, ok := e.deleted()
	return !ok
}

// Deletion marks a record removed from the golden copy.
type Deletion struct {
	DeletedAt string `xml:"DeletedAt" json:"DeletedAt"`
}

// CategoryForRelationship maps a consolidation relationship type to the
// reporting-exception category it supersedes.
func CategoryForRelationship(relType string) (string, bool) {
	switch relType {
	case RelDirectlyConsolidated:
		return CategoryDirectParent, true
	case RelUltimatelyConsolidated:
		return CategoryUltimateParent, true
	}
	return "", false
}

// RelationshipForCategory maps a reporting-exception category to the
// relationship type it stands in for.
func RelationshipForCategory(category string) (string, bool) {
	switch category {
	case CategoryDirectParent:
		return RelDirectlyConsolidated, true
	case CategoryUltimateParent:
		return RelUltimatelyConsolidated, true
	}
	return "", false
}
