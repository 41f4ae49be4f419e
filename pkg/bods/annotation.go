// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package bods

import "fmt"

// Annotation is a commenting annotation attached to a statement.
type Annotation struct {
	Motivation             string    `json:"motivation"`
	Description            string    `json:"description"`
	StatementPointerTarget string    `json:"statementPointerTarget"`
	CreationDate           string    `json:"creationDate"`
	CreatedBy              CreatedBy `json:"createdBy"`
}

// CreatedBy identifies the annotation author.
type CreatedBy struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

func newAnnotation(description, pointer string) Annotation {
	return Annotation{
		Motivation:             "commenting",
		Description:            description,
		StatementPointerTarget: pointer,
		CreationDate:           Today(),
		CreatedBy: CreatedBy{
			Name: "Open Ownership",
			URI:  "https://www.openownership.org",
		},
	}
}

// LEIAnnotation states the registration status of an entity's LEI.
func LEIAnnotation(lei, registrationStatus string) Annotation {
	return newAnnotation(
		fmt.Sprintf("GLEIF data for this entity - LEI: %s; Registration Status: %s", lei, registrationStatus),
		"/")
}

// RelationshipAnnotation describes the relationship behind an
// ownership-or-control statement.
func RelationshipAnnotation(subject, interested string) Annotation {
	return newAnnotation(
		fmt.Sprintf("Describes GLEIF relationship: %s is subject, %s is interested party", subject, interested),
		"/")
}

// RetiredAnnotation marks a statement voided because its LEI was retired.
func RetiredAnnotation() Annotation {
	return newAnnotation("GLEIF RegistrationStatus set to RETIRED on this statementDate.", "/")
}

// RelationshipDeletedAnnotation marks an ownership-or-control statement
// voided because its relationship record was deleted.
func RelationshipDeletedAnnotation() Annotation {
	return newAnnotation("GLEIF relationship deleted on this statementDate.", "/")
}

// ExceptionReasonAnnotation marks a statement synthesized from a reporting
// exception.
func ExceptionReasonAnnotation(reason, lei string) Annotation {
	return newAnnotation(
		fmt.Sprintf("This statement was created due to a %s GLEIF Reporting Exception for %s", reason, lei),
		"/")
}

// ExceptionChangedAnnotation marks a statement voided because the reporting
// exception's reason changed.
func ExceptionChangedAnnotation(reason, lei string) Annotation {
	return newAnnotation(
		fmt.Sprintf("Statement retired due to change in a %s GLEIF Reporting Exception for %s", reason, lei),
		"/")
}

// ExceptionReplacedAnnotation marks a statement voided because the reporting
// exception was replaced by a relationship record.
func ExceptionReplacedAnnotation(reason, lei string) Annotation {
	return newAnnotation(
		fmt.Sprintf("Statement series retired due to replacement of a %s GLEIF Reporting Exception for %s", reason, lei),
		"/")
}

// ExceptionDeletedAnnotation marks a statement voided because the reporting
// exception was deleted.
func ExceptionDeletedAnnotation(reason, lei string) Annotation {
	return newAnnotation(
		fmt.Sprintf("Statement series retired due to deletion of a %s GLEIF Reporting Exception for %s", reason, lei),
		"/")
}

// UnknownInterestAnnotation is attached to every reporting-exception
// ownership-or-control statement.
func UnknownInterestAnnotation() Annotation {
	return newAnnotation("The nature of this interest is unknown", "/interests/0/type")
}
