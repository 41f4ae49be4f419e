// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package transform

import (
	"github.com/openownership/bodspipelines/pkg/bods"
)

// Voider synthesizes statements that void previously published statements.
// It tracks which prior IDs have been voided or replaced within the run and
// returns nil for repeats, so each prior ID is superseded at most once.
type Voider struct {
	voided   map[string]struct{}
	replaced map[string]struct{}
}

// NewVoider returns an empty Voider.
func NewVoider() *Voider {
	return &Voider{
		voided:   make(map[string]struct{}),
		replaced: make(map[string]struct{}),
	}
}

func (v *Voider) seen(priorID string) bool {
	if _, ok := v.voided[priorID]; ok {
		return true
	}
	_, ok := v.replaced[priorID]
	return ok
}

// Replace marks statement as the successor of priorID. It reports false, and
// leaves the statement alone, when priorID was already superseded this run.
func (v *Voider) Replace(statement *bods.Statement, priorID string) bool {
	if v.seen(priorID) {
		return false
	}
	v.replaced[priorID] = struct{}{}
	statement.Replaces(priorID)
	return true
}

func (v *Voider) voidEntity(priorID, updateDate string, statementType bods.StatementType, unknown bool, annotations []bods.Annotation) *bods.Statement {
	if v.seen(priorID) {
		return nil
	}
	v.voided[priorID] = struct{}{}

	statement := &bods.Statement{
		StatementID:        bods.StatementID(priorID, bods.RoleVoided),
		StatementType:      statementType,
		StatementDate:      bods.FormatDate(updateDate),
		IsComponent:        bods.BoolPtr(false),
		PublicationDetails: bods.VoidPublicationDetails(),
		Annotations:        annotations,
	}
	statement.Replaces(priorID)
	if statementType == bods.PersonStatement {
		statement.PersonType = bods.UnknownPerson
	} else if unknown {
		statement.EntityType = bods.UnknownEntity
	} else {
		statement.EntityType = bods.RegisteredEntity
	}
	return statement
}

func (v *Voider) voidOwnership(priorID, updateDate string, annotations []bods.Annotation) *bods.Statement {
	if v.seen(priorID) {
		return nil
	}
	v.voided[priorID] = struct{}{}

	statement := &bods.Statement{
		StatementID:        bods.StatementID(priorID, bods.RoleVoidedOOC),
		StatementType:      bods.OwnershipStatement,
		StatementDate:      bods.FormatDate(updateDate),
		Subject:            &bods.Subject{},
		InterestedParty:    &bods.InterestedParty{DescribedByEntityStatement: bods.StringPtr("")},
		IsComponent:        bods.BoolPtr(false),
		PublicationDetails: bods.VoidPublicationDetails(),
		Annotations:        annotations,
	}
	statement.Replaces(priorID)
	return statement
}

// VoidEntityRetired voids an entity statement whose LEI registration was
// retired.
func (v *Voider) VoidEntityRetired(priorID, updateDate, lei, status string) *bods.Statement {
	return v.voidEntity(priorID, updateDate, bods.EntityStatement, false,
		[]bods.Annotation{bods.LEIAnnotation(lei, status)})
}

// VoidEntityDeleted voids an unknown entity or person statement whose
// reporting exception was deleted.
func (v *Voider) VoidEntityDeleted(priorID, updateDate string, statementType bods.StatementType, lei, reason string) *bods.Statement {
	return v.voidEntity(priorID, updateDate, statementType, true,
		[]bods.Annotation{bods.ExceptionDeletedAnnotation(reason, lei)})
}

// VoidEntityChanged voids an unknown entity or person statement whose
// reporting exception changed reason.
func (v *Voider) VoidEntityChanged(priorID, updateDate string, statementType bods.StatementType, lei, reason string) *bods.Statement {
	return v.voidEntity(priorID, updateDate, statementType, true,
		[]bods.Annotation{bods.ExceptionChangedAnnotation(reason, lei)})
}

// VoidEntityReplaced voids an unknown entity or person statement whose
// reporting exception was replaced by a relationship record.
func (v *Voider) VoidEntityReplaced(priorID, updateDate string, statementType bods.StatementType, lei, reason string) *bods.Statement {
	return v.voidEntity(priorID, updateDate, statementType, true,
		[]bods.Annotation{bods.ExceptionReplacedAnnotation(reason, lei)})
}

// VoidOwnershipDeleted voids an ownership-or-control statement whose
// relationship record was deleted.
func (v *Voider) VoidOwnershipDeleted(priorID, deletedAt, start, end string) *bods.Statement {
	return v.voidOwnership(priorID, deletedAt, []bods.Annotation{
		bods.RelationshipDeletedAnnotation(),
		bods.RelationshipAnnotation(start, end),
	})
}

// VoidOwnershipRetired voids an ownership-or-control statement whose
// relationship record was retired.
func (v *Voider) VoidOwnershipRetired(priorID, updateDate, start, end string) *bods.Statement {
	return v.voidOwnership(priorID, updateDate, []bods.Annotation{
		bods.RetiredAnnotation(),
		bods.RelationshipAnnotation(start, end),
	})
}

// VoidOwnershipExceptionDeleted voids an ownership-or-control statement
// whose reporting exception was deleted.
func (v *Voider) VoidOwnershipExceptionDeleted(priorID, updateDate, lei, reason string) *bods.Statement {
	return v.voidOwnership(priorID, updateDate, []bods.Annotation{
		bods.ExceptionDeletedAnnotation(reason, lei),
	})
}
