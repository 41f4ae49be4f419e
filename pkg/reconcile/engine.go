// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/openownership/bodspipelines/pkg/bods"
	"github.com/openownership/bodspipelines/pkg/gleif"
	"github.com/openownership/bodspipelines/pkg/transform"
	"github.com/openownership/bodspipelines/storage"
)

// ErrInconsistent marks state that violates an engine invariant, such as a
// reference pointing at an absent latest entry. Records tripping it are
// skipped, not fatal.
var ErrInconsistent = errs.Class("index inconsistency")

// Engine reconciles incoming records against previously published
// statements. It is single-consumer: Process and Finish must not be called
// concurrently.
type Engine struct {
	log         *zap.Logger
	cache       *Cache
	statements  storage.Store
	voider      *transform.Voider
	incremental bool
	skipped     int
}

// NewEngine returns an engine over cache and the statement store. With
// incremental false (a first load) supersession checks are skipped and every
// record is treated as a first emission.
func NewEngine(log *zap.Logger, cache *Cache, statements storage.Store, incremental bool) *Engine {
	return &Engine{
		log:         log,
		cache:       cache,
		statements:  statements,
		voider:      transform.NewVoider(),
		incremental: incremental,
	}
}

// Skipped reports how many fix-ups were dropped due to inconsistent state.
func (e *Engine) Skipped() int { return e.skipped }

// Process transforms one record and decides, per produced statement, whether
// it is a first emission, a replacement, or must be swapped for a void. The
// returned statements are in emission order, synthesized voids included.
func (e *Engine) Process(ctx context.Context, rec gleif.Record) (_ []*bods.Statement, err error) {
	defer mon.Task()(&ctx)(&err)

	mapping, err := e.mapping(rec)
	if err != nil {
		return nil, err
	}

	var (
		excKey     string
		oldExc     ExceptionEntry
		haveOldExc bool
	)
	if rec.Kind == gleif.KindException {
		excKey = fmt.Sprintf("%s_%s", rec.Exception.LEI, rec.Exception.ExceptionCategory)
		oldExc, haveOldExc, err = e.cache.Exception(excKey)
		if err != nil {
			return nil, err
		}
	}

	produced := transform.Statements(rec, mapping)
	out := make([]*bods.Statement, 0, len(produced)+1)
	var (
		entityVoided bool
		entityType   bods.StatementType
		otherID      string
		oocID        string
	)

	for _, statement := range produced {
		switch statement.StatementType {
		case bods.EntityStatement, bods.PersonStatement:
			entityType = statement.StatementType
			if rec.Kind == gleif.KindLEI {
				statement, err = e.processEntityLEI(ctx, statement, rec.LEI)
			} else {
				var void *bods.Statement
				statement, void, err = e.processEntityException(ctx, statement, rec.Exception, oldExc, haveOldExc)
				if void != nil {
					out = append(out, void)
					entityVoided = true
				}
			}
			if err != nil {
				return nil, err
			}
			if statement != nil {
				otherID = statement.StatementID
				out = append(out, statement)
			}

		case bods.OwnershipStatement:
			if rec.Kind == gleif.KindRelationship {
				var void *bods.Statement
				statement, void, err = e.processOwnershipRR(ctx, statement, rec.Relationship, entityVoided)
				if void != nil {
					out = append(out, void)
				}
			} else {
				statement, err = e.processOwnershipException(ctx, statement, rec.Exception, oldExc, haveOldExc)
			}
			if err != nil {
				return nil, err
			}
			if statement != nil {
				oocID = statement.StatementID
				out = append(out, statement)
			}
		}
	}

	if rec.Kind == gleif.KindException && len(produced) > 0 {
		err := e.cache.SaveException(ctx, excKey, ExceptionEntry{
			OwnershipID: oocID,
			OtherID:     otherID,
			Reason:      rec.Exception.ExceptionReason,
			Reference:   rec.Exception.ExceptionReference,
			EntityType:  entityType,
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// mapping resolves the latest entity statement IDs relevant to rec.
func (e *Engine) mapping(rec gleif.Record) (transform.Mapping, error) {
	mapping := transform.Mapping{}
	var leis []string
	switch rec.Kind {
	case gleif.KindRelationship:
		rel := rec.Relationship.Relationship
		leis = []string{rel.StartNode.NodeID, rel.EndNode.NodeID}
	case gleif.KindException:
		leis = []string{rec.Exception.LEI}
	}
	for _, lei := range leis {
		entry, ok, err := e.cache.Latest(lei)
		if err != nil {
			return nil, err
		}
		if ok {
			mapping[lei] = entry.StatementID
		}
	}
	return mapping, nil
}

func (e *Engine) processEntityLEI(ctx context.Context, statement *bods.Statement, rec *gleif.LEIRecord) (*bods.Statement, error) {
	if e.incremental {
		latest, ok, err := e.cache.Latest(rec.LEI)
		if err != nil {
			return nil, err
		}
		if ok {
			priorID := latest.StatementID
			if rec.Registration.RegistrationStatus == gleif.StatusRetired {
				void := e.voider.VoidEntityRetired(priorID, rec.Registration.LastUpdateDate,
					rec.LEI, rec.Registration.RegistrationStatus)
				if void == nil {
					return nil, nil
				}
				statement = void
			} else if !e.voider.Replace(statement, priorID) {
				e.log.Debug("prior statement already superseded this run",
					zap.String("prior", priorID), zap.String("lei", rec.LEI))
			}

			// queue fix-ups for every OOC that referenced the superseded statement
			refs, _, err := e.cache.References(priorID)
			if err != nil {
				return nil, err
			}
			for _, ref := range refs.Referencing {
				if err := e.cache.SaveUpdate(ctx, ref.StatementID, ref.LatestID, priorID, statement.StatementID); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := e.cache.SaveLatest(ctx, rec.LEI, statement.StatementID); err != nil {
		return nil, err
	}
	return statement, nil
}

func (e *Engine) processEntityException(ctx context.Context, statement *bods.Statement, rec *gleif.ReportingException, oldExc ExceptionEntry, haveOldExc bool) (_, void *bods.Statement, err error) {
	key := fmt.Sprintf("%s_%s_%s_entity", rec.LEI, rec.ExceptionCategory, rec.ExceptionReason)

	if deletedAt, deleted := rec.Deleted(); deleted {
		latest, ok, err := e.cache.Latest(key)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, ErrInconsistent.New("deletion for unknown exception %s", key)
		}
		voided := e.voider.VoidEntityDeleted(latest.StatementID, deletedAt,
			statement.StatementType, rec.LEI, rec.ExceptionReason)
		if voided == nil {
			return nil, nil, nil
		}
		statement = voided
	} else if haveOldExc && oldExc.Reason != "" && oldExc.Reason != rec.ExceptionReason {
		void = e.voider.VoidEntityChanged(oldExc.OtherID, bods.Today(),
			oldExc.EntityType, rec.LEI, oldExc.Reason)
	}

	if err := e.cache.SaveLatest(ctx, key, statement.StatementID); err != nil {
		return nil, nil, err
	}
	return statement, void, nil
}

func (e *Engine) processOwnershipRR(ctx context.Context, statement *bods.Statement, rec *gleif.RelationshipRecord, entityVoided bool) (_, void *bods.Statement, err error) {
	rel := rec.Relationship
	key := rec.Key()

	for _, referencedID := range e.referencedIDs(statement, rec) {
		err := e.cache.SaveReference(ctx, referencedID, Referencing{
			StatementID: statement.StatementID,
			LatestID:    key,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	if e.incremental {
		latest, ok, err := e.cache.Latest(key)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			priorID := latest.StatementID
			if deletedAt, deleted := rec.Deleted(); deleted {
				statement = e.voider.VoidOwnershipDeleted(priorID, deletedAt,
					rel.StartNode.NodeID, rel.EndNode.NodeID)
			} else if rec.Registration.RegistrationStatus == gleif.StatusRetired {
				statement = e.voider.VoidOwnershipRetired(priorID, rec.Registration.LastUpdateDate,
					rel.StartNode.NodeID, rel.EndNode.NodeID)
			} else if !e.voider.Replace(statement, priorID) {
				e.log.Debug("prior statement already superseded this run",
					zap.String("prior", priorID), zap.String("relationship", key))
			}
			// the newer relationship supersedes any queued entity-driven fix-up
			if err := e.cache.DeleteUpdate(ctx, priorID); err != nil {
				return nil, nil, err
			}
		}
	}

	// a real consolidation relationship replaces an active reporting
	// exception of the corresponding category
	if category, ok := gleif.CategoryForRelationship(rel.RelationshipType); ok {
		excKey := fmt.Sprintf("%s_%s", rel.StartNode.NodeID, category)
		exc, found, err := e.cache.Exception(excKey)
		if err != nil {
			return nil, nil, err
		}
		if found && !entityVoided {
			void = e.voider.VoidEntityReplaced(exc.OtherID, bods.Today(),
				exc.EntityType, rel.StartNode.NodeID, exc.Reason)
			if err := e.cache.DeleteException(ctx, excKey); err != nil {
				return nil, nil, err
			}
		}
	}

	if statement != nil {
		if err := e.cache.SaveLatest(ctx, key, statement.StatementID); err != nil {
			return nil, nil, err
		}
	}
	return statement, void, nil
}

// referencedIDs lists the entity statement IDs an OOC statement points at.
// The interested party only counts while the relationship is published.
func (e *Engine) referencedIDs(statement *bods.Statement, rec *gleif.RelationshipRecord) []string {
	var out []string
	if statement.Subject != nil && statement.Subject.DescribedByEntityStatement != "" {
		out = append(out, statement.Subject.DescribedByEntityStatement)
	}
	if rec.Registration.RegistrationStatus == gleif.StatusPublished {
		if id := statement.InterestedParty.EntityID(); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) processOwnershipException(ctx context.Context, statement *bods.Statement, rec *gleif.ReportingException, oldExc ExceptionEntry, haveOldExc bool) (*bods.Statement, error) {
	key := fmt.Sprintf("%s_%s_%s_ownership", rec.LEI, rec.ExceptionCategory, rec.ExceptionReason)

	if deletedAt, deleted := rec.Deleted(); deleted {
		latest, ok, err := e.cache.Latest(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInconsistent.New("deletion for unknown exception %s", key)
		}
		voided := e.voider.VoidOwnershipExceptionDeleted(latest.StatementID, deletedAt,
			rec.LEI, rec.ExceptionReason)
		if voided == nil {
			return nil, nil
		}
		statement = voided
	} else if haveOldExc && oldExc.Reason != "" && oldExc.Reason != rec.ExceptionReason {
		e.voider.Replace(statement, oldExc.OwnershipID)
	} else if haveOldExc && oldExc.Reference != "" && oldExc.Reference != rec.ExceptionReference {
		if e.voider.Replace(statement, oldExc.OwnershipID) {
			// a reference-only change keeps the party statement's seed, so
			// the fresh OOC ID can collide with the party's; rehash it
			if statement.StatementID == oldExc.OtherID {
				statement.StatementID = bods.StatementID(statement.StatementID, bods.RoleOwnership)
			}
		}
	}

	if err := e.cache.SaveLatest(ctx, key, statement.StatementID); err != nil {
		return nil, err
	}
	return statement, nil
}

// Finish drains the pending fix-up entries: every ownership-or-control
// statement whose referenced entity statements were superseded during the
// run is re-emitted with rewritten references and a fresh deterministic ID.
// The cache is flushed afterwards.
func (e *Engine) Finish(ctx context.Context) (_ []*bods.Statement, err error) {
	defer mon.Task()(&ctx)(&err)

	var out []*bods.Statement
	var done []string
	if e.incremental {
		err := e.cache.StreamUpdates(func(entry UpdatesEntry) error {
			statement, err := e.rewrite(ctx, entry)
			if err != nil {
				if ErrInconsistent.Has(err) {
					e.skipped++
					e.log.Warn("skipping inconsistent fix-up",
						zap.String("referencing", entry.ReferencingID), zap.Error(err))
					return nil
				}
				return err
			}
			if err := e.cache.SaveLatest(ctx, entry.LatestID, statement.StatementID); err != nil {
				return err
			}
			done = append(done, entry.ReferencingID)
			out = append(out, statement)
			return nil
		})
		if err != nil {
			return nil, err
		}
		for _, id := range done {
			if err := e.cache.DeleteUpdate(ctx, id); err != nil {
				return nil, err
			}
		}
	}
	if err := e.cache.Flush(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// rewrite fetches the stored OOC statement for entry and applies its
// old-to-new reference substitutions.
func (e *Engine) rewrite(ctx context.Context, entry UpdatesEntry) (*bods.Statement, error) {
	doc, err := e.statements.Get(ctx, bods.IndexOwnership, entry.ReferencingID)
	if err != nil {
		if storage.ErrKeyNotFound.Has(err) {
			return nil, ErrInconsistent.New("pending fix-up references missing statement %s", entry.ReferencingID)
		}
		return nil, Error.Wrap(err)
	}
	var statement bods.Statement
	if err := json.Unmarshal(doc, &statement); err != nil {
		return nil, ErrInconsistent.New("stored statement %s undecodable: %v", entry.ReferencingID, err)
	}

	oldID := statement.StatementID
	for _, rw := range entry.Rewrites {
		if statement.Subject != nil && statement.Subject.DescribedByEntityStatement == rw.Old {
			statement.Subject.DescribedByEntityStatement = rw.New
		}
		if statement.InterestedParty.EntityID() == rw.Old {
			statement.InterestedParty.DescribedByEntityStatement = bods.StringPtr(rw.New)
		}
	}

	subject := ""
	if statement.Subject != nil {
		subject = statement.Subject.DescribedByEntityStatement
	}
	interested := statement.InterestedParty.EntityID()
	statement.StatementID = bods.StatementID(
		fmt.Sprintf("%s_%s_%s", entry.LatestID, subject, interested),
		string(bods.OwnershipStatement))
	statement.Replaces(oldID)
	return &statement, nil
}
