// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// Package pipeline drives the two pipeline stages: ingest pulls GLEIF
// golden-copy files, deduplicates their records and feeds the bus; transform
// turns bus records into BODS statements via the reconcile engine.
package pipeline

import (
	"context"

	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/openownership/bodspipelines/pkg/bods"
	"github.com/openownership/bodspipelines/pkg/gleif"
	"github.com/openownership/bodspipelines/pkg/reconcile"
	"github.com/openownership/bodspipelines/storage"
)

var (
	mon = monkit.Package()

	// Error is the pipeline package error class.
	Error = errs.Class("pipeline error")

	// ErrMalformed marks a record that cannot be decoded or fails basic
	// validity checks. Malformed records are skipped, not fatal.
	ErrMalformed = errs.Class("malformed record")

	// ErrTransient marks a failure of an external service that survived its
	// retry budget. The run aborts and can be retried as a whole.
	ErrTransient = errs.Class("transient failure")
)

// Indexes lists every index the pipeline stores documents in.
func Indexes() []string {
	indexes := []string{
		string(gleif.KindLEI), string(gleif.KindRelationship), string(gleif.KindException),
		bods.IndexEntity, bods.IndexPerson, bods.IndexOwnership,
		IndexRuns,
	}
	return append(indexes, reconcile.AuxIndexes...)
}

// Setup creates all pipeline indexes on store.
func Setup(ctx context.Context, store storage.Store) error {
	return Error.Wrap(store.Setup(ctx))
}
