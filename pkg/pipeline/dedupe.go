// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package pipeline

import (
	"context"
	"encoding/json"

	"github.com/openownership/bodspipelines/pkg/gleif"
	"github.com/openownership/bodspipelines/storage"
)

// DefaultDedupeBatch is the default raw-record create batch size.
const DefaultDedupeBatch = 100

// Fresh is a record that passed deduplication, ready for the bus.
type Fresh struct {
	ID  string
	Doc storage.Document
}

// Deduper decides whether a record revision was seen before. The record's
// content-addressed key is created in the raw-record index; a key already
// present means the exact revision was ingested in an earlier run. Creates
// are batched through the store's bulk API.
type Deduper struct {
	store   storage.Store
	batch   int
	pending []storage.BulkItem
}

// NewDeduper returns a deduper over store. A non-positive batch falls back to
// the default.
func NewDeduper(store storage.Store, batch int) *Deduper {
	if batch <= 0 {
		batch = DefaultDedupeBatch
	}
	return &Deduper{store: store, batch: batch}
}

// Add queues rec for deduplication. Once a batch fills up it is flushed and
// the records not seen before are returned, in input order.
func (d *Deduper) Add(ctx context.Context, rec gleif.Record) ([]Fresh, error) {
	id, err := rec.ID()
	if err != nil {
		return nil, ErrMalformed.Wrap(err)
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	d.pending = append(d.pending, storage.BulkItem{
		Index:  rec.Index(),
		ID:     id,
		Action: storage.ActionCreate,
		Doc:    doc,
	})
	if len(d.pending) >= d.batch {
		return d.Flush(ctx)
	}
	return nil, nil
}

// Flush creates the queued records and returns those stored for the first
// time.
func (d *Deduper) Flush(ctx context.Context) ([]Fresh, error) {
	items := d.pending
	if len(items) == 0 {
		return nil, nil
	}
	d.pending = nil

	results, err := d.store.Bulk(ctx, items)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	var fresh []Fresh
	for i, result := range results {
		if result.Err != nil {
			return nil, Error.Wrap(result.Err)
		}
		if result.Created {
			fresh = append(fresh, Fresh{ID: items[i].ID, Doc: items[i].Doc})
		}
	}
	return fresh, nil
}
