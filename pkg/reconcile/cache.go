// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// Package reconcile decides how each incoming GLEIF record relates to the
// statements already published: first emission, replacement, void, or a
// deferred reference fix-up.
package reconcile

import (
	"context"
	"encoding/json"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/openownership/bodspipelines/pkg/bods"
	"github.com/openownership/bodspipelines/storage"
)

var (
	mon = monkit.Package()

	// Error is the reconcile package error class.
	Error = errs.Class("reconcile error")
)

// Auxiliary index names.
const (
	IndexLatest     = "latest"
	IndexReferences = "references"
	IndexUpdates    = "updates"
	IndexExceptions = "exceptions"
)

// AuxIndexes lists the auxiliary indexes hydrated into the cache.
var AuxIndexes = []string{IndexLatest, IndexReferences, IndexUpdates, IndexExceptions}

// DefaultWatermark is the per-index batch size that triggers an automatic
// flush.
const DefaultWatermark = 485

// LatestEntry records the newest statement ID emitted for a domain key.
type LatestEntry struct {
	LatestID    string `json:"latest_id"`
	StatementID string `json:"statement_id"`
	Reason      string `json:"reason,omitempty"`
}

// Referencing is one ownership-or-control statement referencing an entity
// statement, together with its own domain key.
type Referencing struct {
	StatementID string `json:"statement_id"`
	LatestID    string `json:"latest_id"`
}

// ReferencesEntry lists the statements referencing an entity statement ID.
type ReferencesEntry struct {
	StatementID string        `json:"statement_id"`
	Referencing []Referencing `json:"references_id"`
}

// Rewrite is one old-to-new statement ID substitution.
type Rewrite struct {
	Old string `json:"old_statement_id"`
	New string `json:"new_statement_id"`
}

// UpdatesEntry is a pending fix-up of an ownership-or-control statement
// whose referenced entity statements have been superseded.
type UpdatesEntry struct {
	ReferencingID string    `json:"referencing_id"`
	LatestID      string    `json:"latest_id"`
	Rewrites      []Rewrite `json:"updates"`
}

// Set merges a rewrite into the entry, overwriting an existing rewrite for
// the same old ID.
func (e *UpdatesEntry) Set(old, new string) {
	for i := range e.Rewrites {
		if e.Rewrites[i].Old == old {
			e.Rewrites[i].New = new
			return
		}
	}
	e.Rewrites = append(e.Rewrites, Rewrite{Old: old, New: new})
}

// ExceptionEntry records the active reporting-exception statements for an
// "{LEI}_{Category}" key.
type ExceptionEntry struct {
	LatestID    string             `json:"latest_id"`
	OwnershipID string             `json:"statement_id"`
	OtherID     string             `json:"other_id"`
	Reason      string             `json:"reason"`
	Reference   string             `json:"reference,omitempty"`
	EntityType  bods.StatementType `json:"entity_type"`
}

// Cache fronts the four auxiliary indexes with an in-memory map and batched
// write-back. It is used from a single consumer and is not safe for
// concurrent use. The updates index is memory-only: it is fully hydrated on
// Load and never written back.
type Cache struct {
	log       *zap.Logger
	store     storage.Store
	watermark int

	entries map[string]map[string]storage.Document
	pending map[string][]storage.BulkItem
}

// NewCache returns a cache backed by store. A non-positive watermark falls
// back to the default.
func NewCache(log *zap.Logger, store storage.Store, watermark int) *Cache {
	if watermark <= 0 {
		watermark = DefaultWatermark
	}
	cache := &Cache{
		log:       log,
		store:     store,
		watermark: watermark,
		entries:   make(map[string]map[string]storage.Document),
		pending:   make(map[string][]storage.BulkItem),
	}
	for _, index := range AuxIndexes {
		cache.entries[index] = make(map[string]storage.Document)
	}
	return cache
}

// Load hydrates all auxiliary indexes into memory.
func (cache *Cache) Load(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	for _, index := range AuxIndexes {
		count := 0
		err := cache.store.Iterate(ctx, index, func(id string, doc storage.Document) error {
			cache.entries[index][id] = storage.CloneDocument(doc)
			count++
			return nil
		})
		if err != nil {
			return Error.Wrap(err)
		}
		cache.log.Debug("index hydrated", zap.String("index", index), zap.Int("entries", count))
	}
	return nil
}

// Get returns the cached document under index/key.
func (cache *Cache) Get(index, key string) (storage.Document, bool) {
	doc, ok := cache.entries[index][key]
	return doc, ok
}

// Add stores doc under index/key and queues it for write-back unless the
// index is memory-only. With overwrite false an existing entry is kept.
func (cache *Cache) Add(ctx context.Context, index, key string, doc storage.Document, overwrite bool) error {
	entries, ok := cache.entries[index]
	if !ok {
		return storage.ErrUnknownIndex.New("%q", index)
	}
	if _, exists := entries[key]; exists && !overwrite {
		return nil
	}
	entries[key] = doc

	if index == IndexUpdates {
		return nil
	}
	action := storage.ActionCreate
	if overwrite {
		action = storage.ActionIndex
	}
	cache.pending[index] = append(cache.pending[index], storage.BulkItem{
		Index:  index,
		ID:     key,
		Action: action,
		Doc:    doc,
	})
	if len(cache.pending[index]) >= cache.watermark {
		return cache.flushIndex(ctx, index)
	}
	return nil
}

// Delete removes index/key from memory and, for durable indexes, queues a
// delete.
func (cache *Cache) Delete(ctx context.Context, index, key string) error {
	entries, ok := cache.entries[index]
	if !ok {
		return storage.ErrUnknownIndex.New("%q", index)
	}
	if _, exists := entries[key]; !exists {
		return nil
	}
	delete(entries, key)

	if index == IndexUpdates {
		return nil
	}
	cache.pending[index] = append(cache.pending[index], storage.BulkItem{
		Index:  index,
		ID:     key,
		Action: storage.ActionDelete,
	})
	if len(cache.pending[index]) >= cache.watermark {
		return cache.flushIndex(ctx, index)
	}
	return nil
}

// Stream calls fn for every in-memory entry of index.
func (cache *Cache) Stream(index string, fn func(key string, doc storage.Document) error) error {
	entries, ok := cache.entries[index]
	if !ok {
		return storage.ErrUnknownIndex.New("%q", index)
	}
	for key, doc := range entries {
		if err := fn(key, doc); err != nil {
			return err
		}
	}
	return nil
}

// Flush drains every pending batch through the store's bulk API.
func (cache *Cache) Flush(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	for index := range cache.pending {
		if err := cache.flushIndex(ctx, index); err != nil {
			return err
		}
	}
	return nil
}

func (cache *Cache) flushIndex(ctx context.Context, index string) error {
	items := cache.pending[index]
	if len(items) == 0 {
		return nil
	}
	cache.pending[index] = nil

	results, err := cache.store.Bulk(ctx, items)
	if err != nil {
		return Error.Wrap(err)
	}
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			cache.log.Warn("bulk write failed",
				zap.String("index", result.Index), zap.String("id", result.ID),
				zap.Error(result.Err))
		}
	}
	cache.log.Debug("index flushed",
		zap.String("index", index), zap.Int("items", len(items)), zap.Int("failed", failed))
	return nil
}

// Latest returns the latest entry for a domain key.
func (cache *Cache) Latest(key string) (LatestEntry, bool, error) {
	var entry LatestEntry
	ok, err := cache.getJSON(IndexLatest, key, &entry)
	return entry, ok, err
}

// SaveLatest records statementID as the newest emission for key.
func (cache *Cache) SaveLatest(ctx context.Context, key, statementID string) error {
	return cache.addJSON(ctx, IndexLatest, key, LatestEntry{
		LatestID:    key,
		StatementID: statementID,
	})
}

// References returns the statements referencing an entity statement ID.
func (cache *Cache) References(statementID string) (ReferencesEntry, bool, error) {
	var entry ReferencesEntry
	ok, err := cache.getJSON(IndexReferences, statementID, &entry)
	return entry, ok, err
}

// SaveReference records that referencing (an OOC and its domain key) points
// at the entity statement referencedID.
func (cache *Cache) SaveReference(ctx context.Context, referencedID string, referencing Referencing) error {
	entry, _, err := cache.References(referencedID)
	if err != nil {
		return err
	}
	entry.StatementID = referencedID
	replaced := false
	for i := range entry.Referencing {
		if entry.Referencing[i].StatementID == referencing.StatementID {
			entry.Referencing[i] = referencing
			replaced = true
			break
		}
	}
	if !replaced {
		entry.Referencing = append(entry.Referencing, referencing)
	}
	return cache.addJSON(ctx, IndexReferences, referencedID, entry)
}

// Updates returns the pending fix-up entry keyed by an OOC statement ID.
func (cache *Cache) Updates(statementID string) (UpdatesEntry, bool, error) {
	var entry UpdatesEntry
	ok, err := cache.getJSON(IndexUpdates, statementID, &entry)
	return entry, ok, err
}

// SaveUpdate merges an old-to-new rewrite into the fix-up entry for
// referencingID.
func (cache *Cache) SaveUpdate(ctx context.Context, referencingID, latestID, old, new string) error {
	entry, _, err := cache.Updates(referencingID)
	if err != nil {
		return err
	}
	entry.ReferencingID = referencingID
	entry.LatestID = latestID
	entry.Set(old, new)
	return cache.addJSON(ctx, IndexUpdates, referencingID, entry)
}

// DeleteUpdate drops the pending fix-up for an OOC statement ID.
func (cache *Cache) DeleteUpdate(ctx context.Context, statementID string) error {
	return cache.Delete(ctx, IndexUpdates, statementID)
}

// StreamUpdates calls fn for every pending fix-up entry.
func (cache *Cache) StreamUpdates(fn func(entry UpdatesEntry) error) error {
	return cache.Stream(IndexUpdates, func(key string, doc storage.Document) error {
		var entry UpdatesEntry
		if err := json.Unmarshal(doc, &entry); err != nil {
			return Error.Wrap(err)
		}
		return fn(entry)
	})
}

// Exception returns the active exception entry for an "{LEI}_{Category}"
// key.
func (cache *Cache) Exception(key string) (ExceptionEntry, bool, error) {
	var entry ExceptionEntry
	ok, err := cache.getJSON(IndexExceptions, key, &entry)
	return entry, ok, err
}

// SaveException records the active exception statements for key.
func (cache *Cache) SaveException(ctx context.Context, key string, entry ExceptionEntry) error {
	entry.LatestID = key
	return cache.addJSON(ctx, IndexExceptions, key, entry)
}

// DeleteException clears the exception entry for key.
func (cache *Cache) DeleteException(ctx context.Context, key string) error {
	return cache.Delete(ctx, IndexExceptions, key)
}

func (cache *Cache) getJSON(index, key string, value interface{}) (bool, error) {
	doc, ok := cache.Get(index, key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(doc, value); err != nil {
		return false, Error.Wrap(err)
	}
	return true, nil
}

func (cache *Cache) addJSON(ctx context.Context, index, key string, value interface{}) error {
	doc, err := json.Marshal(value)
	if err != nil {
		return Error.Wrap(err)
	}
	return cache.Add(ctx, index, key, doc, true)
}
