// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// Package storage defines the document-store interface shared by the
// Elasticsearch, bolt and redis backends.
package storage

import (
	"context"

	"github.com/zeebo/errs"
)

// Document is raw JSON stored under an index/id pair.
type Document []byte

// Action is the kind of a bulk operation.
type Action string

// Bulk operation kinds.
const (
	ActionCreate Action = "create"
	ActionIndex  Action = "index"
	ActionDelete Action = "delete"
)

// Common store errors.
var (
	ErrKeyNotFound  = errs.Class("key not found")
	ErrEmptyKey     = errs.New("empty key")
	ErrUnknownIndex = errs.Class("unknown index")
)

// BulkItem is one operation in a bulk request.
type BulkItem struct {
	Index  string
	ID     string
	Action Action
	Doc    Document
}

// BulkResult reports the per-item outcome of a bulk request.
type BulkResult struct {
	Index   string
	ID      string
	Created bool
	Err     error
}

// IterateFunc is called for every document during Iterate. Returning an
// error stops the iteration.
type IterateFunc func(id string, doc Document) error

// Store is an index/id addressed document store. Writes are idempotent with
// respect to IDs; Create reports whether the document was newly stored.
type Store interface {
	// Get returns the document stored under index/id, or ErrKeyNotFound.
	Get(ctx context.Context, index, id string) (Document, error)
	// Put creates or overwrites the document under index/id.
	Put(ctx context.Context, index, id string, doc Document) error
	// Create stores the document only if index/id is absent.
	Create(ctx context.Context, index, id string, doc Document) (bool, error)
	// Delete removes the document under index/id.
	Delete(ctx context.Context, index, id string) error
	// Bulk applies items in order and returns one result per item.
	Bulk(ctx context.Context, items []BulkItem) ([]BulkResult, error)
	// Iterate calls fn for every document in index.
	Iterate(ctx context.Context, index string, fn IterateFunc) error
	// Setup creates any missing indexes.
	Setup(ctx context.Context) error
	Close() error
}

// CloneDocument creates a copy of doc.
func CloneDocument(doc Document) Document {
	return append(doc[:0:0], doc...)
}
