// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// Package storelogger implements a logging decorator for storage.Store.
package storelogger

import (
	"context"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/openownership/bodspipelines/storage"
)

var mon = monkit.Package()

var id int64

// Logger implements a zap logging wrapper for storage.Store
type Logger struct {
	log   *zap.Logger
	store storage.Store
}

// New creates a new Logger with log and store
func New(log *zap.Logger, store storage.Store) *Logger {
	loggerid := atomic.AddInt64(&id, 1)
	name := strconv.Itoa(int(loggerid))
	return &Logger{log.Named(name), store}
}

// Get returns the document stored under index/id
func (store *Logger) Get(ctx context.Context, index, id string) (_ storage.Document, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Get", zap.String("index", index), zap.String("id", id))
	return store.store.Get(ctx, index, id)
}

// Put creates or overwrites the document under index/id
func (store *Logger) Put(ctx context.Context, index, id string, doc storage.Document) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Put", zap.String("index", index), zap.String("id", id), zap.Int("doc length", len(doc)))
	return store.store.Put(ctx, index, id, doc)
}

// Create stores the document only if index/id is absent
func (store *Logger) Create(ctx context.Context, index, id string, doc storage.Document) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Create", zap.String("index", index), zap.String("id", id), zap.Int("doc length", len(doc)))
	return store.store.Create(ctx, index, id, doc)
}

// Delete removes the document under index/id
func (store *Logger) Delete(ctx context.Context, index, id string) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Delete", zap.String("index", index), zap.String("id", id))
	return store.store.Delete(ctx, index, id)
}

// Bulk applies items in order and returns one result per item
func (store *Logger) Bulk(ctx context.Context, items []storage.BulkItem) (_ []storage.BulkResult, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Bulk", zap.Int("items", len(items)))
	return store.store.Bulk(ctx, items)
}

// Iterate calls fn for every document in index
func (store *Logger) Iterate(ctx context.Context, index string, fn storage.IterateFunc) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Iterate", zap.String("index", index))
	return store.store.Iterate(ctx, index, fn)
}

// Setup creates any missing indexes
func (store *Logger) Setup(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Setup")
	return store.store.Setup(ctx)
}

// Close closes the store
func (store *Logger) Close() error {
	return store.store.Close()
}
