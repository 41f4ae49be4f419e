// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// Package teststore implements an in-memory document store.
package teststore

import (
	"context"
	"sort"
	"sync"

	"github.com/openownership/bodspipelines/storage"
)

// Client implements an in-memory document store for tests.
type Client struct {
	mu      sync.Mutex
	indexes map[string]map[string]storage.Document

	CallCount struct {
		Get     int
		Put     int
		Create  int
		Delete  int
		Bulk    int
		Iterate int
	}
}

// New creates a new in-memory document store.
func New() *Client {
	return &Client{indexes: map[string]map[string]storage.Document{}}
}

func (store *Client) index(name string) map[string]storage.Document {
	index, ok := store.indexes[name]
	if !ok {
		index = map[string]storage.Document{}
		store.indexes[name] = index
	}
	return index
}

// Get returns the document stored under index/id.
func (store *Client) Get(ctx context.Context, index, id string) (storage.Document, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Get++

	if id == "" {
		return nil, storage.ErrEmptyKey
	}
	doc, ok := store.index(index)[id]
	if !ok {
		return nil, storage.ErrKeyNotFound.New("%s/%s", index, id)
	}
	return storage.CloneDocument(doc), nil
}

// Put creates or overwrites the document under index/id.
func (store *Client) Put(ctx context.Context, index, id string, doc storage.Document) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Put++

	if id == "" {
		return storage.ErrEmptyKey
	}
	store.index(index)[id] = storage.CloneDocument(doc)
	return nil
}

// Create stores the document only if index/id is absent.
func (store *Client) Create(ctx context.Context, index, id string, doc storage.Document) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Create++

	if id == "" {
		return false, storage.ErrEmptyKey
	}
	if _, ok := store.index(index)[id]; ok {
		return false, nil
	}
	store.index(index)[id] = storage.CloneDocument(doc)
	return true, nil
}

// Delete removes the document under index/id.
func (store *Client) Delete(ctx context.Context, index, id string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Delete++

	if id == "" {
		return storage.ErrEmptyKey
	}
	delete(store.index(index), id)
	return nil
}

// Bulk applies items in order and returns one result per item.
func (store *Client) Bulk(ctx context.Context, items []storage.BulkItem) ([]storage.BulkResult, error) {
	store.mu.Lock()
	store.CallCount.Bulk++
	store.mu.Unlock()

	results := make([]storage.BulkResult, 0, len(items))
	for _, item := range items {
		result := storage.BulkResult{Index: item.Index, ID: item.ID}
		switch item.Action {
		case storage.ActionCreate:
			created, err := store.Create(ctx, item.Index, item.ID, item.Doc)
			result.Created, result.Err = created, err
		case storage.ActionIndex:
			result.Err = store.Put(ctx, item.Index, item.ID, item.Doc)
		case storage.ActionDelete:
			result.Err = store.Delete(ctx, item.Index, item.ID)
		}
		results = append(results, result)
	}
	return results, nil
}

// Iterate calls fn for every document in index, in key order.
func (store *Client) Iterate(ctx context.Context, index string, fn storage.IterateFunc) error {
	store.mu.Lock()
	store.CallCount.Iterate++
	ids := make([]string, 0, len(store.index(index)))
	for id := range store.index(index) {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	docs := make([]storage.Document, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, storage.CloneDocument(store.index(index)[id]))
	}
	store.mu.Unlock()

	for i, id := range ids {
		if err := fn(id, docs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of documents in index.
func (store *Client) Count(index string) int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.index(index))
}

// Setup implements storage.Store; nothing to create in memory.
func (store *Client) Setup(ctx context.Context) error { return nil }

// Close closes the store.
func (store *Client) Close() error { return nil }
