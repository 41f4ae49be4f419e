// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// Package boltdb implements storage.Store on a local bolt file, one bucket
// per index. It backs small deployments and offline runs.
package boltdb

import (
	"context"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/openownership/bodspipelines/storage"
)

var (
	mon = monkit.Package()

	// Error is the boltdb storage error class.
	Error = errs.Class("boltdb error")
)

// Client implements storage.Store on a bolt database file.
type Client struct {
	db      *bolt.DB
	path    string
	indexes []string
}

const (
	// fileMode sets permissions on the database file.
	fileMode       = 0o600
	defaultTimeout = 1 * time.Second
)

// New opens the bolt database at path. indexes lists the buckets Setup
// creates.
func New(path string, indexes []string) (*Client, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Client{db: db, path: path, indexes: indexes}, nil
}

func (client *Client) bucket(tx *bolt.Tx, index string) (*bolt.Bucket, error) {
	bucket := tx.Bucket([]byte(index))
	if bucket == nil {
		return nil, storage.ErrUnknownIndex.New("%q", index)
	}
	return bucket, nil
}

// Get returns the document stored under index/id.
func (client *Client) Get(ctx context.Context, index, id string) (_ storage.Document, err error) {
	defer mon.Task()(&ctx)(&err)
	if id == "" {
		return nil, storage.ErrEmptyKey
	}

	var doc storage.Document
	err = client.db.View(func(tx *bolt.Tx) error {
		bucket, err := client.bucket(tx, index)
		if err != nil {
			return err
		}
		value := bucket.Get([]byte(id))
		if value == nil {
			return storage.ErrKeyNotFound.New("%s/%s", index, id)
		}
		doc = storage.CloneDocument(value)
		return nil
	})
	return doc, err
}

// Put creates or overwrites the document under index/id.
func (client *Client) Put(ctx context.Context, index, id string, doc storage.Document) (err error) {
	defer mon.Task()(&ctx)(&err)
	if id == "" {
		return storage.ErrEmptyKey
	}

	return client.db.Update(func(tx *bolt.Tx) error {
		bucket, err := client.bucket(tx, index)
		if err != nil {
			return err
		}
		return Error.Wrap(bucket.Put([]byte(id), doc))
	})
}

// Create stores the document only if index/id is absent.
func (client *Client) Create(ctx context.Context, index, id string, doc storage.Document) (created bool, err error) {
	defer mon.Task()(&ctx)(&err)
	if id == "" {
		return false, storage.ErrEmptyKey
	}

	err = client.db.Update(func(tx *bolt.Tx) error {
		bucket, err := client.bucket(tx, index)
		if err != nil {
			return err
		}
		if bucket.Get([]byte(id)) != nil {
			return nil
		}
		created = true
		return Error.Wrap(bucket.Put([]byte(id), doc))
	})
	return created, err
}

// Delete removes the document under index/id.
func (client *Client) Delete(ctx context.Context, index, id string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if id == "" {
		return storage.ErrEmptyKey
	}

	return client.db.Update(func(tx *bolt.Tx) error {
		bucket, err := client.bucket(tx, index)
		if err != nil {
			return err
		}
		return Error.Wrap(bucket.Delete([]byte(id)))
	})
}

// Bulk applies items in one transaction and returns one result per item.
func (client *Client) Bulk(ctx context.Context, items []storage.BulkItem) (_ []storage.BulkResult, err error) {
	defer mon.Task()(&ctx)(&err)
	if len(items) == 0 {
		return nil, nil
	}

	results := make([]storage.BulkResult, 0, len(items))
	err = client.db.Update(func(tx *bolt.Tx) error {
		for _, item := range items {
			result := storage.BulkResult{Index: item.Index, ID: item.ID}
			bucket, err := client.bucket(tx, item.Index)
			if err != nil {
				return err
			}
			key := []byte(item.ID)
			switch item.Action {
			case storage.ActionCreate:
				if bucket.Get(key) == nil {
					result.Created = true
					result.Err = Error.Wrap(bucket.Put(key, item.Doc))
				}
			case storage.ActionIndex:
				result.Err = Error.Wrap(bucket.Put(key, item.Doc))
			case storage.ActionDelete:
				result.Err = Error.Wrap(bucket.Delete(key))
			default:
				result.Err = storage.ErrUnknownIndex.New("bulk action %q", item.Action)
			}
			results = append(results, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Iterate calls fn for every document in index, in key order.
func (client *Client) Iterate(ctx context.Context, index string, fn storage.IterateFunc) (err error) {
	defer mon.Task()(&ctx)(&err)

	return client.db.View(func(tx *bolt.Tx) error {
		bucket, err := client.bucket(tx, index)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(key, value []byte) error {
			return fn(string(key), storage.CloneDocument(value))
		})
	})
}

// Setup creates any missing buckets.
func (client *Client) Setup(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return client.db.Update(func(tx *bolt.Tx) error {
		for _, index := range client.indexes {
			if _, err := tx.CreateBucketIfNotExists([]byte(index)); err != nil {
				return Error.Wrap(err)
			}
		}
		return nil
	})
}

// Close closes the database file.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
