// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// Package rediskv implements storage.Store on Redis, keying documents as
// "{index}/{id}". It serves as a fast alternative backend for the auxiliary
// indexes.
package rediskv

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/openownership/bodspipelines/storage"
)

var (
	mon = monkit.Package()

	// Error is the rediskv storage error class.
	Error = errs.Class("rediskv error")
)

// Config holds the Redis connection settings.
type Config struct {
	Host string `help:"redis host" default:"localhost"`
	Port string `help:"redis port" default:"6379"`
	DB   int    `help:"redis database number" default:"0"`
}

// Client implements storage.Store on a Redis database.
type Client struct {
	rdb *redis.Client
}

// New connects to the Redis database described by config.
func New(ctx context.Context, config Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", config.Host, config.Port),
		DB:   config.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, Error.New("ping failed: %v", err)
	}
	return &Client{rdb: rdb}, nil
}

func key(index, id string) string {
	return index + "/" + id
}

// Get returns the document stored under index/id.
func (client *Client) Get(ctx context.Context, index, id string) (_ storage.Document, err error) {
	defer mon.Task()(&ctx)(&err)
	if id == "" {
		return nil, storage.ErrEmptyKey
	}

	value, err := client.rdb.Get(ctx, key(index, id)).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrKeyNotFound.New("%s/%s", index, id)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return value, nil
}

// Put creates or overwrites the document under index/id.
func (client *Client) Put(ctx context.Context, index, id string, doc storage.Document) (err error) {
	defer mon.Task()(&ctx)(&err)
	if id == "" {
		return storage.ErrEmptyKey
	}
	return Error.Wrap(client.rdb.Set(ctx, key(index, id), []byte(doc), 0).Err())
}

// Create stores the document only if index/id is absent.
func (client *Client) Create(ctx context.Context, index, id string, doc storage.Document) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	if id == "" {
		return false, storage.ErrEmptyKey
	}

	created, err := client.rdb.SetNX(ctx, key(index, id), []byte(doc), 0).Result()
	return created, Error.Wrap(err)
}

// Delete removes the document under index/id.
func (client *Client) Delete(ctx context.Context, index, id string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if id == "" {
		return storage.ErrEmptyKey
	}
	return Error.Wrap(client.rdb.Del(ctx, key(index, id)).Err())
}

// Bulk applies items through a pipeline and returns one result per item.
func (client *Client) Bulk(ctx context.Context, items []storage.BulkItem) (_ []storage.BulkResult, err error) {
	defer mon.Task()(&ctx)(&err)
	if len(items) == 0 {
		return nil, nil
	}

	pipe := client.rdb.Pipeline()
	commands := make([]redis.Cmder, 0, len(items))
	for _, item := range items {
		switch item.Action {
		case storage.ActionCreate:
			commands = append(commands, pipe.SetNX(ctx, key(item.Index, item.ID), []byte(item.Doc), 0))
		case storage.ActionIndex:
			commands = append(commands, pipe.Set(ctx, key(item.Index, item.ID), []byte(item.Doc), 0))
		case storage.ActionDelete:
			commands = append(commands, pipe.Del(ctx, key(item.Index, item.ID)))
		default:
			return nil, storage.ErrUnknownIndex.New("bulk action %q", item.Action)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, Error.Wrap(err)
	}

	results := make([]storage.BulkResult, 0, len(items))
	for i, cmd := range commands {
		result := storage.BulkResult{Index: items[i].Index, ID: items[i].ID}
		switch c := cmd.(type) {
		case *redis.BoolCmd:
			created, err := c.Result()
			result.Created, result.Err = created, Error.Wrap(err)
		default:
			result.Err = Error.Wrap(cmd.Err())
		}
		results = append(results, result)
	}
	return results, nil
}

// Iterate calls fn for every document in index.
func (client *Client) Iterate(ctx context.Context, index string, fn storage.IterateFunc) (err error) {
	defer mon.Task()(&ctx)(&err)

	prefix := index + "/"
	iter := client.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		value, err := client.rdb.Get(ctx, fullKey).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return Error.Wrap(err)
		}
		if err := fn(strings.TrimPrefix(fullKey, prefix), value); err != nil {
			return err
		}
	}
	return Error.Wrap(iter.Err())
}

// Setup implements storage.Store; Redis needs no index creation.
func (client *Client) Setup(ctx context.Context) error { return nil }

// Close closes the connection.
func (client *Client) Close() error {
	return Error.Wrap(client.rdb.Close())
}
