// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// Package redisq implements the inter-stage bus on Redis lists.
package redisq

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/openownership/bodspipelines/stream"
)

var mon = monkit.Package()

// Config holds the Redis connection settings.
type Config struct {
	Host string `help:"redis host" default:"localhost"`
	Port string `help:"redis port" default:"6379"`
	DB   int    `help:"redis database number" default:"0"`
}

// Queue implements stream.Bus on Redis lists, one list per stream.
// Partition keys are ignored: a list is a single partition.
type Queue struct {
	rdb *redis.Client
}

// New connects to the Redis database described by config.
func New(ctx context.Context, config Config) (*Queue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", config.Host, config.Port),
		DB:   config.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, stream.Error.New("ping failed: %v", err)
	}
	return &Queue{rdb: rdb}, nil
}

// Put enqueues data on the stream's list.
func (queue *Queue) Put(ctx context.Context, name, key string, data []byte) (err error) {
	defer mon.Task()(&ctx)(&err)
	return stream.Error.Wrap(queue.rdb.LPush(ctx, name, data).Err())
}

// Flush implements stream.Bus; puts are immediate.
func (queue *Queue) Flush(ctx context.Context) error { return nil }

// Get dequeues the oldest record from the stream's list.
func (queue *Queue) Get(ctx context.Context, name string) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := queue.rdb.RPop(ctx, name).Bytes()
	if err == redis.Nil {
		return nil, stream.ErrEmpty.New("%q", name)
	}
	if err != nil {
		return nil, stream.Error.Wrap(err)
	}
	return data, nil
}

// Close closes the connection.
func (queue *Queue) Close() error {
	return stream.Error.Wrap(queue.rdb.Close())
}
