// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// Package stream defines the inter-stage bus carrying JSON records between
// the ingest and transform stages.
package stream

import (
	"context"
	"sync"

	"github.com/zeebo/errs"
)

var (
	// Error is the stream package error class.
	Error = errs.Class("stream error")

	// ErrEmpty signals that a stream has no records available right now.
	ErrEmpty = errs.Class("stream empty")
)

// ExceptionsSuffix names the companion stream carrying records that failed
// processing and await manual inspection.
const ExceptionsSuffix = "-exceptions"

// ExceptionsStream returns the exceptions stream name for stream.
func ExceptionsStream(stream string) string {
	return stream + ExceptionsSuffix
}

// Bus is an ordered message bus. Within one stream and partition key,
// records are delivered in the order they were put.
type Bus interface {
	// Put enqueues data on stream. key selects the partition where the
	// backend supports partitioning.
	Put(ctx context.Context, stream, key string, data []byte) error
	// Flush forces out any batched puts.
	Flush(ctx context.Context) error
	// Get dequeues the next record from stream, or an ErrEmpty error when
	// the stream is drained.
	Get(ctx context.Context, stream string) ([]byte, error)
	// Close releases the connection.
	Close() error
}

// MemBus is an in-memory Bus for tests and single-process runs.
type MemBus struct {
	mu      sync.Mutex
	streams map[string][][]byte
}

// NewMemBus returns an empty in-memory bus.
func NewMemBus() *MemBus {
	return &MemBus{streams: map[string][][]byte{}}
}

// Put enqueues data on stream.
func (bus *MemBus) Put(ctx context.Context, stream, key string, data []byte) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	clone := append([]byte(nil), data...)
	bus.streams[stream] = append(bus.streams[stream], clone)
	return nil
}

// Flush implements Bus; puts are immediate.
func (bus *MemBus) Flush(ctx context.Context) error { return nil }

// Get dequeues the next record from stream.
func (bus *MemBus) Get(ctx context.Context, stream string) ([]byte, error) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	queue := bus.streams[stream]
	if len(queue) == 0 {
		return nil, ErrEmpty.New("%q", stream)
	}
	head := queue[0]
	bus.streams[stream] = queue[1:]
	return head, nil
}

// Len reports how many records are queued on stream.
func (bus *MemBus) Len(stream string) int {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return len(bus.streams[stream])
}

// Close implements Bus.
func (bus *MemBus) Close() error { return nil }
