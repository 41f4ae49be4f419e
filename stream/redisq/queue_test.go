// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package redisq

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openownership/bodspipelines/stream"
)

func newTestQueue(t *testing.T) *Queue {
	server := miniredis.RunT(t)
	queue, err := New(context.Background(), Config{Host: server.Host(), Port: server.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = queue.Close() })
	return queue
}

func TestQueueOrdering(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)

	require.NoError(t, queue.Put(ctx, "gleif-lei", "a", []byte("first")))
	require.NoError(t, queue.Put(ctx, "gleif-lei", "b", []byte("second")))
	require.NoError(t, queue.Flush(ctx))

	data, err := queue.Get(ctx, "gleif-lei")
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
	data, err = queue.Get(ctx, "gleif-lei")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	_, err = queue.Get(ctx, "gleif-lei")
	assert.True(t, stream.ErrEmpty.Has(err))
}

func TestQueueStreamsAreIndependent(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t)

	require.NoError(t, queue.Put(ctx, "gleif-rr", "k", []byte("rr")))

	_, err := queue.Get(ctx, "gleif-lei")
	assert.True(t, stream.ErrEmpty.Has(err))

	data, err := queue.Get(ctx, "gleif-rr")
	require.NoError(t, err)
	assert.Equal(t, "rr", string(data))
}
