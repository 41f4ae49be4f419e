// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package stream_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openownership/bodspipelines/stream"
)

func TestMemBusOrdering(t *testing.T) {
	ctx := context.Background()
	bus := stream.NewMemBus()

	require.NoError(t, bus.Put(ctx, "gleif-lei", "a", []byte("first")))
	require.NoError(t, bus.Put(ctx, "gleif-lei", "b", []byte("second")))
	require.NoError(t, bus.Put(ctx, "gleif-rr", "a", []byte("other")))
	require.NoError(t, bus.Flush(ctx))
	assert.Equal(t, 2, bus.Len("gleif-lei"))

	data, err := bus.Get(ctx, "gleif-lei")
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
	data, err = bus.Get(ctx, "gleif-lei")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	_, err = bus.Get(ctx, "gleif-lei")
	assert.True(t, stream.ErrEmpty.Has(err))

	data, err = bus.Get(ctx, "gleif-rr")
	require.NoError(t, err)
	assert.Equal(t, "other", string(data))
}

func TestMemBusCopiesData(t *testing.T) {
	ctx := context.Background()
	bus := stream.NewMemBus()

	buf := []byte("payload")
	require.NoError(t, bus.Put(ctx, "s", "k", buf))
	buf[0] = 'X'

	data, err := bus.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestExceptionsStream(t *testing.T) {
	assert.Equal(t, "gleif-lei-exceptions", stream.ExceptionsStream("gleif-lei"))
}
