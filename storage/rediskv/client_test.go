// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package rediskv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openownership/bodspipelines/storage"
)

func newTestClient(t *testing.T) *Client {
	server := miniredis.RunT(t)
	client, err := New(context.Background(), Config{Host: server.Host(), Port: server.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestBasicOperations(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	_, err := client.Get(ctx, "latest", "missing")
	assert.True(t, storage.ErrKeyNotFound.Has(err))
	_, err = client.Get(ctx, "latest", "")
	assert.Equal(t, storage.ErrEmptyKey, err)

	require.NoError(t, client.Put(ctx, "latest", "a", []byte(`{"v":1}`)))
	doc, err := client.Get(ctx, "latest", "a")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(doc))

	created, err := client.Create(ctx, "latest", "a", []byte(`{"v":2}`))
	require.NoError(t, err)
	assert.False(t, created)
	created, err = client.Create(ctx, "latest", "b", []byte(`{"v":2}`))
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, client.Delete(ctx, "latest", "a"))
	_, err = client.Get(ctx, "latest", "a")
	assert.True(t, storage.ErrKeyNotFound.Has(err))
}

func TestBulkAndIterate(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	results, err := client.Bulk(ctx, []storage.BulkItem{
		{Index: "entity", ID: "1", Action: storage.ActionCreate, Doc: []byte(`{"n":1}`)},
		{Index: "entity", ID: "2", Action: storage.ActionCreate, Doc: []byte(`{"n":2}`)},
		{Index: "entity", ID: "1", Action: storage.ActionCreate, Doc: []byte(`{"n":9}`)},
		{Index: "person", ID: "3", Action: storage.ActionIndex, Doc: []byte(`{"n":3}`)},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.True(t, results[0].Created)
	assert.True(t, results[1].Created)
	assert.False(t, results[2].Created, "create of existing id is not applied")

	seen := map[string]string{}
	err = client.Iterate(ctx, "entity", func(id string, doc storage.Document) error {
		seen[id] = string(doc)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1": `{"n":1}`, "2": `{"n":2}`}, seen)
}
