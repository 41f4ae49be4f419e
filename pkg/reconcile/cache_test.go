// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openownership/bodspipelines/storage"
	"github.com/openownership/bodspipelines/storage/teststore"
)

func TestCacheReadYourWrites(t *testing.T) {
	ctx := context.Background()
	store := teststore.New()
	cache := NewCache(zaptest.NewLogger(t), store, 0)

	require.NoError(t, cache.SaveLatest(ctx, "LEI1", "statement-1"))
	entry, ok, err := cache.Latest("LEI1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "statement-1", entry.StatementID)
	assert.Equal(t, "LEI1", entry.LatestID)

	// nothing hits the store until flush
	_, err = store.Get(ctx, IndexLatest, "LEI1")
	assert.True(t, storage.ErrKeyNotFound.Has(err))

	require.NoError(t, cache.Flush(ctx))
	doc, err := store.Get(ctx, IndexLatest, "LEI1")
	require.NoError(t, err)
	assert.Contains(t, string(doc), "statement-1")
}

func TestCacheLoad(t *testing.T) {
	ctx := context.Background()
	store := teststore.New()
	require.NoError(t, store.Put(ctx, IndexLatest, "LEI1",
		[]byte(`{"latest_id":"LEI1","statement_id":"statement-1"}`)))
	require.NoError(t, store.Put(ctx, IndexExceptions, "LEI1_DIRECT_ACCOUNTING_CONSOLIDATION_PARENT",
		[]byte(`{"latest_id":"LEI1_DIRECT_ACCOUNTING_CONSOLIDATION_PARENT","statement_id":"ooc-1","other_id":"ent-1","reason":"NO_LEI","entity_type":"entityStatement"}`)))

	cache := NewCache(zaptest.NewLogger(t), store, 0)
	require.NoError(t, cache.Load(ctx))

	entry, ok, err := cache.Latest("LEI1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "statement-1", entry.StatementID)

	exc, ok, err := cache.Exception("LEI1_DIRECT_ACCOUNTING_CONSOLIDATION_PARENT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ooc-1", exc.OwnershipID)
	assert.Equal(t, "ent-1", exc.OtherID)
}

func TestCacheUpdatesMemoryOnly(t *testing.T) {
	ctx := context.Background()
	store := teststore.New()
	cache := NewCache(zaptest.NewLogger(t), store, 0)

	require.NoError(t, cache.SaveUpdate(ctx, "ooc-1", "A_B_TYPE", "old-ent", "new-ent"))
	require.NoError(t, cache.SaveUpdate(ctx, "ooc-1", "A_B_TYPE", "old-ent", "newer-ent"))
	require.NoError(t, cache.SaveUpdate(ctx, "ooc-1", "A_B_TYPE", "old-2", "new-2"))

	entry, ok, err := cache.Updates("ooc-1")
	require.NoError(t, err)
	require.True(t, ok)
	// merged, last write wins per old ID
	require.Len(t, entry.Rewrites, 2)
	assert.Equal(t, Rewrite{Old: "old-ent", New: "newer-ent"}, entry.Rewrites[0])

	require.NoError(t, cache.Flush(ctx))
	_, err = store.Get(ctx, IndexUpdates, "ooc-1")
	assert.True(t, storage.ErrKeyNotFound.Has(err), "updates index must never be written back")

	require.NoError(t, cache.DeleteUpdate(ctx, "ooc-1"))
	_, ok, err = cache.Updates("ooc-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheWatermarkAutoFlush(t *testing.T) {
	ctx := context.Background()
	store := teststore.New()
	cache := NewCache(zaptest.NewLogger(t), store, 3)

	for _, key := range []string{"a", "b"} {
		require.NoError(t, cache.SaveLatest(ctx, key, "id-"+key))
	}
	assert.Equal(t, 0, store.CallCount.Bulk)

	require.NoError(t, cache.SaveLatest(ctx, "c", "id-c"))
	assert.Equal(t, 1, store.CallCount.Bulk, "third pending item crosses the watermark")

	for _, key := range []string{"a", "b", "c"} {
		doc, err := store.Get(ctx, IndexLatest, key)
		require.NoError(t, err)
		assert.Contains(t, string(doc), "id-"+key)
	}
}

func TestCacheReferencesMerge(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(zaptest.NewLogger(t), teststore.New(), 0)

	require.NoError(t, cache.SaveReference(ctx, "ent-1", Referencing{StatementID: "ooc-1", LatestID: "A_B_T"}))
	require.NoError(t, cache.SaveReference(ctx, "ent-1", Referencing{StatementID: "ooc-2", LatestID: "A_C_T"}))
	require.NoError(t, cache.SaveReference(ctx, "ent-1", Referencing{StatementID: "ooc-1", LatestID: "A_B_T2"}))

	entry, ok, err := cache.References("ent-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, entry.Referencing, 2)
	assert.Equal(t, "A_B_T2", entry.Referencing[0].LatestID)
}
