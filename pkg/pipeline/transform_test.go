// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openownership/bodspipelines/pkg/bods"
	"github.com/openownership/bodspipelines/pkg/gleif"
	"github.com/openownership/bodspipelines/storage"
	"github.com/openownership/bodspipelines/storage/teststore"
	"github.com/openownership/bodspipelines/stream"
)

func newTestTransform(t *testing.T) (*TransformStage, *teststore.Client, *stream.MemBus) {
	store := teststore.New()
	bus := stream.NewMemBus()
	log := zaptest.NewLogger(t)
	outputs := []Output{NewStoreOutput(log, store, 2)}
	stage := NewTransformStage(log, bus, store, store, NewRunLog(store), outputs,
		TransformConfig{StreamPrefix: "gleif", Watermark: 10, BatchSize: 2})
	return stage, store, bus
}

func putRecord(t *testing.T, bus *stream.MemBus, name string, rec gleif.Record) {
	doc, err := json.Marshal(rec)
	require.NoError(t, err)
	id, err := rec.ID()
	require.NoError(t, err)
	require.NoError(t, bus.Put(context.Background(), name, id, doc))
}

func TestTransformFirstLoad(t *testing.T) {
	ctx := context.Background()
	stage, store, bus := newTestTransform(t)

	putRecord(t, bus, "gleif-lei", leiRecord("213800BJPX8V9HVY1Y11", "2023-04-25T13:18:00Z"))
	putRecord(t, bus, "gleif-lei", leiRecord("213800FERQ5LE3H7WJ58", "2023-04-25T13:19:00Z"))

	require.NoError(t, stage.Run(ctx))

	assert.Equal(t, 2, store.Count(bods.IndexEntity))
	assert.Equal(t, 0, bus.Len("gleif-lei"))

	doc, err := store.Get(ctx, bods.IndexEntity, "e2d096a9-23d5-ab26-0943-44c62c6a6a98")
	require.NoError(t, err)
	var statement bods.Statement
	require.NoError(t, json.Unmarshal(doc, &statement))
	assert.Equal(t, bods.EntityStatement, statement.StatementType)
	assert.Equal(t, "EXAMPLE HOLDINGS LTD", statement.Name)

	// the latest index survived the cache flush
	assert.Equal(t, 2, store.Count("latest"))

	run, found, err := stage.runs.Latest(ctx, StageTransform)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, run.End.IsZero())
}

func TestTransformIncrementalRevision(t *testing.T) {
	ctx := context.Background()
	stage, store, bus := newTestTransform(t)

	putRecord(t, bus, "gleif-lei", leiRecord("213800BJPX8V9HVY1Y11", "2023-04-25T13:18:00Z"))
	require.NoError(t, stage.Run(ctx))

	// second run sees the prior run and reconciles against it
	putRecord(t, bus, "gleif-lei", leiRecord("213800BJPX8V9HVY1Y11", "2023-06-18T15:41:20Z"))
	require.NoError(t, stage.Run(ctx))

	assert.Equal(t, 2, store.Count(bods.IndexEntity))

	var replacement bods.Statement
	err := store.Iterate(ctx, bods.IndexEntity, func(id string, doc storage.Document) error {
		var statement bods.Statement
		require.NoError(t, json.Unmarshal(doc, &statement))
		if len(statement.ReplacesStatements) > 0 {
			replacement = statement
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"e2d096a9-23d5-ab26-0943-44c62c6a6a98"}, replacement.ReplacesStatements)
}

func TestTransformParksMalformedRecords(t *testing.T) {
	ctx := context.Background()
	stage, store, bus := newTestTransform(t)

	require.NoError(t, bus.Put(ctx, "gleif-lei", "", []byte("not json")))
	putRecord(t, bus, "gleif-lei", leiRecord("213800BJPX8V9HVY1Y11", "2023-04-25T13:18:00Z"))

	require.NoError(t, stage.Run(ctx))

	assert.Equal(t, 1, store.Count(bods.IndexEntity), "the good record still lands")
	require.Equal(t, 1, bus.Len(stream.ExceptionsStream("gleif-lei")))
	data, err := bus.Get(ctx, stream.ExceptionsStream("gleif-lei"))
	require.NoError(t, err)
	assert.Equal(t, "not json", string(data))
}

func TestTransformRelationshipAfterEntities(t *testing.T) {
	ctx := context.Background()
	stage, store, bus := newTestTransform(t)

	putRecord(t, bus, "gleif-lei", leiRecord("010G7UHBHEI87EKP0Q97", "2023-04-25T13:18:00Z"))
	putRecord(t, bus, "gleif-lei", leiRecord("549300GW9ZOFEMK68A28", "2023-04-25T13:19:00Z"))
	putRecord(t, bus, "gleif-rr", gleif.Record{Kind: gleif.KindRelationship, Relationship: &gleif.RelationshipRecord{
		Relationship: gleif.Relationship{
			StartNode:        gleif.Node{NodeID: "010G7UHBHEI87EKP0Q97"},
			EndNode:          gleif.Node{NodeID: "549300GW9ZOFEMK68A28"},
			RelationshipType: gleif.RelDirectlyConsolidated,
		},
		Registration: gleif.Registration{
			LastUpdateDate:     "2023-05-16T06:34:45Z",
			RegistrationStatus: gleif.StatusPublished,
		},
	}})

	require.NoError(t, stage.Run(ctx))

	assert.Equal(t, 2, store.Count(bods.IndexEntity))
	require.Equal(t, 1, store.Count(bods.IndexOwnership))

	var ooc bods.Statement
	err := store.Iterate(ctx, bods.IndexOwnership, func(id string, doc storage.Document) error {
		return json.Unmarshal(doc, &ooc)
	})
	require.NoError(t, err)
	require.NotNil(t, ooc.Subject)
	// the OOC references the entity statements emitted earlier in the run
	subjectDoc, err := store.Get(ctx, bods.IndexEntity, ooc.Subject.DescribedByEntityStatement)
	require.NoError(t, err)
	assert.Contains(t, string(subjectDoc), "010G7UHBHEI87EKP0Q97")
}
