// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openownership/bodspipelines/pkg/gleif"
	"github.com/openownership/bodspipelines/storage/teststore"
	"github.com/openownership/bodspipelines/stream"
)

const leiDocument = `<?xml version="1.0" encoding="UTF-8"?>
<lei:LEIData xmlns:lei="http://www.gleif.org/data/schema/leidata/2016">
  <lei:LEIHeader>
    <lei:ContentDate>2023-04-25T13:18:00Z</lei:ContentDate>
    <lei:RecordCount>3</lei:RecordCount>
  </lei:LEIHeader>
  <lei:LEIRecords>
    <lei:LEIRecord>
      <lei:LEI>213800BJPX8V9HVY1Y11</lei:LEI>
      <lei:Entity>
        <lei:LegalName>EXAMPLE HOLDINGS LTD</lei:LegalName>
        <lei:LegalJurisdiction>GB</lei:LegalJurisdiction>
      </lei:Entity>
      <lei:Registration>
        <lei:LastUpdateDate>2023-04-25T13:18:00Z</lei:LastUpdateDate>
        <lei:RegistrationStatus>ISSUED</lei:RegistrationStatus>
      </lei:Registration>
    </lei:LEIRecord>
    <lei:LEIRecord>
      <lei:Entity>
        <lei:LegalName>MISSING ITS LEI</lei:LegalName>
      </lei:Entity>
    </lei:LEIRecord>
    <lei:LEIRecord>
      <lei:LEI>213800FERQ5LE3H7WJ58</lei:LEI>
      <lei:Entity>
        <lei:LegalName>SECOND EXAMPLE PLC</lei:LegalName>
        <lei:LegalJurisdiction>GB</lei:LegalJurisdiction>
      </lei:Entity>
      <lei:Registration>
        <lei:LastUpdateDate>2023-04-25T13:19:00Z</lei:LastUpdateDate>
        <lei:RegistrationStatus>ISSUED</lei:RegistrationStatus>
      </lei:Registration>
    </lei:LEIRecord>
  </lei:LEIRecords>
</lei:LEIData>`

func newTestIngest(t *testing.T) (*IngestStage, *teststore.Client, *stream.MemBus) {
	store := teststore.New()
	bus := stream.NewMemBus()
	stage := NewIngestStage(zaptest.NewLogger(t), nil, store, bus, NewRunLog(store),
		IngestConfig{StreamPrefix: "gleif", BatchSize: 2})
	return stage, store, bus
}

func TestIngestFile(t *testing.T) {
	ctx := context.Background()
	stage, store, bus := newTestIngest(t)

	deduper := NewDeduper(store, 2)
	total, fresh, err := stage.ingestFile(ctx, gleif.KindLEI, strings.NewReader(leiDocument), deduper)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	remaining, err := deduper.Flush(ctx)
	require.NoError(t, err)
	require.NoError(t, stage.publish(ctx, gleif.KindLEI, remaining))
	fresh += len(remaining)

	// the record without an LEI is malformed and skipped
	assert.Equal(t, 2, fresh)
	assert.Equal(t, 2, store.Count("lei"))
	require.Equal(t, 2, bus.Len("gleif-lei"))

	data, err := bus.Get(ctx, "gleif-lei")
	require.NoError(t, err)
	var rec gleif.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	require.True(t, rec.Valid())
	assert.Equal(t, "213800BJPX8V9HVY1Y11", rec.LEI.LEI)
}

func TestIngestFileSecondRunIsQuiet(t *testing.T) {
	ctx := context.Background()
	stage, store, bus := newTestIngest(t)

	for run := 0; run < 2; run++ {
		deduper := NewDeduper(store, 2)
		_, _, err := stage.ingestFile(ctx, gleif.KindLEI, strings.NewReader(leiDocument), deduper)
		require.NoError(t, err)
		remaining, err := deduper.Flush(ctx)
		require.NoError(t, err)
		require.NoError(t, stage.publish(ctx, gleif.KindLEI, remaining))
	}

	assert.Equal(t, 2, bus.Len("gleif-lei"), "repeated revisions stay off the bus")
}

func TestIngestWindow(t *testing.T) {
	ctx := context.Background()
	stage, _, _ := newTestIngest(t)

	window, err := stage.window(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, gleif.WindowFull, window, "no prior run means a full load")

	stage.config.Window = "day"
	window, err = stage.window(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, gleif.WindowDay, window)
}
