// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package pipeline

import (
	"context"
	"encoding/json"
	"io"

	"go.uber.org/zap"

	"github.com/openownership/bodspipelines/pkg/bods"
	"github.com/openownership/bodspipelines/storage"
)

// DefaultOutputBatch is the default statement write batch size.
const DefaultOutputBatch = 100

// Output is a statement sink.
type Output interface {
	Put(ctx context.Context, statement *bods.Statement) error
	Flush(ctx context.Context) error
}

// StoreOutput writes statements to the statement store, batched and
// new-if-absent: a statement ID already stored is left untouched, so
// re-running a stage never clobbers published statements.
type StoreOutput struct {
	log     *zap.Logger
	store   storage.Store
	batch   int
	pending []storage.BulkItem
}

// NewStoreOutput returns a store-backed statement sink.
func NewStoreOutput(log *zap.Logger, store storage.Store, batch int) *StoreOutput {
	if batch <= 0 {
		batch = DefaultOutputBatch
	}
	return &StoreOutput{log: log, store: store, batch: batch}
}

// Put queues the statement for writing.
func (out *StoreOutput) Put(ctx context.Context, statement *bods.Statement) error {
	doc, err := json.Marshal(statement)
	if err != nil {
		return Error.Wrap(err)
	}
	out.pending = append(out.pending, storage.BulkItem{
		Index:  statement.Index(),
		ID:     statement.StatementID,
		Action: storage.ActionCreate,
		Doc:    doc,
	})
	if len(out.pending) >= out.batch {
		return out.Flush(ctx)
	}
	return nil
}

// Flush writes the queued statements.
func (out *StoreOutput) Flush(ctx context.Context) error {
	items := out.pending
	if len(items) == 0 {
		return nil
	}
	out.pending = nil

	results, err := out.store.Bulk(ctx, items)
	if err != nil {
		return Error.Wrap(err)
	}
	for _, result := range results {
		if result.Err != nil {
			return Error.Wrap(result.Err)
		}
		if !result.Created {
			out.log.Debug("statement already stored",
				zap.String("index", result.Index), zap.String("id", result.ID))
		}
	}
	return nil
}

// ConsoleOutput writes statements as JSON lines, one per statement.
type ConsoleOutput struct {
	w *json.Encoder
}

// NewConsoleOutput returns a sink writing to w.
func NewConsoleOutput(w io.Writer) *ConsoleOutput {
	return &ConsoleOutput{w: json.NewEncoder(w)}
}

// Put writes the statement.
func (out *ConsoleOutput) Put(ctx context.Context, statement *bods.Statement) error {
	return Error.Wrap(out.w.Encode(statement))
}

// Flush implements Output; writes are immediate.
func (out *ConsoleOutput) Flush(ctx context.Context) error { return nil }
