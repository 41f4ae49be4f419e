// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openownership/bodspipelines/pkg/gleif"
	"github.com/openownership/bodspipelines/storage"
)

// IndexRuns is the stage run log index.
const IndexRuns = "runs"

// Stage names recorded in the run log.
const (
	StageIngest    = "ingest"
	StageTransform = "transform"
)

// Run is one completed stage execution.
type Run struct {
	Stage string    `json:"stage_name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RunLog records stage executions. The newest run of a stage decides whether
// the next execution is a first load or an incremental update, and which
// delta window it needs.
type RunLog struct {
	store storage.Store
}

// NewRunLog returns a run log over store.
func NewRunLog(store storage.Store) *RunLog {
	return &RunLog{store: store}
}

// Record stores a completed run.
func (l *RunLog) Record(ctx context.Context, run Run) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return Error.Wrap(err)
	}
	id := fmt.Sprintf("%s-%s", run.Stage, run.Start.UTC().Format(time.RFC3339))
	return Error.Wrap(l.store.Put(ctx, IndexRuns, id, doc))
}

// Latest returns the most recent completed run of stage.
func (l *RunLog) Latest(ctx context.Context, stage string) (Run, bool, error) {
	var newest Run
	found := false
	err := l.store.Iterate(ctx, IndexRuns, func(id string, doc storage.Document) error {
		var run Run
		if err := json.Unmarshal(doc, &run); err != nil {
			return Error.Wrap(err)
		}
		if run.Stage != stage || run.End.IsZero() {
			return nil
		}
		if !found || run.Start.After(newest.Start) {
			newest = run
			found = true
		}
		return nil
	})
	if err != nil {
		return Run{}, false, Error.Wrap(err)
	}
	return newest, found, nil
}

// WindowSince returns the smallest golden-copy window covering the time
// passed since the last run. A gap longer than the widest delta falls back to
// the full file.
func WindowSince(now, last time.Time) gleif.Window {
	age := now.Sub(last)
	switch {
	case age <= 24*time.Hour:
		return gleif.WindowDay
	case age <= 7*24*time.Hour:
		return gleif.WindowWeek
	case age <= 31*24*time.Hour:
		return gleif.WindowMonth
	default:
		return gleif.WindowFull
	}
}
