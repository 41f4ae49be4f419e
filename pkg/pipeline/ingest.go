// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openownership/bodspipelines/pkg/gleif"
	"github.com/openownership/bodspipelines/storage"
	"github.com/openownership/bodspipelines/stream"
)

// IngestConfig configures the ingest stage.
type IngestConfig struct {
	StreamPrefix string `help:"bus stream name prefix" default:"gleif"`
	BatchSize    int    `help:"raw-record dedup batch size" default:"100"`
	Window       string `help:"download window override: full, month, week or day" default:""`
}

// IngestStage downloads the golden-copy files, streams their records through
// deduplication and puts the fresh ones on the bus, one stream per record
// kind. Kinds are independent and ingested concurrently.
type IngestStage struct {
	log    *zap.Logger
	bulk   *gleif.BulkClient
	store  storage.Store
	bus    stream.Bus
	runs   *RunLog
	config IngestConfig
}

// NewIngestStage returns an ingest stage.
func NewIngestStage(log *zap.Logger, bulk *gleif.BulkClient, store storage.Store, bus stream.Bus, runs *RunLog, config IngestConfig) *IngestStage {
	return &IngestStage{
		log:    log,
		bulk:   bulk,
		store:  store,
		bus:    bus,
		runs:   runs,
		config: config,
	}
}

// StreamName returns the bus stream carrying records of kind.
func (s *IngestStage) StreamName(kind gleif.Kind) string {
	return fmt.Sprintf("%s-%s", s.config.StreamPrefix, kind)
}

// Run executes the ingest stage and records the run on success.
func (s *IngestStage) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	run := Run{Stage: StageIngest, Start: time.Now()}
	window, err := s.window(ctx, run.Start)
	if err != nil {
		return err
	}
	s.log.Info("ingest starting", zap.String("window", string(window)))

	group, groupCtx := errgroup.WithContext(ctx)
	for _, kind := range gleif.Kinds {
		kind := kind
		group.Go(func() error {
			return s.ingestKind(groupCtx, kind, window)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	if err := s.bus.Flush(ctx); err != nil {
		return Error.Wrap(err)
	}

	run.End = time.Now()
	return s.runs.Record(ctx, run)
}

// window picks the download window: the configured override, the smallest
// delta covering the gap since the last ingest run, or the full file on a
// first run.
func (s *IngestStage) window(ctx context.Context, now time.Time) (gleif.Window, error) {
	if s.config.Window != "" {
		return gleif.Window(s.config.Window), nil
	}
	last, ok, err := s.runs.Latest(ctx, StageIngest)
	if err != nil {
		return "", err
	}
	if !ok {
		return gleif.WindowFull, nil
	}
	return WindowSince(now, last.Start), nil
}

func (s *IngestStage) ingestKind(ctx context.Context, kind gleif.Kind, window gleif.Window) error {
	files, err := s.bulk.Prepare(ctx, kind, window)
	if err != nil {
		return ErrTransient.Wrap(err)
	}

	deduper := NewDeduper(s.store, s.config.BatchSize)
	total, fresh := 0, 0
	for _, path := range files {
		file, err := os.Open(path)
		if err != nil {
			return Error.Wrap(err)
		}
		n, f, err := s.ingestFile(ctx, kind, file, deduper)
		_ = file.Close()
		if err != nil {
			return err
		}
		total += n
		fresh += f
	}

	remaining, err := deduper.Flush(ctx)
	if err != nil {
		return err
	}
	if err := s.publish(ctx, kind, remaining); err != nil {
		return err
	}
	fresh += len(remaining)

	s.log.Info("kind ingested",
		zap.String("kind", string(kind)), zap.Int("records", total), zap.Int("fresh", fresh))
	return nil
}

// ingestFile streams one golden-copy file through deduplication onto the
// bus. Records failing validity checks are logged and skipped.
func (s *IngestStage) ingestFile(ctx context.Context, kind gleif.Kind, r io.Reader, deduper *Deduper) (total, fresh int, err error) {
	reader, err := gleif.NewDocumentReader(r, kind)
	if err != nil {
		return 0, 0, err
	}
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, fresh, err
		}
		total++
		if !rec.Valid() {
			s.log.Warn("skipping malformed record", zap.String("kind", string(kind)))
			mon.Counter("ingest_malformed").Inc(1)
			continue
		}
		batch, err := deduper.Add(ctx, rec)
		if err != nil {
			if ErrMalformed.Has(err) {
				s.log.Warn("skipping malformed record",
					zap.String("kind", string(kind)), zap.Error(err))
				mon.Counter("ingest_malformed").Inc(1)
				continue
			}
			return total, fresh, err
		}
		if err := s.publish(ctx, kind, batch); err != nil {
			return total, fresh, err
		}
		fresh += len(batch)
	}
	return total, fresh, nil
}

func (s *IngestStage) publish(ctx context.Context, kind gleif.Kind, batch []Fresh) error {
	name := s.StreamName(kind)
	for _, rec := range batch {
		if err := s.bus.Put(ctx, name, rec.ID, rec.Doc); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}
