// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openownership/bodspipelines/pkg/bods"
	"github.com/openownership/bodspipelines/pkg/gleif"
	"github.com/openownership/bodspipelines/pkg/reconcile"
	"github.com/openownership/bodspipelines/storage"
	"github.com/openownership/bodspipelines/stream"
)

// TransformConfig configures the transform stage.
type TransformConfig struct {
	StreamPrefix string `help:"bus stream name prefix" default:"gleif"`
	Watermark    int    `help:"auxiliary index flush batch size" default:"485"`
	BatchSize    int    `help:"statement write batch size" default:"100"`
}

// TransformStage drains the bus streams in kind order, runs each record
// through the reconcile engine and emits the resulting statements. Records
// that cannot be processed are parked on the exceptions stream for manual
// inspection.
type TransformStage struct {
	log        *zap.Logger
	bus        stream.Bus
	aux        storage.Store
	statements storage.Store
	runs       *RunLog
	outputs    []Output
	config     TransformConfig
}

// NewTransformStage returns a transform stage. aux backs the reconcile cache
// and statements holds the published statements.
func NewTransformStage(log *zap.Logger, bus stream.Bus, aux, statements storage.Store, runs *RunLog, outputs []Output, config TransformConfig) *TransformStage {
	return &TransformStage{
		log:        log,
		bus:        bus,
		aux:        aux,
		statements: statements,
		runs:       runs,
		outputs:    outputs,
		config:     config,
	}
}

// StreamName returns the bus stream carrying records of kind.
func (s *TransformStage) StreamName(kind gleif.Kind) string {
	return fmt.Sprintf("%s-%s", s.config.StreamPrefix, kind)
}

// Run executes the transform stage and records the run on success. The first
// ever run is a first load: supersession checks are skipped.
func (s *TransformStage) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	run := Run{Stage: StageTransform, Start: time.Now()}
	_, incremental, err := s.runs.Latest(ctx, StageTransform)
	if err != nil {
		return err
	}

	cache := reconcile.NewCache(s.log.Named("cache"), s.aux, s.config.Watermark)
	if err := cache.Load(ctx); err != nil {
		return err
	}
	engine := reconcile.NewEngine(s.log.Named("engine"), cache, s.statements, incremental)
	s.log.Info("transform starting", zap.Bool("incremental", incremental))

	// kinds must be processed in order: relationships and exceptions
	// resolve entity statements emitted earlier in the same run
	for _, kind := range gleif.Kinds {
		if err := s.drain(ctx, engine, kind); err != nil {
			return err
		}
	}

	fixed, err := engine.Finish(ctx)
	if err != nil {
		return err
	}
	if err := s.emit(ctx, fixed); err != nil {
		return err
	}
	for _, out := range s.outputs {
		if err := out.Flush(ctx); err != nil {
			return err
		}
	}
	if err := s.bus.Flush(ctx); err != nil {
		return Error.Wrap(err)
	}
	if skipped := engine.Skipped(); skipped > 0 {
		s.log.Warn("fix-ups skipped due to inconsistent state", zap.Int("skipped", skipped))
	}

	run.End = time.Now()
	return s.runs.Record(ctx, run)
}

// drain consumes the kind's stream until it is empty.
func (s *TransformStage) drain(ctx context.Context, engine *reconcile.Engine, kind gleif.Kind) error {
	name := s.StreamName(kind)
	processed := 0
	for {
		data, err := s.bus.Get(ctx, name)
		if stream.ErrEmpty.Has(err) {
			break
		}
		if err != nil {
			return Error.Wrap(err)
		}

		var rec gleif.Record
		if err := json.Unmarshal(data, &rec); err != nil || !rec.Valid() {
			if err := s.park(ctx, name, data, ErrMalformed.New("undecodable record")); err != nil {
				return err
			}
			continue
		}

		statements, err := engine.Process(ctx, rec)
		if err != nil {
			if reconcile.ErrInconsistent.Has(err) {
				if err := s.park(ctx, name, data, err); err != nil {
					return err
				}
				continue
			}
			return err
		}
		if err := s.emit(ctx, statements); err != nil {
			return err
		}
		processed++
	}
	s.log.Info("stream drained", zap.String("stream", name), zap.Int("records", processed))
	return nil
}

// park moves a record that cannot be processed onto the exceptions stream.
func (s *TransformStage) park(ctx context.Context, name string, data []byte, cause error) error {
	s.log.Warn("parking record on exceptions stream",
		zap.String("stream", name), zap.Error(cause))
	mon.Counter("transform_parked").Inc(1)
	return Error.Wrap(s.bus.Put(ctx, stream.ExceptionsStream(name), "", data))
}

func (s *TransformStage) emit(ctx context.Context, statements []*bods.Statement) error {
	for _, statement := range statements {
		for _, out := range s.outputs {
			if err := out.Put(ctx, statement); err != nil {
				return err
			}
		}
	}
	return nil
}
