// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// bodspipelines runs the GLEIF to BODS data pipeline.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/openownership/bodspipelines/pkg/bods"
	"github.com/openownership/bodspipelines/pkg/gleif"
	"github.com/openownership/bodspipelines/pkg/pipeline"
	"github.com/openownership/bodspipelines/pkg/process"
	"github.com/openownership/bodspipelines/storage"
	"github.com/openownership/bodspipelines/storage/boltdb"
	"github.com/openownership/bodspipelines/storage/elastic"
	"github.com/openownership/bodspipelines/storage/rediskv"
	"github.com/openownership/bodspipelines/storage/storelogger"
	"github.com/openownership/bodspipelines/stream"
	"github.com/openownership/bodspipelines/stream/kinesis"
	"github.com/openownership/bodspipelines/stream/redisq"
)

var cfg struct {
	storageBackend string
	boltPath       string
	elastic        elastic.Config
	redisStore     rediskv.Config

	busBackend string
	kinesis    kinesis.Config
	redisBus   redisq.Config

	bulk      gleif.BulkConfig
	ingest    pipeline.IngestConfig
	transform pipeline.TransformConfig

	console bool
}

var (
	rootCmd = &cobra.Command{
		Use:   "bodspipelines",
		Short: "GLEIF to BODS data pipeline",
	}
	setupCmd = &cobra.Command{
		Use:   "setup",
		Short: "Create the storage indexes",
		RunE:  cmdSetup,
	}
	ingestCmd = &cobra.Command{
		Use:   "ingest",
		Short: "Download golden-copy files and feed fresh records to the bus",
		RunE:  cmdIngest,
	}
	transformCmd = &cobra.Command{
		Use:   "transform",
		Short: "Turn bus records into BODS statements",
		RunE:  cmdTransform,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run ingest and transform in one process over an in-memory bus",
		RunE:  cmdRun,
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print document counts per index",
		RunE:  cmdStats,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfg.storageBackend, "storage.backend", "elastic", "document store backend: elastic, bolt or redis")
	flags.StringVar(&cfg.boltPath, "storage.bolt-path", filepath.Join(process.DefaultConfigDir(), "bods.db"), "bolt database file")
	flags.StringVar(&cfg.elastic.Protocol, "elastic.protocol", "http", "elasticsearch protocol")
	flags.StringVar(&cfg.elastic.Host, "elastic.host", "localhost", "elasticsearch host")
	flags.StringVar(&cfg.elastic.Port, "elastic.port", "9200", "elasticsearch port")
	flags.StringVar(&cfg.elastic.Password, "elastic.password", "", "elasticsearch password for the elastic user")
	flags.DurationVar(&cfg.elastic.Timeout, "elastic.timeout", 30*time.Second, "per-request timeout")
	flags.DurationVar(&cfg.elastic.MaxRetryTime, "elastic.max-retry-time", 2*time.Minute, "give up retrying a request after this long")
	flags.StringVar(&cfg.redisStore.Host, "redis-store.host", "localhost", "redis host for the document store")
	flags.StringVar(&cfg.redisStore.Port, "redis-store.port", "6379", "redis port for the document store")
	flags.IntVar(&cfg.redisStore.DB, "redis-store.db", 0, "redis database number for the document store")

	flags.StringVar(&cfg.busBackend, "bus.backend", "kinesis", "bus backend: kinesis, redis or memory")
	flags.StringVar(&cfg.kinesis.Region, "kinesis.region", "eu-west-2", "aws region")
	flags.StringVar(&cfg.kinesis.Endpoint, "kinesis.endpoint", "", "custom kinesis endpoint, for local stacks")
	flags.StringVar(&cfg.kinesis.AccessKey, "kinesis.access-key", "", "aws access key id; empty uses the default chain")
	flags.StringVar(&cfg.kinesis.SecretKey, "kinesis.secret-key", "", "aws secret access key")
	flags.IntVar(&cfg.kinesis.BatchSize, "kinesis.batch-size", 500, "records per put-records call")
	flags.DurationVar(&cfg.kinesis.MaxRetryTime, "kinesis.max-retry-time", 2*time.Minute, "give up retrying a batch after this long")
	flags.StringVar(&cfg.redisBus.Host, "redis-bus.host", "localhost", "redis host for the bus")
	flags.StringVar(&cfg.redisBus.Port, "redis-bus.port", "6379", "redis port for the bus")
	flags.IntVar(&cfg.redisBus.DB, "redis-bus.db", 1, "redis database number for the bus")

	flags.StringVar(&cfg.bulk.PublishesURL, "gleif.publishes-url", gleif.DefaultPublishesURL, "GLEIF golden-copy publishes API")
	flags.StringVar(&cfg.bulk.Dir, "gleif.dir", filepath.Join(process.DefaultConfigDir(), "data"), "directory for downloaded golden-copy files")
	flags.DurationVar(&cfg.bulk.Timeout, "gleif.timeout", 30*time.Minute, "timeout for API and download requests")
	flags.DurationVar(&cfg.bulk.MaxRetryTime, "gleif.max-retry-time", 10*time.Minute, "give up retrying a download after this long")

	flags.StringVar(&cfg.ingest.StreamPrefix, "ingest.stream-prefix", "gleif", "bus stream name prefix")
	flags.IntVar(&cfg.ingest.BatchSize, "ingest.batch-size", pipeline.DefaultDedupeBatch, "raw-record dedup batch size")
	flags.StringVar(&cfg.ingest.Window, "ingest.window", "", "download window override: full, month, week or day")

	flags.StringVar(&cfg.transform.StreamPrefix, "transform.stream-prefix", "gleif", "bus stream name prefix")
	flags.IntVar(&cfg.transform.Watermark, "transform.watermark", 0, "auxiliary index flush batch size; 0 uses the default")
	flags.IntVar(&cfg.transform.BatchSize, "transform.batch-size", pipeline.DefaultOutputBatch, "statement write batch size")

	flags.BoolVar(&cfg.console, "console", false, "also print emitted statements to stdout")

	rootCmd.AddCommand(setupCmd, ingestCmd, transformCmd, runCmd, statsCmd)
}

func openStore(log *zap.Logger) (storage.Store, error) {
	var store storage.Store
	var err error
	switch cfg.storageBackend {
	case "elastic":
		store, err = elastic.New(log.Named("elastic"), cfg.elastic, pipeline.Indexes())
	case "bolt":
		store, err = boltdb.New(cfg.boltPath, pipeline.Indexes())
	case "redis":
		store, err = rediskv.New(context.Background(), cfg.redisStore)
	default:
		return nil, errs.New("unknown storage backend %q", cfg.storageBackend)
	}
	if err != nil {
		return nil, err
	}
	return storelogger.New(log.Named("store"), store), nil
}

func openBus(ctx context.Context, log *zap.Logger) (stream.Bus, error) {
	switch cfg.busBackend {
	case "kinesis":
		return kinesis.New(ctx, log.Named("kinesis"), cfg.kinesis)
	case "redis":
		return redisq.New(ctx, cfg.redisBus)
	case "memory":
		return stream.NewMemBus(), nil
	default:
		return nil, errs.New("unknown bus backend %q", cfg.busBackend)
	}
}

func newLogger() *zap.Logger {
	log, err := process.NewLogger()
	process.Must(err)
	zap.ReplaceGlobals(log)
	process.Must(process.InitDebug(log, monkit.Default))
	return log
}

func cmdSetup(cmd *cobra.Command, args []string) error {
	ctx, cancel := process.Ctx()
	defer cancel()
	log := newLogger()
	defer func() { _ = log.Sync() }()

	store, err := openStore(log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := pipeline.Setup(ctx, store); err != nil {
		return err
	}
	log.Info("indexes created", zap.Strings("indexes", pipeline.Indexes()))
	return nil
}

func cmdIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := process.Ctx()
	defer cancel()
	log := newLogger()
	defer func() { _ = log.Sync() }()

	store, err := openStore(log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	bus, err := openBus(ctx, log)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	stage := pipeline.NewIngestStage(log.Named("ingest"),
		gleif.NewBulkClient(log.Named("gleif"), cfg.bulk),
		store, bus, pipeline.NewRunLog(store), cfg.ingest)
	return stage.Run(ctx)
}

func cmdTransform(cmd *cobra.Command, args []string) error {
	ctx, cancel := process.Ctx()
	defer cancel()
	log := newLogger()
	defer func() { _ = log.Sync() }()

	store, err := openStore(log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	bus, err := openBus(ctx, log)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	stage := newTransformStage(log, store, bus)
	return stage.Run(ctx)
}

func cmdRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := process.Ctx()
	defer cancel()
	log := newLogger()
	defer func() { _ = log.Sync() }()

	store, err := openStore(log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	bus := stream.NewMemBus()

	ingest := pipeline.NewIngestStage(log.Named("ingest"),
		gleif.NewBulkClient(log.Named("gleif"), cfg.bulk),
		store, bus, pipeline.NewRunLog(store), cfg.ingest)
	if err := ingest.Run(ctx); err != nil {
		return err
	}
	return newTransformStage(log, store, bus).Run(ctx)
}

func newTransformStage(log *zap.Logger, store storage.Store, bus stream.Bus) *pipeline.TransformStage {
	outputs := []pipeline.Output{
		pipeline.NewStoreOutput(log.Named("output"), store, cfg.transform.BatchSize),
	}
	if cfg.console {
		outputs = append(outputs, pipeline.NewConsoleOutput(os.Stdout))
	}
	return pipeline.NewTransformStage(log.Named("transform"), bus, store, store,
		pipeline.NewRunLog(store), outputs, cfg.transform)
}

func cmdStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := process.Ctx()
	defer cancel()
	log := newLogger()
	defer func() { _ = log.Sync() }()

	store, err := openStore(log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	indexes := []string{
		bods.IndexEntity, bods.IndexPerson, bods.IndexOwnership,
		string(gleif.KindLEI), string(gleif.KindRelationship), string(gleif.KindException),
	}
	for _, index := range indexes {
		count := 0
		err := store.Iterate(ctx, index, func(id string, doc storage.Document) error {
			count++
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Printf("%-12s %d\n", index, count)
	}
	return nil
}

func main() {
	process.Execute(rootCmd)
}
