// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// Package kinesis implements the inter-stage bus on AWS Kinesis streams.
package kinesis

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awskinesis "github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/openownership/bodspipelines/stream"
)

var mon = monkit.Package()

// Config holds the Kinesis connection settings.
type Config struct {
	Region       string        `help:"aws region" default:"eu-west-2"`
	Endpoint     string        `help:"custom kinesis endpoint, for local stacks" default:""`
	AccessKey    string        `help:"aws access key id; empty uses the default chain" default:""`
	SecretKey    string        `help:"aws secret access key" default:""`
	BatchSize    int           `help:"records per put-records call" default:"500"`
	MaxRetryTime time.Duration `help:"give up retrying a batch after this long" default:"2m"`
}

// Client implements stream.Bus on Kinesis. It batches puts up to the
// configured batch size and reads every shard from the trim horizon. It is
// used from a single producer or consumer per stream.
type Client struct {
	log    *zap.Logger
	kc     *awskinesis.Client
	config Config

	pending   map[string][]types.PutRecordsRequestEntry
	iterators map[string][]*string
	buffered  map[string][][]byte
}

// New connects to Kinesis in the configured region.
func New(ctx context.Context, log *zap.Logger, config Config) (*Client, error) {
	if config.BatchSize <= 0 || config.BatchSize > 500 {
		config.BatchSize = 500
	}

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.AccessKey != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, stream.Error.Wrap(err)
	}

	kc := awskinesis.NewFromConfig(cfg, func(o *awskinesis.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
	})
	return &Client{
		log:       log,
		kc:        kc,
		config:    config,
		pending:   map[string][]types.PutRecordsRequestEntry{},
		iterators: map[string][]*string{},
		buffered:  map[string][][]byte{},
	}, nil
}

// Put batches data for the stream; a full batch is sent immediately.
func (client *Client) Put(ctx context.Context, name, key string, data []byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	client.pending[name] = append(client.pending[name], types.PutRecordsRequestEntry{
		Data:         append([]byte(nil), data...),
		PartitionKey: aws.String(key),
	})
	if len(client.pending[name]) >= client.config.BatchSize {
		return client.flushStream(ctx, name)
	}
	return nil
}

// Flush sends every pending batch.
func (client *Client) Flush(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	for name := range client.pending {
		if err := client.flushStream(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// flushStream sends the stream's pending entries, retrying partial failures
// with backoff until the retry budget is spent.
func (client *Client) flushStream(ctx context.Context, name string) error {
	entries := client.pending[name]
	if len(entries) == 0 {
		return nil
	}
	client.pending[name] = nil

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = client.config.MaxRetryTime
	return backoff.Retry(func() error {
		out, err := client.kc.PutRecords(ctx, &awskinesis.PutRecordsInput{
			StreamName: aws.String(name),
			Records:    entries,
		})
		if err != nil {
			client.log.Warn("put-records failed, retrying", zap.String("stream", name), zap.Error(err))
			return stream.Error.Wrap(err)
		}
		if out.FailedRecordCount == nil || *out.FailedRecordCount == 0 {
			return nil
		}
		// keep only the entries the service rejected and try again
		var failed []types.PutRecordsRequestEntry
		for i, record := range out.Records {
			if record.ErrorCode != nil {
				failed = append(failed, entries[i])
			}
		}
		entries = failed
		client.log.Warn("put-records partially failed, retrying",
			zap.String("stream", name), zap.Int("failed", len(failed)))
		return stream.Error.New("%d records failed", len(failed))
	}, backoff.WithContext(policy, ctx))
}

// Get returns the next buffered record for the stream, fetching more from
// the shards as needed. ErrEmpty is returned once every shard is read up to
// its current tip.
func (client *Client) Get(ctx context.Context, name string) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	for {
		if queue := client.buffered[name]; len(queue) > 0 {
			head := queue[0]
			client.buffered[name] = queue[1:]
			return head, nil
		}
		fetched, err := client.fetch(ctx, name)
		if err != nil {
			return nil, err
		}
		if !fetched {
			return nil, stream.ErrEmpty.New("%q", name)
		}
	}
}

// fetch reads one round across the stream's shards into the buffer. It
// reports whether any record arrived.
func (client *Client) fetch(ctx context.Context, name string) (bool, error) {
	iterators, ok := client.iterators[name]
	if !ok {
		var err error
		iterators, err = client.shardIterators(ctx, name)
		if err != nil {
			return false, err
		}
	}

	fetched := false
	next := make([]*string, 0, len(iterators))
	for _, iterator := range iterators {
		if iterator == nil {
			continue
		}
		out, err := client.kc.GetRecords(ctx, &awskinesis.GetRecordsInput{
			ShardIterator: iterator,
			Limit:         aws.Int32(1000),
		})
		if err != nil {
			return false, stream.Error.Wrap(err)
		}
		for _, record := range out.Records {
			client.buffered[name] = append(client.buffered[name], record.Data)
			fetched = true
		}
		// a caught-up shard with no records is done for this run
		if len(out.Records) == 0 && out.MillisBehindLatest != nil && *out.MillisBehindLatest == 0 {
			continue
		}
		next = append(next, out.NextShardIterator)
	}
	client.iterators[name] = next
	if !fetched && len(next) == 0 {
		return false, nil
	}
	return fetched || len(next) > 0, nil
}

func (client *Client) shardIterators(ctx context.Context, name string) ([]*string, error) {
	shards, err := client.kc.ListShards(ctx, &awskinesis.ListShardsInput{
		StreamName: aws.String(name),
	})
	if err != nil {
		return nil, stream.Error.Wrap(err)
	}

	iterators := make([]*string, 0, len(shards.Shards))
	for _, shard := range shards.Shards {
		out, err := client.kc.GetShardIterator(ctx, &awskinesis.GetShardIteratorInput{
			StreamName:        aws.String(name),
			ShardId:           shard.ShardId,
			ShardIteratorType: types.ShardIteratorTypeTrimHorizon,
		})
		if err != nil {
			return nil, stream.Error.Wrap(err)
		}
		iterators = append(iterators, out.ShardIterator)
	}
	client.iterators[name] = iterators
	return iterators, nil
}

// Close implements stream.Bus.
func (client *Client) Close() error { return nil }
