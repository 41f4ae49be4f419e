// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// Package elastic implements storage.Store on Elasticsearch.
package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	elastic "github.com/olivere/elastic/v7"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/openownership/bodspipelines/storage"
)

var (
	mon = monkit.Package()

	// Error is the elastic storage error class.
	Error = errs.Class("elastic error")
)

// Config holds the Elasticsearch connection settings.
type Config struct {
	Protocol     string        `help:"elasticsearch protocol" default:"http"`
	Host         string        `help:"elasticsearch host" default:"localhost"`
	Port         string        `help:"elasticsearch port" default:"9200"`
	Password     string        `help:"elasticsearch password for the elastic user" default:""`
	Timeout      time.Duration `help:"per-call timeout" default:"30s"`
	MaxRetryTime time.Duration `help:"give up retrying a call after this long" default:"2m"`
}

// URL returns the node URL for the configuration.
func (config Config) URL() string {
	return fmt.Sprintf("%s://%s:%s", config.Protocol, config.Host, config.Port)
}

// indexSettings is applied to every index created by Setup.
const indexSettings = `{"settings": {"number_of_shards": 1, "number_of_replicas": 0}}`

// Client implements storage.Store on an Elasticsearch cluster.
type Client struct {
	log     *zap.Logger
	es      *elastic.Client
	timeout time.Duration
	indexes []string
}

// New connects to the cluster described by config. indexes lists the indexes
// Setup creates.
func New(log *zap.Logger, config Config, indexes []string) (*Client, error) {
	options := []elastic.ClientOptionFunc{
		elastic.SetURL(config.URL()),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
		elastic.SetRetrier(elastic.NewBackoffRetrier(
			elastic.NewExponentialBackoff(100*time.Millisecond, config.MaxRetryTime))),
	}
	if config.Password != "" {
		options = append(options, elastic.SetBasicAuth("elastic", config.Password))
	}
	es, err := elastic.NewClient(options...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Client{
		log:     log,
		es:      es,
		timeout: config.Timeout,
		indexes: indexes,
	}, nil
}

func (client *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if client.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, client.timeout)
}

// Get returns the document stored under index/id.
func (client *Client) Get(ctx context.Context, index, id string) (_ storage.Document, err error) {
	defer mon.Task()(&ctx)(&err)
	if id == "" {
		return nil, storage.ErrEmptyKey
	}
	ctx, cancel := client.callCtx(ctx)
	defer cancel()

	result, err := client.es.Get().Index(index).Id(id).Do(ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return nil, storage.ErrKeyNotFound.New("%s/%s", index, id)
		}
		return nil, Error.Wrap(err)
	}
	return storage.Document(result.Source), nil
}

// Put creates or overwrites the document under index/id.
func (client *Client) Put(ctx context.Context, index, id string, doc storage.Document) (err error) {
	defer mon.Task()(&ctx)(&err)
	if id == "" {
		return storage.ErrEmptyKey
	}
	ctx, cancel := client.callCtx(ctx)
	defer cancel()

	_, err = client.es.Index().Index(index).Id(id).BodyString(string(doc)).Do(ctx)
	return Error.Wrap(err)
}

// Create stores the document only if index/id is absent. It reports whether
// the document was created.
func (client *Client) Create(ctx context.Context, index, id string, doc storage.Document) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	if id == "" {
		return false, storage.ErrEmptyKey
	}
	ctx, cancel := client.callCtx(ctx)
	defer cancel()

	_, err = client.es.Index().Index(index).Id(id).OpType("create").BodyString(string(doc)).Do(ctx)
	if err != nil {
		if elastic.IsConflict(err) {
			return false, nil
		}
		return false, Error.Wrap(err)
	}
	return true, nil
}

// Delete removes the document under index/id. Deleting an absent document is
// not an error.
func (client *Client) Delete(ctx context.Context, index, id string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if id == "" {
		return storage.ErrEmptyKey
	}
	ctx, cancel := client.callCtx(ctx)
	defer cancel()

	_, err = client.es.Delete().Index(index).Id(id).Do(ctx)
	if err != nil && !elastic.IsNotFound(err) {
		return Error.Wrap(err)
	}
	return nil
}

// Bulk applies items through the bulk API and returns one result per item,
// in order. Create conflicts surface as Created=false, not errors.
func (client *Client) Bulk(ctx context.Context, items []storage.BulkItem) (_ []storage.BulkResult, err error) {
	defer mon.Task()(&ctx)(&err)
	if len(items) == 0 {
		return nil, nil
	}
	ctx, cancel := client.callCtx(ctx)
	defer cancel()

	bulk := client.es.Bulk()
	for _, item := range items {
		switch item.Action {
		case storage.ActionCreate:
			bulk.Add(elastic.NewBulkCreateRequest().Index(item.Index).Id(item.ID).Doc(json.RawMessage(item.Doc)))
		case storage.ActionIndex:
			bulk.Add(elastic.NewBulkIndexRequest().Index(item.Index).Id(item.ID).Doc(json.RawMessage(item.Doc)))
		case storage.ActionDelete:
			bulk.Add(elastic.NewBulkDeleteRequest().Index(item.Index).Id(item.ID))
		default:
			return nil, storage.ErrUnknownIndex.New("bulk action %q", item.Action)
		}
	}

	response, err := bulk.Do(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	results := make([]storage.BulkResult, 0, len(items))
	for i, item := range response.Items {
		var entry *elastic.BulkResponseItem
		for _, e := range item {
			entry = e
			break
		}
		result := storage.BulkResult{Index: items[i].Index, ID: items[i].ID}
		switch {
		case entry == nil:
			result.Err = Error.New("missing bulk response item")
		case entry.Status == http.StatusConflict:
			// create of an existing document
		case entry.Error != nil:
			result.Err = Error.New("%s: %s", entry.Error.Type, entry.Error.Reason)
		default:
			result.Created = entry.Result == "created"
		}
		results = append(results, result)
	}
	return results, nil
}

// Iterate scrolls through every document in index.
func (client *Client) Iterate(ctx context.Context, index string, fn storage.IterateFunc) (err error) {
	defer mon.Task()(&ctx)(&err)

	scroll := client.es.Scroll(index).Size(1000)
	defer func() { _ = scroll.Clear(context.Background()) }()

	for {
		page, err := scroll.Do(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if elastic.IsNotFound(err) {
				return nil
			}
			return Error.Wrap(err)
		}
		for _, hit := range page.Hits.Hits {
			if err := fn(hit.Id, storage.Document(hit.Source)); err != nil {
				return err
			}
		}
	}
}

// Setup creates any missing indexes.
func (client *Client) Setup(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	for _, index := range client.indexes {
		exists, err := client.es.IndexExists(index).Do(ctx)
		if err != nil {
			return Error.Wrap(err)
		}
		if exists {
			continue
		}
		if _, err := client.es.CreateIndex(index).BodyString(indexSettings).Do(ctx); err != nil {
			return Error.Wrap(err)
		}
		client.log.Info("index created", zap.String("index", index))
	}
	return nil
}

// Close stops the client's background processes.
func (client *Client) Close() error {
	client.es.Stop()
	return nil
}
