// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package gleif

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"
)

var mon = monkit.Package()

// DefaultPublishesURL is the GLEIF golden-copy publishes API.
const DefaultPublishesURL = "https://goldencopy.gleif.org/api/v2/golden-copies/publishes"

// apiNames maps record kinds to the publishes API dataset names.
var apiNames = map[Kind]string{
	KindLEI:          "lei2",
	KindRelationship: "rr",
	KindException:    "repex",
}

// Window selects which golden-copy file to download.
type Window string

// Download windows. Full fetches the complete golden copy; the others fetch
// the delta covering the named period.
const (
	WindowFull  Window = "full"
	WindowMonth Window = "month"
	WindowWeek  Window = "week"
	WindowDay   Window = "day"
)

// Publish is one dataset entry in the publishes API response.
type Publish struct {
	FullFile   FileRef `json:"full_file"`
	DeltaFiles struct {
		LastMonth FileRef `json:"LastMonth"`
		LastWeek  FileRef `json:"LastWeek"`
		LastDay   FileRef `json:"LastDay"`
		IntraDay  FileRef `json:"IntraDay"`
	} `json:"delta_files"`
}

// FileRef is a downloadable file reference.
type FileRef struct {
	XML struct {
		URL string `json:"url"`
	} `json:"xml"`
}

// URL returns the file's XML download URL for the given window.
func (p Publish) URL(window Window) (string, error) {
	var url string
	switch window {
	case WindowFull:
		url = p.FullFile.XML.URL
	case WindowMonth:
		url = p.DeltaFiles.LastMonth.XML.URL
	case WindowWeek:
		url = p.DeltaFiles.LastWeek.XML.URL
	case WindowDay:
		url = p.DeltaFiles.LastDay.XML.URL
	default:
		return "", Error.New("unknown download window %q", window)
	}
	if url == "" {
		return "", Error.New("publishes response has no file for window %q", window)
	}
	return url, nil
}

// BulkConfig configures golden-copy downloads.
type BulkConfig struct {
	PublishesURL string        `help:"GLEIF golden-copy publishes API" default:"https://goldencopy.gleif.org/api/v2/golden-copies/publishes"`
	Dir          string        `help:"directory for downloaded golden-copy files" default:"$CONFDIR/data"`
	Timeout      time.Duration `help:"timeout for API and download requests" default:"30m"`
	MaxRetryTime time.Duration `help:"give up retrying a download after this long" default:"10m"`
}

// BulkClient downloads and unpacks golden-copy files.
type BulkClient struct {
	log    *zap.Logger
	http   *http.Client
	config BulkConfig
}

// NewBulkClient returns a client for the golden-copy publishes API.
func NewBulkClient(log *zap.Logger, config BulkConfig) *BulkClient {
	if config.PublishesURL == "" {
		config.PublishesURL = DefaultPublishesURL
	}
	return &BulkClient{
		log:    log,
		http:   &http.Client{Timeout: config.Timeout},
		config: config,
	}
}

// Publishes fetches the latest publish entry for kind.
func (client *BulkClient) Publishes(ctx context.Context, kind Kind) (_ Publish, err error) {
	defer mon.Task()(&ctx)(&err)

	name, ok := apiNames[kind]
	if !ok {
		return Publish{}, Error.New("unknown record kind %q", kind)
	}
	url := fmt.Sprintf("%s/%s/latest", client.config.PublishesURL, name)

	var body []byte
	err = client.retry(ctx, func() error {
		body, err = client.fetch(ctx, url)
		return err
	})
	if err != nil {
		return Publish{}, err
	}

	var response struct {
		Data map[string]Publish `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return Publish{}, Error.Wrap(err)
	}
	publish, ok := response.Data[name]
	if !ok {
		return Publish{}, Error.New("publishes response missing dataset %q", name)
	}
	return publish, nil
}

// Prepare downloads the golden-copy file for kind and window and returns the
// paths of the extracted XML files. Already extracted files in the data
// directory are reused.
func (client *BulkClient) Prepare(ctx context.Context, kind Kind, window Window) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	dir := filepath.Join(client.config.Dir, string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, Error.Wrap(err)
	}

	publish, err := client.Publishes(ctx, kind)
	if err != nil {
		return nil, err
	}
	url, err := publish.URL(window)
	if err != nil {
		return nil, err
	}

	want := strings.TrimSuffix(filepath.Base(url), ".zip")
	if existing := filepath.Join(dir, want); fileExists(existing) {
		client.log.Info("golden-copy file cached",
			zap.String("kind", string(kind)), zap.String("file", want))
		return []string{existing}, nil
	}

	var archive string
	err = client.retry(ctx, func() error {
		archive, err = client.download(ctx, url, dir)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(archive) }()

	files, err := unzip(archive, dir)
	if err != nil {
		return nil, err
	}
	client.log.Info("golden-copy file downloaded",
		zap.String("kind", string(kind)), zap.String("window", string(window)),
		zap.Strings("files", files))
	return files, nil
}

// fetch performs a GET and returns the body.
func (client *BulkClient) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	resp, err := client.http.Do(req)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, Error.New("unexpected status %s fetching %s", resp.Status, url)
	}
	body, err := io.ReadAll(resp.Body)
	return body, Error.Wrap(err)
}

// download streams url into dir, naming the file from the content
// disposition when present.
func (client *BulkClient) download(ctx context.Context, url, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", Error.Wrap(err)
	}
	resp, err := client.http.Do(req)
	if err != nil {
		return "", Error.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", Error.New("unexpected status %s downloading %s", resp.Status, url)
	}

	name := filepath.Base(url)
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			name = filepath.Base(params["filename"])
		}
	}

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return "", Error.Wrap(err)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", Error.Wrap(err)
	}
	return path, Error.Wrap(file.Close())
}

// retry runs op with exponential backoff until it succeeds, the retry budget
// is spent, or ctx is done.
func (client *BulkClient) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = client.config.MaxRetryTime
	return backoff.Retry(func() error {
		err := op()
		if err != nil {
			client.log.Warn("golden-copy request failed, retrying", zap.Error(err))
		}
		return err
	}, backoff.WithContext(policy, ctx))
}

// unzip extracts every entry of archive into dir and returns the extracted
// paths.
func unzip(archive, dir string) ([]string, error) {
	reader, err := zip.OpenReader(archive)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = reader.Close() }()

	var files []string
	for _, entry := range reader.File {
		name := filepath.Base(entry.Name)
		if entry.FileInfo().IsDir() || name == "" {
			continue
		}
		path := filepath.Join(dir, name)
		if err := extractFile(entry, path); err != nil {
			return nil, err
		}
		files = append(files, path)
	}
	if len(files) == 0 {
		return nil, Error.New("archive %s contains no files", archive)
	}
	return files, nil
}

func extractFile(entry *zip.File, path string) error {
	in, err := entry.Open()
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(path)
	if err != nil {
		return Error.Wrap(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return Error.Wrap(err)
	}
	return Error.Wrap(out.Close())
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
