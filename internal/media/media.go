// Package media acquires a post's media into scoped temp storage.
//
// Videos go through yt-dlp as an isolated subprocess; images and gallery
// frames are plain HTTP downloads. Every acquisition is bounded by a hard
// wall-clock timeout and by a global concurrency cap, and every Asset owns
// its temp dir until Release.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tgreddit/pkg/logx"
)

// AcquireErrKind classifies acquisition failures. None of them are
// delivery failures: the caller falls back to a text-only message.
type AcquireErrKind int

const (
	KindUnsupportedURL AcquireErrKind = iota
	KindTimeout
	KindToolFailure
)

type AcquireError struct {
	Kind AcquireErrKind
	URL  string
	Err  error
}

func (e *AcquireError) Error() string {
	var kind string
	switch e.Kind {
	case KindUnsupportedURL:
		kind = "unsupported url"
	case KindTimeout:
		kind = "timeout"
	default:
		kind = "tool failure"
	}
	return fmt.Sprintf("acquire %s: %s: %v", e.URL, kind, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// AssetKind tells the dispatcher which Telegram payload to build.
type AssetKind int

const (
	AssetVideo AssetKind = iota
	AssetPhoto
	AssetAlbum
)

type File struct {
	Path   string
	Width  int
	Height int
}

// Asset is an ephemeral local handle on downloaded media. It exists for a
// single dispatch attempt; Release removes the backing storage and is safe
// to call more than once.
type Asset struct {
	Kind  AssetKind
	Title string
	Files []File

	dir     string
	release sync.Once
}

func (a *Asset) Release() {
	if a == nil {
		return
	}
	a.release.Do(func() {
		if a.dir != "" {
			_ = os.RemoveAll(a.dir)
		}
	})
}

type Config struct {
	YtdlpPath   string
	Timeout     time.Duration
	Concurrency int
}

type Acquirer struct {
	ytdlp   string
	timeout time.Duration
	sem     chan struct{}
	exec    Executor
	http    *http.Client
	log     logx.Logger
}

type Option func(*Acquirer)

// WithExecutor injects a custom subprocess executor (primarily for tests).
func WithExecutor(e Executor) Option {
	return func(a *Acquirer) {
		if e != nil {
			a.exec = e
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(a *Acquirer) { a.http = h }
}

func New(cfg Config, log logx.Logger, opts ...Option) *Acquirer {
	if cfg.YtdlpPath == "" {
		cfg.YtdlpPath = "yt-dlp"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Acquirer{
		ytdlp:   cfg.YtdlpPath,
		timeout: cfg.Timeout,
		sem:     make(chan struct{}, cfg.Concurrency),
		exec:    commandExecutor{},
		http:    &http.Client{},
		log:     log,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// acquire serializes access to the concurrency pool and enforces the
// wall-clock timeout around fn.
func (a *Acquirer) acquire(ctx context.Context, url string, fn func(ctx context.Context, dir string) (*Asset, error)) (*Asset, error) {
	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, &AcquireError{Kind: KindTimeout, URL: url, Err: ctx.Err()}
	}
	defer func() { <-a.sem }()

	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "tgreddit-*")
	if err != nil {
		return nil, &AcquireError{Kind: KindToolFailure, URL: url, Err: err}
	}

	asset, err := fn(runCtx, dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		if runCtx.Err() != nil && ctx.Err() == nil {
			return nil, &AcquireError{Kind: KindTimeout, URL: url, Err: runCtx.Err()}
		}
		var ae *AcquireError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, &AcquireError{Kind: KindToolFailure, URL: url, Err: err}
	}
	asset.dir = dir
	return asset, nil
}

// AcquireVideo downloads the URL with yt-dlp and returns a video asset
// with dimensions parsed from the output filename.
func (a *Acquirer) AcquireVideo(ctx context.Context, url string) (*Asset, error) {
	return a.acquire(ctx, url, func(ctx context.Context, dir string) (*Asset, error) {
		return a.runYtdlp(ctx, dir, url)
	})
}

// AcquireImage downloads a single image over HTTP.
func (a *Acquirer) AcquireImage(ctx context.Context, url string) (*Asset, error) {
	return a.acquire(ctx, url, func(ctx context.Context, dir string) (*Asset, error) {
		f, err := a.downloadFile(ctx, dir, 0, url)
		if err != nil {
			return nil, err
		}
		return &Asset{Kind: AssetPhoto, Files: []File{f}}, nil
	})
}

// AcquireGallery downloads every frame in order. A gallery with any failed
// frame fails as a whole; partial albums confuse more than they help.
func (a *Acquirer) AcquireGallery(ctx context.Context, urls []string) (*Asset, error) {
	if len(urls) == 0 {
		return nil, &AcquireError{Kind: KindUnsupportedURL, URL: "", Err: errors.New("gallery has no frames")}
	}
	return a.acquire(ctx, urls[0], func(ctx context.Context, dir string) (*Asset, error) {
		files := make([]File, 0, len(urls))
		for i, u := range urls {
			f, err := a.downloadFile(ctx, dir, i, u)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
		}
		return &Asset{Kind: AssetAlbum, Files: files}, nil
	})
}

func (a *Acquirer) downloadFile(ctx context.Context, dir string, idx int, rawURL string) (File, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return File{}, &AcquireError{Kind: KindUnsupportedURL, URL: rawURL, Err: errors.New("not an http url")}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return File{}, &AcquireError{Kind: KindUnsupportedURL, URL: rawURL, Err: err}
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return File{}, &AcquireError{Kind: KindToolFailure, URL: rawURL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	name := path.Base(strings.SplitN(rawURL, "?", 2)[0])
	if name == "" || name == "." || name == "/" {
		name = "image"
	}
	dest := filepath.Join(dir, fmt.Sprintf("%02d_%s", idx, name))
	out, err := os.Create(dest)
	if err != nil {
		return File{}, err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = os.Remove(dest)
		return File{}, err
	}
	return File{Path: dest}, nil
}
