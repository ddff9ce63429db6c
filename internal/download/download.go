// Package download fetches archives over HTTP with manual redirect
// handling and chunked progress reporting.
package download

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/sdlite/sdlite-setup/internal/fsutil"
	"github.com/sdlite/sdlite-setup/internal/logging"
	"github.com/sdlite/sdlite-setup/internal/metrics"
	"github.com/sdlite/sdlite-setup/internal/progress"
	"github.com/sdlite/sdlite-setup/internal/retry"
)

const (
	DefaultMaxRedirects = 6
	DefaultBufferSize   = 64 * 1024
	DefaultMinSize      = 1024
	DefaultUserAgent    = "SDLiteSetup/2.1"
)

// Progress is the state of one fetch. It is reported outward and never
// retained.
type Progress struct {
	Received int64
	Total    int64 // <= 0 when the server did not declare a length
	Percent  int
}

// Known reports whether the total length is known.
func (p Progress) Known() bool {
	return p.Total > 0
}

// Config holds downloader settings.
type Config struct {
	Timeout      time.Duration // whole-request timeout, 0 = rely on ctx
	UserAgent    string
	MaxRedirects int
	BufferSize   int
	MinSize      int64 // smaller completed files only produce a warning
	RetryConfig  retry.Config
	Transport    http.RoundTripper
}

// Downloader performs HTTP fetches into files.
type Downloader struct {
	client *http.Client
	cfg    Config
}

// New creates a new downloader.
func New(cfg Config) *Downloader {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.MinSize == 0 {
		cfg.MinSize = DefaultMinSize
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.Transport == nil {
		cfg.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			// Byte counts must match the declared Content-Length.
			DisableCompression: true,
		}
	}

	return &Downloader{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg: cfg,
	}
}

// Type identifies the downloader among archive fetchers.
func (d *Downloader) Type() string { return "http" }

// Fetch downloads rawURL into dst and returns the number of bytes
// written. dst is created (or truncated) before the first request so a
// failed fetch leaves an empty or partial file behind. Transport
// failures and 5xx responses are retried from scratch; the file is
// truncated before every attempt.
func (d *Downloader) Fetch(ctx context.Context, rawURL, dst string, sink progress.Sink) (int64, error) {
	log := logging.WithContext(ctx)
	sink.Percent(0)
	sink.Log("Downloading: " + rawURL)

	if err := fsutil.EnsureParentDirs(dst); err != nil {
		return 0, err
	}
	f, err := os.Create(dst)
	if err != nil {
		return 0, fsutil.Wrap("create", dst, err)
	}
	defer f.Close()

	cfg := d.cfg.RetryConfig
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.RecordRetry()
		progress.Logf(sink, "Download attempt %d failed (%v), retrying in %s", attempt, err, wait.Round(time.Millisecond))
	}

	var written int64
	err = retry.Do(ctx, cfg, func() error {
		if err := truncate(f, dst); err != nil {
			return err
		}
		var err error
		written, err = d.fetchChain(ctx, rawURL, f, dst, sink)
		return err
	})
	if err == nil {
		if serr := f.Sync(); serr != nil {
			err = fsutil.Wrap("sync", dst, serr)
		} else if cerr := f.Close(); cerr != nil {
			err = fsutil.Wrap("close", dst, cerr)
		}
	}
	sink.Indeterminate(false)
	metrics.RecordDownload("http", written, err == nil)
	if err != nil {
		log.Error("download failed", zap.String("url", rawURL), zap.String("dst", dst), zap.Error(err))
		return written, err
	}

	sink.Percent(100)
	progress.Logf(sink, "Saved: %s (%s)", dst, humanize.Bytes(uint64(written)))
	log.Info("download complete", zap.String("url", rawURL), zap.String("dst", dst), zap.Int64("bytes", written))

	if written < d.cfg.MinSize {
		progress.Logf(sink, "Warning: download is very small (%d bytes). Continuing anyway.", written)
		log.Warn("download is very small", zap.String("dst", dst), zap.Int64("bytes", written))
	}
	return written, nil
}

// fetchChain requests rawURL and follows redirects by hand so every hop
// is visible and bounded.
func (d *Downloader) fetchChain(ctx context.Context, rawURL string, f *os.File, dst string, sink progress.Sink) (int64, error) {
	current := rawURL
	hops := 0

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return 0, &NetworkError{URL: current, Err: err}
		}
		req.Header.Set("User-Agent", d.cfg.UserAgent)
		req.Header.Set("Accept", "*/*")

		resp, err := d.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, retry.Retryable(&NetworkError{URL: current, Err: err})
		}

		if !isRedirect(resp.StatusCode) {
			n, err := d.readBody(ctx, resp, current, f, dst, sink)
			resp.Body.Close()
			return n, err
		}

		location := resp.Header.Get("Location")
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if location == "" {
			return 0, &RedirectError{URL: current, Hops: hops, Reason: "redirect without Location header"}
		}
		if hops >= d.cfg.MaxRedirects {
			return 0, &RedirectError{URL: current, Hops: hops, Reason: "too many redirects"}
		}
		next, err := resp.Request.URL.Parse(location)
		if err != nil {
			return 0, &RedirectError{URL: current, Hops: hops, Reason: "invalid Location header: " + err.Error()}
		}

		hops++
		metrics.RecordRedirect()
		progress.Logf(sink, "Redirect (%d) -> %s", resp.StatusCode, next)

		// The new location is a different resource; start over.
		if err := truncate(f, dst); err != nil {
			return 0, err
		}
		sink.Indeterminate(false)
		sink.Percent(0)
		sink.Pump()
		current = next.String()
	}
}

func (d *Downloader) readBody(ctx context.Context, resp *http.Response, url string, f *os.File, dst string, sink progress.Sink) (int64, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := &HTTPStatusError{URL: url, StatusCode: resp.StatusCode}
		if resp.StatusCode >= 500 {
			return 0, retry.Retryable(err)
		}
		return 0, err
	}

	total := resp.ContentLength
	if total > 0 {
		sink.Indeterminate(false)
		sink.Percent(0)
	} else {
		sink.Indeterminate(true)
	}

	buf := make([]byte, d.cfg.BufferSize)
	var got int64
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			w, werr := f.Write(buf[:n])
			if werr == nil && w != n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return got, fsutil.Wrap("write", dst, werr)
			}
			got += int64(n)
			if total > 0 {
				p := Progress{Received: got, Total: total, Percent: progress.Clamp(int(got * 100 / total))}
				sink.Percent(p.Percent)
			}
		}
		sink.Pump()

		if rerr == io.EOF {
			return got, nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return got, ctx.Err()
			}
			return got, retry.Retryable(&NetworkError{URL: url, Err: rerr})
		}
	}
}

func truncate(f *os.File, path string) error {
	if err := f.Truncate(0); err != nil {
		return fsutil.Wrap("truncate", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fsutil.Wrap("seek", path, err)
	}
	return nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
