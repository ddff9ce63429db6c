// Package source routes archive URLs to the fetcher for their scheme:
// HTTP(S) through the downloader, s3:// through the AWS SDK, and file://
// or bare paths through a local copy.
package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sdlite/sdlite-setup/internal/fsutil"
	"github.com/sdlite/sdlite-setup/internal/logging"
	"github.com/sdlite/sdlite-setup/internal/metrics"
	"github.com/sdlite/sdlite-setup/internal/progress"
)

// Fetcher copies the archive at rawURL into the local file dst and
// returns the number of bytes written.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dst string, sink progress.Sink) (int64, error)

	// Type returns the fetcher type identifier ("http", "s3", "local").
	Type() string
}

// Router resolves which fetcher handles a URL.
type Router struct {
	http  Fetcher
	local Fetcher
	s3cfg S3Config

	mu sync.Mutex
	s3 Fetcher
}

// NewRouter creates a router. The S3 fetcher is only built the first time
// an s3:// URL is fetched, so runs without S3 sources never load AWS
// configuration.
func NewRouter(httpFetcher Fetcher, s3cfg S3Config) *Router {
	return &Router{
		http:  httpFetcher,
		local: LocalFetcher{},
		s3cfg: s3cfg,
	}
}

// WithS3 installs a ready S3 fetcher.
func (r *Router) WithS3(f Fetcher) *Router {
	r.mu.Lock()
	r.s3 = f
	r.mu.Unlock()
	return r
}

func (r *Router) Type() string { return "router" }

// Fetch delegates to the fetcher for rawURL's scheme.
func (r *Router) Fetch(ctx context.Context, rawURL, dst string, sink progress.Sink) (int64, error) {
	f, err := r.Resolve(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	return f.Fetch(ctx, rawURL, dst, sink)
}

// Resolve returns the fetcher responsible for rawURL.
func (r *Router) Resolve(ctx context.Context, rawURL string) (Fetcher, error) {
	switch Scheme(rawURL) {
	case "http", "https":
		if r.http == nil {
			return nil, fmt.Errorf("no HTTP fetcher configured for %s", rawURL)
		}
		return r.http, nil
	case "s3":
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.s3 == nil {
			f, err := NewS3Fetcher(ctx, r.s3cfg)
			if err != nil {
				return nil, err
			}
			r.s3 = f
		}
		return r.s3, nil
	case "file", "":
		return r.local, nil
	default:
		return nil, fmt.Errorf("unsupported source scheme in %q", rawURL)
	}
}

// Scheme returns the lower-cased URL scheme of rawURL, or "" for a plain
// filesystem path (including Windows drive paths).
func Scheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || len(u.Scheme) <= 1 {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// LocalFetcher copies archives that are already on disk.
type LocalFetcher struct{}

func (LocalFetcher) Type() string { return "local" }

// Fetch copies the file named by a file:// URL or a bare path.
func (LocalFetcher) Fetch(ctx context.Context, rawURL, dst string, sink progress.Sink) (n int64, err error) {
	defer func() { recordFetch("local", n, err) }()

	src := localPath(rawURL)
	sink.Percent(0)
	sink.Log("Copying: " + src)

	in, err := os.Open(src)
	if err != nil {
		return 0, fsutil.Wrap("open", src, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return 0, fsutil.Wrap("stat", src, err)
	}
	if info.IsDir() {
		return 0, fsutil.Wrap("open", src, fmt.Errorf("is a directory"))
	}

	n, err = copyToFile(ctx, in, info.Size(), dst, sink)
	if re, ok := err.(*readError); ok {
		return n, fsutil.Wrap("read", src, re.Err)
	}
	return n, err
}

func localPath(rawURL string) string {
	if Scheme(rawURL) == "file" {
		if u, err := url.Parse(rawURL); err == nil {
			p := u.Path
			if u.Host != "" && u.Host != "localhost" {
				p = "//" + u.Host + p
			}
			return filepath.FromSlash(p)
		}
	}
	return rawURL
}

func recordFetch(source string, n int64, err error) {
	metrics.RecordDownload(source, n, err == nil)
	if err != nil {
		logging.Warn("fetch failed", zap.String("source", source), zap.Error(err))
	}
}

// copyToFile streams r into dst in 64 KiB chunks, reporting progress.
// A read failure is returned as *readError so callers can classify it.
func copyToFile(ctx context.Context, r io.Reader, total int64, dst string, sink progress.Sink) (int64, error) {
	if err := fsutil.EnsureParentDirs(dst); err != nil {
		return 0, err
	}
	f, err := os.Create(dst)
	if err != nil {
		return 0, fsutil.Wrap("create", dst, err)
	}
	defer f.Close()

	if total > 0 {
		sink.Indeterminate(false)
	} else {
		sink.Indeterminate(true)
	}

	buf := make([]byte, 64*1024)
	var got int64
	for {
		if err := ctx.Err(); err != nil {
			return got, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return got, fsutil.Wrap("write", dst, werr)
			}
			got += int64(n)
			if total > 0 {
				sink.Percent(progress.Clamp(int(got * 100 / total)))
			}
		}
		sink.Pump()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return got, &readError{Err: rerr}
		}
	}

	if err := f.Close(); err != nil {
		return got, fsutil.Wrap("close", dst, err)
	}
	sink.Indeterminate(false)
	sink.Percent(100)
	return got, nil
}

// readError is a failure reading from the source stream.
type readError struct {
	Err error
}

func (e *readError) Error() string { return "read source: " + e.Err.Error() }

func (e *readError) Unwrap() error { return e.Err }
