package source

import (
	"context"

	"go.uber.org/zap"

	"github.com/sdlite/sdlite-setup/internal/cache"
	"github.com/sdlite/sdlite-setup/internal/logging"
	"github.com/sdlite/sdlite-setup/internal/progress"
)

// CachedFetcher serves archives from a local cache when possible and
// stores every archive its wrapped fetcher completes.
type CachedFetcher struct {
	next  Fetcher
	cache *cache.Cache
}

// Cached wraps next with c. A nil cache returns next unchanged.
func Cached(next Fetcher, c *cache.Cache) Fetcher {
	if c == nil {
		return next
	}
	return &CachedFetcher{next: next, cache: c}
}

func (f *CachedFetcher) Type() string { return "cached" }

func (f *CachedFetcher) Fetch(ctx context.Context, rawURL, dst string, sink progress.Sink) (int64, error) {
	if path, ok := f.cache.Get(rawURL); ok {
		progress.Logf(sink, "Using cached archive for %s", rawURL)
		n, err := LocalFetcher{}.Fetch(ctx, path, dst, sink)
		if err == nil {
			return n, nil
		}
		logging.Warn("cached archive unusable, fetching again", zap.String("url", rawURL), zap.Error(err))
		f.cache.Remove(rawURL)
	}

	n, err := f.next.Fetch(ctx, rawURL, dst, sink)
	if err != nil {
		return n, err
	}
	if _, err := f.cache.Put(rawURL, dst); err != nil {
		logging.Warn("failed to cache archive", zap.String("url", rawURL), zap.Error(err))
	}
	return n, nil
}
