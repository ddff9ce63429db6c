// Package cache keeps downloaded archives on disk, keyed by source URL,
// so repeated installs can skip the network.
package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/sdlite/sdlite-setup/internal/fsutil"
	"github.com/sdlite/sdlite-setup/internal/logging"
	"github.com/sdlite/sdlite-setup/internal/metrics"
)

// DefaultMaxEntries is used when New is given a non-positive limit.
const DefaultMaxEntries = 16

const indexFile = "index.json"

// Entry describes one cached archive.
type Entry struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	LocalPath string    `json:"local_path"`
	Size      int64     `json:"size"`
	StoredAt  time.Time `json:"stored_at"`
}

// Cache manages locally cached archives. The least recently used entry
// is evicted, and its file removed, once more than maxEntries are held.
type Cache struct {
	dir string

	mu      sync.Mutex
	entries *lru.Cache[string, *Entry]
}

// New opens (or creates) a cache in dir and loads its index.
func New(dir string, maxEntries int) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &Cache{dir: dir}
	entries, err := lru.NewWithEvict[string, *Entry](maxEntries, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.entries = entries

	if err := c.load(); err != nil {
		logging.Warn("ignoring unreadable cache index", zap.String("dir", dir), zap.Error(err))
	}
	return c, nil
}

// Key derives the cache key for a source URL.
func Key(rawURL string) string {
	sum := blake2b.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:16])
}

// Get returns the local path of the archive cached for rawURL.
func (c *Cache) Get(rawURL string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(rawURL)
	entry, ok := c.entries.Get(key)
	if ok {
		info, err := os.Stat(entry.LocalPath)
		if err != nil || info.Size() != entry.Size {
			c.entries.Remove(key)
			ok = false
		}
	}
	metrics.RecordCacheLookup(ok)
	if !ok {
		return "", false
	}
	return entry.LocalPath, true
}

// Put copies the file at src into the cache as the archive for rawURL.
// Content is written atomically (temp file then rename).
func (c *Cache) Put(rawURL, src string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(rawURL)
	localPath := filepath.Join(c.dir, key+".archive")

	in, err := os.Open(src)
	if err != nil {
		return "", fsutil.Wrap("open", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(c.dir, ".cache-*.tmp")
	if err != nil {
		return "", fsutil.Wrap("create", c.dir, err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, in)
	tmp.Close()
	if err != nil {
		os.Remove(tmpName)
		return "", fsutil.Wrap("write", tmpName, err)
	}
	if err := os.Rename(tmpName, localPath); err != nil {
		os.Remove(tmpName)
		return "", fsutil.Wrap("rename", localPath, err)
	}

	c.entries.Add(key, &Entry{
		Key:       key,
		URL:       rawURL,
		LocalPath: localPath,
		Size:      written,
		StoredAt:  time.Now().UTC(),
	})
	if err := c.save(); err != nil {
		logging.Warn("failed to save cache index", zap.String("dir", c.dir), zap.Error(err))
	}
	return localPath, nil
}

// Remove drops the entry for rawURL and deletes its file.
func (c *Cache) Remove(rawURL string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok := c.entries.Remove(Key(rawURL))
	if ok {
		if err := c.save(); err != nil {
			logging.Warn("failed to save cache index", zap.String("dir", c.dir), zap.Error(err))
		}
	}
	return ok
}

// List returns all cached entries, least recently used first.
func (c *Cache) List() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	values := c.entries.Values()
	out := make([]Entry, 0, len(values))
	for _, e := range values {
		out = append(out, *e)
	}
	return out
}

// Len returns the number of cached archives.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Dir returns the cache directory path.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) onEvict(key string, entry *Entry) {
	if err := os.Remove(entry.LocalPath); err != nil && !os.IsNotExist(err) {
		logging.Debug("failed to remove evicted archive", zap.String("path", entry.LocalPath), zap.Error(err))
	}
}

// save persists the index. Must be called with lock held.
func (c *Cache) save() error {
	values := c.entries.Values()
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(c.dir, indexFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// load restores entries whose files still exist, oldest first so the
// recency order survives a restart.
func (c *Cache) load() error {
	data, err := os.ReadFile(filepath.Join(c.dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		if e == nil || e.Key == "" || !fsutil.IsFile(e.LocalPath) {
			continue
		}
		c.entries.Add(e.Key, e)
	}
	return nil
}
