package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/marcus-crane/marquee/db"
	"github.com/marcus-crane/marquee/models"
	"github.com/marcus-crane/marquee/shared"
)

var ErrOrigin = errors.New("failed to fetch media from origin")

type tempFile interface {
	io.Writer
	Name() string
	Close() error
}

// Cache is a disk backed, capacity bounded store of remote media keyed by
// source URL. All bookkeeping happens under m; nothing outside this package
// touches the entry table.
type Cache struct {
	dir      string
	capacity int64
	client   *http.Client
	index    db.CacheIndex

	m       sync.Mutex
	entries map[string]*models.CacheEntry
	pins    map[string]int
	total   int64
	seq     uint64

	now        func() time.Time
	createTemp func(dir, pattern string) (tempFile, error)
}

func New(dir string, capacity int64, client *http.Client, index db.CacheIndex) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	c := &Cache{
		dir:      dir,
		capacity: capacity,
		client:   client,
		index:    index,
		entries:  map[string]*models.CacheEntry{},
		pins:     map[string]int{},
		now:      time.Now,
		createTemp: func(dir, pattern string) (tempFile, error) {
			return os.CreateTemp(dir, pattern)
		},
	}
	c.load()
	c.EvictionSweep()
	return c, nil
}

// load restores the entry table from the index. Rows whose file has gone
// missing are dropped and leftover partial downloads are removed.
func (c *Cache) load() {
	if partials, err := filepath.Glob(filepath.Join(c.dir, "*.part")); err == nil {
		for _, partial := range partials {
			os.Remove(partial)
		}
	}
	if c.index == nil {
		return
	}
	stored, err := c.index.LoadCacheEntries()
	if err != nil {
		slog.Warn("Failed to load cache index, starting cold",
			slog.String("fault", shared.FAULT_CACHE),
			slog.String("error", err.Error()))
		return
	}

	c.m.Lock()
	defer c.m.Unlock()
	for _, entry := range stored {
		info, err := os.Stat(filepath.Join(c.dir, entry.FileName))
		if err != nil {
			c.forget(entry.URL)
			continue
		}
		entry := entry
		entry.Size = info.Size()
		entry.Pins = 0
		c.entries[entry.URL] = &entry
		c.total += entry.Size
		if entry.Seq > c.seq {
			c.seq = entry.Seq
		}
	}
	slog.Debug("Loaded cache index",
		slog.Int("entries", len(c.entries)),
		slog.Int64("bytes", c.total))
}

// Fetch returns the media at url, from disk when cached and otherwise from
// origin while writing through to disk. Origin failures are returned as is
// so that callers can apply their own retry policy.
func (c *Cache) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	if f, ok := c.open(url); ok {
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOrigin, err)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOrigin, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %d", ErrOrigin, url, res.StatusCode)
	}

	tmp, err := c.createTemp(c.dir, fileName(url)+".*.part")
	if err != nil {
		slog.Warn("Failed to create cache file, streaming without caching",
			slog.String("fault", shared.FAULT_CACHE),
			slog.String("url", url),
			slog.String("error", err.Error()))
		return res.Body, nil
	}

	return &writeThrough{
		cache: c,
		url:   url,
		body:  res.Body,
		tmp:   tmp,
	}, nil
}

func (c *Cache) open(url string) (*os.File, bool) {
	c.m.Lock()
	defer c.m.Unlock()

	entry, ok := c.entries[url]
	if !ok {
		return nil, false
	}
	f, err := os.Open(filepath.Join(c.dir, entry.FileName))
	if err != nil {
		slog.Warn("Cached file disappeared, refetching",
			slog.String("fault", shared.FAULT_CACHE),
			slog.String("url", url),
			slog.String("error", err.Error()))
		c.total -= entry.Size
		delete(c.entries, url)
		c.forget(url)
		return nil, false
	}
	entry.LastAccess = c.now()
	c.persist(*entry)
	return f, true
}

// commit moves a completed download into place and records it. The sweep
// runs after every commit.
func (c *Cache) commit(url, tmpPath string, size int64) {
	name := fileName(url)
	if err := os.Rename(tmpPath, filepath.Join(c.dir, name)); err != nil {
		slog.Warn("Failed to commit cache file",
			slog.String("fault", shared.FAULT_CACHE),
			slog.String("url", url),
			slog.String("error", err.Error()))
		os.Remove(tmpPath)
		return
	}

	c.m.Lock()
	if existing, ok := c.entries[url]; ok {
		c.total -= existing.Size
	}
	c.seq++
	entry := &models.CacheEntry{
		URL:        url,
		FileName:   name,
		Size:       size,
		LastAccess: c.now(),
		Seq:        c.seq,
	}
	c.entries[url] = entry
	c.total += size
	c.persist(*entry)
	c.m.Unlock()

	slog.Debug("Cached media", slog.String("url", url), slog.Int64("size", size))
	c.EvictionSweep()
}

// EvictionSweep removes least recently used unpinned entries until the total
// size fits the capacity. Ties on access time go to the oldest insertion.
// It returns the evicted URLs in eviction order.
func (c *Cache) EvictionSweep() []string {
	c.m.Lock()
	defer c.m.Unlock()

	evicted := []string{}
	if c.total <= c.capacity {
		return evicted
	}

	candidates := make([]*models.CacheEntry, 0, len(c.entries))
	for url, entry := range c.entries {
		if c.pins[url] > 0 {
			continue
		}
		candidates = append(candidates, entry)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].LastAccess.Equal(candidates[j].LastAccess) {
			return candidates[i].Seq < candidates[j].Seq
		}
		return candidates[i].LastAccess.Before(candidates[j].LastAccess)
	})

	for _, entry := range candidates {
		if c.total <= c.capacity {
			break
		}
		if err := os.Remove(filepath.Join(c.dir, entry.FileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to remove evicted file",
				slog.String("fault", shared.FAULT_CACHE),
				slog.String("url", entry.URL),
				slog.String("error", err.Error()))
		}
		c.total -= entry.Size
		delete(c.entries, entry.URL)
		c.forget(entry.URL)
		evicted = append(evicted, entry.URL)
	}

	if c.total > c.capacity {
		slog.Debug("Cache over capacity with only pinned entries left",
			slog.Int64("bytes", c.total),
			slog.Int64("capacity", c.capacity))
	}
	if len(evicted) > 0 {
		slog.Debug("Evicted cached media", slog.Int("count", len(evicted)))
	}
	return evicted
}

// Pin exempts url from eviction until a matching Unpin. Pins are counted so
// the same URL can back consecutive presentations.
func (c *Cache) Pin(url string) {
	c.m.Lock()
	defer c.m.Unlock()
	c.pins[url]++
}

func (c *Cache) Unpin(url string) {
	c.m.Lock()
	defer c.m.Unlock()
	if c.pins[url] <= 1 {
		delete(c.pins, url)
		return
	}
	c.pins[url]--
}

func (c *Cache) Size() int64 {
	c.m.Lock()
	defer c.m.Unlock()
	return c.total
}

func (c *Cache) Capacity() int64 {
	return c.capacity
}

// Entries returns a snapshot of the entry table, least recently used first.
func (c *Cache) Entries() []models.CacheEntry {
	c.m.Lock()
	defer c.m.Unlock()
	entries := make([]models.CacheEntry, 0, len(c.entries))
	for url, entry := range c.entries {
		snapshot := *entry
		snapshot.Pins = c.pins[url]
		entries = append(entries, snapshot)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastAccess.Equal(entries[j].LastAccess) {
			return entries[i].Seq < entries[j].Seq
		}
		return entries[i].LastAccess.Before(entries[j].LastAccess)
	})
	return entries
}

// Contains reports whether url is cached on disk, without touching it.
func (c *Cache) Contains(url string) bool {
	c.m.Lock()
	defer c.m.Unlock()
	_, ok := c.entries[url]
	return ok
}

// Peek opens url only if it is already cached. It never goes to origin and
// leaves the access time alone.
func (c *Cache) Peek(url string) (io.ReadCloser, bool) {
	c.m.Lock()
	entry, ok := c.entries[url]
	c.m.Unlock()
	if !ok {
		return nil, false
	}
	f, err := os.Open(filepath.Join(c.dir, entry.FileName))
	if err != nil {
		return nil, false
	}
	return f, true
}

// persist and forget must be called with m held. Index failures only cost
// us the entry after a restart.
func (c *Cache) persist(entry models.CacheEntry) {
	if c.index == nil {
		return
	}
	if err := c.index.UpsertCacheEntry(entry); err != nil {
		slog.Warn("Failed to persist cache entry",
			slog.String("fault", shared.FAULT_CACHE),
			slog.String("url", entry.URL),
			slog.String("error", err.Error()))
	}
}

func (c *Cache) forget(url string) {
	if c.index == nil {
		return
	}
	if err := c.index.DeleteCacheEntry(url); err != nil {
		slog.Warn("Failed to remove cache entry from index",
			slog.String("fault", shared.FAULT_CACHE),
			slog.String("url", url),
			slog.String("error", err.Error()))
	}
}

func fileName(url string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(url))
}
