// Package cache persists small blobs (embedding vectors, rendered plots) on
// disk with a TTL and a size budget.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/logging"
)

const entrySuffix = ".entry"

// Cache is a keyed blob store with expiry
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Cleanup(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*Stats, error)
}

// Entry is the on-disk record. Data and metadata live in one file so a
// partially written entry cannot be mistaken for a valid one.
type Entry struct {
	Key       string    `json:"key"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Stats summarizes cache usage
type Stats struct {
	Entries int64   `json:"entries"`
	Bytes   int64   `json:"bytes"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// FileCache stores one file per key under a directory
type FileCache struct {
	directory  string
	maxBytes   int64
	defaultTTL time.Duration

	mu     sync.Mutex
	hits   int64
	misses int64
	now    func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewFileCache creates the directory if needed. A cleanupFreq of zero
// disables the background sweep.
func NewFileCache(directory string, maxSizeMB int, defaultTTL, cleanupFreq time.Duration) (*FileCache, error) {
	if strings.HasPrefix(directory, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeFileSystem, "failed to get user home directory")
		}

		directory = filepath.Join(home, directory[2:])
	}

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeFileSystem, "failed to create cache directory %s", directory)
	}

	c := &FileCache{
		directory:  directory,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		defaultTTL: defaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	if cleanupFreq > 0 {
		go c.sweep(cleanupFreq)
	}

	return c, nil
}

// Directory returns the resolved cache directory
func (c *FileCache) Directory() string {
	return c.directory
}

// Get returns the cached bytes. Missing and expired keys return a
// not-found error.
func (c *FileCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.path(key)

	entry, err := readEntry(path)
	if err != nil || entry.Key != key {
		c.misses++
		return nil, errors.New(errors.ErrTypeNotFound, "cache miss")
	}

	if entry.expired(c.now()) {
		c.misses++
		_ = os.Remove(path)

		return nil, errors.New(errors.ErrTypeNotFound, "cache entry expired")
	}

	c.hits++

	return entry.Data, nil
}

// Set writes data under key. A zero ttl uses the cache default.
func (c *FileCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	now := c.now()
	entry := Entry{Key: key, Data: data, CreatedAt: now}

	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to encode cache entry")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enforceSize(int64(len(raw))); err != nil {
		return err
	}

	path := c.path(key)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrTypeFileSystem, "failed to write cache entry")
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, errors.ErrTypeFileSystem, "failed to write cache entry")
	}

	return nil
}

// Delete removes key if present
func (c *FileCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrTypeFileSystem, "failed to delete cache entry")
	}

	return nil
}

// Clear removes every entry and resets counters
func (c *FileCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	files, err := c.entries()
	if err != nil {
		return err
	}

	for _, f := range files {
		_ = os.Remove(f.path)
	}

	c.hits, c.misses = 0, 0

	return nil
}

// Cleanup removes expired entries and returns how many were dropped
func (c *FileCache) Cleanup(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	files, err := c.entries()
	if err != nil {
		return 0, err
	}

	now := c.now()
	removed := 0

	for _, f := range files {
		entry, err := readEntry(f.path)
		if err != nil || entry.expired(now) {
			_ = os.Remove(f.path)
			removed++
		}
	}

	return removed, nil
}

// Stats reports entry count, bytes on disk and hit rate
func (c *FileCache) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	files, err := c.entries()
	if err != nil {
		return nil, err
	}

	stats := &Stats{Entries: int64(len(files)), Hits: c.hits, Misses: c.misses}
	for _, f := range files {
		stats.Bytes += f.size
	}

	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}

	return stats, nil
}

// Close stops the background sweep
func (c *FileCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *FileCache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.directory, hex.EncodeToString(sum[:])[:32]+entrySuffix)
}

type fileInfo struct {
	path    string
	size    int64
	modTime time.Time
}

func (c *FileCache) entries() ([]fileInfo, error) {
	dirEntries, err := os.ReadDir(c.directory)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeFileSystem, "failed to read cache directory")
	}

	var files []fileInfo

	for _, d := range dirEntries {
		if d.IsDir() || !strings.HasSuffix(d.Name(), entrySuffix) {
			continue
		}

		info, err := d.Info()
		if err != nil {
			continue
		}

		files = append(files, fileInfo{
			path:    filepath.Join(c.directory, d.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	return files, nil
}

// enforceSize evicts oldest entries until incoming fits. Caller holds mu.
func (c *FileCache) enforceSize(incoming int64) error {
	if c.maxBytes <= 0 {
		return nil
	}

	if incoming > c.maxBytes {
		return errors.New(errors.ErrTypeValidation,
			fmt.Sprintf("cache entry of %d bytes exceeds the cache size limit", incoming))
	}

	files, err := c.entries()
	if err != nil {
		return err
	}

	var total int64
	for _, f := range files {
		total += f.size
	}

	if total+incoming <= c.maxBytes {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	evicted := 0

	for _, f := range files {
		if total+incoming <= c.maxBytes {
			break
		}

		if err := os.Remove(f.path); err == nil {
			total -= f.size
			evicted++
		}
	}

	logging.WithFields(map[string]interface{}{
		"evicted": evicted,
		"dir":     c.directory,
	}).Debug("Evicted cache entries to stay under size limit")

	return nil
}

func (c *FileCache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := c.Cleanup(context.Background()); err != nil {
				logging.WithError(err).Warn("Cache cleanup failed")
			} else if n > 0 {
				logging.WithField("removed", n).Debug("Removed expired cache entries")
			}
		case <-c.stop:
			return
		}
	}
}

func readEntry(path string) (Entry, error) {
	var entry Entry

	raw, err := os.ReadFile(path)
	if err != nil {
		return entry, err
	}

	err = json.Unmarshal(raw, &entry)

	return entry, err
}
