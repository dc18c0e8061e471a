package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a content-addressed embedding cache keyed by
// (provider, model, sha256(text)). A hot in-process LRU layer fronts a
// directory of one JSON file per key. Inserts are idempotent — two
// concurrent writers of the same key produce the same file — and reads
// never block on a write in flight for a different key.
type Cache struct {
	dir string
	hot *lru.Cache[string, []float64]
}

// NewCache creates a Cache rooted at dir (created if absent). hotSize
// bounds the in-process LRU; zero means the default of 4096 entries.
func NewCache(dir string, hotSize int) (*Cache, error) {
	if hotSize <= 0 {
		hotSize = 4096
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create embedding cache dir: %w", err)
	}
	hot, err := lru.New[string, []float64](hotSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache lru: %w", err)
	}
	return &Cache{dir: dir, hot: hot}, nil
}

// Key derives the cache key for one (provider, model, text) triple.
func Key(providerName, model, text string) string {
	h := sha256.New()
	h.Write([]byte(providerName))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	sum := sha256.Sum256([]byte(text))
	h.Write(sum[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached vector for key, or ok=false on a miss.
func (c *Cache) Get(key string) ([]float64, bool) {
	if vec, ok := c.hot.Get(key); ok {
		return vec, true
	}
	raw, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	var vec []float64
	if err := json.Unmarshal(raw, &vec); err != nil {
		// A corrupt entry is treated as a miss; the next Put overwrites it.
		return nil, false
	}
	c.hot.Add(key, vec)
	return vec, true
}

// Put stores a vector under key. Safe to call concurrently for the same
// key from multiple builds: the write is staged to a unique temp file and
// renamed into place.
func (c *Cache) Put(key string, vec []float64) error {
	c.hot.Add(key, vec)

	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal cached embedding: %w", err)
	}
	path := c.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache shard dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("stage cache entry: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

// path shards entries by the first two hex characters so one directory
// never accumulates millions of files.
func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key[:2], key+".json")
}
