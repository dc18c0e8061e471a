package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tribridrag/tribridrag/internal/database"
)

// CachingTransport is an http.RoundTripper that caches
// request/response pairs in a SQLite database under dir, keyed by the
// SHA-256 of method + URL + request body. Only 2xx responses are
// cached. Cache read/write errors are non-fatal — they silently fall
// through to the inner transport.
type CachingTransport struct {
	inner http.RoundTripper
	db    database.Database
}

// cacheEntry is one cached response row.
type cacheEntry struct {
	Key        string `gorm:"column:key;primaryKey"`
	StatusCode int    `gorm:"column:status_code"`
	Header     []byte `gorm:"column:header"`
	Body       []byte `gorm:"column:body"`
}

// TableName implements the GORM table name convention.
func (cacheEntry) TableName() string { return "http_cache_entries" }

// NewCachingTransport creates a CachingTransport backed by a SQLite
// database under dir. If inner is nil, http.DefaultTransport is used.
func NewCachingTransport(dir string, inner http.RoundTripper) (*CachingTransport, error) {
	if inner == nil {
		inner = http.DefaultTransport
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := database.NewDatabase(context.Background(), "sqlite:///"+filepath.Join(dir, "http-cache.db"))
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if err := db.GORM().AutoMigrate(&cacheEntry{}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache schema: %w", err)
	}
	return &CachingTransport{inner: inner, db: db}, nil
}

// Close releases the cache database.
func (t *CachingTransport) Close() error {
	return t.db.Close()
}

// RoundTrip implements http.RoundTripper.
func (t *CachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(body))

	key := cacheKey(req.Method, req.URL.String(), body)
	if resp, ok := t.readCache(req, key); ok {
		return resp, nil
	}

	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	_ = resp.Body.Close()

	t.writeCache(req.Context(), key, resp.StatusCode, resp.Header, respBody)

	resp.Body = io.NopCloser(bytes.NewReader(respBody))
	return resp, nil
}

// cacheKey derives the cache key for one request.
func cacheKey(method, url string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte("\n"))
	h.Write([]byte(url))
	h.Write([]byte("\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func (t *CachingTransport) readCache(req *http.Request, key string) (*http.Response, bool) {
	var entry cacheEntry
	err := t.db.Session(req.Context()).Where("`key` = ?", key).First(&entry).Error
	if err != nil {
		return nil, false
	}

	var header map[string][]string
	if err := json.Unmarshal(entry.Header, &header); err != nil {
		// A corrupt row is a miss; the fresh response overwrites it.
		return nil, false
	}

	return &http.Response{
		StatusCode: entry.StatusCode,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(entry.Body)),
		Request:    req,
	}, true
}

func (t *CachingTransport) writeCache(ctx context.Context, key string, statusCode int, header http.Header, body []byte) {
	rawHeader, err := json.Marshal(header)
	if err != nil {
		return
	}
	entry := cacheEntry{
		Key:        key,
		StatusCode: statusCode,
		Header:     rawHeader,
		Body:       body,
	}
	_ = t.db.Session(ctx).Save(&entry).Error
}
