// Package cache provides a file-backed TTL cache for event-derived
// aggregates, so the full event history is not re-scanned on every
// refresh cycle.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sync"
	"time"

	"github.com/stakewatch/stakewatch/internal/logging"
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

// entry wraps cached data with its write timestamp. Amount fields are
// arbitrary-precision integers; they survive the JSON round trip
// exactly because big.Int marshals as a number literal and parses it
// back without going through a float.
type entry struct {
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Data      json.RawMessage `json:"data"`
}

// Cache is a mutex-guarded, file-per-key TTL cache.
type Cache struct {
	dir string
	ttl time.Duration

	mu  sync.Mutex
	now func() time.Time // overridable in tests
}

// New creates a cache rooted at dir with the given TTL.
func New(dir string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{dir: dir, ttl: ttl, now: time.Now}, nil
}

// Get reads the cached value for key into out. It returns false on a
// miss, and an expired entry is evicted as a side effect. A corrupt
// entry counts as a miss and is removed.
func (c *Cache) Get(key string, out any) (bool, error) {
	path, err := c.keyPath(key)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		logging.Warn("evicting corrupt cache entry", "key", key, logging.Err(err))
		_ = os.Remove(path)
		return false, nil
	}

	age := c.now().UnixMilli() - e.Timestamp
	if age > c.ttl.Milliseconds() {
		_ = os.Remove(path)
		return false, nil
	}

	if err := json.Unmarshal(e.Data, out); err != nil {
		logging.Warn("evicting unreadable cache entry", "key", key, logging.Err(err))
		_ = os.Remove(path)
		return false, nil
	}
	return true, nil
}

// Set stores data under key, replacing any previous value wholesale.
// Empty collections are refused so a transient empty fetch never
// clobbers previously good data; refusal is not an error.
func (c *Cache) Set(key string, data any) error {
	if isEmptyCollection(data) {
		logging.Debug("skipping cache write of empty value", "key", key)
		return nil
	}

	path, err := c.keyPath(key)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	blob, err := json.Marshal(entry{Timestamp: c.now().UnixMilli(), Data: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0600); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return nil
}

// Clear removes the given keys. Used by an explicit refresh that also
// bypasses the cache for that cycle. Missing keys are ignored.
func (c *Cache) Clear(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		path, err := c.keyPath(key)
		if err != nil {
			continue
		}
		_ = os.Remove(path)
	}
}

func (c *Cache) keyPath(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid cache key: %q", key)
	}
	return filepath.Join(c.dir, key+".json"), nil
}

// isEmptyCollection reports whether v is nil or a zero-length
// slice/map/array, possibly behind pointers.
func isEmptyCollection(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return true
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}
