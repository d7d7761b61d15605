// Package cache provides a generic in-memory key/value store with TTL
// expiry, exact LRU eviction, and optional transparent compression of
// stored values.
package cache

import (
	"container/list"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

// compressThreshold is the serialized size below which compression is
// never attempted; tiny payloads only grow.
const compressThreshold = 100

// IOError wraps a failure to encode or store a cache value. Callers
// treat the cache as best-effort, so these are logged and swallowed.
type IOError struct {
	Key string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cache: %s: %v", e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Config tunes a Cache.
type Config struct {
	// MaxSize is the entry ceiling; inserting beyond it evicts the
	// least-recently-used entries one at a time.
	MaxSize int
	// DefaultTTL applies to Set; zero means entries never expire.
	DefaultTTL time.Duration
	// CleanupInterval schedules the background expiry sweep; zero
	// disables it (lazy expiry on access still applies).
	CleanupInterval time.Duration
	// Compression stores values zstd-compressed when that is a win.
	Compression bool
}

// entry is one cached value. The payload is the JSON serialization of
// the value, possibly zstd-compressed; the compressed flag is the
// explicit tag that says which, so reads never have to guess.
type entry struct {
	key         string
	payload     []byte
	compressed  bool
	createdAt   time.Time
	accessedAt  time.Time
	expiresAt   time.Time // zero = never
	accessCount int64
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is a TTL/LRU store safe for concurrent use. The mutex guards
// only map and list mutation; serialization and compression happen
// outside it.
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List // front = most recently used
	memBytes int64

	maxSize    int
	defaultTTL time.Duration
	compress   bool
	enc        *zstd.Encoder
	dec        *zstd.Decoder

	hits, misses, sets, deletes atomic.Int64
	expires, evictions, clears  atomic.Int64

	now    func() time.Time
	logger zerolog.Logger
	stop   chan struct{}
	once   sync.Once
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithLogger sets the cache logger.
func WithLogger[V any](l zerolog.Logger) Option[V] {
	return func(c *Cache[V]) { c.logger = l }
}

// WithClock sets a custom clock function (for testing).
func WithClock[V any](fn func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = fn }
}

// New creates a cache and, if a cleanup interval is configured, starts
// its background expiry sweep. Call Close to stop the sweep.
func New[V any](cfg Config, opts ...Option[V]) *Cache[V] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	c := &Cache[V]{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		compress:   cfg.Compression,
		now:        time.Now,
		logger:     zerolog.Nop(),
		stop:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.compress {
		c.enc, _ = zstd.NewWriter(nil)
		c.dec, _ = zstd.NewReader(nil)
	}
	if cfg.CleanupInterval > 0 {
		go c.sweep(cfg.CleanupInterval)
	}
	return c
}

// Get returns the value for key if present and unexpired, updating its
// recency. Expired entries are removed on sight.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	el, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return zero, false
	}
	e := el.Value.(*entry)
	now := c.now()
	if e.expired(now) {
		c.removeLocked(el, e)
		c.mu.Unlock()
		c.expires.Add(1)
		c.misses.Add(1)
		return zero, false
	}
	e.accessedAt = now
	e.accessCount++
	c.lru.MoveToFront(el)
	payload, compressed := e.payload, e.compressed
	c.mu.Unlock()

	data := payload
	if compressed {
		out, err := c.dec.DecodeAll(payload, nil)
		if err != nil {
			// Tagged as compressed but unreadable: drop it.
			c.logger.Warn().Str("key", key).Err(err).Msg("dropping undecodable cache entry")
			c.Delete(key)
			c.misses.Add(1)
			return zero, false
		}
		data = out
	}
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn().Str("key", key).Err(err).Msg("dropping undecodable cache entry")
		c.Delete(key)
		c.misses.Add(1)
		return zero, false
	}
	c.hits.Add(1)
	return v, true
}

// Set stores a value under the cache's default TTL.
func (c *Cache[V]) Set(key string, v V) error {
	return c.SetTTL(key, v, c.defaultTTL)
}

// SetTTL stores a value with an explicit TTL; ttl <= 0 means no expiry.
// An existing key is replaced in place and moved to most recently used.
func (c *Cache[V]) SetTTL(key string, v V, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return &IOError{Key: key, Err: err}
	}
	payload, compressed := raw, false
	if c.compress && len(raw) > compressThreshold {
		// Keep the compressed form only when it is strictly smaller.
		if comp := c.enc.EncodeAll(raw, make([]byte, 0, len(raw))); len(comp) < len(raw) {
			payload, compressed = comp, true
		}
	}

	now := c.now()
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		c.memBytes += int64(len(payload)) - int64(len(e.payload))
		e.payload, e.compressed = payload, compressed
		e.createdAt, e.accessedAt, e.expiresAt = now, now, expires
		e.accessCount = 0
		c.lru.MoveToFront(el)
	} else {
		for c.lru.Len() >= c.maxSize {
			c.evictOldestLocked()
		}
		e := &entry{
			key:        key,
			payload:    payload,
			compressed: compressed,
			createdAt:  now,
			accessedAt: now,
			expiresAt:  expires,
		}
		c.entries[key] = c.lru.PushFront(e)
		c.memBytes += int64(len(payload))
	}
	c.mu.Unlock()
	c.sets.Add(1)
	return nil
}

// Delete removes a key, reporting whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	el, ok := c.entries[key]
	if ok {
		c.removeLocked(el, el.Value.(*entry))
	}
	c.mu.Unlock()
	if ok {
		c.deletes.Add(1)
	}
	return ok
}

// Exists reports whether key is present and unexpired, without touching
// recency or the hit/miss counters.
func (c *Cache[V]) Exists(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return false
	}
	e := el.Value.(*entry)
	if e.expired(c.now()) {
		c.removeLocked(el, e)
		c.expires.Add(1)
		return false
	}
	return true
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.memBytes = 0
	c.mu.Unlock()
	c.clears.Add(1)
}

// CleanupExpired removes every expired entry and returns how many were
// removed. The background sweep calls this on its interval; it also
// covers entries that are never read again.
func (c *Cache[V]) CleanupExpired() int {
	now := c.now()
	c.mu.Lock()
	var removed int
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if e := el.Value.(*entry); e.expired(now) {
			c.removeLocked(el, e)
			removed++
		}
		el = prev
	}
	c.mu.Unlock()
	c.expires.Add(int64(removed))
	return removed
}

// Stats returns cumulative counters. HitRate is recomputed on read.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	size := c.lru.Len()
	mem := c.memBytes
	c.mu.Unlock()

	s := Stats{
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		Sets:             c.sets.Load(),
		Deletes:          c.deletes.Load(),
		Expires:          c.expires.Load(),
		Evictions:        c.evictions.Load(),
		Clears:           c.clears.Load(),
		CurrentSize:      size,
		MaxSize:          c.maxSize,
		MemoryUsageBytes: mem,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close stops the background sweep. Safe to call more than once.
func (c *Cache[V]) Close() {
	c.once.Do(func() { close(c.stop) })
}

// removeLocked must be called with c.mu held.
func (c *Cache[V]) removeLocked(el *list.Element, e *entry) {
	c.lru.Remove(el)
	delete(c.entries, e.key)
	c.memBytes -= int64(len(e.payload))
}

// evictOldestLocked must be called with c.mu held.
func (c *Cache[V]) evictOldestLocked() {
	el := c.lru.Back()
	if el == nil {
		return
	}
	c.removeLocked(el, el.Value.(*entry))
	c.evictions.Add(1)
}

func (c *Cache[V]) sweep(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			if n := c.CleanupExpired(); n > 0 {
				c.logger.Debug().Int("removed", n).Msg("cache sweep removed expired entries")
			}
		}
	}
}

// Stats holds cumulative cache counters.
type Stats struct {
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	Sets             int64   `json:"sets"`
	Deletes          int64   `json:"deletes"`
	Expires          int64   `json:"expires"`
	Evictions        int64   `json:"evictions"`
	Clears           int64   `json:"clears"`
	CurrentSize      int     `json:"current_size"`
	MaxSize          int     `json:"max_size"`
	MemoryUsageBytes int64   `json:"memory_usage_bytes"`
	HitRate          float64 `json:"hit_rate"`
}
