package emotion

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CacheConfig configures the two-tier cache (§4.2, §6.4
// CACHE_L1_CAPACITY/CACHE_L2_CAPACITY/CACHE_TTL_SECONDS).
type CacheConfig struct {
	L1Capacity int           // recency (LRU) tier
	L2Capacity int           // frequency (LFU) tier, guarded by L1
	TTL        time.Duration
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.L1Capacity <= 0 {
		c.L1Capacity = 256
	}
	if c.L2Capacity <= 0 {
		c.L2Capacity = 1024
	}
	if c.TTL <= 0 {
		c.TTL = 10 * time.Minute
	}
	return c
}

type cacheEntry struct {
	key       string
	result    Result
	expiresAt time.Time
}

type lfuEntry struct {
	result    Result
	expiresAt time.Time
	freq      int
}

// Cache is C2: a bounded recency (LRU) cache protecting a bounded frequency
// (LFU) cache, with a stampede lock so concurrent misses on the same key
// invoke the classifier exactly once (§6.3's "one inference per key in
// flight", §8 property/scenario S6).
type Cache struct {
	cfg        CacheConfig
	classifier *Classifier

	mu      sync.Mutex
	l1      *list.List
	l1Index map[string]*list.Element
	l2      map[string]*lfuEntry

	sf singleflight.Group

	hits   int64
	misses int64
}

// NewCache wires a two-tier cache in front of a Classifier.
func NewCache(cfg CacheConfig, classifier *Classifier) *Cache {
	cfg = cfg.withDefaults()
	return &Cache{
		cfg:        cfg,
		classifier: classifier,
		l1:         list.New(),
		l1Index:    make(map[string]*list.Element),
		l2:         make(map[string]*lfuEntry),
	}
}

// Fingerprint computes the cache key: a SHA-256 digest of the normalized
// text, salted with userID when present so two users never share a cached
// result (§4.2).
func Fingerprint(text, userID string) string {
	h := sha256.New()
	h.Write([]byte(Normalize(text)))
	if userID != "" {
		h.Write([]byte{0})
		h.Write([]byte(userID))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the EmotionResult for text (and optional userID), computing it
// via the classifier on a cache miss. The ability hint only affects the
// freshly-computed path; cache hits return exactly what was computed then
// (§8 property 1: cache-window determinism).
func (c *Cache) Get(ctx context.Context, text, userID string, ability AbilityHint) Result {
	key := Fingerprint(text, userID)

	if r, ok := c.lookup(key); ok {
		return r
	}

	v, _, _ := c.sf.Do(key, func() (any, error) {
		// Re-check: another goroutine may have populated the cache while we
		// waited to enter the singleflight critical section.
		if r, ok := c.lookup(key); ok {
			return r, nil
		}
		r := c.classifier.Infer(ctx, text, ability)
		if !r.Degraded {
			c.insert(key, r)
		}
		return r, nil
	})
	return v.(Result)
}

func (c *Cache) lookup(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if el, ok := c.l1Index[key]; ok {
		e := el.Value.(*cacheEntry)
		if now.After(e.expiresAt) {
			c.l1.Remove(el)
			delete(c.l1Index, key)
		} else {
			c.l1.MoveToFront(el)
			c.hits++
			return e.result, true
		}
	}

	if e, ok := c.l2[key]; ok {
		if now.After(e.expiresAt) {
			delete(c.l2, key)
		} else {
			e.freq++
			delete(c.l2, key)
			c.pushL1(key, e.result, e.expiresAt)
			c.hits++
			return e.result, true
		}
	}

	c.misses++
	return Result{}, false
}

func (c *Cache) insert(key string, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushL1(key, r, time.Now().Add(c.cfg.TTL))
}

// pushL1 must be called with c.mu held.
func (c *Cache) pushL1(key string, r Result, expiresAt time.Time) {
	if el, ok := c.l1Index[key]; ok {
		e := el.Value.(*cacheEntry)
		e.result, e.expiresAt = r, expiresAt
		c.l1.MoveToFront(el)
		return
	}
	el := c.l1.PushFront(&cacheEntry{key: key, result: r, expiresAt: expiresAt})
	c.l1Index[key] = el

	for c.l1.Len() > c.cfg.L1Capacity {
		back := c.l1.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*cacheEntry)
		c.l1.Remove(back)
		delete(c.l1Index, evicted.key)
		c.demoteToL2(evicted.key, evicted.result, evicted.expiresAt)
	}
}

// demoteToL2 must be called with c.mu held.
func (c *Cache) demoteToL2(key string, r Result, expiresAt time.Time) {
	if time.Now().After(expiresAt) {
		return
	}
	c.l2[key] = &lfuEntry{result: r, expiresAt: expiresAt, freq: 1}

	for len(c.l2) > c.cfg.L2Capacity {
		var victim string
		minFreq := -1
		for k, e := range c.l2 {
			if minFreq == -1 || e.freq < minFreq {
				minFreq = e.freq
				victim = k
			}
		}
		if victim == "" {
			break
		}
		delete(c.l2, victim)
	}
}

// Stats reports hit/miss counters for observability (C2's hit-rate metric).
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
