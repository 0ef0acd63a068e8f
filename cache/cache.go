// Package cache implements the in-memory TTL cache shared by the token
// manager and the channel/EPG/stream services. A single mutex guards the
// entry map; fetch functions passed to GetOrFetch run outside the lock so a
// slow upstream call never blocks unrelated cache users.
package cache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"magioproxy/metrics"
)

// FetchFunc produces a value on cache miss. Returning a nil value with a nil
// error means "nothing to cache": the result is passed through uncached and
// the next lookup fetches again.
type FetchFunc func() (any, error)

type entry struct {
	value     any
	expiresAt time.Time
}

// Info is a point-in-time diagnostic snapshot of the cache contents.
type Info struct {
	TotalEntries   int            `json:"total_entries"`
	ExpiredEntries int            `json:"expired_entries"`
	Categories     map[string]int `json:"categories"`
	Keys           []string       `json:"keys"`
	ExpiresIn      map[string]int `json:"expires_in"`
}

type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration

	// now is replaceable in tests
	now func() time.Time
}

func New(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the stored value for key if present and unexpired. Expired
// entries are treated as absent even while still physically stored.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// GetOrFetch returns the cached value for key, invoking fetch on a miss.
// A ttl <= 0 uses the cache default. The fetch call runs without the lock,
// so two concurrent callers missing on the same key may both fetch; the
// second Store wins. That duplicate work is accepted over holding the lock
// across upstream I/O.
func (c *Cache) GetOrFetch(key string, ttl time.Duration, fetch FetchFunc) (any, error) {
	if v, ok := c.Get(key); ok {
		metrics.CacheHits.Inc()
		log.Debug().Str("key", key).Msg("cache hit")
		return v, nil
	}
	metrics.CacheMisses.Inc()

	v, err := fetch()
	if err != nil {
		return nil, err
	}
	if v == nil {
		// never cache a miss, the next call should retry the fetch
		return nil, nil
	}

	c.Store(key, v, ttl)
	return v, nil
}

// Store unconditionally overwrites key with value, expiring after ttl.
// A ttl <= 0 uses the cache default.
func (c *Cache) Store(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	log.Debug().Str("key", key).Dur("ttl", ttl).Msg("cache store")
}

// Clear removes entries and reports how many were dropped. Three modes:
// an empty pattern clears everything, a pattern with a trailing '*' clears
// every key with that prefix, anything else clears exactly one key.
func (c *Cache) Clear(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case pattern == "":
		n := len(c.entries)
		c.entries = make(map[string]entry)
		log.Info().Int("removed", n).Msg("cache cleared")
		return n
	case strings.HasSuffix(pattern, "*"):
		prefix := strings.TrimSuffix(pattern, "*")
		n := 0
		for key := range c.entries {
			if strings.HasPrefix(key, prefix) {
				delete(c.entries, key)
				n++
			}
		}
		log.Info().Str("prefix", prefix).Int("removed", n).Msg("cache prefix cleared")
		return n
	default:
		if _, ok := c.entries[pattern]; !ok {
			return 0
		}
		delete(c.entries, pattern)
		log.Info().Str("key", pattern).Msg("cache entry cleared")
		return 1
	}
}

// Info reports entry counts, per-category counts and remaining TTLs.
// The category of a key is the substring before its first underscore.
func (c *Cache) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	info := Info{
		Categories: make(map[string]int),
		Keys:       make([]string, 0, len(c.entries)),
		ExpiresIn:  make(map[string]int),
	}

	for key, e := range c.entries {
		info.Keys = append(info.Keys, key)

		category := "other"
		if i := strings.Index(key, "_"); i > 0 {
			category = key[:i]
		}
		info.Categories[category]++

		if remaining := e.expiresAt.Sub(now); remaining > 0 {
			info.ExpiresIn[key] = int(remaining.Seconds())
		} else {
			info.ExpiredEntries++
		}
	}

	sort.Strings(info.Keys)
	info.TotalEntries = len(c.entries)
	return info
}

// SweepExpired physically removes entries whose expiry has passed and
// returns how many were dropped. Expiry is also checked at read time, so
// sweeping only bounds growth from keys that are never read again.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			n++
		}
	}

	if n > 0 {
		metrics.CacheSweeps.Add(float64(n))
		log.Debug().Int("removed", n).Msg("swept expired cache entries")
	}
	return n
}

// Len reports the number of physically stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
