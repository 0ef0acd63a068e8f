package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestCache(defaultTTL time.Duration) (*Cache, *time.Time) {
	c := New(defaultTTL)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestGetOrFetchCachesValue(t *testing.T) {
	c, _ := newTestCache(time.Hour)

	calls := 0
	fetch := func() (any, error) {
		calls++
		return "value", nil
	}

	v, err := c.GetOrFetch("channels_cz", 0, fetch)
	assert.Nil(t, err)
	assert.Equal(t, "value", v)

	v, err = c.GetOrFetch("channels_cz", 0, fetch)
	assert.Nil(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, calls)
}

func TestGetOrFetchExpiry(t *testing.T) {
	c, now := newTestCache(time.Hour)

	calls := 0
	fetch := func() (any, error) {
		calls++
		return calls, nil
	}

	v, _ := c.GetOrFetch("epg_cz", 10*time.Minute, fetch)
	assert.Equal(t, 1, v)

	// just before expiry the entry is still served
	*now = now.Add(10*time.Minute - time.Second)
	v, _ = c.GetOrFetch("epg_cz", 10*time.Minute, fetch)
	assert.Equal(t, 1, v)

	// at expiry the entry is gone and the fetch runs again
	*now = now.Add(time.Second)
	v, _ = c.GetOrFetch("epg_cz", 10*time.Minute, fetch)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, calls)
}

func TestGetOrFetchNeverCachesNil(t *testing.T) {
	c, _ := newTestCache(time.Hour)

	calls := 0
	fetch := func() (any, error) {
		calls++
		return nil, nil
	}

	v, err := c.GetOrFetch("channel_cz_999", 0, fetch)
	assert.Nil(t, err)
	assert.Nil(t, v)

	v, err = c.GetOrFetch("channel_cz_999", 0, fetch)
	assert.Nil(t, err)
	assert.Nil(t, v)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, c.Len())
}

func TestGetOrFetchErrorNotCached(t *testing.T) {
	c, _ := newTestCache(time.Hour)

	fetchErr := errors.New("upstream down")
	v, err := c.GetOrFetch("channels_cz", 0, func() (any, error) {
		return nil, fetchErr
	})
	assert.Nil(t, v)
	assert.Equal(t, fetchErr, err)
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentFetchesBothRun(t *testing.T) {
	c, _ := newTestCache(time.Hour)

	var mu sync.Mutex
	calls := 0
	release := make(chan struct{})

	fetch := func() (any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrFetch("k", 0, fetch)
			assert.Nil(t, err)
			assert.Equal(t, "v", v)
		}()
	}

	// both goroutines miss before either stores
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 2, calls)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestClearAll(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	c.Store("a", 1, 0)
	c.Store("b", 2, 0)

	assert.Equal(t, 2, c.Clear(""))
	assert.Equal(t, 0, c.Len())
}

func TestClearExactKey(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	c.Store("channels_cz", 1, 0)
	c.Store("channels_sk", 2, 0)

	assert.Equal(t, 1, c.Clear("channels_cz"))
	assert.Equal(t, 0, c.Clear("channels_cz"))

	_, ok := c.Get("channels_sk")
	assert.True(t, ok)
}

func TestClearPrefix(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	c.Store("stream_cz_1_p5", 1, 0)
	c.Store("stream_cz_2_p5", 2, 0)
	c.Store("channels_cz", 3, 0)

	assert.Equal(t, 2, c.Clear("stream_*"))

	_, ok := c.Get("channels_cz")
	assert.True(t, ok)
	_, ok = c.Get("stream_cz_1_p5")
	assert.False(t, ok)
}

func TestInfo(t *testing.T) {
	c, now := newTestCache(time.Hour)
	c.Store("channels_cz", 1, time.Hour)
	c.Store("channel_cz_1", 2, time.Hour)
	c.Store("epg_cz", 3, time.Minute)
	c.Store("standalone", 4, time.Hour)

	*now = now.Add(10 * time.Minute)

	info := c.Info()
	assert.Equal(t, 4, info.TotalEntries)
	assert.Equal(t, 1, info.ExpiredEntries)
	assert.Equal(t, []string{"channel_cz_1", "channels_cz", "epg_cz", "standalone"}, info.Keys)
	assert.Equal(t, map[string]int{"channels": 1, "channel": 1, "epg": 1, "other": 1}, info.Categories)

	assert.Equal(t, 50*60, info.ExpiresIn["channels_cz"])
	_, hasExpired := info.ExpiresIn["epg_cz"]
	assert.False(t, hasExpired)
}

func TestSweepExpired(t *testing.T) {
	c, now := newTestCache(time.Hour)
	c.Store("short", 1, time.Minute)
	c.Store("long", 2, time.Hour)

	assert.Equal(t, 0, c.SweepExpired())

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, c.SweepExpired())
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("long")
	assert.True(t, ok)
}

func TestStoreDefaultTTL(t *testing.T) {
	c, now := newTestCache(time.Minute)
	c.Store("k", 1, 0)

	*now = now.Add(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	*now = now.Add(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}
