package countrystats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func newTestClient(t *testing.T, instanceID string, now time.Time) (*miniredis.Miniredis, *Client) {
	mr, rc := setupTestRedis(t)
	c := NewClientFromRedis(rc, "", instanceID)
	c.now = func() time.Time { return now }
	return mr, c
}

func find(t *testing.T, stats *Stats, country string) CountryCount {
	t.Helper()
	for _, cc := range stats.Countries {
		if cc.Country == country {
			return cc
		}
	}
	t.Fatalf("country %q not in stats", country)
	return CountryCount{}
}

func TestFlush_KeyLayout(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	mr, c := newTestClient(t, "processor-1", now)

	require.NoError(t, c.Flush(context.Background(), map[string]int64{"Japan": 2, "France": 1}))

	assert.Equal(t, "2", mr.HGet("firehose:country:total", "Japan"))
	assert.Equal(t, "1", mr.HGet("firehose:country:hourly:2024030110", "France"))
	assert.Equal(t, "2", mr.HGet("firehose:country:daily:20240301", "Japan"))
	assert.Equal(t, 48*time.Hour, mr.TTL("firehose:country:hourly:2024030110"))
	assert.Equal(t, 7*24*time.Hour, mr.TTL("firehose:country:daily:20240301"))
	assert.NotEmpty(t, mr.HGet("firehose:country:instances", "processor-1"))
}

func TestFlush_Empty(t *testing.T) {
	mr, c := newTestClient(t, "p", time.Now())

	require.NoError(t, c.Flush(context.Background(), nil))
	assert.False(t, mr.Exists("firehose:country:total"))
}

func TestGet_Rollups(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	_, c := newTestClient(t, "processor-1", now)
	ctx := context.Background()

	// Two hours ago, then the current hour
	c.now = func() time.Time { return now.Add(-2 * time.Hour) }
	require.NoError(t, c.Flush(ctx, map[string]int64{"Japan": 3}))
	c.now = func() time.Time { return now }
	require.NoError(t, c.Flush(ctx, map[string]int64{"Japan": 1, "unknown": 5}))

	stats, err := c.Get(ctx)
	require.NoError(t, err)
	require.Len(t, stats.Countries, 2)

	// Highest total first
	assert.Equal(t, "unknown", stats.Countries[0].Country)

	japan := find(t, stats, "Japan")
	assert.Equal(t, int64(4), japan.Total)
	assert.Equal(t, int64(1), japan.LastHour)
	assert.Equal(t, int64(4), japan.Last24h)
	assert.Equal(t, int64(4), japan.Today)

	assert.Contains(t, stats.Instances, "processor-1")
	assert.Equal(t, now, stats.RetrievedAt)
}

func TestGet_OutsideWindow(t *testing.T) {
	now := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	_, c := newTestClient(t, "", now)
	ctx := context.Background()

	c.now = func() time.Time { return now.Add(-30 * time.Hour) }
	require.NoError(t, c.Flush(ctx, map[string]int64{"Lithuania": 2}))
	c.now = func() time.Time { return now }

	stats, err := c.Get(ctx)
	require.NoError(t, err)

	lt := find(t, stats, "Lithuania")
	assert.Equal(t, int64(2), lt.Total)
	assert.Zero(t, lt.Last24h)
	assert.Zero(t, lt.Today)
	assert.Empty(t, stats.Instances)
}

func TestGet_Empty(t *testing.T) {
	_, c := newTestClient(t, "", time.Now())

	stats, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats.Countries)
	assert.NotNil(t, stats.Countries)
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient(context.Background(), "://nope", "", "")
	require.Error(t, err)
}

func TestNewClient_Ping(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c, err := NewClient(context.Background(), "redis://"+mr.Addr(), "test", "p")
	require.NoError(t, err)
	defer c.Close()
	assert.NoError(t, c.Ping(context.Background()))
}

type recordingFlusher struct {
	mu      sync.Mutex
	fail    bool
	flushed map[string]int64
}

func (f *recordingFlusher) Flush(_ context.Context, counts map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("redis unavailable")
	}
	if f.flushed == nil {
		f.flushed = make(map[string]int64)
	}
	for k, v := range counts {
		f.flushed[k] += v
	}
	return nil
}

func (f *recordingFlusher) total(country string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushed[country]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCollector_FlushNow(t *testing.T) {
	f := &recordingFlusher{}
	c := NewCollector(f, time.Hour, quietLogger())
	defer c.Stop()

	c.Record("Japan")
	c.Record("Japan")
	c.Record("unknown")
	assert.Equal(t, map[string]int64{"Japan": 2, "unknown": 1}, c.Pending())

	c.FlushNow()
	assert.Equal(t, int64(2), f.total("Japan"))
	assert.Empty(t, c.Pending())
}

func TestCollector_RetainsOnFailure(t *testing.T) {
	f := &recordingFlusher{fail: true}
	c := NewCollector(f, time.Hour, quietLogger())
	defer c.Stop()

	c.Record("France")
	c.FlushNow()
	c.Record("France")
	assert.Equal(t, int64(2), c.Pending()["France"])

	f.mu.Lock()
	f.fail = false
	f.mu.Unlock()
	c.FlushNow()
	assert.Equal(t, int64(2), f.total("France"))
}

func TestCollector_StopFlushes(t *testing.T) {
	f := &recordingFlusher{}
	c := NewCollector(f, time.Hour, quietLogger())

	c.Record("Germany")
	c.Stop()
	assert.Equal(t, int64(1), f.total("Germany"))
}

func TestCollector_Periodic(t *testing.T) {
	f := &recordingFlusher{}
	c := NewCollector(f, 10*time.Millisecond, quietLogger())
	defer c.Stop()

	c.Record("Latvia")
	assert.Eventually(t, func() bool { return f.total("Latvia") == 1 }, time.Second, 5*time.Millisecond)
}

func TestCollector_WithRedis(t *testing.T) {
	_, c := newTestClient(t, "p", time.Now())
	col := NewCollector(c, time.Hour, quietLogger())

	col.Record("Estonia")
	col.Stop()

	stats, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), find(t, stats, "Estonia").Total)
}
