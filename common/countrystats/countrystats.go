// Package countrystats keeps Redis-backed origin-country tallies for
// processed records.
//
// Several processor instances may write concurrently; any service can read.
//
// Redis Key Structure ({prefix} defaults to "firehose:country"):
//
//	{prefix}:total                 - Hash country -> records ever counted
//	{prefix}:hourly:{YYYYMMDDHH}   - Hash country -> records in that hour (expires 48h)
//	{prefix}:daily:{YYYYMMDD}      - Hash country -> records on that day (expires 7d)
//	{prefix}:instances             - Hash processor instance -> last flush (unix)
package countrystats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "firehose:country"

const (
	hourlyTTL    = 48 * time.Hour
	dailyTTL     = 7 * 24 * time.Hour
	instancesTTL = 24 * time.Hour
)

// CountryCount is the tally for one country.
type CountryCount struct {
	Country  string `json:"country"`
	Total    int64  `json:"total"`
	LastHour int64  `json:"last_hour"`
	Last24h  int64  `json:"last_24h"`
	Today    int64  `json:"today"`
}

// Stats is a snapshot of every country seen, highest total first.
type Stats struct {
	Countries   []CountryCount    `json:"countries"`
	Instances   map[string]string `json:"instances,omitempty"`
	RetrievedAt time.Time         `json:"retrieved_at"`
}

// Client records and reads country tallies.
type Client struct {
	redis      *redis.Client
	prefix     string
	instanceID string
	now        func() time.Time
}

// NewClient connects to redisURL. instanceID should be unique per writer
// (hostname, pod name); readers may pass "".
func NewClient(ctx context.Context, redisURL, prefix, instanceID string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewClientFromRedis(client, prefix, instanceID), nil
}

// NewClientFromRedis creates a client from an existing Redis connection.
func NewClientFromRedis(client *redis.Client, prefix, instanceID string) *Client {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Client{
		redis:      client,
		prefix:     prefix,
		instanceID: instanceID,
		now:        time.Now,
	}
}

func (c *Client) totalKey() string { return c.prefix + ":total" }

func (c *Client) hourlyKey(t time.Time) string {
	return c.prefix + ":hourly:" + t.UTC().Format("2006010215")
}

func (c *Client) dailyKey(t time.Time) string {
	return c.prefix + ":daily:" + t.UTC().Format("20060102")
}

func (c *Client) instancesKey() string { return c.prefix + ":instances" }

// Flush adds counts (country -> records) to every rollup in one pipeline.
func (c *Client) Flush(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}

	now := c.now()
	hourly := c.hourlyKey(now)
	daily := c.dailyKey(now)

	pipe := c.redis.Pipeline()
	for country, n := range counts {
		if n == 0 {
			continue
		}
		pipe.HIncrBy(ctx, c.totalKey(), country, n)
		pipe.HIncrBy(ctx, hourly, country, n)
		pipe.HIncrBy(ctx, daily, country, n)
	}
	pipe.Expire(ctx, hourly, hourlyTTL)
	pipe.Expire(ctx, daily, dailyTTL)

	if c.instanceID != "" {
		pipe.HSet(ctx, c.instancesKey(), c.instanceID, strconv.FormatInt(now.Unix(), 10))
		pipe.Expire(ctx, c.instancesKey(), instancesTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to flush country stats: %w", err)
	}
	return nil
}

// Get reads the current tallies.
func (c *Client) Get(ctx context.Context) (*Stats, error) {
	now := c.now()

	pipe := c.redis.Pipeline()
	totalCmd := pipe.HGetAll(ctx, c.totalKey())

	// Last 24 hourly buckets; index 0 is the current hour
	hourlyCmds := make([]*redis.MapStringStringCmd, 24)
	for i := range hourlyCmds {
		hourlyCmds[i] = pipe.HGetAll(ctx, c.hourlyKey(now.Add(-time.Duration(i)*time.Hour)))
	}
	dailyCmd := pipe.HGetAll(ctx, c.dailyKey(now))
	instancesCmd := pipe.HGetAll(ctx, c.instancesKey())

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get country stats: %w", err)
	}

	byCountry := make(map[string]*CountryCount)
	entry := func(country string) *CountryCount {
		cc, ok := byCountry[country]
		if !ok {
			cc = &CountryCount{Country: country}
			byCountry[country] = cc
		}
		return cc
	}

	for country, v := range totalCmd.Val() {
		entry(country).Total = parseCount(v)
	}
	for i, cmd := range hourlyCmds {
		for country, v := range cmd.Val() {
			n := parseCount(v)
			cc := entry(country)
			cc.Last24h += n
			if i == 0 {
				cc.LastHour = n
			}
		}
	}
	for country, v := range dailyCmd.Val() {
		entry(country).Today = parseCount(v)
	}

	stats := &Stats{
		Countries:   make([]CountryCount, 0, len(byCountry)),
		Instances:   make(map[string]string),
		RetrievedAt: now,
	}
	for _, cc := range byCountry {
		stats.Countries = append(stats.Countries, *cc)
	}
	sort.Slice(stats.Countries, func(i, j int) bool {
		a, b := stats.Countries[i], stats.Countries[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.Country < b.Country
	})

	for instance, lastSeen := range instancesCmd.Val() {
		if unix, err := strconv.ParseInt(lastSeen, 10, 64); err == nil {
			stats.Instances[instance] = time.Unix(unix, 0).UTC().Format(time.RFC3339)
		}
	}

	return stats, nil
}

func parseCount(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.redis.Close()
}
