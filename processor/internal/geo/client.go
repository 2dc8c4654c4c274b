// Package geo resolves coordinates to a country name through the geo API.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/vertical-labs/firehose/processor/internal/metrics"
)

// ErrEmptyCountry is returned when the API answers without a country name.
var ErrEmptyCountry = errors.New("geo: empty country name")

// TokenFunc yields the bearer token for each request.
type TokenFunc func(ctx context.Context) (string, error)

// StatusError is returned for non-200 responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("geo: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Config tunes the client.
type Config struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32 `mapstructure:"failure_threshold"`
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// DefaultConfig returns conservative client settings.
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		RateLimit:        20,
		Burst:            5,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

type countryResponse struct {
	Name string `json:"name"`
}

// Client calls GET {base}/geo-api/country behind a rate limiter and a
// circuit breaker.
type Client struct {
	baseURL string
	token   TokenFunc
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

// NewClient creates a client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, token TokenFunc, httpClient *http.Client, logger *slog.Logger) *Client {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaults.OpenTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   token,
		http:    httpClient,
		limiter: limiter,
		logger:  logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "geo-api",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Caller cancellations say nothing about the geo API's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("geo circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.SetBreakerState(to.String())
		},
	})
	metrics.SetBreakerState(gobreaker.StateClosed.String())

	return c
}

// ResolveCountry returns the country containing (lat, long).
func (c *Client) ResolveCountry(ctx context.Context, lat, long float64) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.GeoRequests.WithLabelValues("rate_limited").Inc()
		return "", fmt.Errorf("geo: rate limiter: %w", err)
	}

	start := time.Now()
	country, err := c.breaker.Execute(func() (string, error) {
		return c.fetch(ctx, lat, long)
	})
	metrics.GeoDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.GeoRequests.WithLabelValues("ok").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.GeoRequests.WithLabelValues("breaker_open").Inc()
	default:
		metrics.GeoRequests.WithLabelValues("error").Inc()
	}
	return country, err
}

func (c *Client) fetch(ctx context.Context, lat, long float64) (string, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("long", strconv.FormatFloat(long, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/geo-api/country?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("geo: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return "", fmt.Errorf("geo: token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("geo: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out countryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("geo: decode response: %w", err)
	}
	if out.Name == "" {
		return "", ErrEmptyCountry
	}
	return out.Name, nil
}

// BreakerState reports the circuit breaker state for readiness output.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}
