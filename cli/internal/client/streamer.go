package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vertical-labs/firehose/common/countrystats"
	"github.com/vertical-labs/firehose/common/models"
)

const maxEventBytes = 1 << 20

// APIError is a non-2xx response from the streamer.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("streamer returned %d: %s", e.StatusCode, e.Message)
}

// StreamStatus mirrors GET /admin/stream-status.
type StreamStatus struct {
	Connecting bool   `json:"connecting"`
	Connected  bool   `json:"connected"`
	State      string `json:"state"`
}

// StreamerClient talks to the streamer admin and public API.
type StreamerClient struct {
	baseURL string
	token   string
	client  *http.Client
	// stream has no timeout; tail requests live until cancelled.
	stream *http.Client
}

func NewStreamerClient(baseURL, token string) *StreamerClient {
	return &StreamerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
		stream:  &http.Client{},
	}
}

type messageResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// SetKeywords replaces the upstream filter rules.
func (c *StreamerClient) SetKeywords(ctx context.Context, keywords string) (string, error) {
	return c.adminMessage(ctx, http.MethodPut, "/admin/set-keywords", map[string]string{"keywords": keywords})
}

// EnableMonitoring asks the streamer to connect upstream.
func (c *StreamerClient) EnableMonitoring(ctx context.Context) (string, error) {
	return c.adminMessage(ctx, http.MethodPost, "/admin/enable-monitoring", nil)
}

// DisableMonitoring asks the streamer to disconnect.
func (c *StreamerClient) DisableMonitoring(ctx context.Context) (string, error) {
	return c.adminMessage(ctx, http.MethodPost, "/admin/disable-monitoring", nil)
}

func (c *StreamerClient) Status(ctx context.Context) (*StreamStatus, error) {
	resp, err := c.do(ctx, c.client, http.MethodGet, "/admin/stream-status", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var status StreamStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// ProcessedRecords lists every record the processor has stored.
func (c *StreamerClient) ProcessedRecords(ctx context.Context) ([]models.ProcessedRecord, error) {
	resp, err := c.do(ctx, c.client, http.MethodGet, "/processed-tweets", nil, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Items []models.ProcessedRecord `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return body.Items, nil
}

// CountryStats reads the origin-country tallies. The streamer serves them
// only when stats are enabled; otherwise this returns a 404 APIError.
func (c *StreamerClient) CountryStats(ctx context.Context) (*countrystats.Stats, error) {
	resp, err := c.do(ctx, c.client, http.MethodGet, "/country-stats", nil, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var stats countrystats.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode country stats: %w", err)
	}
	return &stats, nil
}

// Tail follows /monitor-stream and calls fn for each record until ctx is
// cancelled, the server closes the stream, or fn returns an error.
func (c *StreamerClient) Tail(ctx context.Context, fn func(models.StreamItem) error) error {
	resp, err := c.do(ctx, c.stream, http.MethodGet, "/monitor-stream", nil, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxEventBytes)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "connected" {
			continue
		}
		item, err := models.ParseStreamItem([]byte(data))
		if err != nil {
			continue
		}
		if err := fn(item); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("read monitor stream: %w", err)
	}
	return nil
}

func (c *StreamerClient) adminMessage(ctx context.Context, method, path string, payload any) (string, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, c.client, method, path, body, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var msg messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return msg.Message, nil
}

func (c *StreamerClient) do(ctx context.Context, hc *http.Client, method, path string, body io.Reader, admin bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		if c.token == "" {
			return nil, errors.New("no API token configured; run 'fhctl profile set --token ...' or set FHCTL_API_TOKEN")
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var msg messageResponse
		if json.Unmarshal(data, &msg) == nil && msg.Error != "" {
			apiErr.Message = msg.Error
		}
		return nil, apiErr
	}
	return resp, nil
}
