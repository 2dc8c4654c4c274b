package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	streamPath = "/2/tweets/search/stream"
	rulesPath  = "/2/tweets/search/stream/rules"

	rulesTimeout = 10 * time.Second
	maxErrorBody = 4 << 10
)

// Upstream is the remote filtered stream.
type Upstream interface {
	// Open starts a long-lived line-delimited JSON stream. The body stays
	// readable until it is closed or ctx is cancelled.
	Open(ctx context.Context) (io.ReadCloser, error)

	// ReplaceRules deletes every existing filter rule and installs keywords
	// as the only one.
	ReplaceRules(ctx context.Context, keywords string) error
}

// TokenFunc returns the current bearer credential.
type TokenFunc func(ctx context.Context) (string, error)

// StatusError reports a non-success HTTP status from the upstream.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: upstream returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: upstream returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// HTTPUpstream talks to the upstream HTTP API.
type HTTPUpstream struct {
	baseURL        string
	token          TokenFunc
	client         *http.Client
	onUnauthorized func()
}

// NewHTTPUpstream creates an upstream client rooted at baseURL. A nil client
// gets one without an overall timeout, since the stream response never ends.
func NewHTTPUpstream(baseURL string, token TokenFunc, client *http.Client) *HTTPUpstream {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				MaxIdleConns:          10,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	return &HTTPUpstream{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// OnUnauthorized registers fn to run whenever the upstream answers 401, so
// a cached credential can be dropped before the next attempt.
func (u *HTTPUpstream) OnUnauthorized(fn func()) {
	u.onUnauthorized = fn
}

func (u *HTTPUpstream) Open(ctx context.Context) (io.ReadCloser, error) {
	q := url.Values{}
	q.Set("expansions", "geo.place_id")
	q.Set("tweet.fields", "created_at")

	req, err := u.newRequest(ctx, http.MethodGet, streamPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, u.statusError("open stream", resp)
	}
	return resp.Body, nil
}

type rulesRequest struct {
	Add []rule `json:"add"`
}

type rule struct {
	Value string `json:"value"`
}

func (u *HTTPUpstream) ReplaceRules(ctx context.Context, keywords string) error {
	ctx, cancel := context.WithTimeout(ctx, rulesTimeout)
	defer cancel()

	body, err := json.Marshal(rulesRequest{Add: []rule{{Value: keywords}}})
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}

	req, err := u.newRequest(ctx, http.MethodPost, rulesPath+"?delete_all=true", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("replace rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return u.statusError("replace rules", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (u *HTTPUpstream) newRequest(ctx context.Context, method, pathAndQuery string, body io.Reader) (*http.Request, error) {
	token, err := u.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("load upstream token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.baseURL+pathAndQuery, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (u *HTTPUpstream) statusError(op string, resp *http.Response) *StatusError {
	if resp.StatusCode == http.StatusUnauthorized && u.onUnauthorized != nil {
		u.onUnauthorized()
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
