// Package projectapi provides authenticated REST access to the upstream
// project-management system (hours, billing, sales and user data).
package projectapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.severa.visma.com/rest-api/v1.0"

	// maxRetries bounds the attempts for one page, counting 401 and
	// 429 recoveries.
	maxRetries = 6

	retryAfter429 = 2 * time.Second
)

// APIError is returned when the upstream responds with a non-2xx status
// that the client does not recover from.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("projectapi: HTTP %d: %s", e.StatusCode, e.Body)
}

// authState is the decoded token-endpoint response.
type authState struct {
	AccessToken            string    `json:"access_token"`
	AccessTokenType        string    `json:"access_token_type"`
	AccessTokenExpiresUTC  time.Time `json:"access_token_expires_utc"`
	RefreshToken           string    `json:"refresh_token"`
	RefreshTokenExpiresUTC time.Time `json:"refresh_token_expires_utc"`
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit sets a per-second request rate limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithMaxInFlight caps concurrent requests to the upstream.
func WithMaxInFlight(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.sem = semaphore.NewWeighted(n)
		}
	}
}

// Client is a paginating GET client with client-credentials auth, token
// refresh, and retry handling for 401 and 429 responses.
type Client struct {
	clientID     string
	clientSecret string
	scope        string

	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	sem     *semaphore.Weighted

	mu   sync.Mutex
	auth *authState
}

// NewClient creates a client with the upstream's documented limits:
// at most 5 requests in flight and ~10 requests per second.
func NewClient(clientID, clientSecret, scope string, opts ...Option) *Client {
	c := &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		scope:        scope,
		baseURL:      defaultBaseURL,
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(10, 10),
		sem:     semaphore.NewWeighted(5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) authenticate(ctx context.Context) (*authState, error) {
	payload := map[string]string{
		"client_Id":     c.clientID,
		"client_Secret": c.clientSecret,
		"scope":         c.scope,
	}
	return c.postAuth(ctx, "token", nil, payload)
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*authState, error) {
	headers := map[string]string{"client_Id": c.clientID}
	return c.postAuth(ctx, "refreshtoken", headers, refreshToken)
}

func (c *Client) postAuth(ctx context.Context, endpoint string, headers map[string]string, body any) (*authState, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "projectapi: marshal auth payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "projectapi: create auth request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "projectapi: "+endpoint)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "projectapi: read auth response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var auth authState
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, eris.Wrap(err, "projectapi: decode auth response")
	}
	return &auth, nil
}

// authHeader returns a valid Authorization header pair, authenticating
// or refreshing first when needed.
func (c *Client) authHeader(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	switch {
	case c.auth == nil:
		auth, err := c.authenticate(ctx)
		if err != nil {
			return "", err
		}
		c.auth = auth
	case now.After(c.auth.AccessTokenExpiresUTC):
		if now.Before(c.auth.RefreshTokenExpiresUTC) {
			zap.L().Debug("projectapi: refreshing access token")
			auth, err := c.refresh(ctx, c.auth.RefreshToken)
			if err != nil {
				return "", err
			}
			c.auth = auth
		} else {
			zap.L().Debug("projectapi: both tokens expired, authenticating again")
			auth, err := c.authenticate(ctx)
			if err != nil {
				return "", err
			}
			c.auth = auth
		}
	}
	return c.auth.AccessTokenType + " " + c.auth.AccessToken, nil
}

// dropAuth forgets the cached token so the next request re-authenticates.
func (c *Client) dropAuth() {
	c.mu.Lock()
	c.auth = nil
	c.mu.Unlock()
}

// getPage fetches a single page with retries. It returns the body and
// the NextPageToken header value ("" when this was the last page).
func (c *Client) getPage(ctx context.Context, endpoint string, params url.Values) ([]byte, string, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		authz, err := c.authHeader(ctx)
		if err != nil {
			return nil, "", eris.Wrap(err, "projectapi: auth")
		}

		body, next, status, err := c.doGet(ctx, endpoint, params, authz)
		if err != nil {
			return nil, "", err
		}

		switch {
		case status >= 200 && status < 300:
			return body, next, nil
		case status == http.StatusUnauthorized:
			zap.L().Warn("projectapi: got 401, re-authenticating",
				zap.String("endpoint", endpoint))
			c.dropAuth()
			lastErr = &APIError{StatusCode: status, Body: string(body)}
		case status == http.StatusTooManyRequests:
			zap.L().Warn("projectapi: got 429, backing off",
				zap.String("endpoint", endpoint),
				zap.Duration("sleep", retryAfter429))
			select {
			case <-time.After(retryAfter429):
			case <-ctx.Done():
				return nil, "", eris.Wrap(ctx.Err(), "projectapi: backoff")
			}
			lastErr = &APIError{StatusCode: status, Body: string(body)}
		default:
			return nil, "", &APIError{StatusCode: status, Body: string(body)}
		}
	}
	return nil, "", eris.Wrap(lastErr, fmt.Sprintf("projectapi: retry limit reached for %s", endpoint))
}

func (c *Client) doGet(ctx context.Context, endpoint string, params url.Values, authz string) ([]byte, string, int, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, "", 0, eris.Wrap(err, "projectapi: acquire slot")
	}
	defer c.sem.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", 0, eris.Wrap(err, "projectapi: rate limit")
	}

	u := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", 0, eris.Wrap(err, "projectapi: create request")
	}
	req.Header.Set("client_Id", c.clientID)
	req.Header.Set("Authorization", authz)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", 0, eris.Wrap(err, fmt.Sprintf("projectapi: GET %s", endpoint))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", 0, eris.Wrap(err, "projectapi: read response")
	}
	return body, resp.Header.Get("NextPageToken"), resp.StatusCode, nil
}

// getAll follows NextPageToken pagination and returns the raw items of
// every page. Pages holding a single object count as one item.
func (c *Client) getAll(ctx context.Context, endpoint string, params url.Values) ([]json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}

	var items []json.RawMessage
	for {
		body, next, err := c.getPage(ctx, endpoint, params)
		if err != nil {
			return nil, err
		}

		trimmed := bytes.TrimSpace(body)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			var page []json.RawMessage
			if err := json.Unmarshal(trimmed, &page); err != nil {
				return nil, eris.Wrap(err, fmt.Sprintf("projectapi: decode %s page", endpoint))
			}
			items = append(items, page...)
		} else if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			items = append(items, json.RawMessage(trimmed))
		}

		if next == "" {
			return items, nil
		}
		params.Set("pageToken", next)
	}
}

// GetAll fetches every page of endpoint and decodes the items into T.
func GetAll[T any](ctx context.Context, c *Client, endpoint string, params url.Values) ([]T, error) {
	raw, err := c.getAll(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, item := range raw {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("projectapi: decode %s item", endpoint))
		}
		out = append(out, v)
	}
	return out, nil
}
