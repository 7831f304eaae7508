// Package database provides the Supabase PostgREST client used by all
// companion repositories.
package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vidaleve/companion/internal/errors"
	"github.com/vidaleve/companion/internal/httputil"
)

const (
	maxResponseBytes  = 8 << 20  // 8 MiB
	maxErrorBodyBytes = 32 << 10 // 32 KiB

	requestTimeout = 30 * time.Second
)

// Client wraps the Supabase REST API.
//
// A client constructed without credentials is degraded: every request fails
// with errors.ErrUnavailable. Repositories translate that into empty reads
// and reported write failures so the process keeps serving.
type Client struct {
	url        string
	serviceKey string
	httpClient *http.Client
	retry      RetryConfig
	degraded   bool
}

// Config holds database configuration.
type Config struct {
	URL        string
	ServiceKey string
	HTTPClient *http.Client
	// Retry overrides DefaultRetryConfig when MaxRetries is non-zero.
	Retry RetryConfig
}

// NewClient creates a new Supabase client. Empty config fields fall back to
// the SUPABASE_URL and SUPABASE_SERVICE_KEY environment variables.
func NewClient(cfg Config) *Client {
	url := cfg.URL
	if url == "" {
		url = os.Getenv("SUPABASE_URL")
	}
	key := cfg.ServiceKey
	if key == "" {
		key = os.Getenv("SUPABASE_SERVICE_KEY")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	return &Client{
		url:        strings.TrimSuffix(url, "/"),
		serviceKey: key,
		httpClient: httpClient,
		retry:      retry,
		degraded:   url == "" || key == "",
	}
}

// Degraded reports whether the client was constructed without credentials.
func (c *Client) Degraded() bool {
	return c.degraded
}

// Request makes an HTTP request to the Supabase REST API. The query string
// is appended verbatim (PostgREST filter syntax, e.g. "user_email=eq.x").
func (c *Client) Request(ctx context.Context, method, table string, body any, query string) ([]byte, error) {
	return c.request(ctx, method, table, body, query, nil)
}

// Upsert performs an insert with merge-duplicates resolution on the given
// conflict column.
func (c *Client) Upsert(ctx context.Context, table string, body any, onConflict string) ([]byte, error) {
	query := "on_conflict=" + onConflict
	headers := map[string]string{
		"Prefer": "resolution=merge-duplicates,return=representation",
	}
	return c.request(ctx, http.MethodPost, table, body, query, headers)
}

// RPC calls a PostgREST stored procedure.
func (c *Client) RPC(ctx context.Context, fn string, params any) ([]byte, error) {
	return c.request(ctx, http.MethodPost, "rpc/"+fn, params, "", nil)
}

func (c *Client) request(ctx context.Context, method, table string, body any, query string, headers map[string]string) ([]byte, error) {
	if c.degraded {
		return nil, fmt.Errorf("%w: store credentials not configured", errors.ErrUnavailable)
	}

	url := fmt.Sprintf("%s/rest/v1/%s", c.url, table)
	if query != "" {
		url += "?" + query
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Prefer", "return=representation")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.do(ctx, req, reqBody != nil)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, truncated, readErr := httputil.ReadAllWithLimit(resp.Body, maxErrorBodyBytes)
		if readErr != nil {
			return nil, fmt.Errorf("read error response: %w", readErr)
		}
		msg := strings.TrimSpace(string(respBody))
		if truncated {
			msg += "...(truncated)"
		}
		return nil, fmt.Errorf("%w: store API error %d: %s", errors.ErrDatabaseError, resp.StatusCode, msg)
	}

	respBody, err := httputil.ReadAllStrict(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, nil
}

// do executes the request, retrying transient failures with backoff for
// reads only. The final attempt's response is returned as-is so error
// classification still sees the upstream status.
func (c *Client) do(ctx context.Context, req *http.Request, hasBody bool) (*http.Response, error) {
	if req.Method != http.MethodGet || hasBody {
		return c.httpClient.Do(req)
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.httpClient.Do(req)
		if attempt >= c.retry.MaxRetries {
			return resp, err
		}
		if err == nil {
			if !retryableStatus(resp.StatusCode) {
				return resp, nil
			}
			resp.Body.Close()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retry.backoff(attempt)):
		}
	}
}
