package database

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vidaleve/companion/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		URL:        srv.URL,
		ServiceKey: "test-key",
		HTTPClient: srv.Client(),
	})
}

func TestRequestSetsAuthHeaders(t *testing.T) {
	var got *http.Request
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Write([]byte(`[]`))
	})

	_, err := client.Request(context.Background(), http.MethodGet, "purchases", nil, "status=eq.active")
	require.NoError(t, err)

	assert.Equal(t, "/rest/v1/purchases", got.URL.Path)
	assert.Equal(t, "status=eq.active", got.URL.RawQuery)
	assert.Equal(t, "test-key", got.Header.Get("apikey"))
	assert.Equal(t, "Bearer test-key", got.Header.Get("Authorization"))
	assert.Equal(t, "return=representation", got.Header.Get("Prefer"))
}

func TestUpsertSetsMergeDuplicates(t *testing.T) {
	var got *http.Request
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Write([]byte(`[{}]`))
	})

	_, err := client.Upsert(context.Background(), "purchases",
		map[string]string{"transaction_id": "TX1"}, "transaction_id")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "on_conflict=transaction_id", got.URL.RawQuery)
	assert.Equal(t, "resolution=merge-duplicates,return=representation", got.Header.Get("Prefer"))
}

func TestRPCPostsToFunctionPath(t *testing.T) {
	var got *http.Request
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Write([]byte(`[]`))
	})

	_, err := client.RPC(context.Background(), "get_daily_active_users",
		map[string]string{"since_date": "2026-08-01"})
	require.NoError(t, err)
	assert.Equal(t, "/rest/v1/rpc/get_daily_active_users", got.URL.Path)
}

func TestErrorStatusWrapsDatabaseError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"relation does not exist"}`, http.StatusNotFound)
	})

	_, err := client.Request(context.Background(), http.MethodGet, "missing", nil, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDatabaseError)
	assert.Contains(t, err.Error(), "404")
}

func TestDegradedClientFailsWithUnavailable(t *testing.T) {
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_SERVICE_KEY", "")
	client := NewClient(Config{})
	require.True(t, client.Degraded())

	_, err := client.Request(context.Background(), http.MethodGet, "purchases", nil, "")
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
}

func TestReadsRetryTransientFailures(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		URL:        srv.URL,
		ServiceKey: "test-key",
		HTTPClient: srv.Client(),
		Retry: RetryConfig{
			MaxRetries:        3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        time.Millisecond,
			BackoffMultiplier: 1,
		},
	})

	_, err := client.Request(context.Background(), http.MethodGet, "purchases", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWritesAreNeverRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		URL:        srv.URL,
		ServiceKey: "test-key",
		HTTPClient: srv.Client(),
		Retry: RetryConfig{
			MaxRetries:        3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        time.Millisecond,
			BackoffMultiplier: 1,
		},
	})

	_, err := client.Request(context.Background(), http.MethodPost, "purchases",
		map[string]string{"transaction_id": "TX1"}, "")
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestCredentialsFallBackToEnvironment(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "env-key")

	client := NewClient(Config{})
	assert.False(t, client.Degraded())
}
