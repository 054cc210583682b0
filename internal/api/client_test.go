package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	if cfg.SubscriptionKey == "" {
		cfg.SubscriptionKey = "test-key"
	}
	return New(cfg, logx.Nop())
}

func TestRetryAfter(t *testing.T) {
	cases := []struct {
		message string
		want    time.Duration
	}{
		{"Rate limit is exceeded. Try again in 5 seconds.", 5 * time.Second},
		{"Try again in 42 seconds", 42 * time.Second},
		{"Rate limit is exceeded.", time.Second},
		{"", time.Second},
		{"try again in some seconds", time.Second},
		{"Try again in 0 seconds.", time.Second},
	}
	for _, c := range cases {
		if got := retryAfter(c.message); got != c.want {
			t.Errorf("retryAfter(%q) = %v, want %v", c.message, got, c.want)
		}
	}
}

func TestRateLimitedShape(t *testing.T) {
	msg, limited := rateLimited(json.RawMessage(`{"statusCode":429,"message":"Try again in 3 seconds."}`))
	require.True(t, limited)
	require.Equal(t, "Try again in 3 seconds.", msg)

	_, limited = rateLimited(json.RawMessage(`{"statusCode":404,"message":"not found"}`))
	require.False(t, limited)

	_, limited = rateLimited(json.RawMessage(`{"id":"abc"}`))
	require.False(t, limited)
}

func TestGetRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Body-level 429; the HTTP status is intentionally 200 because
			// the gateway embeds the error shape either way.
			w.Write([]byte(`{"statusCode":429,"message":"Try again in 1 seconds."}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}, Config{})

	raw, err := c.Get(context.Background(), "profiles/X", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(raw))
	require.EqualValues(t, 2, calls.Load())
}

func TestRetryCeiling(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"statusCode":429,"message":"Try again in 1 seconds."}`))
	}, Config{RetryMax: 1})

	_, err := c.Get(context.Background(), "messages", nil)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestRetryHonorsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"statusCode":429,"message":"Try again in 60 seconds."}`))
	}, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Get(ctx, "messages", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscriptionKeyHeader(t *testing.T) {
	var gotKey string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Ocp-Apim-Subscription-Key")
		w.Write([]byte(`{}`))
	}, Config{SubscriptionKey: "secret"})

	_, err := c.Get(context.Background(), "profiles/X", nil)
	require.NoError(t, err)
	require.Equal(t, "secret", gotKey)
}

func TestCallOptionsOverride(t *testing.T) {
	var gotKey string
	alt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Ocp-Apim-Subscription-Key")
		w.Write([]byte(`{}`))
	}))
	defer alt.Close()

	c := New(Config{BaseURL: "http://unused.invalid", SubscriptionKey: "default"}, logx.Nop())
	_, err := c.Get(context.Background(), "x", &CallOptions{BaseURL: alt.URL, SubscriptionKey: "override"})
	require.NoError(t, err)
	require.Equal(t, "override", gotKey)
}

func TestGetProfileRemoteError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"statusCode":404,"message":"profile not found"}`))
	}, Config{})

	_, err := c.GetProfile(context.Background(), "AAAAAA00A00A000A", nil)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	require.True(t, apiErr.NotFound())
}

func TestPostMessageRequiresID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}, Config{})

	_, err := c.PostMessage(context.Background(), MessagePayload{Recipient: "AAAAAA00A00A000A"}, nil)
	require.Error(t, err)
}

func TestPostMessageSuccess(t *testing.T) {
	var gotBody MessagePayload
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"id":"msg-1"}`))
	}, Config{})

	m, err := c.PostMessage(context.Background(), MessagePayload{
		Recipient: "AAAAAA00A00A000A",
		Subject:   "subject",
		Markdown:  "body",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "msg-1", m.ID)
	require.Equal(t, "AAAAAA00A00A000A", gotBody.Recipient)
}

func TestNonJSONResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway error</html>"))
	}, Config{})

	_, err := c.Get(context.Background(), "profiles/X", nil)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrRateLimited))
}
