// Package api implements the client for the remote messaging API.
//
// The client mirrors the behavior the admin console depends on: every response
// body is decoded as JSON regardless of HTTP status, and an application-level
// statusCode of 429 is never surfaced. Instead the call is transparently
// re-issued after the delay the API suggests in its message text.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

const subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"

// ErrRateLimited is returned only when Config.RetryMax is set and a call is
// still rate limited after the configured number of retries.
var ErrRateLimited = errors.New("rate limited")

type Config struct {
	BaseURL         string
	SubscriptionKey string

	// RetryMax bounds transparent 429 retries per call.
	// 0 retries forever, which is the historical console behavior.
	RetryMax int

	// Timeout applies to each individual HTTP exchange, not to the overall
	// call including retries. 0 disables it.
	Timeout time.Duration
}

// CallOptions override the process-wide defaults for a single call.
type CallOptions struct {
	BaseURL         string
	SubscriptionKey string
}

type Client struct {
	cfg Config
	hc  *http.Client
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.Timeout},
		log: log,
	}
}

// Get issues a GET against the messaging API and returns the decoded body.
// Rate-limit responses are retried internally; any other body, error shapes
// included, is returned as-is for the caller to inspect.
func (c *Client) Get(ctx context.Context, path string, opts *CallOptions) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil, opts)
}

// Post issues a POST with a JSON-encoded body. Same pass-through and
// rate-limit semantics as Get.
func (c *Client) Post(ctx context.Context, path string, body any, opts *CallOptions) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, body, opts)
}

func (c *Client) do(ctx context.Context, method, path string, body any, opts *CallOptions) (json.RawMessage, error) {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	attempt := 0
	for {
		raw, err := c.doOnce(ctx, method, path, encoded, opts)
		if err != nil {
			return nil, err
		}

		retryMsg, limited := rateLimited(raw)
		if !limited {
			return raw, nil
		}

		attempt++
		if c.cfg.RetryMax > 0 && attempt > c.cfg.RetryMax {
			return nil, fmt.Errorf("%s %s: %w after %d attempts", method, path, ErrRateLimited, attempt)
		}

		delay := retryAfter(retryMsg)
		c.log.Debug("rate limited; retry scheduled",
			logx.String("method", method),
			logx.String("path", path),
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
		)

		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return nil, ctx.Err()
		case <-tmr.C:
		}
	}
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, opts *CallOptions) (json.RawMessage, error) {
	base := c.cfg.BaseURL
	key := c.cfg.SubscriptionKey
	if opts != nil {
		if strings.TrimSpace(opts.BaseURL) != "" {
			base = opts.BaseURL
		}
		if strings.TrimSpace(opts.SubscriptionKey) != "" {
			key = opts.SubscriptionKey
		}
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(base, "/")+"/"+strings.TrimLeft(path, "/"), rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(subscriptionKeyHeader, key)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("%s %s: non-JSON response (http %d)", method, path, resp.StatusCode)
	}
	return json.RawMessage(b), nil
}

// rateLimited reports whether the body carries the application-level 429 shape
// and, if so, returns its human-readable message.
func rateLimited(raw json.RawMessage) (string, bool) {
	var e Error
	if err := json.Unmarshal(raw, &e); err != nil {
		return "", false
	}
	if e.StatusCode != http.StatusTooManyRequests {
		return "", false
	}
	return e.Message, true
}

// The API suggests a wait time inside its message text, e.g.
// "Rate limit is exceeded. Try again in 5 seconds."
var retryAfterRE = regexp.MustCompile(`(\d+) seconds`)

// retryAfter extracts the suggested wait. Malformed or missing hints default
// to one second; availability is preferred over precision here.
func retryAfter(message string) time.Duration {
	m := retryAfterRE.FindStringSubmatch(message)
	if m == nil {
		return time.Second
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return time.Second
	}
	return time.Duration(n) * time.Second
}

// ---- Typed endpoints ----

// GetProfile fetches the profile registered for the given fiscal code.
// Remote error shapes are returned as *Error.
func (c *Client) GetProfile(ctx context.Context, fiscalCode string, opts *CallOptions) (*Profile, error) {
	raw, err := c.Get(ctx, "profiles/"+url.PathEscape(fiscalCode), opts)
	if err != nil {
		return nil, err
	}
	if apiErr := decodeError(raw); apiErr != nil {
		return nil, apiErr
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if p.FiscalCode == "" {
		p.FiscalCode = fiscalCode
	}
	return &p, nil
}

// CreateProfile registers the recipient with the remote system (upsert).
func (c *Client) CreateProfile(ctx context.Context, fiscalCode string, opts *CallOptions) (*Profile, error) {
	raw, err := c.Post(ctx, "profiles/"+url.PathEscape(fiscalCode), struct{}{}, opts)
	if err != nil {
		return nil, err
	}
	if apiErr := decodeError(raw); apiErr != nil {
		return nil, apiErr
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if p.FiscalCode == "" {
		p.FiscalCode = fiscalCode
	}
	return &p, nil
}

// PostMessage submits one message send.
func (c *Client) PostMessage(ctx context.Context, payload MessagePayload, opts *CallOptions) (*CreatedMessage, error) {
	raw, err := c.Post(ctx, "messages", payload, opts)
	if err != nil {
		return nil, err
	}
	if apiErr := decodeError(raw); apiErr != nil {
		return nil, apiErr
	}
	var m CreatedMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("message accepted without id")
	}
	return &m, nil
}

// MessageStatus fetches the per-channel delivery states of a sent message.
func (c *Client) MessageStatus(ctx context.Context, remoteID string, opts *CallOptions) (*MessageStatus, error) {
	raw, err := c.Get(ctx, "messages/"+url.PathEscape(remoteID)+"/status", opts)
	if err != nil {
		return nil, err
	}
	if apiErr := decodeError(raw); apiErr != nil {
		return nil, apiErr
	}
	var st MessageStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}
