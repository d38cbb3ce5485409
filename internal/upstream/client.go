// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

/*
Package upstream is the HTTP client for the platform Pagesync mirrors.

Every list endpoint of the platform follows one shape:

	GET {base}{path}?{filters}&page={n}&limit={size}
	Authorization: Bearer {token}

	{"code": 200, "msg": "ok", "data": {"list": [ ... ], "total": 2400}}

The client is a pure reader. Each call is rate limited, retried with
exponential backoff on 429 and 5xx responses, and guarded by a circuit breaker
so a dead upstream fails fast instead of stalling every chain until its lock
expires.
*/
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/tomtom215/pagesync/internal/logging"
	"github.com/tomtom215/pagesync/internal/metrics"
)

var (
	// ErrAPI is returned when the platform answers 200 with a failure code.
	ErrAPI = errors.New("upstream: api error")

	// ErrMalformed is returned when the response body is not the expected envelope.
	ErrMalformed = errors.New("upstream: malformed response")

	// ErrCircuitOpen is returned while the circuit breaker rejects calls.
	ErrCircuitOpen = errors.New("upstream: circuit open")
)

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
	Body string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: HTTP %d: %s", e.Code, e.Body)
}

// maxErrorBodySize caps how much of an error response is kept for diagnostics.
const maxErrorBodySize = 64 * 1024

// maxBodySize caps a successful list response.
const maxBodySize = 64 << 20

// Config configures the client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// Pagination parameter names and the index of the first page.
	PageParam string
	SizeParam string
	PageBase  int

	// Envelope layout, as gjson paths.
	CodePath     string
	MessagePath  string
	SuccessCodes []int

	// Rate limiting
	RequestsPerSecond float64
	Burst             int

	// Retry
	MaxRetries      uint
	RetryInitial    time.Duration
	RetryMaxBackoff time.Duration

	// Circuit breaker
	BreakerMinRequests   uint32
	BreakerFailureRatio  float64
	BreakerOpenTimeout   time.Duration
	BreakerCountInterval time.Duration
}

// DefaultConfig returns conservative defaults for the platform API.
func DefaultConfig() Config {
	return Config{
		Timeout:              30 * time.Second,
		PageParam:            "page",
		SizeParam:            "limit",
		PageBase:             1,
		CodePath:             "code",
		MessagePath:          "msg",
		SuccessCodes:         []int{0, 200},
		RequestsPerSecond:    5,
		Burst:                5,
		MaxRetries:           5,
		RetryInitial:         time.Second,
		RetryMaxBackoff:      30 * time.Second,
		BreakerMinRequests:   10,
		BreakerFailureRatio:  0.6,
		BreakerOpenTimeout:   2 * time.Minute,
		BreakerCountInterval: time.Minute,
	}
}

// ListRequest asks for one page of a list endpoint.
type ListRequest struct {
	// Resource labels metrics and logs.
	Resource string

	// Path is appended to the base URL, e.g. "/v1/friends".
	Path string

	// ListPath locates the record array in the envelope, e.g. "data.list".
	ListPath string

	Filters  url.Values
	Page     int // zero-based; PageBase is added on the wire
	PageSize int
}

// Client lists records from the platform.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[[]byte]
	name    string
}

// NewClient builds a client from cfg.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PageParam == "" {
		cfg.PageParam = def.PageParam
	}
	if cfg.SizeParam == "" {
		cfg.SizeParam = def.SizeParam
	}
	if cfg.CodePath == "" {
		cfg.CodePath = def.CodePath
	}
	if cfg.MessagePath == "" {
		cfg.MessagePath = def.MessagePath
	}
	if len(cfg.SuccessCodes) == 0 {
		cfg.SuccessCodes = def.SuccessCodes
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = def.RetryInitial
	}
	if cfg.RetryMaxBackoff <= 0 {
		cfg.RetryMaxBackoff = def.RetryMaxBackoff
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		name:    "upstream-api",
	}
	c.cb = newBreaker(c.name, cfg)
	return c
}

func newBreaker(name string, cfg Config) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    cfg.BreakerCountInterval,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			// A well-formed API refusal says nothing about upstream health.
			return err == nil || errors.Is(err, ErrAPI) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state transition")
			metrics.RecordCircuitBreakerTransition(name, from.String(), to.String(), stateToFloat(to))
		},
	})
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// List fetches one page and returns the raw records in upstream order.
func (c *Client) List(ctx context.Context, req ListRequest) ([]json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.fetchWithRetry(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s page %d: %w", req.Resource, req.Page, err)
	}

	return extractList(body, req.ListPath)
}

func (c *Client) fetchWithRetry(ctx context.Context, req ListRequest) ([]byte, error) {
	u, err := c.buildURL(req)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInitial
	policy.MaxInterval = c.cfg.RetryMaxBackoff

	attempt := 0
	return backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		if attempt > 1 {
			metrics.RecordUpstreamRetry(req.Resource)
		}
		return c.doOnce(ctx, req.Resource, u)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.cfg.MaxRetries+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logging.Ctx(ctx).Warn().
				Err(err).
				Str("resource", req.Resource).
				Int("page", req.Page).
				Dur("wait", wait).
				Msg("Upstream request failed, retrying")
		}),
	)
}

func (c *Client) buildURL(req ListRequest) (string, error) {
	if req.PageSize <= 0 {
		return "", fmt.Errorf("upstream: page size must be positive")
	}
	base, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + req.Path)
	if err != nil {
		return "", fmt.Errorf("upstream: bad url: %w", err)
	}
	q := base.Query()
	for k, vs := range req.Filters {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set(c.cfg.PageParam, strconv.Itoa(req.Page+c.cfg.PageBase))
	q.Set(c.cfg.SizeParam, strconv.Itoa(req.PageSize))
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// doOnce performs one HTTP exchange. Transient failures are returned as-is
// so backoff retries them; everything else is wrapped in backoff.Permanent.
func (c *Client) doOnce(ctx context.Context, resource, u string) ([]byte, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.RecordUpstreamRequest(resource, 0, time.Since(start))
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordUpstreamRequest(resource, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			return nil, backoff.RetryAfter(secs)
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: readBodyForError(resp.Body)}
	case resp.StatusCode >= 500:
		return nil, &StatusError{Code: resp.StatusCode, Body: readBodyForError(resp.Body)}
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(&StatusError{Code: resp.StatusCode, Body: readBodyForError(resp.Body)})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if err := c.checkEnvelope(body); err != nil {
		return nil, backoff.Permanent(err)
	}
	return body, nil
}

func (c *Client) checkEnvelope(body []byte) error {
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("%w: body is not JSON", ErrMalformed)
	}
	code := gjson.GetBytes(body, c.cfg.CodePath)
	if !code.Exists() {
		return nil
	}
	for _, ok := range c.cfg.SuccessCodes {
		if code.Int() == int64(ok) {
			return nil
		}
	}
	return fmt.Errorf("%w: code %d: %s", ErrAPI, code.Int(), gjson.GetBytes(body, c.cfg.MessagePath).String())
}

// extractList returns the elements of the array at path. An explicit null is
// an empty page; a missing path is malformed.
func extractList(body []byte, path string) ([]json.RawMessage, error) {
	list := gjson.ParseBytes(body)
	if path != "" {
		list = gjson.GetBytes(body, path)
	}
	if !list.Exists() {
		return nil, fmt.Errorf("%w: no list at %q", ErrMalformed, path)
	}
	if list.Type == gjson.Null {
		return nil, nil
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: %q is not an array", ErrMalformed, path)
	}

	items := list.Array()
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		out = append(out, json.RawMessage(item.Raw))
	}
	return out, nil
}

func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return "(failed to read response body)"
	}
	if len(body) == maxErrorBodySize {
		return string(body) + "\n... (truncated)"
	}
	return string(body)
}
