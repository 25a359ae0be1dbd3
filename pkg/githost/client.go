// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package githost is the REST client for the code host. It owns credential
// rotation, primary and secondary rate-limit handling, code-search pacing,
// and transient retry, so that callers see plain typed results and a small
// set of sentinel errors.
package githost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kraklabs/skilldex/internal/metrics"
)

// maxResponseBytes caps response reads. The largest legitimate payloads are
// recursive tree listings, which stay well under this.
const maxResponseBytes = 32 << 20

// maxSecondaryRetries bounds back-to-back abuse-detection sleeps on a
// single logical call before the error is surfaced to the caller.
const maxSecondaryRetries = 5

// RetryConfig controls backoff for transient failures (network errors and
// 5xx responses). Rate-limit waits are governed by the pool, not by this.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay growth.
	MaxBackoff time.Duration
	// Multiplier is the exponential growth factor between delays.
	Multiplier float64
}

// Config holds client tuning. Zero values fall back to DefaultConfig.
type Config struct {
	// BaseURL is the API root, without a trailing slash.
	BaseURL string
	// UserAgent identifies the indexer to the host.
	UserAgent string
	// Timeout bounds ordinary API calls.
	Timeout time.Duration
	// TreeTimeout bounds recursive tree listings, which run long on
	// monorepos.
	TreeTimeout time.Duration
	// CodeSearchInterval is the minimum spacing between code-search
	// calls across the whole process. The code-search quota is much
	// smaller than the core quota and is enforced per-interval.
	CodeSearchInterval time.Duration
	// Retry controls transient-failure backoff.
	Retry RetryConfig
}

// DefaultConfig returns production settings: 30s calls, 60s trees, 7s
// code-search spacing, three retries starting at 2s.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://api.github.com",
		UserAgent:          "skilldex-indexer",
		Timeout:            30 * time.Second,
		TreeTimeout:        60 * time.Second,
		CodeSearchInterval: 7 * time.Second,
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
		},
	}
}

// Client issues authenticated REST calls through a credential pool.
// It is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	pool   *Pool
	logger *slog.Logger

	// csMu serializes code-search callers so the pacing interval holds
	// across goroutines, not just per goroutine.
	csMu           sync.Mutex
	lastCodeSearch time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client over pool and registers itself as the pool's
// quota fetcher.
func NewClient(cfg Config, pool *Pool, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.TreeTimeout <= 0 {
		cfg.TreeTimeout = def.TreeTimeout
	}
	if cfg.CodeSearchInterval <= 0 {
		cfg.CodeSearchInterval = def.CodeSearchInterval
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = def.Retry
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		pool:   pool,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
	pool.SetQuotaFetcher(c)
	return c
}

// Pool exposes the credential pool for status reporting.
func (c *Client) Pool() *Pool { return c.pool }

// getJSON performs one logical GET: it checks out a credential, handles
// rate limits and transient failures internally, and decodes the body
// into out when it is non-nil.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, timeout time.Duration, out any) error {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	transientLeft := c.cfg.Retry.MaxRetries
	backoff := c.cfg.Retry.InitialBackoff
	secondaryLeft := maxSecondaryRetries

	for {
		cred, err := c.pool.CheckAndRotate(ctx)
		if err != nil {
			return err
		}

		status, header, body, err := c.do(ctx, cred, u, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if transientLeft <= 0 {
				return fmt.Errorf("githost: %s: %w", endpoint, err)
			}
			transientLeft--
			c.logger.Warn("githost.request.retry",
				"endpoint", endpoint,
				"error", err,
				"backoff", backoff.String())
			if err := c.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, c.cfg.Retry)
			continue
		}

		c.pool.UpdateFromHeaders(cred.Token, header)
		metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()

		switch {
		case status == http.StatusOK:
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("githost: decoding %s response: %w", endpoint, err)
			}
			return nil

		case status == http.StatusNotFound:
			return ErrNotFound

		case status == http.StatusForbidden || status == http.StatusTooManyRequests:
			msg := apiMessage(body)
			if isSecondaryLimit(msg) {
				wait := retryAfter(header)
				if secondaryLeft <= 0 {
					return &SecondaryLimitError{RetryAfter: wait}
				}
				secondaryLeft--
				c.logger.Warn("githost.ratelimit.secondary",
					"endpoint", endpoint,
					"sleep", wait.String())
				metrics.RateLimitSleeps.WithLabelValues("secondary").Inc()
				if err := c.sleep(ctx, wait); err != nil {
					return err
				}
				continue
			}
			if header.Get("x-ratelimit-remaining") == "0" {
				c.pool.MarkExhausted(cred.Token, resetFromHeader(header))
				continue
			}
			return &APIError{StatusCode: status, Message: msg, URL: u}

		case status == http.StatusUnprocessableEntity:
			msg := apiMessage(body)
			if strings.Contains(msg, "first 1000") {
				return ErrBeyondResults
			}
			return &APIError{StatusCode: status, Message: msg, URL: u}

		case status >= 500:
			if transientLeft <= 0 {
				return &APIError{StatusCode: status, Message: apiMessage(body), URL: u}
			}
			transientLeft--
			c.logger.Warn("githost.request.retry",
				"endpoint", endpoint,
				"status", status,
				"backoff", backoff.String())
			if err := c.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, c.cfg.Retry)
			continue

		default:
			return &APIError{StatusCode: status, Message: apiMessage(body), URL: u}
		}
	}
}

// do issues a single HTTP request and drains the body.
func (c *Client) do(ctx context.Context, cred Credential, u string, timeout time.Duration) (int, http.Header, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

// paceCodeSearch enforces the global spacing between code-search calls.
// The mutex is held through the sleep so concurrent callers queue up
// behind it in order.
func (c *Client) paceCodeSearch(ctx context.Context) error {
	c.csMu.Lock()
	defer c.csMu.Unlock()
	if !c.lastCodeSearch.IsZero() {
		if wait := c.cfg.CodeSearchInterval - c.now().Sub(c.lastCodeSearch); wait > 0 {
			c.logger.Debug("githost.codesearch.pace", "wait", wait.String())
			metrics.RateLimitSleeps.WithLabelValues("pacing").Inc()
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	c.lastCodeSearch = c.now()
	return nil
}

// FetchQuota implements QuotaFetcher against the rate-limit endpoint.
// The endpoint itself does not consume quota.
func (c *Client) FetchQuota(ctx context.Context, cred Credential) (RateLimit, error) {
	status, _, body, err := c.do(ctx, cred, c.cfg.BaseURL+"/rate_limit", c.cfg.Timeout)
	if err != nil {
		return RateLimit{}, fmt.Errorf("fetching quota: %w", err)
	}
	if status != http.StatusOK {
		return RateLimit{}, &APIError{StatusCode: status, Message: apiMessage(body), URL: c.cfg.BaseURL + "/rate_limit"}
	}
	var wire struct {
		Resources struct {
			Core struct {
				Limit     int   `json:"limit"`
				Remaining int   `json:"remaining"`
				Reset     int64 `json:"reset"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return RateLimit{}, fmt.Errorf("decoding quota response: %w", err)
	}
	return RateLimit{
		Limit:     wire.Resources.Core.Limit,
		Remaining: wire.Resources.Core.Remaining,
		Reset:     time.Unix(wire.Resources.Core.Reset, 0),
	}, nil
}

func nextBackoff(cur time.Duration, rc RetryConfig) time.Duration {
	next := time.Duration(float64(cur) * rc.Multiplier)
	if next > rc.MaxBackoff {
		next = rc.MaxBackoff
	}
	return next
}

// retryAfter reads the Retry-After header in seconds, defaulting to 60s
// when absent and never sleeping less than 10s. Abuse-detection blocks
// that are retried too eagerly escalate instead of clearing.
func retryAfter(h http.Header) time.Duration {
	const (
		defaultWait = 60 * time.Second
		minWait     = 10 * time.Second
	)
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return defaultWait
	}
	wait := time.Duration(secs) * time.Second
	if wait < minWait {
		return minWait
	}
	return wait
}

func resetFromHeader(h http.Header) time.Time {
	unix, err := strconv.ParseInt(h.Get("x-ratelimit-reset"), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func apiMessage(body []byte) string {
	var wire struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Message != "" {
		return wire.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func isSecondaryLimit(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "secondary rate limit") || strings.Contains(m, "abuse")
}
