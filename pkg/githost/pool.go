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

package githost

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kraklabs/skilldex/internal/metrics"
)

// minTrustedLimit guards header parsing. Unauthenticated and proxy-mangled
// responses advertise tiny limits (60 or less); accepting them would poison
// a credential's bookkeeping and stall the pool for no reason.
const minTrustedLimit = 100

// exhaustedThreshold is the remaining-quota floor below which a credential
// is not handed out. Keeping one call in reserve avoids burning the last
// request on a response we cannot paginate.
const exhaustedThreshold = 2

// Credential is one bearer token with a display name for logs and status.
type Credential struct {
	Token string
	Name  string
}

// TokenInfo is a point-in-time snapshot of one credential's quota,
// exposed by the status command.
type TokenInfo struct {
	Name      string
	Remaining int
	Limit     int
	Reset     time.Time
	LastUsed  time.Time
}

type tokenState struct {
	cred      Credential
	remaining int
	limit     int
	reset     time.Time
	lastUsed  time.Time
}

// QuotaFetcher reads the current primary quota for one credential straight
// from the host. The pool calls it after sleeping through an exhaustion
// window; the client implements it via the rate-limit endpoint.
type QuotaFetcher interface {
	FetchQuota(ctx context.Context, cred Credential) (RateLimit, error)
}

// Pool schedules API calls across a set of credentials. Every call checks
// out the credential with the most remaining quota; when all of them are
// exhausted the caller is parked until the earliest advertised reset.
type Pool struct {
	mu     sync.Mutex
	tokens []*tokenState
	quota  QuotaFetcher
	logger *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPool builds a pool over creds. Quota bookkeeping starts optimistic
// (limit 5000, all remaining) and converges on real numbers as response
// headers arrive.
func NewPool(creds []Credential, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, c := range creds {
		p.tokens = append(p.tokens, &tokenState{
			cred:      c,
			remaining: 5000,
			limit:     5000,
		})
	}
	return p
}

// SetQuotaFetcher wires the host-side quota reader used after exhaustion
// sleeps. Without one the pool trusts its last known header values.
func (p *Pool) SetQuotaFetcher(q QuotaFetcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quota = q
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens)
}

// Best returns the credential with the most remaining quota without
// blocking, for callers that handle exhaustion themselves.
func (p *Pool) Best() (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := p.bestLocked()
	if ts == nil {
		return Credential{}, ErrNoCredentials
	}
	ts.lastUsed = p.now()
	return ts.cred, nil
}

func (p *Pool) bestLocked() *tokenState {
	var best *tokenState
	for _, ts := range p.tokens {
		if best == nil || ts.remaining > best.remaining {
			best = ts
		}
	}
	return best
}

// UpdateFromHeaders folds a response's rate-limit headers into the
// bookkeeping for the credential that made the call. Responses advertising
// a limit below minTrustedLimit are ignored wholesale.
func (p *Pool) UpdateFromHeaders(token string, h http.Header) {
	limit, err := strconv.Atoi(h.Get("x-ratelimit-limit"))
	if err != nil || limit < minTrustedLimit {
		return
	}
	remaining, err := strconv.Atoi(h.Get("x-ratelimit-remaining"))
	if err != nil {
		return
	}
	resetUnix, err := strconv.ParseInt(h.Get("x-ratelimit-reset"), 10, 64)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ts := range p.tokens {
		if ts.cred.Token != token {
			continue
		}
		ts.limit = limit
		ts.remaining = remaining
		ts.reset = time.Unix(resetUnix, 0)
		if ts.remaining <= exhaustedThreshold*10 {
			p.logger.Debug("githost.pool.quota_low",
				"token", ts.cred.Name,
				"remaining", ts.remaining,
				"reset", ts.reset.Format(time.RFC3339))
		}
		return
	}
}

// MarkExhausted zeroes a credential's remaining quota, typically after a
// primary rate-limit response that arrived without usable headers.
func (p *Pool) MarkExhausted(token string, reset time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ts := range p.tokens {
		if ts.cred.Token != token {
			continue
		}
		ts.remaining = 0
		if !reset.IsZero() {
			ts.reset = reset
		}
		p.logger.Warn("githost.pool.exhausted",
			"token", ts.cred.Name,
			"reset", ts.reset.Format(time.RFC3339))
		return
	}
}

// CheckAndRotate returns a credential with usable quota. When every
// credential is below the threshold it sleeps until one second past the
// earliest advertised reset, refreshes quotas from the host, and tries
// again. It returns early only when ctx is canceled.
func (p *Pool) CheckAndRotate(ctx context.Context) (Credential, error) {
	for {
		p.mu.Lock()
		if len(p.tokens) == 0 {
			p.mu.Unlock()
			return Credential{}, ErrNoCredentials
		}
		best := p.bestLocked()
		if best.remaining >= exhaustedThreshold {
			best.lastUsed = p.now()
			cred := best.cred
			p.mu.Unlock()
			return cred, nil
		}
		earliest := p.tokens[0].reset
		for _, ts := range p.tokens[1:] {
			if ts.reset.Before(earliest) {
				earliest = ts.reset
			}
		}
		p.mu.Unlock()

		wait := earliest.Sub(p.now()) + time.Second
		if wait < time.Second {
			wait = time.Second
		}
		p.logger.Warn("githost.pool.all_exhausted",
			"tokens", len(p.tokens),
			"sleep", wait.Round(time.Second).String())
		metrics.RateLimitSleeps.WithLabelValues("primary").Inc()
		if err := p.sleep(ctx, wait); err != nil {
			return Credential{}, err
		}
		p.refreshAll(ctx)
	}
}

// refreshAll re-reads quotas from the host after an exhaustion sleep. A
// failed read leaves that credential's last known numbers in place; the
// reset has passed, so stale zeros resolve through response headers on
// the next call.
func (p *Pool) refreshAll(ctx context.Context) {
	p.mu.Lock()
	quota := p.quota
	creds := make([]Credential, len(p.tokens))
	for i, ts := range p.tokens {
		creds[i] = ts.cred
	}
	p.mu.Unlock()

	if quota == nil {
		p.mu.Lock()
		now := p.now()
		for _, ts := range p.tokens {
			if !ts.reset.After(now) {
				ts.remaining = ts.limit
			}
		}
		p.mu.Unlock()
		return
	}

	for _, cred := range creds {
		rl, err := quota.FetchQuota(ctx, cred)
		if err != nil {
			p.logger.Warn("githost.pool.refresh_failed",
				"token", cred.Name, "error", err)
			continue
		}
		p.mu.Lock()
		for _, ts := range p.tokens {
			if ts.cred.Token == cred.Token {
				ts.limit = rl.Limit
				ts.remaining = rl.Remaining
				ts.reset = rl.Reset
				break
			}
		}
		p.mu.Unlock()
	}
}

// Snapshot reports per-credential quota for the status command.
func (p *Pool) Snapshot() []TokenInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TokenInfo, 0, len(p.tokens))
	for _, ts := range p.tokens {
		out = append(out, TokenInfo{
			Name:      ts.cred.Name,
			Remaining: ts.remaining,
			Limit:     ts.limit,
			Reset:     ts.reset,
			LastUsed:  ts.lastUsed,
		})
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
