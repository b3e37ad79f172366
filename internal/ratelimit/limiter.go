// Package ratelimit enforces per-tenant sliding-window quotas: requests per
// minute and tokens per day.
package ratelimit

import (
	"sync"
	"time"

	"github.com/zeroveil/gateway/internal/domain"
	"github.com/zeroveil/gateway/internal/tenant"
)

const (
	requestWindow = time.Minute
	tokenWindow   = 24 * time.Hour
)

// Clock supplies the current time; injectable for deterministic tests.
type Clock func() time.Time

type tokenEntry struct {
	at     time.Time
	tokens int
}

// bucket holds one tenant's window state. Contention is per tenant, sized to
// the tenant count rather than request volume.
type bucket struct {
	mu       sync.Mutex
	requests []time.Time
	tokens   []tokenEntry
}

// Limiter tracks sliding-window usage for all tenants.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     Clock
}

// New creates a limiter. A nil clock uses the wall clock.
func New(now Clock) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{buckets: make(map[string]*bucket), now: now}
}

func (l *Limiter) bucketFor(tenantID string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[tenantID]
	if !ok {
		b = &bucket{}
		l.buckets[tenantID] = b
	}
	return b
}

func pruneRequests(reqs []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(reqs) && !reqs[i].After(cutoff) {
		i++
	}
	return reqs[i:]
}

func pruneTokens(entries []tokenEntry, cutoff time.Time) []tokenEntry {
	i := 0
	for i < len(entries) && !entries[i].at.After(cutoff) {
		i++
	}
	return entries[i:]
}

// Check atomically verifies and consumes one request slot for the tenant.
// Quota is consumed by attempted use: the slot is taken regardless of the
// downstream policy outcome. On exhaustion no state is mutated.
func (l *Limiter) Check(t *tenant.Tenant) error {
	if t.RateLimitRPM == 0 && t.RateLimitTPD == 0 {
		return nil
	}

	b := l.bucketFor(t.ID)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if t.RateLimitTPD > 0 {
		b.tokens = pruneTokens(b.tokens, now.Add(-tokenWindow))
		used := 0
		for _, e := range b.tokens {
			used += e.tokens
		}
		if used >= t.RateLimitTPD {
			return domain.ErrRateLimited("daily token quota exceeded").
				WithDetail("tpd_remaining", 0)
		}
	}

	if t.RateLimitRPM > 0 {
		b.requests = pruneRequests(b.requests, now.Add(-requestWindow))
		if len(b.requests) >= t.RateLimitRPM {
			return domain.ErrRateLimited("request rate exceeded").
				WithDetail("rpm_remaining", 0)
		}
		b.requests = append(b.requests, now)
	}
	return nil
}

// RecordUsage charges completed token usage against the daily window.
func (l *Limiter) RecordUsage(t *tenant.Tenant, tokens int) {
	if t.RateLimitTPD == 0 || tokens <= 0 {
		return
	}
	b := l.bucketFor(t.ID)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = pruneTokens(b.tokens, now.Add(-tokenWindow))
	b.tokens = append(b.tokens, tokenEntry{at: now, tokens: tokens})
}

// RemainingRPM returns the requests left in the current window, or -1 when
// the tenant has no request limit.
func (l *Limiter) RemainingRPM(t *tenant.Tenant) int {
	if t.RateLimitRPM == 0 {
		return -1
	}
	b := l.bucketFor(t.ID)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = pruneRequests(b.requests, now.Add(-requestWindow))
	remaining := t.RateLimitRPM - len(b.requests)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// RemainingTPD returns the tokens left in the daily window, or -1 when the
// tenant has no token limit.
func (l *Limiter) RemainingTPD(t *tenant.Tenant) int {
	if t.RateLimitTPD == 0 {
		return -1
	}
	b := l.bucketFor(t.ID)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = pruneTokens(b.tokens, now.Add(-tokenWindow))
	used := 0
	for _, e := range b.tokens {
		used += e.tokens
	}
	remaining := t.RateLimitTPD - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
