// Package ratelimit enforces a minimum delay between requests to any one
// remote host, so a job with many tasks hitting the same source site
// behaves as a single polite client rather than N concurrent workers
// hammering it at once.
package ratelimit

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out one golang.org/x/time/rate.Limiter per host, created
// lazily on first use and never removed: a job's host set is small and
// bounded by the number of distinct source sites it touches.
type Limiter struct {
	minDelay time.Duration

	mu      sync.Mutex
	perHost map[string]*rate.Limiter
}

// New returns a Limiter enforcing at least minDelay between requests to
// the same host. minDelay <= 0 disables limiting entirely.
func New(minDelay time.Duration) *Limiter {
	return &Limiter{
		minDelay: minDelay,
		perHost:  make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to rawURL's host is permitted, or ctx is
// cancelled. A malformed URL is rate-limited under its raw string as a
// fallback host key rather than rejected, since callers use this purely
// for pacing and a scraper will fail its own way on a bad URL regardless.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l.minDelay <= 0 {
		return nil
	}
	return l.forHost(hostOf(rawURL)).Wait(ctx)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl, ok := l.perHost[host]
	if !ok {
		rl = rate.NewLimiter(rate.Every(l.minDelay), 1)
		l.perHost[host] = rl
	}
	return rl
}
