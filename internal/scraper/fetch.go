package scraper

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/badabook/audiobookctl/internal/ratelimit"
)

// Fetcher performs rate-limited HTTP GETs with exponential backoff,
// shared by every HTML/API scraper so retry policy lives in one place.
type Fetcher struct {
	client  *http.Client
	limiter *ratelimit.Limiter

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewFetcher constructs a Fetcher with the pipeline's default retry policy:
// 5 attempts, 2s base delay, 1.5x backoff, capped at ~10s.
func NewFetcher(limiter *ratelimit.Limiter) *Fetcher {
	return &Fetcher{
		client:      &http.Client{Timeout: 30 * time.Second},
		limiter:     limiter,
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// Get retrieves url's body, retrying non-2xx responses and transport errors
// with exponential backoff. Every attempt is paced by the shared
// per-host rate limiter.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= f.MaxAttempts; attempt++ {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return nil, err
		}

		body, err := f.attempt(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if attempt == f.MaxAttempts {
			break
		}
		delay := f.backoff(attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("scraper: fetch %q: %w", url, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "audiobookctl/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// backoff returns 2s * 1.5^(attempt-1), capped at MaxDelay.
func (f *Fetcher) backoff(attempt int) time.Duration {
	d := float64(f.BaseDelay) * math.Pow(1.5, float64(attempt-1))
	if d > float64(f.MaxDelay) {
		d = float64(f.MaxDelay)
	}
	return time.Duration(d)
}
