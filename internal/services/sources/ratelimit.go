package sources

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces outbound requests. It is injected into the crawler so
// timing is testable without real delays.
type Limiter interface {
	// Wait blocks until a request to the URL's domain is allowed, or the
	// context is cancelled.
	Wait(ctx context.Context, rawURL string) error
}

// TokenBucketLimiter applies a per-domain token bucket.
type TokenBucketLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	interval time.Duration
	burst    int
}

// NewTokenBucketLimiter creates a limiter allowing one request per interval
// per domain, with the given burst.
func NewTokenBucketLimiter(interval time.Duration, burst int) *TokenBucketLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
		burst:    burst,
	}
}

// Wait blocks until the domain's bucket yields a token.
func (l *TokenBucketLimiter) Wait(ctx context.Context, rawURL string) error {
	domain := extractDomain(rawURL)
	if domain == "" {
		return nil
	}

	l.mu.Lock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(l.interval), l.burst)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()

	return limiter.Wait(ctx)
}

// FixedDelayLimiter enforces a minimum delay between requests to the same
// domain.
type FixedDelayLimiter struct {
	lastRequest map[string]time.Time
	mu          sync.Mutex
	delay       time.Duration
}

// NewFixedDelayLimiter creates a fixed-delay limiter. A zero delay makes it
// a no-op, which tests rely on.
func NewFixedDelayLimiter(delay time.Duration) *FixedDelayLimiter {
	return &FixedDelayLimiter{
		lastRequest: make(map[string]time.Time),
		delay:       delay,
	}
}

// Wait blocks until the configured delay since the domain's last request
// has elapsed, honoring context cancellation.
func (l *FixedDelayLimiter) Wait(ctx context.Context, rawURL string) error {
	if l.delay <= 0 {
		return nil
	}

	domain := extractDomain(rawURL)
	if domain == "" {
		return nil
	}

	l.mu.Lock()
	last := l.lastRequest[domain]
	now := time.Now()
	nextAllowed := last.Add(l.delay)
	l.lastRequest[domain] = now
	if nextAllowed.After(now) {
		l.lastRequest[domain] = nextAllowed
	}
	l.mu.Unlock()

	if wait := nextAllowed.Sub(now); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return nil
}

// extractDomain parses the domain from a URL
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
