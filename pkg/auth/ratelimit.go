package auth

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter checks whether an authenticated request should be allowed.
type RateLimiter interface {
	Allow(ctx context.Context, id *Identity) error
}

// SiteLimit holds rate limit settings for a site.
type SiteLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// SiteLimiter is a token-bucket rate limiter with one bucket per site.
// Admin callers are not limited.
type SiteLimiter struct {
	sites    map[string]SiteLimit
	fallback SiteLimit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewSiteLimiter creates a rate limiter with per-site overrides and a
// fallback limit for sites without one. A limit with RequestsPerSecond <= 0
// disables limiting for that site.
func NewSiteLimiter(sites map[string]SiteLimit, fallback SiteLimit) *SiteLimiter {
	return &SiteLimiter{
		sites:    sites,
		fallback: fallback,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports ErrTooManyRequests when the site's bucket is empty.
func (l *SiteLimiter) Allow(_ context.Context, id *Identity) error {
	if id.Admin {
		return nil
	}

	limit := l.fallback
	if sl, ok := l.sites[id.SiteID]; ok {
		limit = sl
	}
	if limit.RequestsPerSecond <= 0 {
		return nil // no limit
	}

	if !l.limiter(id.SiteID, limit).Allow() {
		return ErrTooManyRequests
	}
	return nil
}

func (l *SiteLimiter) limiter(site string, limit SiteLimit) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[site]
	if !ok {
		burst := limit.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(limit.RequestsPerSecond), burst)
		l.limiters[site] = lim
	}
	return lim
}
