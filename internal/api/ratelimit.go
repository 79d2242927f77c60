package api

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

const rateLimiterIdleTTL = 15 * time.Minute

// TenantRateLimiter keeps one token bucket per tenant. Buckets of tenants
// that stay idle past the TTL are dropped.
type TenantRateLimiter struct {
	limit   rate.Limit
	burst   int
	buckets *ttlcache.Cache[string, *rate.Limiter]
}

func NewTenantRateLimiter(requestsPerSecond float64, burst int) *TenantRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	limiter := &TenantRateLimiter{
		limit: rate.Limit(requestsPerSecond),
		burst: burst,
		buckets: ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](rateLimiterIdleTTL),
		),
	}
	go limiter.buckets.Start()
	return limiter
}

// Allow consumes one token from the tenant's bucket. A non-positive rate
// disables limiting.
func (l *TenantRateLimiter) Allow(tenantID string) bool {
	if l.limit <= 0 {
		return true
	}
	item, _ := l.buckets.GetOrSet(tenantID, rate.NewLimiter(l.limit, l.burst))
	return item.Value().Allow()
}

func (l *TenantRateLimiter) Close() {
	l.buckets.Stop()
}
