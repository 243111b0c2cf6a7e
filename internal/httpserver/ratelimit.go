package httpserver

import (
	"sync"

	"golang.org/x/time/rate"
)

// tenantLimiter throttles API calls per tenant with a token bucket sized to
// one minute of the configured rate.
type tenantLimiter struct {
	perMinute int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newTenantLimiter(perMinute int) *tenantLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	return &tenantLimiter{
		perMinute: perMinute,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (t *tenantLimiter) allow(tenantID string) bool {
	t.mu.Lock()
	limiter, ok := t.limiters[tenantID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(t.perMinute)/60.0), t.perMinute)
		t.limiters[tenantID] = limiter
	}
	t.mu.Unlock()
	return limiter.Allow()
}
