package capability

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter enforces per-capability hourly budgets using token buckets.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewRateLimiter creates an empty rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
	}
}

// RegisterService registers a capability with a specific hourly budget.
func (r *RateLimiter) RegisterService(service string, requestsPerHour int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rps := float64(requestsPerHour) / 3600.0
	burst := requestsPerHour / 360
	if burst < 10 {
		burst = 10
	}

	r.limiters[service] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Allow checks if a request is allowed. Unconfigured services have no limit.
func (r *RateLimiter) Allow(ctx context.Context, service string) (bool, error) {
	limiter := r.getLimiter(service)
	if limiter == nil {
		return true, nil
	}
	return limiter.Allow(), nil
}

func (r *RateLimiter) getLimiter(service string) *rate.Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[service]
}
