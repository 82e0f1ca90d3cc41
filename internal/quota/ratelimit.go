package quota

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-tenant token bucket guarding request admission.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters sync.Map // tenant -> *rate.Limiter
	now      func() time.Time
}

// NewRateLimiter allows rps requests per second per tenant with the given
// burst. rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limit: rate.Limit(rps), burst: burst, now: time.Now}
}

// Allow consumes a token for tenantID. When none is available it returns
// false and the time until one will be.
func (r *RateLimiter) Allow(tenantID string) (bool, time.Duration) {
	if r.limit <= 0 {
		return true, 0
	}

	l, ok := r.limiters.Load(tenantID)
	if !ok {
		l, _ = r.limiters.LoadOrStore(tenantID, rate.NewLimiter(r.limit, r.burst))
	}
	limiter := l.(*rate.Limiter)

	now := r.now()
	res := limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}
