// ratelimit.go groups per-category rate limiters for the live execution
// backend's REST calls. Each category burns bursty limits over a 10-second
// window on most venues; the limiters below smooth that into a continuous
// per-second refill.
package exchange

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter groups per-category request limiters for the venue REST API.
// Each trading operation calls the matching limiter's Wait before issuing
// its HTTP request.
type RateLimiter struct {
	Order  *rate.Limiter // order placement
	Cancel *rate.Limiter // order cancellation (single, bulk, all)
	Query  *rate.Limiter // book/account/fills reads
}

// NewRateLimiter builds limiters sized to generous, conservative defaults:
// burst capacity equal to a 10-second window's worth of requests at the
// steady-state per-second rate.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  rate.NewLimiter(rate.Limit(50), 500),
		Cancel: rate.NewLimiter(rate.Limit(30), 300),
		Query:  rate.NewLimiter(rate.Limit(15), 150),
	}
}

func (r *RateLimiter) waitOrder(ctx context.Context) error  { return r.Order.Wait(ctx) }
func (r *RateLimiter) waitCancel(ctx context.Context) error { return r.Cancel.Wait(ctx) }
func (r *RateLimiter) waitQuery(ctx context.Context) error  { return r.Query.Wait(ctx) }
