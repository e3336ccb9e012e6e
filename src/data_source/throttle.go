package datasource

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces upstream request starts at least interval apart. Callers that
// arrive early wait for their slot.
type Throttle struct {
	limiter *rate.Limiter
}

// -----------------------------------------------------------------------------

func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		return &Throttle{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// -----------------------------------------------------------------------------

func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
