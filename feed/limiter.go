package feed

import (
	"time"

	"golang.org/x/time/rate"
)

// defaultRefreshWindow is the minimum interval between unsolicited feed-wide
// refresh attempts, independent of the per-view single-flight guard.
const defaultRefreshWindow = 20 * time.Second

// RefreshLimiter gates automatic feed refreshes across all views.
type RefreshLimiter struct {
	limiter *rate.Limiter
}

// NewRefreshLimiter creates a limiter allowing one refresh per window.
// window <= 0 selects the default.
func NewRefreshLimiter(window time.Duration) *RefreshLimiter {
	if window <= 0 {
		window = defaultRefreshWindow
	}
	return &RefreshLimiter{
		limiter: rate.NewLimiter(rate.Every(window), 1),
	}
}

// Allow reports whether an unsolicited refresh may proceed now.
func (l *RefreshLimiter) Allow() bool {
	return l.limiter.Allow()
}
