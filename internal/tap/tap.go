// Package tap keeps repeated user actions from firing twice in a row.
package tap

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval is the minimum gap between two accepted taps.
const DefaultInterval = 750 * time.Millisecond

// Guard accepts at most one tap per interval.
type Guard struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewGuard creates a Guard. A non-positive interval disables it.
func NewGuard(interval time.Duration) *Guard {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Guard{limiter: rate.NewLimiter(limit, 1)}
}

// Allow reports whether a tap at the current time is accepted.
func (g *Guard) Allow() bool {
	return g.AllowAt(time.Now())
}

// AllowAt reports whether a tap at t is accepted.
func (g *Guard) AllowAt(t time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limiter.AllowN(t, 1)
}
