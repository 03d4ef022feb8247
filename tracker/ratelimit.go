package tracker

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimitBurst  = 10
	rateLimitIdle   = 10 * time.Minute // limiter entries unused this long are dropped
	rateLimitSweep  = 5 * time.Minute
	rateLimitPeriod = time.Minute
)

type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter enforces a per-source-IP request budget.
type ipLimiter struct {
	entries map[string]*rateLimitEntry
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
}

// newIPLimiter allows perMinute requests per IP with a small burst. It
// returns nil when perMinute <= 0; a nil limiter allows everything.
func newIPLimiter(perMinute int) *ipLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &ipLimiter{
		entries: make(map[string]*rateLimitEntry),
		limit:   rate.Every(rateLimitPeriod / time.Duration(perMinute)),
		burst:   min(perMinute, rateLimitBurst),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[ip]
	if !ok {
		e = &rateLimitEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

// sweep drops entries idle since before deadline.
func (l *ipLimiter) sweep(deadline time.Time) int {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, e := range l.entries {
		if e.lastSeen.Before(deadline) {
			delete(l.entries, ip)
			removed++
		}
	}
	return removed
}
