package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedUsers bounds the limiter table; idle entries are pruned past it.
const maxTrackedUsers = 10000

// userLimiter applies a token bucket per user ID.
type userLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[int64]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newUserLimiter allows perMinute check-ins per user per minute. Zero or
// less disables limiting and returns nil.
func newUserLimiter(perMinute int) *userLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &userLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		limiters: make(map[int64]*limiterEntry),
	}
}

// Allow reports whether userID may check in now. A nil limiter allows all.
func (l *userLimiter) Allow(userID int64) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.limiters[userID]
	if !ok {
		if len(l.limiters) >= maxTrackedUsers {
			l.prune(now)
		}
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// prune drops users idle long enough for their bucket to have refilled.
func (l *userLimiter) prune(now time.Time) {
	for id, e := range l.limiters {
		if now.Sub(e.lastSeen) > time.Minute {
			delete(l.limiters, id)
		}
	}
}
