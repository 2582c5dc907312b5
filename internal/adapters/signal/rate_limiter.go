package signal

import (
	"sync"
	"time"

	"github.com/dkeye/callsignal/internal/domain"
)

// CommandRateLimiter caps inbound commands per user over a sliding window.
type CommandRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewCommandRateLimiter(limit int, interval time.Duration) *CommandRateLimiter {
	return &CommandRateLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// SetLimits swaps the window at runtime. A limit of zero disables limiting.
func (rl *CommandRateLimiter) SetLimits(limit int, interval time.Duration) {
	rl.mu.Lock()
	rl.limit = limit
	rl.interval = interval
	rl.mu.Unlock()
}

func (rl *CommandRateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.limit <= 0 {
		return true
	}
	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[uid]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}

	rl.history[uid] = append(fresh, now)
	return true
}

// Forget drops the user's history.
func (rl *CommandRateLimiter) Forget(uid domain.UserID) {
	rl.mu.Lock()
	delete(rl.history, uid)
	rl.mu.Unlock()
}
