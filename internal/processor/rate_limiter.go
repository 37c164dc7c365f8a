package processor

import (
	"sync"
	"time"

	"roboclass/internal/clock"
)

// RateLimiter caps inbound messages per client in fixed one-window buckets.
// ARCHITECTURAL DISCOVERY: Per-client state with periodic cleanup keeps the
// map from growing with every connection the server has ever seen.
type RateLimiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	limit   int
	window  time.Duration
	clients map[int64]*clientLimit
}

type clientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter allows limit messages per window for each client.
func NewRateLimiter(limit int, window time.Duration, clk clock.Clock) *RateLimiter {
	return &RateLimiter{
		clock:   clk,
		limit:   limit,
		window:  window,
		clients: make(map[int64]*clientLimit),
	}
}

// Allow records a message from clientID and reports whether it is within the
// limit.
func (rl *RateLimiter) Allow(clientID int64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	limit, exists := rl.clients[clientID]
	if !exists {
		rl.clients[clientID] = &clientLimit{messageCount: 1, windowStart: now}
		return true
	}

	// TECHNICAL DISCOVERY: The window restarts on the first message after it
	// lapses, not on a fixed schedule.
	if now.Sub(limit.windowStart) >= rl.window {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}
	limit.messageCount++
	return true
}

// Cleanup drops clients idle for five windows.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	removed := 0
	for id, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of clients with rate state.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
