// Package ratelimit caps outbound request rates and caches short-lived signed
// tokens for the remote APIs the server talks to.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// ExceededError is returned when the window budget is spent.
type ExceededError struct {
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d ms", e.RetryAfter.Milliseconds())
}

// Limiter is a windowed request counter. It never blocks: callers that are
// over budget get an ExceededError with the time left in the window.
type Limiter struct {
	mu          sync.Mutex
	window      time.Duration
	maxRequests int
	now         func() time.Time

	count     int
	lastReset time.Time
}

type Status struct {
	RequestsUsed      int           `json:"requestsUsed"`
	RequestsRemaining int           `json:"requestsRemaining"`
	WindowResetIn     time.Duration `json:"windowResetIn"`
	RateLimitActive   bool          `json:"rateLimitActive"`
}

func NewLimiter(window time.Duration, maxRequests int, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = time.Minute
	}
	if maxRequests <= 0 {
		maxRequests = 1
	}
	return &Limiter{
		window:      window,
		maxRequests: maxRequests,
		now:         now,
		lastReset:   now(),
	}
}

func (l *Limiter) CheckAndConsume() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.resetIfElapsedLocked(now)

	if l.count >= l.maxRequests {
		wait := l.window - now.Sub(l.lastReset)
		if wait <= 0 {
			wait = time.Millisecond
		}
		return &ExceededError{RetryAfter: wait}
	}
	l.count++
	return nil
}

func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.resetIfElapsedLocked(now)

	resetIn := l.window - now.Sub(l.lastReset)
	if resetIn < 0 {
		resetIn = 0
	}
	return Status{
		RequestsUsed:      l.count,
		RequestsRemaining: l.maxRequests - l.count,
		WindowResetIn:     resetIn,
		RateLimitActive:   l.count >= l.maxRequests,
	}
}

func (l *Limiter) resetIfElapsedLocked(now time.Time) {
	if now.Sub(l.lastReset) >= l.window {
		l.count = 0
		l.lastReset = now
	}
}
