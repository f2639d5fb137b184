package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter spaces out requests to the same host
type RateLimiter struct {
	mu           sync.Mutex
	lastRequest  map[string]time.Time // host -> time of the last request attempt
	defaultDelay time.Duration        // Used when a caller passes no delay
	log          *logrus.Entry
}

// NewRateLimiter creates a RateLimiter
func NewRateLimiter(defaultDelay time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		lastRequest:  make(map[string]time.Time),
		defaultDelay: defaultDelay,
		log:          log,
	}
}

// ApplyDelay blocks until minDelay (+/- 10% jitter) has passed since the last
// request to host, or until ctx is done. The first request to a host never waits.
func (rl *RateLimiter) ApplyDelay(ctx context.Context, host string, minDelay time.Duration) {
	if minDelay <= 0 {
		minDelay = rl.defaultDelay
	}
	if minDelay <= 0 {
		return
	}

	rl.mu.Lock()
	last, seen := rl.lastRequest[host]
	rl.mu.Unlock()
	if !seen {
		return
	}

	elapsed := time.Since(last)
	if elapsed >= minDelay {
		return
	}
	wait := withJitter(minDelay - elapsed)
	if wait <= 0 {
		return
	}

	rl.log.WithFields(logrus.Fields{"host": host, "sleep": wait, "required_delay": minDelay}).Debug("Rate limit applying sleep")
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// UpdateLastRequestTime records now as the last request attempt to host.
// Call it after the request attempt, successful or not.
func (rl *RateLimiter) UpdateLastRequestTime(host string) {
	rl.mu.Lock()
	rl.lastRequest[host] = time.Now()
	rl.mu.Unlock()
}

// withJitter returns d shifted by a random amount within +/- 10%
func withJitter(d time.Duration) time.Duration {
	spread := int64(d) / 5
	if spread <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(spread)) - d/10
}
