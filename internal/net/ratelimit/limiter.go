package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter provides per-exchange rate limiting using token buckets. Exchanges
// without explicit limits get the default rate.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64 // Default requests per second
	burst    int     // Default burst capacity
}

// NewLimiter creates a limiter whose unconfigured exchanges use rps and burst
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// Configure sets the rate for one exchange, replacing any previous bucket
func (l *Limiter) Configure(exchange string, rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limiters[exchange] = rate.NewLimiter(rate.Limit(rps), burst)
}

// getLimiter returns or creates the bucket for exchange
func (l *Limiter) getLimiter(exchange string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[exchange]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[exchange]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[exchange] = limiter
	return limiter
}

// Allow returns true if a request to exchange may proceed now
func (l *Limiter) Allow(exchange string) bool {
	return l.getLimiter(exchange).Allow()
}

// Wait blocks until a request to exchange is allowed or ctx is done
func (l *Limiter) Wait(ctx context.Context, exchange string) error {
	return l.getLimiter(exchange).Wait(ctx)
}

// Stats returns a snapshot of every exchange bucket
func (l *Limiter) Stats() map[string]LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]LimiterStats, len(l.limiters))
	for exchange, limiter := range l.limiters {
		stats[exchange] = LimiterStats{
			Exchange:        exchange,
			RPS:             float64(limiter.Limit()),
			Burst:           limiter.Burst(),
			TokensAvailable: limiter.TokensAt(time.Now()),
		}
	}
	return stats
}

// LimiterStats represents the state of one exchange bucket
type LimiterStats struct {
	Exchange        string  `json:"exchange"`
	RPS             float64 `json:"rps"`
	Burst           int     `json:"burst"`
	TokensAvailable float64 `json:"tokens_available"`
}

// IsThrottled returns true if the next request would have to wait
func (s LimiterStats) IsThrottled() bool {
	return s.TokensAvailable < 1
}
