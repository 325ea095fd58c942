package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces out requests made by one scan session. It combines a token
// bucket (overall throughput) with a fixed minimum delay between consecutive
// requests.
type Limiter struct {
	limiter     *rate.Limiter
	minDelay    time.Duration
	burstSize   int
	lastRequest time.Time
	requests    int64
	mu          sync.Mutex
}

// Config contains rate limiting configuration
type Config struct {
	// RequestsPerSecond caps overall throughput. Zero means unlimited.
	RequestsPerSecond float64

	// BurstSize allows brief bursts above the rate limit
	BurstSize int

	// MinDelay is the minimum delay between two consecutive requests
	MinDelay time.Duration
}

// DefaultConfig matches the scanner's default politeness: one request every
// 200ms and never more than 10 per second.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10.0,
		BurstSize:         1,
		MinDelay:          200 * time.Millisecond,
	}
}

// NewLimiter creates a new rate limiter with the given configuration
func NewLimiter(config Config) *Limiter {
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.BurstSize
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter:   rate.NewLimiter(limit, burst),
		minDelay:  config.MinDelay,
		burstSize: burst,
	}
}

// Wait blocks until the next request may be sent. It returns ctx.Err() if the
// context is cancelled while waiting.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.lastRequest.IsZero() {
		elapsed := time.Since(l.lastRequest)
		if elapsed < l.minDelay {
			timer := time.NewTimer(l.minDelay - elapsed)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	l.lastRequest = time.Now()
	l.requests++
	return nil
}

// GetStats returns current rate limiter statistics
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Requests:     l.requests,
		BurstSize:    l.burstSize,
		RequestDelay: l.minDelay,
	}
}

// Stats contains rate limiter statistics
type Stats struct {
	Requests     int64
	BurstSize    int
	RequestDelay time.Duration
}
