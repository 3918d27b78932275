package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds how hard a single gateway host is hit.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per host. Zero or less
	// disables limiting.
	RequestsPerSecond float64
	// Burst is the maximum burst size per host.
	Burst int
}

// DefaultRateLimitConfig returns limits that stay within public gateway
// fair-use policies.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             8,
	}
}

type hostLimiter struct {
	limiter    *rate.Limiter
	lastActive time.Time
}

// HostLimiter keeps a token bucket per gateway host.
type HostLimiter struct {
	config   RateLimitConfig
	limiters map[string]*hostLimiter
	mu       sync.Mutex

	maxIdleTime time.Duration
	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// NewHostLimiter creates a limiter and, when limiting is enabled, starts
// its idle-host cleanup loop. Call Close to stop it.
func NewHostLimiter(config RateLimitConfig) *HostLimiter {
	if config.Burst < 1 {
		config.Burst = 1
	}
	hl := &HostLimiter{
		config:      config,
		limiters:    make(map[string]*hostLimiter),
		maxIdleTime: 10 * time.Minute,
	}
	if config.RequestsPerSecond > 0 {
		hl.stopCleanup = make(chan struct{})
		go hl.cleanupLoop(5 * time.Minute)
	}
	return hl
}

func (hl *HostLimiter) get(host string) *rate.Limiter {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	hs, ok := hl.limiters[host]
	if !ok {
		hs = &hostLimiter{
			limiter: rate.NewLimiter(rate.Limit(hl.config.RequestsPerSecond), hl.config.Burst),
		}
		hl.limiters[host] = hs
	}
	hs.lastActive = time.Now()
	return hs.limiter
}

// Wait blocks until a request to host may proceed or ctx is done.
func (hl *HostLimiter) Wait(ctx context.Context, host string) error {
	if hl == nil || hl.config.RequestsPerSecond <= 0 {
		return ctx.Err()
	}
	lim := hl.get(host)
	if lim.Tokens() < 1 {
		log.Debugf("rate limit reached for gateway %s", host)
	}
	return lim.Wait(ctx)
}

// HostCount returns the number of hosts currently tracked.
func (hl *HostLimiter) HostCount() int {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	return len(hl.limiters)
}

// Close stops the cleanup loop.
func (hl *HostLimiter) Close() {
	if hl == nil || hl.stopCleanup == nil {
		return
	}
	hl.closeOnce.Do(func() { close(hl.stopCleanup) })
}

func (hl *HostLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hl.cleanup(time.Now())
		case <-hl.stopCleanup:
			return
		}
	}
}

func (hl *HostLimiter) cleanup(now time.Time) {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	for host, hs := range hl.limiters {
		if now.Sub(hs.lastActive) > hl.maxIdleTime {
			delete(hl.limiters, host)
			log.Debugf("dropped rate limiter for idle gateway %s", host)
		}
	}
}
