package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 10 * time.Minute
	limiterIdleAfter  = 30 * time.Minute
)

// clientLimiters hands out one token bucket per client address.
type clientLimiters struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	*rate.Limiter
	seen time.Time
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	return &clientLimiters{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
	}
}

func (c *clientLimiters) allow(addr string, now time.Time) bool {
	c.mu.Lock()
	b, ok := c.buckets[addr]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(c.rps, c.burst)}
		c.buckets[addr] = b
	}
	b.seen = now
	c.mu.Unlock()

	return b.AllowN(now, 1)
}

// sweep forgets buckets idle since before cutoff.
func (c *clientLimiters) sweep(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, b := range c.buckets {
		if b.seen.Before(cutoff) {
			delete(c.buckets, addr)
		}
	}
}

func (c *clientLimiters) sweepUntil(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.sweep(now.Add(-limiterIdleAfter))
		}
	}
}

// RateLimitByIP limits each client address to requestsPerSecond with the
// given burst. The port is ignored, so it belongs after chi's RealIP. Idle
// addresses are forgotten until ctx is cancelled.
func RateLimitByIP(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	limiters := newClientLimiters(requestsPerSecond, burst)
	go limiters.sweepUntil(ctx)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := clientIP(r)
			if !limiters.allow(addr, time.Now()) {
				zerolog.Ctx(r.Context()).Warn().Str("ip", addr).Msg("rate limit exceeded")
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
