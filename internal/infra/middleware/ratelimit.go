package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"nu-mcp/internal/domain"
)

// RateLimitConfig holds configuration for the outbound rate limiter.
type RateLimitConfig struct {
	RequestsPerMin int           // Maximum requests allowed per minute per host; 0 disables limiting
	BurstSize      int           // Maximum burst of requests allowed (default: 1)
	IdleTTL        time.Duration // Drop a host's limiter after this long unused (default: 3m)
}

// HostLimiter is a token bucket per destination host.
type HostLimiter struct {
	cfg   RateLimitConfig
	mu    sync.Mutex
	hosts map[string]*hostEntry
}

type hostEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewHostLimiter creates a HostLimiter. Stale host entries are swept until
// ctx is done.
func NewHostLimiter(ctx context.Context, cfg RateLimitConfig) *HostLimiter {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}
	l := &HostLimiter{cfg: cfg, hosts: make(map[string]*hostEntry)}
	if cfg.RequestsPerMin > 0 {
		go l.sweep(ctx)
	}
	return l
}

// Allow reports whether a request to host may proceed now.
func (l *HostLimiter) Allow(host string) bool {
	if l.cfg.RequestsPerMin <= 0 {
		return true
	}

	l.mu.Lock()
	e, ok := l.hosts[host]
	if !ok {
		// requestsPerMin spread over 60 seconds
		e = &hostEntry{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerMin)/60.0, l.cfg.BurstSize)}
		l.hosts[host] = e
	}
	e.lastSeen = time.Now()
	limiter := e.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

// Len returns the number of tracked hosts.
func (l *HostLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

func (l *HostLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.IdleTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			for host, e := range l.hosts {
				if time.Since(e.lastSeen) > l.cfg.IdleTTL {
					delete(l.hosts, host)
				}
			}
			l.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// RateLimitTransport wraps base so requests over the per-host budget fail
// with domain.ErrRateLimit without touching the network.
func RateLimitTransport(limiter *HostLimiter, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if !limiter.Allow(req.URL.Host) {
			return nil, fmt.Errorf("%s: %w", req.URL.Host, domain.ErrRateLimit)
		}
		return base.RoundTrip(req)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
