package web

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// HeaderRetryAfter is the retry-after header (seconds or HTTP date).
	HeaderRetryAfter = "Retry-After"

	// MaxRetryAfter caps how long a single Retry-After can pause a host.
	MaxRetryAfter = time.Minute
)

// HostLimiter throttles requests per host. Each host gets its own token
// bucket, and a 429 or 503 carrying Retry-After pauses that host.
type HostLimiter struct {
	mu    sync.Mutex
	rps   float64
	burst int
	hosts map[string]*hostState
}

type hostState struct {
	bucket       *rate.Limiter
	blockedUntil time.Time
}

// NewHostLimiter creates a limiter allowing rps requests per second per
// host. A non-positive rps disables proactive throttling.
func NewHostLimiter(rps float64) *HostLimiter {
	return &HostLimiter{
		rps:   rps,
		burst: 1,
		hosts: make(map[string]*hostState),
	}
}

func (l *HostLimiter) state(host string) *hostState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.hosts[host]
	if !ok {
		limit := rate.Inf
		if l.rps > 0 {
			limit = rate.Limit(l.rps)
		}
		st = &hostState{bucket: rate.NewLimiter(limit, l.burst)}
		l.hosts[host] = st
	}
	return st
}

// Wait blocks until a request to host may be sent.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	st := l.state(host)

	l.mu.Lock()
	blockedUntil := st.blockedUntil
	l.mu.Unlock()

	if wait := time.Until(blockedUntil); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return st.bucket.Wait(ctx)
}

// Observe records a response. Rate limited responses with Retry-After
// pause the host.
func (l *HostLimiter) Observe(host string, resp *http.Response) {
	if resp == nil {
		return
	}
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return
	}

	wait := parseRetryAfter(resp.Header.Get(HeaderRetryAfter), time.Now())
	if wait <= 0 {
		return
	}
	if wait > MaxRetryAfter {
		wait = MaxRetryAfter
	}

	st := l.state(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := time.Now().Add(wait); until.After(st.blockedUntil) {
		st.blockedUntil = until
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return t.Sub(now)
	}
	return 0
}
