// Package ratelimit throttles public form submissions per client address
// with token buckets.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/kblog/internal/metrics"
)

const (
	defaultMaxKeys = 10000
	idleAfter      = 10 * time.Minute
)

// Config holds rate limiter configuration. TrustedHops is the number of
// reverse proxies in front of the server that append to X-Forwarded-For;
// zero keys buckets on the socket address alone.
type Config struct {
	Enabled     bool    `mapstructure:"enabled"`
	RPS         float64 `mapstructure:"rps"`
	Burst       int     `mapstructure:"burst"`
	MaxKeys     int     `mapstructure:"max_keys"`
	TrustedHops int     `mapstructure:"trusted_hops"`
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	maxKeys int
	hops    int
	now     func() time.Time
}

// New creates a Limiter. A non-positive RPS disables limiting.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    r,
		burst:   burst,
		maxKeys: maxKeys,
		hops:    max(cfg.TrustedHops, 0),
		now:     time.Now,
	}
}

// Allow reports whether key may proceed now and consumes a token if so.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.pruneLocked(now)
		}
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// pruneLocked drops idle buckets. When none are idle it evicts the least
// recently seen one so the table stays under maxKeys.
func (l *Limiter) pruneLocked(now time.Time) {
	var (
		oldestKey  string
		oldestSeen time.Time
		found      bool
	)
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > idleAfter {
			delete(l.buckets, key)
			continue
		}
		if !found || b.lastSeen.Before(oldestSeen) {
			oldestKey, oldestSeen, found = key, b.lastSeen, true
		}
	}
	if len(l.buckets) >= l.maxKeys && found {
		delete(l.buckets, oldestKey)
	}
}

// Key returns the bucket key for r. Without trusted hops it is the socket
// address. With n trusted hops it is the n-th X-Forwarded-For entry from the
// right, the address the outermost trusted proxy saw; entries left of it are
// client supplied and ignored.
func (l *Limiter) Key(r *http.Request) string {
	remote := RemoteIP(r)
	if l == nil || l.hops == 0 {
		return remote
	}
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	if len(hops) == 0 {
		return remote
	}
	return hops[max(len(hops)-l.hops, 0)]
}

// RemoteIP is the host part of r.RemoteAddr.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Middleware rejects requests over the limit through reject, keyed by Key.
// A nil Limiter passes everything.
func (l *Limiter) Middleware(reject http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodOptions && !l.Allow(l.Key(r)) {
				metrics.ObserveRateLimited(r.URL.Path)
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
