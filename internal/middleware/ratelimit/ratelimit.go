// Package ratelimit throttles write requests per client address.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"saldo/internal/metrics"
)

const windowLength = time.Minute

// Limiter counts requests per client in fixed one-minute windows.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time

	limit      int
	sweepEvery time.Duration
	idleAfter  time.Duration
}

type window struct {
	start time.Time
	last  time.Time
	count int
}

type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
	// StaleAfter drops clients idle for longer than this.
	StaleAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CleanupInterval:   5 * time.Minute,
		StaleAfter:        10 * time.Minute,
	}
}

// NewLimiter starts the eviction goroutine; call Stop to release it.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}

	l := &Limiter{
		windows:    map[string]*window{},
		stop:       make(chan struct{}),
		now:        time.Now,
		limit:      cfg.RequestsPerMinute,
		sweepEvery: cfg.CleanupInterval,
		idleAfter:  cfg.StaleAfter,
	}
	go l.evictLoop()
	return l
}

// Allow counts a request from key and reports whether it fits in the
// current window.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= windowLength {
		l.windows[key] = &window{start: now, last: now, count: 1}
		return true
	}
	w.count++
	w.last = now
	return w.count <= l.limit
}

// retryAfter is the number of whole seconds until key's window resets.
func (l *Limiter) retryAfter(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		return 0
	}
	left := windowLength - l.now().Sub(w.start)
	return max(1, int(left.Seconds()+0.5))
}

func (l *Limiter) evictLoop() {
	t := time.NewTicker(l.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			l.evictIdle()
		}
	}
}

// evictIdle forgets clients with no request in the last idleAfter.
func (l *Limiter) evictIdle() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleAfter)
	n := 0
	for key, w := range l.windows {
		if w.last.Before(cutoff) {
			delete(l.windows, key)
			n++
		}
	}
	return n
}

// ActiveClients is the number of clients currently tracked.
func (l *Limiter) ActiveClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Middleware limits the requests accepted by applies. Requests for which
// applies returns false pass through uncounted. A nil applies limits all.
func (l *Limiter) Middleware(keyOf func(*http.Request) string, applies func(*http.Request) bool, onLimit http.HandlerFunc) func(http.Handler) http.Handler {
	if onLimit == nil {
		onLimit = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if applies == nil || applies(r) {
				key := keyOf(r)
				if !l.Allow(key) {
					metrics.RateLimited.Inc()
					w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter(key)))
					onLimit(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
