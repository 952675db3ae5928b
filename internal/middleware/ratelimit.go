package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	apiRPS      = 10
	apiBurst    = 50
	limiterTTL  = 10 * time.Minute
	cleanupTick = time.Minute
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// limiterPool keeps one token bucket per key. Idle buckets are dropped after limiterTTL.
type limiterPool struct {
	mu           sync.Mutex
	m            map[string]*limiterEntry
	rps          rate.Limit
	burst        int
	startCleanup sync.Once
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{m: make(map[string]*limiterEntry), rps: rate.Limit(rps), burst: burst}
}

func (p *limiterPool) allow(key string) bool {
	p.startCleanup.Do(func() { go p.cleanupLoop() })
	p.mu.Lock()
	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(p.rps, p.burst)}
		p.m[key] = e
	}
	e.lastSeen = time.Now()
	p.mu.Unlock()
	return e.l.Allow()
}

func (p *limiterPool) cleanupLoop() {
	ticker := time.NewTicker(cleanupTick)
	defer ticker.Stop()
	for range ticker.C {
		p.sweep(time.Now().Add(-limiterTTL))
	}
}

func (p *limiterPool) sweep(cutoff time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
}

// RateLimit limits requests per client IP and answers 429 when exceeded.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	pool := newLimiterPool(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !pool.allow(ClientIP(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitAPI is RateLimit with the defaults used for /support/*.
func RateLimitAPI(next http.Handler) http.Handler {
	return RateLimit(apiRPS, apiBurst)(next)
}
