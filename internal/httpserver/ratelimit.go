package httpserver

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"backoffice/internal/apperr"
)

const limiterIdleTTL = 5 * time.Minute

// ipLimiter is a token bucket per client address. Idle buckets are swept
// once a minute until ctx ends.
type ipLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	perSecond rate.Limit
	burst     int
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(ctx context.Context, perSecond float64, burst int) *ipLimiter {
	l := &ipLimiter{
		buckets:   make(map[string]*bucket),
		perSecond: rate.Limit(perSecond),
		burst:     burst,
	}
	go l.sweep(ctx)
	return l
}

func (l *ipLimiter) sweep(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.mu.Lock()
			for k, b := range l.buckets {
				if now.Sub(b.seen) > limiterIdleTTL {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.perSecond, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = time.Now()
	return b.lim.Allow()
}

// Middleware rejects clients that exceed their bucket with 429. RealIP runs
// earlier, so RemoteAddr already holds the client address.
func (l *ipLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			apperr.Write(w, apperr.E(apperr.TooManyRequests, "too many login attempts, try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
