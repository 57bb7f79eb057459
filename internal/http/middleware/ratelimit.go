package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RPS   float64
	Burst int
	// IdleTTL evicts per-client limiters that have not been used for this long.
	IdleTTL time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type visitorTable struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	lastScan time.Time
	visitors map[string]*visitor
}

func (t *visitorTable) limiter(key string, now time.Time) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastScan) > t.idleTTL {
		for existing, item := range t.visitors {
			if now.Sub(item.lastSeen) > t.idleTTL {
				delete(t.visitors, existing)
			}
		}
		t.lastScan = now
	}

	v, ok := t.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// RateLimit applies a token bucket per client IP. Stale buckets are pruned
// lazily on the request path.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RPS <= 0 {
		cfg.RPS = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 40
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}

	table := &visitorTable{
		rps:      rate.Limit(cfg.RPS),
		burst:    cfg.Burst,
		idleTTL:  cfg.IdleTTL,
		lastScan: time.Now(),
		visitors: make(map[string]*visitor),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			reservation := table.limiter(extractIP(r.RemoteAddr), now).ReserveN(now, 1)
			if !reservation.OK() || reservation.DelayFrom(now) > 0 {
				retryAfter := 1
				if reservation.OK() {
					retryAfter = int(reservation.DelayFrom(now)/time.Second) + 1
					reservation.CancelAt(now)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"code":"rate_limited","message":"too many requests"},"request_id":"` + GetRequestID(r.Context()) + `"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
