package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	apperrors "sigsummary/internal/errors"
	"sigsummary/internal/tracing"

	"golang.org/x/time/rate"
)

// RateLimiter allows limit requests per window for each client address
type RateLimiter struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	clients  map[string]*clientLimiter
	lastScan time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter. A limit <= 0 denies every request.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit < 0 {
		limit = 0
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether ip may make another request now
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.limit == 0 {
		return false
	}

	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastScan) > rl.window {
		for key, c := range rl.clients {
			if now.Sub(c.lastSeen) > rl.window {
				delete(rl.clients, key)
			}
		}
		rl.lastScan = now
	}

	c, ok := rl.clients[ip]
	if !ok {
		every := rl.window / time.Duration(rl.limit)
		c = &clientLimiter{limiter: rate.NewLimiter(rate.Every(every), rl.limit)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimit rejects clients over their budget with 429
func RateLimit(rl *RateLimiter, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(ClientIP(r, trustProxy)) {
				err := apperrors.New(apperrors.ErrCodeConflict, "rate limit exceeded").
					WithUserMessage("Too many requests, slow down")
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(apperrors.ToHTTPResponse(err, tracing.GetRequestID(r.Context())))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
