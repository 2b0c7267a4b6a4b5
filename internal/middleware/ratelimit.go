package middleware

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"varmatrix/internal/model"
)

// Limiter hands out one token bucket per credential.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLimiter allows perSecond requests per credential with the given burst.
// A non-positive rate disables limiting.
func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the credential may make another request now.
func (l *Limiter) Allow(id string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets[id]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[id] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

// RateLimit returns middleware that answers 429 once a credential exceeds
// its budget. It must run after Authenticate; requests without a credential
// (exempt paths) are not limited.
func RateLimit(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cred := CredentialFrom(r.Context()); cred != nil && !l.Allow(cred.ID) {
				w.Header().Set("Retry-After", "1")
				writeError(w, model.NewRateLimitError("matrix API"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
