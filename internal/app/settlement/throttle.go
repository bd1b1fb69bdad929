package settlement

import (
	"sync"

	"golang.org/x/time/rate"
)

// userThrottle hands out one token-bucket limiter per user so a single noisy
// account cannot starve the rest.
type userThrottle struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newUserThrottle(perSecond float64, burst int) *userThrottle {
	if burst < 1 {
		burst = 1
	}
	return &userThrottle{
		limiters: make(map[int64]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// allow reports whether the user may settle another event right now.
func (t *userThrottle) allow(userID int64) bool {
	t.mu.Lock()
	limiter, ok := t.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(t.rate, t.burst)
		t.limiters[userID] = limiter
	}
	t.mu.Unlock()
	return limiter.Allow()
}
