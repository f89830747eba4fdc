package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/laventecare/corebac/internal/model"
)

// IPRateLimiter holds the rate limiters for each visitor. Used ahead of
// client authentication (introspect, userinfo) where no tiered
// credential identity exists yet.
type IPRateLimiter struct {
	ips    sync.Map
	config LimiterConfig
}

type LimiterConfig struct {
	RPS   rate.Limit
	Burst int
}

// NewIPRateLimiter creates a custom rate limiter.
func NewIPRateLimiter(rps rate.Limit, burst int) *IPRateLimiter {
	i := &IPRateLimiter{
		config: LimiterConfig{
			RPS:   rps,
			Burst: burst,
		},
	}

	go i.cleanupLoop()

	return i
}

// GetLimiter returns the rate limiter for the provided IP address.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	limiter, exists := i.ips.Load(ip)
	if !exists {
		newLimiter := rate.NewLimiter(i.config.RPS, i.config.Burst)
		i.ips.Store(ip, newLimiter)
		return newLimiter
	}
	return limiter.(*rate.Limiter)
}

func (i *IPRateLimiter) cleanupLoop() {
	for {
		time.Sleep(10 * time.Minute)
		i.ips.Range(func(key, value interface{}) bool {
			i.ips.Delete(key)
			return true
		})
	}
}

// Middleware enforces the rate limit per IP.
func (i *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		limiter := i.GetLimiter(ip)
		if !limiter.Allow() {
			slog.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// TieredLimiter enforces the per-credential-tier budgets of the
// check/batch_check surface: strict/moderate/lenient requests-per-
// minute, keyed by the authenticated credential's identity rather than
// by IP, so one tenant's noisy client can't starve another's.
type TieredLimiter struct {
	limiters sync.Map // key: tier+":"+identity -> *rate.Limiter
	perMin   map[model.RateLimitTier]rate.Limit
}

// NewTieredLimiter builds a TieredLimiter from the three per-minute
// budgets spec.md §6 names (strict=100, moderate=500, lenient=2000 by
// default, overridable via config.Config).
func NewTieredLimiter(strictPerMin, moderatePerMin, lenientPerMin int) *TieredLimiter {
	t := &TieredLimiter{
		perMin: map[model.RateLimitTier]rate.Limit{
			model.RateLimitStrict:   rate.Limit(float64(strictPerMin) / 60),
			model.RateLimitModerate: rate.Limit(float64(moderatePerMin) / 60),
			model.RateLimitLenient:  rate.Limit(float64(lenientPerMin) / 60),
		},
	}
	go t.cleanupLoop()
	return t
}

// Allow reports whether a request from identity under tier should
// proceed, consulting (and lazily creating) that identity's limiter.
func (t *TieredLimiter) Allow(tier model.RateLimitTier, identity string) bool {
	rps, known := t.perMin[tier]
	if !known {
		rps = t.perMin[model.RateLimitModerate]
	}
	key := string(tier) + ":" + identity
	limiter, exists := t.limiters.Load(key)
	if !exists {
		newLimiter := rate.NewLimiter(rps, int(rps)+1)
		actual, _ := t.limiters.LoadOrStore(key, newLimiter)
		limiter = actual
	}
	return limiter.(*rate.Limiter).Allow()
}

func (t *TieredLimiter) cleanupLoop() {
	for {
		time.Sleep(10 * time.Minute)
		t.limiters.Range(func(key, value interface{}) bool {
			t.limiters.Delete(key)
			return true
		})
	}
}
