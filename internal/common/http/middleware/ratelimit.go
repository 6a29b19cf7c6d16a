package middleware

import (
	"sync"
	"time"

	"codeexec/pkg/errors"
	"codeexec/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	defaultMaxClients = 10000
	defaultClientIdle = 10 * time.Minute
)

// RateLimitPolicy configures a per-client token bucket.
type RateLimitPolicy struct {
	RPS        float64
	Burst      int
	MaxClients int
	IdleTTL    time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter keeps one token bucket per client ip.
type ClientRateLimiter struct {
	policy  RateLimitPolicy
	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time
}

// NewClientRateLimiter creates a limiter. It returns nil when the policy disables limiting.
func NewClientRateLimiter(policy RateLimitPolicy) *ClientRateLimiter {
	if policy.RPS <= 0 {
		return nil
	}
	if policy.Burst <= 0 {
		policy.Burst = int(policy.RPS)
		if policy.Burst < 1 {
			policy.Burst = 1
		}
	}
	if policy.MaxClients <= 0 {
		policy.MaxClients = defaultMaxClients
	}
	if policy.IdleTTL <= 0 {
		policy.IdleTTL = defaultClientIdle
	}
	return &ClientRateLimiter{
		policy:  policy,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow reports whether the client may proceed now.
func (l *ClientRateLimiter) Allow(clientIP string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.clients[clientIP]
	if !ok {
		if len(l.clients) >= l.policy.MaxClients {
			l.evictLocked(now)
		}
		entry = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(l.policy.RPS), l.policy.Burst)}
		l.clients[clientIP] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// evictLocked drops idle clients, and the oldest one if none are idle.
func (l *ClientRateLimiter) evictLocked(now time.Time) {
	oldestKey := ""
	var oldest time.Time
	for key, entry := range l.clients {
		if now.Sub(entry.lastSeen) > l.policy.IdleTTL {
			delete(l.clients, key)
			continue
		}
		if oldestKey == "" || entry.lastSeen.Before(oldest) {
			oldestKey = key
			oldest = entry.lastSeen
		}
	}
	if len(l.clients) >= l.policy.MaxClients && oldestKey != "" {
		delete(l.clients, oldestKey)
	}
}

// RateLimitMiddleware enforces the per-client limit. A nil limiter lets everything through.
func RateLimitMiddleware(limiter *ClientRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		if !limiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			response.AbortWithErrorCode(c, errors.TooManyRequests, "")
			return
		}
		c.Next()
	}
}
