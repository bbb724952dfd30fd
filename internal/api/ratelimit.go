package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Query cost weights, in budget units. Submatch drives the window
// self-join — the one query that can fan out to maxSubmatchAnchors rows —
// and ingestion rewrites the index, so both charge far more than a point
// lookup.
const (
	CostRead     = 1
	CostSubmatch = 10
	CostIngest   = 25
)

// QueryLimiter enforces a per-client cost budget over fixed windows.
// Every client IP gets `budget` units per `window`; each route charges its
// weight against that budget. When the budget is spent the client receives
// 429 with a Retry-After pointing at the next window boundary.
type QueryLimiter struct {
	budget int
	window time.Duration

	mu      sync.Mutex
	clients map[string]*clientBudget
}

type clientBudget struct {
	windowStart time.Time
	spent       int
}

// NewQueryLimiter creates a limiter granting `budget` cost units per client
// per `window`.
func NewQueryLimiter(budget int, window time.Duration) *QueryLimiter {
	return &QueryLimiter{
		budget:  budget,
		window:  window,
		clients: make(map[string]*clientBudget),
	}
}

// charge spends `cost` units for one client. Returns whether the request
// may proceed and, if not, how long until the budget resets.
func (l *QueryLimiter) charge(ip string, cost int, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cb, ok := l.clients[ip]
	if !ok || now.Sub(cb.windowStart) >= l.window {
		// New client or expired window — also a cheap moment to drop every
		// other stale entry instead of running a background sweeper.
		l.evictStaleLocked(now)
		cb = &clientBudget{windowStart: now}
		l.clients[ip] = cb
	}

	if cb.spent+cost > l.budget {
		return false, cb.windowStart.Add(l.window).Sub(now)
	}
	cb.spent += cost
	return true, 0
}

// evictStaleLocked removes clients whose window lies wholly in the past.
// Caller holds l.mu.
func (l *QueryLimiter) evictStaleLocked(now time.Time) {
	for ip, cb := range l.clients {
		if now.Sub(cb.windowStart) >= l.window {
			delete(l.clients, ip)
		}
	}
}

// Charge returns a Gin handler that charges `cost` units per request.
func (l *QueryLimiter) Charge(cost int) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := l.charge(c.ClientIP(), cost, time.Now())
		if !allowed {
			c.Header("Retry-After", retryAfter.Round(time.Second).String())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "Query budget exhausted",
				"retryAfter": retryAfter.Round(time.Second).String(),
				"budget":     fmt.Sprintf("%d units per %s per client", l.budget, l.window),
				"cost":       cost,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
