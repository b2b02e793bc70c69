package handler

import (
	"math"
	"sync"
	"time"

	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/gin-gonic/gin"
)

// LimitClass is one rate-limit budget: a name for metrics/keys and a
// per-minute request allowance.
type LimitClass struct {
	Name      string
	PerMinute int
}

// Default budgets. Overridable from config before the router is built.
var (
	ClassPublicRead = LimitClass{Name: "public_read", PerMinute: 100}
	ClassAuthRead   = LimitClass{Name: "auth_read", PerMinute: 1000}
	ClassWrite      = LimitClass{Name: "write", PerMinute: 60}
	ClassSyncAdmin  = LimitClass{Name: "sync_admin", PerMinute: 10}
)

const limiterWindow = time.Minute

// counter is one caller's two-window state: the finished previous window's
// count and the current window's count.
type counter struct {
	windowStart time.Time
	prev, cur   int
	lastSeen    time.Time
}

// Limiter enforces sliding two-window rate limits per (caller, class). The
// effective count is the current window plus the previous window weighted
// by how much of it still overlaps the sliding minute, so a burst at a
// window edge cannot double the budget.
type Limiter struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewLimiter creates a Limiter and starts its stale-entry janitor.
func NewLimiter() *Limiter {
	l := &Limiter{
		counters: make(map[string]*counter),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Close stops the janitor.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// Allow consumes one request from key's budget in class. When the budget is
// exhausted it returns false and a retry hint in seconds; for a fixed
// over-budget caller the hint never increases as the window slides.
func (l *Limiter) Allow(key string, class LimitClass) (bool, int) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	id := class.Name + ":" + key
	ctr, ok := l.counters[id]
	if !ok {
		ctr = &counter{windowStart: now}
		l.counters[id] = ctr
	}
	ctr.lastSeen = now

	elapsed := now.Sub(ctr.windowStart)
	switch {
	case elapsed >= 2*limiterWindow:
		ctr.windowStart = now
		ctr.prev, ctr.cur = 0, 0
		elapsed = 0
	case elapsed >= limiterWindow:
		ctr.windowStart = ctr.windowStart.Add(limiterWindow)
		ctr.prev, ctr.cur = ctr.cur, 0
		elapsed -= limiterWindow
	}

	overlap := 1 - float64(elapsed)/float64(limiterWindow)
	weighted := float64(ctr.cur) + float64(ctr.prev)*overlap
	if weighted >= float64(class.PerMinute) {
		// The previous window's contribution decays linearly; the budget
		// frees up once enough of it has slid out.
		retry := 1
		if ctr.prev > 0 {
			excess := weighted - float64(class.PerMinute) + 1
			retry = int(math.Ceil(excess / float64(ctr.prev) * limiterWindow.Seconds()))
		}
		if retry < 1 {
			retry = 1
		}
		return false, retry
	}

	ctr.cur++
	return true, 0
}

// Middleware enforces class for each request, keyed by the authenticated
// subject or, for anonymous callers, the client IP.
func (l *Limiter) Middleware(class LimitClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if p := principalFromCtx(c); p != nil {
			key = "sub:" + p.TenantID + "/" + p.Subject
		}
		ok, retry := l.Allow(key, class)
		if !ok {
			rateLimitedTotal.WithLabelValues(class.Name).Inc()
			respondErr(c, &model.Error{
				Code:       model.CodeRateLimited,
				Detail:     "rate limit exceeded for " + class.Name,
				RetryAfter: retry,
			})
			return
		}
		c.Next()
	}
}

func (l *Limiter) janitor() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := l.now().Add(-10 * time.Minute)
			l.mu.Lock()
			for id, ctr := range l.counters {
				if ctr.lastSeen.Before(cutoff) {
					delete(l.counters, id)
				}
			}
			l.mu.Unlock()
		}
	}
}
