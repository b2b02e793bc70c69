package handler

import (
	"bytes"
	"net/http"
	"time"

	"github.com/agentdex/agentdex/internal/cache"
	"github.com/gin-gonic/gin"
)

// CacheTTLs are the per-endpoint-class response cache lifetimes. A zero TTL
// disables caching for that class.
type CacheTTLs struct {
	List      time.Duration
	Card      time.Duration
	WellKnown time.Duration
	Search    time.Duration
}

// DefaultCacheTTLs match the documented defaults: search is served fresh
// unless explicitly enabled.
func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		List:      30 * time.Second,
		Card:      120 * time.Second,
		WellKnown: 60 * time.Second,
		Search:    0,
	}
}

// cachedBody is a stored 200 response.
type bodyCapture struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

// cached wraps a GET handler with the response cache. keyParams serializes
// the request inputs that affect the response; tenant and principal scope
// the key so one caller's view is never served to another.
func cached(store *cache.Cache, endpoint string, ttl time.Duration, keyParams func(c *gin.Context) string, next gin.HandlerFunc) gin.HandlerFunc {
	if store == nil || ttl <= 0 {
		return next
	}
	return func(c *gin.Context) {
		tenant, principal := "", ""
		if p := principalFromCtx(c); p != nil {
			tenant, principal = p.TenantID, p.Subject
		}
		key := cache.Key(endpoint, tenant, principal, keyParams(c))

		if body, ok := store.Get(key); ok {
			c.Header("X-Cache", "hit")
			c.Data(http.StatusOK, "application/json; charset=utf-8", body)
			return
		}

		w := &bodyCapture{ResponseWriter: c.Writer}
		c.Writer = w
		next(c)
		c.Writer = w.ResponseWriter

		if w.Status() == http.StatusOK {
			store.Set(key, w.buf.Bytes(), ttl)
		}
	}
}
