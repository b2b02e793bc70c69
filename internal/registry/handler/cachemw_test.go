package handler

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentdex/agentdex/internal/auth"
	"github.com/agentdex/agentdex/internal/cache"
	"github.com/gin-gonic/gin"
)

type cacheFixture struct {
	store  *cache.Cache
	router *gin.Engine
	calls  atomic.Int64
}

// newCacheFixture mounts a counting handler behind cached(). The optional
// X-Test-Subject header plays the authenticated principal.
func newCacheFixture(t *testing.T, ttl time.Duration) *cacheFixture {
	t.Helper()
	f := &cacheFixture{store: cache.New(time.Minute)}
	t.Cleanup(f.store.Close)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if sub := c.GetHeader("X-Test-Subject"); sub != "" {
			c.Set(principalKey, &auth.Principal{Subject: sub, TenantID: "t1"})
		}
		c.Next()
	})
	r.GET("/data", cached(f.store, "list", ttl, listParams, func(c *gin.Context) {
		f.calls.Add(1)
		if c.Query("fail") != "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"n": f.calls.Load()})
	}))
	f.router = r
	return f
}

func (f *cacheFixture) get(path, subject string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if subject != "" {
		req.Header.Set("X-Test-Subject", subject)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCachedServesSecondReadFromCache(t *testing.T) {
	f := newCacheFixture(t, time.Minute)

	first := f.get("/data?top=5", "")
	if first.Code != http.StatusOK || first.Header().Get("X-Cache") == "hit" {
		t.Fatalf("first read = %d cache=%q", first.Code, first.Header().Get("X-Cache"))
	}
	second := f.get("/data?top=5", "")
	if second.Header().Get("X-Cache") != "hit" {
		t.Fatal("second identical read should hit the cache")
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("cached body %q differs from original %q", second.Body.String(), first.Body.String())
	}
	if f.calls.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", f.calls.Load())
	}

	// Different parameters are a different key.
	f.get("/data?top=7", "")
	if f.calls.Load() != 2 {
		t.Errorf("handler ran %d times after a new param set, want 2", f.calls.Load())
	}
}

func TestCachedScopesByPrincipal(t *testing.T) {
	f := newCacheFixture(t, time.Minute)

	f.get("/data?top=5", "alice")
	w := f.get("/data?top=5", "bob")
	if w.Header().Get("X-Cache") == "hit" {
		t.Fatal("one caller's cached view served to another")
	}
	if f.calls.Load() != 2 {
		t.Errorf("handler ran %d times, want one per principal", f.calls.Load())
	}
	// Anonymous is yet another scope.
	f.get("/data?top=5", "")
	if f.calls.Load() != 3 {
		t.Errorf("handler ran %d times, want a separate anonymous entry", f.calls.Load())
	}
}

func TestCachedSkipsNon200Responses(t *testing.T) {
	f := newCacheFixture(t, time.Minute)

	if w := f.get("/data?fail=1", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("failing read = %d", w.Code)
	}
	if w := f.get("/data?fail=1", ""); w.Header().Get("X-Cache") == "hit" {
		t.Error("non-200 response must not be cached")
	}
	if f.calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", f.calls.Load())
	}
}

func TestCachedZeroTTLPassesThrough(t *testing.T) {
	f := newCacheFixture(t, 0)

	f.get("/data?top=5", "")
	f.get("/data?top=5", "")
	if f.calls.Load() != 2 {
		t.Errorf("handler ran %d times, want every read fresh with ttl=0", f.calls.Load())
	}
}

func TestWriteInvalidationDropsCachedReads(t *testing.T) {
	f := newCacheFixture(t, time.Minute)

	f.get("/data?top=5", "alice")
	if w := f.get("/data?top=5", "alice"); w.Header().Get("X-Cache") != "hit" {
		t.Fatal("expected a cache hit before invalidation")
	}

	// A write in the tenant drops its entries; the next read is fresh.
	f.store.InvalidateTenant("t1")
	if w := f.get("/data?top=5", "alice"); w.Header().Get("X-Cache") == "hit" {
		t.Error("read after invalidation should miss")
	}

	// Unscoped (anonymous) entries fall with the tenant too: public listings
	// may include the tenant's agents.
	f.get("/data?top=9", "")
	f.store.InvalidateTenant("t1")
	if w := f.get("/data?top=9", ""); w.Header().Get("X-Cache") == "hit" {
		t.Error("anonymous entry should be dropped by tenant invalidation")
	}
}
