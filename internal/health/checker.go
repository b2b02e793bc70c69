// Package health answers the service's own liveness and readiness probes.
// Liveness is unconditional; readiness runs registered dependency probes
// (database ping, search index) with a bounded timeout.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Probe checks one dependency. It must respect ctx's deadline.
type Probe func(ctx context.Context) error

// Checker aggregates named dependency probes.
type Checker struct {
	mu      sync.RWMutex
	probes  map[string]Probe
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Checker. timeout bounds each readiness sweep; zero means 5s.
func New(timeout time.Duration, logger *zap.Logger) *Checker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		probes:  make(map[string]Probe),
		timeout: timeout,
		logger:  logger,
	}
}

// AddProbe registers a named dependency probe.
func (c *Checker) AddProbe(name string, p Probe) {
	c.mu.Lock()
	c.probes[name] = p
	c.mu.Unlock()
}

// Check runs every probe and returns per-dependency results.
func (c *Checker) Check(ctx context.Context) (ok bool, results map[string]string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.RLock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.RUnlock()

	ok = true
	results = make(map[string]string, len(probes))
	for name, probe := range probes {
		if err := probe(ctx); err != nil {
			ok = false
			results[name] = err.Error()
			c.logger.Warn("readiness probe failed", zap.String("probe", name), zap.Error(err))
			continue
		}
		results[name] = "ok"
	}
	return ok, results
}

// Register mounts /health, /health/ready, and /health/live.
func (c *Checker) Register(r *gin.Engine) {
	r.GET("/health", c.handleReady)
	r.GET("/health/ready", c.handleReady)
	r.GET("/health/live", func(gc *gin.Context) {
		gc.JSON(http.StatusOK, gin.H{"status": "alive"})
	})
}

func (c *Checker) handleReady(gc *gin.Context) {
	ok, results := c.Check(gc.Request.Context())
	status := http.StatusOK
	state := "ready"
	if !ok {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	gc.JSON(status, gin.H{"status": state, "checks": results})
}
