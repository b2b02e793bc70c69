package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/agentdex/agentdex/internal/auth"
	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalKey = "principal"

// Authenticate verifies a bearer token when one is present and stores the
// resulting principal in the context. A request without a token passes
// through anonymously; a request with an invalid token is rejected, never
// silently downgraded.
func Authenticate(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			respondErr(c, model.E(model.CodeUnauthenticated, "authorization header must be a bearer token"))
			return
		}
		p, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// RequirePrincipal rejects anonymous requests.
func RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if principalFromCtx(c) == nil {
			respondErr(c, model.E(model.CodeUnauthenticated, "authentication required"))
			return
		}
		c.Next()
	}
}

// RequireRole rejects callers without the role. Administrator implies all
// roles, so an admin passes every gate.
func RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principalFromCtx(c)
		if p == nil {
			respondErr(c, model.E(model.CodeUnauthenticated, "authentication required"))
			return
		}
		if !p.HasRole(role) {
			respondErr(c, model.E(model.CodeForbidden, "requires the "+string(role)+" role"))
			return
		}
		c.Next()
	}
}

// principalFromCtx returns the verified principal, or nil for anonymous
// requests.
func principalFromCtx(c *gin.Context) *auth.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*auth.Principal)
	return p
}

// anonymous is the principal used on open endpoints when no token was sent:
// no tenant, no roles, so only public agents are visible.
var anonymous = &auth.Principal{Subject: "anonymous"}

// callerOrAnonymous returns the verified principal or the anonymous one.
func callerOrAnonymous(c *gin.Context) *auth.Principal {
	if p := principalFromCtx(c); p != nil {
		return p
	}
	return anonymous
}

// RequestLogger logs each request with its status, latency, and request id.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", requestID(c)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// SecurityHeaders sets the standard response hardening headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// BodyLimit caps request bodies at maxBytes.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
