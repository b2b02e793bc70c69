// Package handler is the HTTP boundary: gin handlers, auth and rate-limit
// middleware, and the single place where taxonomy error codes become HTTP
// statuses.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDKey is where the per-request id lives in the gin context.
const requestIDKey = "request_id"

// RequestID assigns every request an id, echoed in X-Request-Id and in
// error bodies.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// statusOf maps a taxonomy code to its HTTP status. Upstream failures
// surface as 503: from the caller's perspective the registry could not
// complete the request right now.
func statusOf(code model.ErrorCode) int {
	switch code {
	case model.CodeInvalidCard:
		return http.StatusUnprocessableEntity
	case model.CodeUnauthenticated:
		return http.StatusUnauthorized
	case model.CodeForbidden:
		return http.StatusForbidden
	case model.CodeNotFound:
		return http.StatusNotFound
	case model.CodeRateLimited:
		return http.StatusTooManyRequests
	case model.CodeOverloaded, model.CodeUpstream:
		return http.StatusServiceUnavailable
	case model.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case model.CodeInvalidCursor, model.CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondErr writes the uniform error body and aborts the request. Detail
// comes from the coded error only; uncoded errors get a generic message so
// internals never leak. An expired request deadline anywhere in the chain
// surfaces as 504, not as an opaque 500.
func respondErr(c *gin.Context, err error) {
	var e *model.Error
	if !errors.As(err, &e) {
		if errors.Is(err, context.DeadlineExceeded) {
			e = model.E(model.CodeDeadlineExceeded, "request deadline exceeded")
		} else {
			e = model.E("internal", "internal error")
		}
	}

	if e.Code == model.CodeRateLimited {
		retry := e.RetryAfter
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
	}
	c.AbortWithStatusJSON(statusOf(e.Code), errBody(c, e))
}

func errBody(c *gin.Context, e *model.Error) gin.H {
	body := gin.H{
		"error":     e.Detail,
		"code":      string(e.Code),
		"detail":    e.Detail,
		"requestId": requestID(c),
	}
	if len(e.Fields) > 0 {
		body["fieldErrors"] = e.Fields
	}
	return body
}
