package middleware

import (
	"context"
	"strings"

	"codeexec/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"
)

// TraceContextConfig controls how trace and request ids are extracted and written.
type TraceContextConfig struct {
	// TrustIncoming keeps caller-supplied ids instead of always generating new ones.
	TrustIncoming bool
	MaxIDLength   int
}

// TraceContextMiddleware ensures trace/request id are in context and response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return TraceContextMiddlewareWithConfig(TraceContextConfig{
		TrustIncoming: true,
		MaxIDLength:   128,
	})
}

// TraceContextMiddlewareWithConfig is the configurable version of TraceContextMiddleware.
func TraceContextMiddlewareWithConfig(cfg TraceContextConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := incomingID(c, traceIDHeader, cfg)
		c.Set(traceIDContextKey, traceID)
		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		c.Writer.Header().Set(traceIDHeader, traceID)

		requestID := incomingID(c, requestIDHeader, cfg)
		c.Set(requestIDContextKey, requestID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func incomingID(c *gin.Context, header string, cfg TraceContextConfig) string {
	if cfg.TrustIncoming {
		id := strings.TrimSpace(c.GetHeader(header))
		if id != "" && (cfg.MaxIDLength <= 0 || len(id) <= cfg.MaxIDLength) {
			return id
		}
	}
	return uuid.NewString()
}
