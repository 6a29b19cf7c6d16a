package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	commonmw "codeexec/internal/common/http/middleware"
	"codeexec/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type traceResponse struct {
	TraceID      string `json:"trace_id"`
	RequestID    string `json:"request_id"`
	CtxTraceID   string `json:"ctx_trace_id"`
	CtxRequestID string `json:"ctx_request_id"`
}

func TestTraceContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name              string
		cfg               *commonmw.TraceContextConfig
		headers           map[string]string
		expectedTraceID   string
		expectedRequestID string
	}{
		{
			name: "generate trace and request id",
		},
		{
			name: "preserve trace and request id",
			headers: map[string]string{
				"X-Trace-Id":   "trace-123",
				"X-Request-Id": "req-123",
			},
			expectedTraceID:   "trace-123",
			expectedRequestID: "req-123",
		},
		{
			name: "ignore incoming ids when untrusted",
			cfg:  &commonmw.TraceContextConfig{TrustIncoming: false},
			headers: map[string]string{
				"X-Trace-Id": "trace-123",
			},
		},
		{
			name: "replace oversized ids",
			cfg:  &commonmw.TraceContextConfig{TrustIncoming: true, MaxIDLength: 8},
			headers: map[string]string{
				"X-Trace-Id": strings.Repeat("x", 9),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			if tc.cfg != nil {
				router.Use(commonmw.TraceContextMiddlewareWithConfig(*tc.cfg))
			} else {
				router.Use(commonmw.TraceContextMiddleware())
			}
			router.GET("/trace", func(c *gin.Context) {
				traceID, _ := c.Get("trace_id")
				requestID, _ := c.Get("request_id")
				ctx := c.Request.Context()
				c.JSON(http.StatusOK, traceResponse{
					TraceID:      toString(traceID),
					RequestID:    toString(requestID),
					CtxTraceID:   toString(ctx.Value(contextkey.TraceID)),
					CtxRequestID: toString(ctx.Value(contextkey.RequestID)),
				})
			})

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			router.ServeHTTP(rec, req)

			var resp traceResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response failed: %v", err)
			}

			if resp.TraceID == "" || resp.RequestID == "" {
				t.Fatalf("expected trace and request id, got %+v", resp)
			}
			if resp.CtxTraceID != resp.TraceID || resp.CtxRequestID != resp.RequestID {
				t.Fatalf("context ids differ from gin ids: %+v", resp)
			}
			if rec.Header().Get("X-Trace-Id") != resp.TraceID {
				t.Fatalf("expected trace id header %s, got %s", resp.TraceID, rec.Header().Get("X-Trace-Id"))
			}
			if rec.Header().Get("X-Request-Id") != resp.RequestID {
				t.Fatalf("expected request id header")
			}
			if tc.expectedTraceID != "" && resp.TraceID != tc.expectedTraceID {
				t.Fatalf("expected trace id %s, got %s", tc.expectedTraceID, resp.TraceID)
			}
			if tc.expectedRequestID != "" && resp.RequestID != tc.expectedRequestID {
				t.Fatalf("expected request id %s, got %s", tc.expectedRequestID, resp.RequestID)
			}
			if tc.expectedTraceID == "" {
				if incoming, ok := tc.headers["X-Trace-Id"]; ok && resp.TraceID == incoming {
					t.Fatalf("incoming trace id should have been replaced")
				}
			}
		})
	}
}

func toString(value interface{}) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}
