package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TraceIDHeader is the HTTP header name for trace ID
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the context key for trace ID
	TraceIDKey = "trace_id"
	// ClientIPKey is the context key for the resolved caller address
	ClientIPKey = "client_ip"

	unknownClientIP = "unknown"
)

// EnrichContext adds trace ID, caller IP and request metadata to each request.
// When a tracing span is active its trace ID wins over the header.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := ""
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		if traceID == "" {
			traceID = strings.TrimSpace(c.GetHeader(TraceIDHeader))
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		c.Set(ClientIPKey, resolveClientIP(c))

		c.Next()
	}
}

// RemoteIPHeaders are the forwarding headers consulted, in order, when the
// socket peer is a trusted proxy.
var RemoteIPHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// ConfigureClientIP restricts forwarding headers to peers within trusted
// (addresses or CIDRs). An empty list or an invalid entry trusts no peer, so
// the socket address is always used.
func ConfigureClientIP(engine *gin.Engine, trusted []string) error {
	engine.TrustedPlatform = ""
	engine.ForwardedByClientIP = true
	engine.RemoteIPHeaders = append([]string(nil), RemoteIPHeaders...)
	if len(trusted) == 0 {
		return engine.SetTrustedProxies(nil)
	}
	if err := engine.SetTrustedProxies(trusted); err != nil {
		_ = engine.SetTrustedProxies(nil)
		return err
	}
	return nil
}

// resolveClientIP delegates to gin, which reads RemoteIPHeaders only when the
// socket peer is within the engine's trusted proxies and otherwise returns the
// socket address. Anything unparsable collapses into the shared "unknown" bucket.
func resolveClientIP(c *gin.Context) string {
	if ip := parseIP(c.ClientIP()); ip != "" {
		return ip
	}
	return unknownClientIP
}

func parseIP(raw string) string {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return ""
	}
	return ip.String()
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(c *gin.Context) string {
	if traceID, exists := c.Get(TraceIDKey); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}
	return ""
}

// GetClientIP returns the address resolved by EnrichContext.
func GetClientIP(c *gin.Context) string {
	if ip := c.GetString(ClientIPKey); ip != "" {
		return ip
	}
	return unknownClientIP
}
