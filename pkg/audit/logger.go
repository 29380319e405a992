package audit

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/platinummonkey/bastion/pkg/contextkeys"
)

// Logger is an audit sink
type Logger interface {
	// Log appends an entry, filling in its ID when the sink assigns one
	Log(ctx context.Context, entry *Entry) error

	// Close flushes and releases the sink
	Close() error
}

// Searcher queries stored entries
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Entry, error)
}

type noOpLogger struct{}

// NewNoOpLogger returns a Logger that discards every entry
func NewNoOpLogger() Logger {
	return noOpLogger{}
}

func (noOpLogger) Log(context.Context, *Entry) error { return nil }
func (noOpLogger) Close() error { return nil }

// RequestContextFromHTTP extracts the audit request details from r
func RequestContextFromHTTP(r *http.Request) RequestContext {
	if r == nil {
		return RequestContext{}
	}
	return RequestContext{
		RequestID: contextkeys.GetRequestID(r.Context()),
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		Path:      r.URL.Path,
	}
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// X-Forwarded-For may hold a chain; the first hop is the client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
