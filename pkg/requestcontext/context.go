// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them, services read them, and tests
// inject them without running the full HTTP chain.
package requestcontext

import (
	"context"
	"time"

	id "attesto/pkg/domain"
)

type (
	sessionIDKey   struct{}
	userIDKey      struct{}
	clientIPKey    struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

var (
	ContextKeySessionID   = sessionIDKey{}
	ContextKeyUserID      = userIDKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// SessionID retrieves the onboarding session ID from the context.
// Returns the zero value (nil UUID) if not set.
func SessionID(ctx context.Context) id.SessionID {
	if sessionID, ok := ctx.Value(ContextKeySessionID).(id.SessionID); ok {
		return sessionID
	}
	return id.SessionID{}
}

// WithSessionID injects a session ID into the context.
func WithSessionID(ctx context.Context, sessionID id.SessionID) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// UserID retrieves the authenticated user ID from the context.
func UserID(ctx context.Context) id.UserID {
	if userID, ok := ctx.Value(ContextKeyUserID).(id.UserID); ok {
		return userID
	}
	return id.UserID{}
}

// WithUserID injects a user ID into the context.
func WithUserID(ctx context.Context, userID id.UserID) context.Context {
	return context.WithValue(ctx, ContextKeyUserID, userID)
}

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// WithClientIP injects the client IP into the context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ContextKeyClientIP, ip)
}

// RequestID retrieves the request correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context. Falls back to
// time.Now() for non-HTTP contexts like workers and tests.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for service unit
// tests and for workers that need consistent time within one batch.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
