package httptransport

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	id "attesto/pkg/domain"
	"attesto/pkg/requestcontext"
)

// SessionHeader carries the onboarding session id. The transport layer only
// parses it; session resolution and step checks happen in handlers and
// services against the session store.
const SessionHeader = "X-Session-ID"

// UserHeader carries the authenticated user id asserted by the upstream auth
// gateway. The edge strips this header from client traffic, so a value seen
// here is trusted.
const UserHeader = "X-User-ID"

// RequestContext stamps every request with a correlation id, the request
// time, the client IP and the parsed session and user ids. Downstream code
// reads them via the requestcontext package and never touches the
// http.Request.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = requestcontext.WithRequestID(ctx, requestID)
		ctx = requestcontext.WithTime(ctx, time.Now())
		ctx = requestcontext.WithClientIP(ctx, clientIP(r))

		if raw := r.Header.Get(SessionHeader); raw != "" {
			if sessionID, err := id.ParseSessionID(raw); err == nil {
				ctx = requestcontext.WithSessionID(ctx, sessionID)
			}
		}
		if raw := r.Header.Get(UserHeader); raw != "" {
			if userID, err := id.ParseUserID(raw); err == nil {
				ctx = requestcontext.WithUserID(ctx, userID)
			}
		}

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP prefers the first X-Forwarded-For hop set by the edge proxy and
// falls back to the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
