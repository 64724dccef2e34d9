package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/zhouzirui/instachat/backend/internal/service/session"
	"github.com/zhouzirui/instachat/backend/pkg/utils"
)

const (
	// SessionHeader carries the session id on REST calls.
	SessionHeader = "X-Session-ID"
	// SessionQuery carries it where headers cannot be set (EventSource, WebSocket).
	SessionQuery = "session"
)

type sessionKey struct{}

// SessionLookup resolves a session id.
type SessionLookup interface {
	Get(ctx context.Context, id string) (session.Session, error)
}

// RequireSession rejects requests without a live session and stores it in the context.
func RequireSession(sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := SessionID(r)
			if id == "" {
				utils.RespondError(w, http.StatusUnauthorized, "session is required")
				return
			}

			sess, err := sessions.Get(r.Context(), id)
			if err != nil {
				if errors.Is(err, session.ErrSessionNotFound) {
					utils.RespondError(w, http.StatusUnauthorized, "session expired")
					return
				}
				utils.RespondError(w, http.StatusInternalServerError, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionID reads the raw session id from the header or the query string.
func SessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(SessionHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get(SessionQuery))
}

// SessionFromContext returns the session stored by RequireSession.
func SessionFromContext(ctx context.Context) (session.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(session.Session)
	return sess, ok
}
