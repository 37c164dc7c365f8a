package api

import (
	"context"
	"net/http"
	"strings"

	"roboclass/internal/model"
	"roboclass/internal/store"
)

type callerKey struct{}

// caller is the authenticated session behind a request.
type caller struct {
	token   string
	session *model.Session
}

func callerFrom(ctx context.Context) caller {
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

// requireRole admits requests carrying a bearer token for an active session
// whose role satisfies role.
func (s *Server) requireRole(role model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				s.sendError(w, "Token is missing", http.StatusUnauthorized)
				return
			}

			claims, err := s.tokens.Parse(token)
			if err != nil {
				s.sendError(w, "Token is invalid", http.StatusUnauthorized)
				return
			}

			session, err := s.loadSession(r.Context(), claims.SessionID)
			if err != nil {
				s.logger.Error("Unable to load session", "error", err)
				s.sendError(w, "Unable to load session", http.StatusInternalServerError)
				return
			}
			if session == nil || !session.IsActive(s.clock.Now()) {
				s.sendError(w, "Session is invalid", http.StatusUnauthorized)
				return
			}
			if !session.Role.Includes(role) {
				s.sendError(w, "Insufficient permissions", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), callerKey{}, caller{token: token, session: session})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) loadSession(ctx context.Context, id string) (*model.Session, error) {
	_, session := s.engines.Initialise()
	defer session.Close()
	return store.Load[model.Session](ctx, session, id)
}
