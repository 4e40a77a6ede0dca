package handler

import (
	"log/slog"
	"net/http"

	"github.com/umbrellashare/umbrellashare/internal/domain"
	"github.com/umbrellashare/umbrellashare/internal/security/auth"
	"github.com/umbrellashare/umbrellashare/internal/security/middleware"
	"github.com/umbrellashare/umbrellashare/internal/service"
)

// SessionResponse is the read-only projection the UI renders from.
type SessionResponse struct {
	User   *domain.User   `json:"user"`
	Points []domain.Point `json:"points"`
}

// SessionHandler serves the logged-in session
type SessionHandler struct {
	sessions *SessionStore
	logger   *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *SessionStore, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{sessions: sessions, logger: logger}
}

// Get handles GET /api/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, _, err := lookupSession(h.sessions, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, SessionResponse{User: sess.User(), Points: sess.Points()})
}

// Logout handles POST /api/logout. It only forgets the server-held
// session; nothing is written to the store.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, claims, err := lookupSession(h.sessions, r)
	if err == nil {
		sess.Logout()
		h.sessions.Remove(claims.SessionID())
		h.logger.Info("user logged out", slog.String("phone", claims.Phone))
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookupSession resolves the session named by the request's token.
func lookupSession(store *SessionStore, r *http.Request) (*service.Session, *auth.Claims, error) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		return nil, nil, domain.ErrNoSession
	}
	sess, ok := store.Get(claims.SessionID())
	if !ok || sess.User() == nil {
		return nil, claims, domain.ErrNoSession
	}
	return sess, claims, nil
}
