package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/umbrellashare/umbrellashare/internal/domain"
	"github.com/umbrellashare/umbrellashare/internal/security/audit"
	"github.com/umbrellashare/umbrellashare/internal/security/auth"
	"github.com/umbrellashare/umbrellashare/internal/service"
)

// LoginRequest identifies a borrower. There is no password; the pair is
// the identity.
type LoginRequest struct {
	Phone     string `json:"phone" validate:"required,max=32,excludesall=_/"`
	StudentID string `json:"studentId" validate:"required,max=64,excludesall=/"`
}

// LoginResponse carries the session token and the state to render.
type LoginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	User      *domain.User   `json:"user"`
	Points    []domain.Point `json:"points"`
}

// LoginHandler handles user login and registration
type LoginHandler struct {
	loans        *service.LoanService
	sessions     *SessionStore
	tokenManager *auth.TokenManager
	audit        *audit.Logger
	validator    *Validator
	logger       *slog.Logger
}

// NewLoginHandler creates a new login handler
func NewLoginHandler(loans *service.LoanService, sessions *SessionStore, tm *auth.TokenManager, al *audit.Logger, logger *slog.Logger) *LoginHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginHandler{
		loans:        loans,
		sessions:     sessions,
		tokenManager: tm,
		audit:        al,
		validator:    NewValidator(),
		logger:       logger,
	}
}

// ServeHTTP handles POST /api/login requests
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.validator.decode(r, &req); err != nil {
		h.logger.Warn("invalid login request", slog.String("error", err.Error()))
		writeError(w, h.logger, err)
		return
	}

	sess := h.loans.NewSession()
	user, err := sess.Login(r.Context(), req.Phone, req.StudentID)
	if err != nil {
		h.audit.LogLogin(r.Context(), req.Phone, req.StudentID, "failed", err.Error())
		writeError(w, h.logger, err)
		return
	}

	id := h.sessions.Add(sess)
	token, expiresAt, err := h.tokenManager.GenerateToken(id, user.Phone, user.StudentID, h.sessions.TTL())
	if err != nil {
		h.sessions.Remove(id)
		h.logger.Error("failed to generate token",
			slog.String("phone", user.Phone),
			slog.String("error", err.Error()),
		)
		writeError(w, h.logger, err)
		return
	}

	h.audit.LogLogin(r.Context(), user.Phone, user.StudentID, "ok", "")
	writeJSON(w, h.logger, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
		Points:    sess.Points(),
	})
}
