package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/umbrellashare/umbrellashare/internal/domain"
	"github.com/umbrellashare/umbrellashare/internal/security/audit"
	"github.com/umbrellashare/umbrellashare/internal/service"
)

// LoanRequest names the point a borrow or return happens at.
type LoanRequest struct {
	PointID string `json:"pointId" validate:"required,max=64"`
}

// LoanResponse is the user after the change plus the inventory it produced.
type LoanResponse struct {
	User   *domain.User   `json:"user"`
	Points []domain.Point `json:"points"`
}

// PointsResponse lists the inventory.
type PointsResponse struct {
	Points []domain.Point `json:"points"`
}

// LoanHandler serves borrow, return and the point list
type LoanHandler struct {
	loans     *service.LoanService
	sessions  *SessionStore
	audit     *audit.Logger
	validator *Validator
	logger    *slog.Logger
}

// NewLoanHandler creates a new loan handler
func NewLoanHandler(loans *service.LoanService, sessions *SessionStore, al *audit.Logger, logger *slog.Logger) *LoanHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoanHandler{
		loans:     loans,
		sessions:  sessions,
		audit:     al,
		validator: NewValidator(),
		logger:    logger,
	}
}

// Borrow handles POST /api/borrow
func (h *LoanHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	h.serveLoan(w, r, "borrow", (*service.Session).Borrow)
}

// Return handles POST /api/return
func (h *LoanHandler) Return(w http.ResponseWriter, r *http.Request) {
	h.serveLoan(w, r, "return", (*service.Session).Return)
}

func (h *LoanHandler) serveLoan(w http.ResponseWriter, r *http.Request, action string,
	step func(*service.Session, context.Context, string) (*domain.User, error)) {
	sess, claims, err := lookupSession(h.sessions, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req LoanRequest
	if err := h.validator.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := step(sess, r.Context(), req.PointID)
	if err != nil {
		status := "failed"
		if service.IsRejection(err) {
			status = "rejected"
		}
		h.audit.LogLoan(r.Context(), claims.Phone, claims.StudentID, action, req.PointID, status, err.Error())
		writeError(w, h.logger, err)
		return
	}

	h.audit.LogLoan(r.Context(), claims.Phone, claims.StudentID, action, req.PointID, "ok", "")
	writeJSON(w, h.logger, http.StatusOK, LoanResponse{User: user, Points: sess.Points()})
}

// Points handles GET /api/points. It reads through to the store and does
// not need a login.
func (h *LoanHandler) Points(w http.ResponseWriter, r *http.Request) {
	points, err := h.loans.NewSession().RefreshPoints(r.Context())
	if err != nil {
		h.logger.Warn("failed to load points", slog.String("error", err.Error()))
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, PointsResponse{Points: points})
}
