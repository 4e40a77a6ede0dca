package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/umbrellashare/umbrellashare/internal/domain"
	"github.com/umbrellashare/umbrellashare/internal/observability/metrics"
)

// Session is one client's view: at most one logged-in user plus the last
// inventory it saw. Workflow steps on a session run one at a time. The
// cached user only changes to state that was durably saved or re-read.
type Session struct {
	svc *LoanService

	mu     sync.Mutex
	user   *domain.User
	points []domain.Point
}

// Login loads or registers the user and loads the inventory.
func (s *Session) Login(ctx context.Context, phone, studentID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, inv, err := s.svc.login(ctx, phone, studentID)
	if err != nil {
		return nil, err
	}
	s.user = user
	s.points = inv.Points
	s.svc.logger.Info("user logged in",
		slog.String("phone", phone),
		slog.String("status", string(user.BorrowStatus)),
	)
	return user.Clone(), nil
}

// Logout forgets the user. Nothing is written.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	s.points = nil
}

// Borrow takes an umbrella from pointID.
func (s *Session) Borrow(ctx context.Context, pointID string) (*domain.User, error) {
	return s.loan(ctx, domain.ActionBorrow, pointID)
}

// Return gives the held umbrella back at pointID.
func (s *Session) Return(ctx context.Context, pointID string) (*domain.User, error) {
	return s.loan(ctx, domain.ActionReturn, pointID)
}

func (s *Session) loan(ctx context.Context, action domain.Action, pointID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	label := actionLabel(action)
	if s.user == nil {
		metrics.ObserveLoan(label, "rejected")
		return nil, domain.ErrNoSession
	}
	// The cached record may be stale; svc.loan rechecks against the store.
	updated, inv, err := s.svc.loan(ctx, s.user, action, pointID)
	if err != nil {
		if updated != nil {
			// Fresh read from the store; safe to adopt.
			s.user = updated
		}
		s.logFailure(label, pointID, err)
		return nil, err
	}

	s.user = updated
	s.points = inv.Points
	metrics.ObserveLoan(label, "ok")
	s.svc.logger.Info(label+" completed",
		slog.String("phone", updated.Phone),
		slog.String("point_id", pointID),
		slog.String("version", updated.Version),
	)
	return updated.Clone(), nil
}

func (s *Session) logFailure(label, pointID string, err error) {
	attrs := []any{
		slog.String("phone", s.user.Phone),
		slog.String("point_id", pointID),
		slog.String("error", err.Error()),
	}
	var pwe *PartialWriteError
	switch {
	case errors.As(err, &pwe):
		metrics.ObserveLoan(label, "partial")
		s.svc.logger.Error(label+" failed after inventory write", attrs...)
	case IsRejection(err):
		metrics.ObserveLoan(label, "rejected")
		s.svc.logger.Warn(label+" rejected", attrs...)
	default:
		metrics.ObserveLoan(label, "error")
		s.svc.logger.Error(label+" failed", attrs...)
	}
}

// User returns a copy of the logged-in user, or nil.
func (s *Session) User() *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user.Clone()
}

// Points returns a copy of the last inventory seen.
func (s *Session) Points() []domain.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.points)
}

// RefreshPoints re-reads the inventory. It does not require a login and
// does not seed a missing inventory.
func (s *Session) RefreshPoints(ctx context.Context) ([]domain.Point, error) {
	inv, err := s.svc.points(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.points = inv.Points
	s.mu.Unlock()
	return slices.Clone(inv.Points), nil
}

// IsRejection reports business-rule failures as opposed to store faults.
func IsRejection(err error) bool {
	for _, target := range []error{
		domain.ErrNoSession,
		domain.ErrAlreadyBorrowed,
		domain.ErrNotBorrowed,
		domain.ErrPointNotFound,
		domain.ErrNoUmbrellas,
		domain.ErrWrongReturnPoint,
		domain.ErrInvalidIdentity,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
