package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/umbrellashare/umbrellashare/internal/domain"
	"github.com/umbrellashare/umbrellashare/internal/observability/metrics"
	"github.com/umbrellashare/umbrellashare/internal/reliability/retry"
	"github.com/umbrellashare/umbrellashare/internal/repository"
)

// ReturnPolicy decides which points accept a returned umbrella.
type ReturnPolicy string

const (
	// ReturnAnywhere accepts a return at any known point.
	ReturnAnywhere ReturnPolicy = "any"
	// ReturnToOrigin only accepts a return at the point of the borrow.
	ReturnToOrigin ReturnPolicy = "origin"
)

// ParseReturnPolicy maps a config value to a policy, defaulting to ReturnAnywhere.
func ParseReturnPolicy(s string) (ReturnPolicy, error) {
	switch ReturnPolicy(s) {
	case "", ReturnAnywhere:
		return ReturnAnywhere, nil
	case ReturnToOrigin:
		return ReturnToOrigin, nil
	default:
		return "", fmt.Errorf("unknown return policy %q", s)
	}
}

// Options tunes the loan workflow.
type Options struct {
	// MaxAttempts bounds how often a store step is tried on conflict or
	// transport failure. Defaults to 3.
	MaxAttempts int
	// Backoff is the delay before the first retry. Defaults to 50ms.
	Backoff      time.Duration
	ReturnPolicy ReturnPolicy
	// Now supplies history timestamps. Defaults to time.Now.
	Now func() time.Time
}

// LoanService sequences the user and inventory writes behind login, borrow
// and return. It holds no per-user state; see Session.
type LoanService struct {
	users     domain.UserRepository
	inventory domain.InventoryRepository
	logger    *slog.Logger
	retry     *retry.Config
	policy    ReturnPolicy
	now       func() time.Time
}

// NewLoanService creates a new loan service
func NewLoanService(users domain.UserRepository, inventory domain.InventoryRepository, logger *slog.Logger, opts Options) *LoanService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	if opts.ReturnPolicy == "" {
		opts.ReturnPolicy = ReturnAnywhere
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LoanService{
		users:     users,
		inventory: inventory,
		logger:    logger,
		retry: &retry.Config{
			MaxAttempts:       opts.MaxAttempts,
			InitialBackoff:    opts.Backoff,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
			ShouldRetry:       domain.IsRetryable,
		},
		policy: opts.ReturnPolicy,
		now:    opts.Now,
	}
}

// ReturnPolicy reports the configured policy.
func (s *LoanService) ReturnPolicy() ReturnPolicy {
	return s.policy
}

// NewSession starts a logged-out session bound to this service.
func (s *LoanService) NewSession() *Session {
	return &Session{svc: s}
}

// PartialWriteError reports that the inventory was updated but the user
// record was not. Compensated tells whether the inventory change was undone.
type PartialWriteError struct {
	Action          domain.Action
	PointID         string
	Err             error
	Compensated     bool
	CompensationErr error
}

func (e *PartialWriteError) Error() string {
	state := "inventory rolled back"
	if !e.Compensated {
		state = "inventory NOT rolled back"
		if e.CompensationErr != nil {
			state += ": " + e.CompensationErr.Error()
		}
	}
	return fmt.Sprintf("%s at %s: user record not saved (%s): %v", actionLabel(e.Action), e.PointID, state, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// login fetches or creates the user record and makes sure the inventory exists.
func (s *LoanService) login(ctx context.Context, phone, studentID string) (*domain.User, *domain.Inventory, error) {
	if err := repository.ValidateIdentity(phone, studentID); err != nil {
		return nil, nil, err
	}
	reads := s.readRetry()

	user, err := retry.Do(ctx, reads, s.logger, "get user", func(ctx context.Context) (*domain.User, error) {
		return s.users.Get(ctx, phone, studentID)
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		user = domain.NewUser(phone, studentID)
		version, err := s.users.Put(ctx, user)
		if err != nil {
			s.logger.Error("failed to create user",
				slog.String("phone", phone),
				slog.String("error", err.Error()),
			)
			return nil, nil, fmt.Errorf("create user: %w", err)
		}
		s.logger.Info("user registered", slog.String("phone", phone), slog.String("student_id", studentID))
		// Another client may have registered the same user concurrently.
		user, err = s.adoptStoredUser(ctx, user, version)
		if err != nil {
			return nil, nil, err
		}
	default:
		s.logger.Error("failed to load user",
			slog.String("phone", phone),
			slog.String("error", err.Error()),
		)
		return nil, nil, fmt.Errorf("load user: %w", err)
	}

	inv, err := s.ensureInventory(ctx)
	if err != nil {
		return nil, nil, err
	}
	return user, inv, nil
}

// ensureInventory loads the inventory, seeding the default points when the
// document does not exist yet.
func (s *LoanService) ensureInventory(ctx context.Context) (*domain.Inventory, error) {
	inv, err := retry.Do(ctx, s.readRetry(), s.logger, "get inventory", s.inventory.Get)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Error("failed to load inventory", slog.String("error", err.Error()))
		return nil, fmt.Errorf("load inventory: %w", err)
	}

	points := domain.DefaultPoints()
	version, err := s.inventory.Put(ctx, points, "")
	if err != nil {
		s.logger.Error("failed to seed inventory", slog.String("error", err.Error()))
		return nil, fmt.Errorf("seed inventory: %w", err)
	}
	s.logger.Info("inventory seeded", slog.Int("points", len(points)))

	// The seed is an unconditional write, so a concurrent first login may
	// have written too. Whatever the store holds now wins.
	stored, err := retry.Do(ctx, s.readRetry(), s.logger, "get inventory", s.inventory.Get)
	if err != nil {
		return nil, fmt.Errorf("load seeded inventory: %w", err)
	}
	if stored.Version != version {
		s.logger.Warn("inventory changed after seeding, adopting stored copy",
			slog.String("seeded", version),
			slog.String("stored", stored.Version),
		)
	}
	return stored, nil
}

// adoptStoredUser re-reads a just-created record and returns what the store
// holds, which differs from created when another client wrote in between.
func (s *LoanService) adoptStoredUser(ctx context.Context, created *domain.User, version string) (*domain.User, error) {
	stored, err := retry.Do(ctx, s.readRetry(), s.logger, "get user", func(ctx context.Context) (*domain.User, error) {
		return s.users.Get(ctx, created.Phone, created.StudentID)
	})
	if err != nil {
		return nil, fmt.Errorf("load created user: %w", err)
	}
	if stored.Version != version {
		s.logger.Warn("user record changed after creation, adopting stored copy",
			slog.String("phone", created.Phone),
			slog.String("stored", stored.Version),
		)
	}
	return stored, nil
}

// points reads the current inventory without seeding it.
func (s *LoanService) points(ctx context.Context) (*domain.Inventory, error) {
	inv, err := retry.Do(ctx, s.readRetry(), s.logger, "get inventory", s.inventory.Get)
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	return inv, nil
}

// loan is the two-phase borrow/return step. The inventory is changed first
// with a version-checked write, then the user record. When the user write
// fails the inventory change is reverted.
func (s *LoanService) loan(ctx context.Context, current *domain.User, action domain.Action, pointID string) (*domain.User, *domain.Inventory, error) {
	user, err := retry.Do(ctx, s.readRetry(), s.logger, "get user", func(ctx context.Context) (*domain.User, error) {
		return s.users.Get(ctx, current.Phone, current.StudentID)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if err := s.precheck(user, action, pointID); err != nil {
		return user, nil, err
	}

	delta := -1
	if action == domain.ActionReturn {
		delta = 1
	}
	point, inv, err := s.adjustInventory(ctx, action, pointID, delta)
	if err != nil {
		return user, nil, err
	}

	updated := user.Clone()
	entry := domain.HistoryEntry{
		Action:    action,
		PointID:   point.ID,
		PointName: point.Name,
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}
	if action == domain.ActionBorrow {
		id := point.ID
		updated.BorrowStatus = domain.StatusBorrowed
		updated.CurrentUmbrella = &id
	} else {
		updated.BorrowStatus = domain.StatusNotBorrowed
		updated.CurrentUmbrella = nil
	}
	updated.BorrowHistory = append(updated.BorrowHistory, entry)

	version, err := s.saveUser(ctx, updated, entry)
	if err != nil {
		return user, nil, s.compensate(ctx, action, pointID, -delta, err)
	}
	updated.Version = version
	return updated, inv, nil
}

func (s *LoanService) precheck(user *domain.User, action domain.Action, pointID string) error {
	switch action {
	case domain.ActionBorrow:
		if user.IsBorrowing() {
			return domain.ErrAlreadyBorrowed
		}
	case domain.ActionReturn:
		if !user.IsBorrowing() {
			return domain.ErrNotBorrowed
		}
		if s.policy == ReturnToOrigin && user.CurrentUmbrella != nil && *user.CurrentUmbrella != pointID {
			return fmt.Errorf("borrowed at %s, returning at %s: %w", *user.CurrentUmbrella, pointID, domain.ErrWrongReturnPoint)
		}
	}
	return nil
}

// adjustInventory re-reads the inventory and applies delta to one point,
// retrying on conflict so concurrent writers never lose an update. A transport
// failure on the write is only retried once reconcileInventory shows the
// write did not land.
func (s *LoanService) adjustInventory(ctx context.Context, action domain.Action, pointID string, delta int) (domain.Point, *domain.Inventory, error) {
	type result struct {
		point domain.Point
		inv   *domain.Inventory
	}
	attempt := 0
	res, err := retry.Do(ctx, s.retry, s.logger, "update inventory", func(ctx context.Context) (result, error) {
		attempt++
		if attempt > 1 {
			metrics.ObserveConflictRetry(actionLabel(action))
		}
		inv, err := s.inventory.Get(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			return result{}, fmt.Errorf("no inventory, %q: %w", pointID, domain.ErrPointNotFound)
		}
		if err != nil {
			return result{}, err
		}

		next := inv.Clone()
		i := next.Find(pointID)
		if i < 0 {
			return result{}, fmt.Errorf("%q: %w", pointID, domain.ErrPointNotFound)
		}
		if next.Points[i].Count+delta < 0 {
			return result{}, fmt.Errorf("%q: %w", pointID, domain.ErrNoUmbrellas)
		}
		next.Points[i].Count += delta

		version, err := s.inventory.Put(ctx, next.Points, inv.Version)
		if errors.Is(err, domain.ErrTransport) {
			version, err = s.reconcileInventory(ctx, action, inv.Version, next.Points, err)
		}
		if err != nil {
			return result{}, err
		}
		next.Version = version
		return result{point: next.Points[i], inv: next}, nil
	})
	if err != nil {
		return domain.Point{}, nil, err
	}
	return res.point, res.inv, nil
}

// reconcileInventory decides what a failed inventory write did. The write
// may have landed with only its response lost, so the store is re-read
// before anything is retried. An unchanged version means the write did not
// land and the attempt can be repeated. A new version holding exactly our
// points means it did. Anything else is unknown and is not retried, since a
// second delta could apply on top of the first.
func (s *LoanService) reconcileInventory(ctx context.Context, action domain.Action, base string, want []domain.Point, cause error) (string, error) {
	stored, err := s.inventory.Get(ctx)
	switch {
	case err != nil:
	case stored.Version == base:
		return "", cause
	case slices.Equal(stored.Points, want):
		s.logger.Warn("inventory write reported failure but landed",
			slog.String("action", actionLabel(action)),
			slog.String("version", stored.Version),
			slog.String("error", cause.Error()),
		)
		return stored.Version, nil
	}
	s.logger.Error("inventory write outcome unknown",
		slog.String("action", actionLabel(action)),
		slog.String("error", cause.Error()),
	)
	return "", fmt.Errorf("%w: inventory write outcome unknown: %w", retry.ErrPermanent, cause)
}

// saveUser writes the updated record. A failure after which the store
// already holds our entry (a write that landed but whose response was lost)
// counts as success.
func (s *LoanService) saveUser(ctx context.Context, updated *domain.User, entry domain.HistoryEntry) (string, error) {
	writes := *s.retry
	writes.ShouldRetry = func(err error) bool { return errors.Is(err, domain.ErrTransport) }

	version, err := retry.Do(ctx, &writes, s.logger, "save user", func(ctx context.Context) (string, error) {
		return s.users.Put(ctx, updated)
	})
	if err == nil {
		return version, nil
	}

	stored, gerr := s.users.Get(ctx, updated.Phone, updated.StudentID)
	if gerr == nil && len(stored.BorrowHistory) == len(updated.BorrowHistory) &&
		stored.BorrowHistory[len(stored.BorrowHistory)-1] == entry {
		s.logger.Warn("user write reported failure but landed",
			slog.String("phone", updated.Phone),
			slog.String("error", err.Error()),
		)
		return stored.Version, nil
	}
	return "", err
}

func (s *LoanService) compensate(ctx context.Context, action domain.Action, pointID string, delta int, cause error) error {
	label := actionLabel(action)
	pwe := &PartialWriteError{Action: action, PointID: pointID, Err: cause}

	// The caller's context may be what failed; the rollback must still run.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if _, _, err := s.adjustInventory(rctx, action, pointID, delta); err != nil {
		pwe.CompensationErr = err
		metrics.ObserveCompensation(label, "failed")
		s.logger.Error("inventory rollback failed, inventory and user record disagree",
			slog.String("action", label),
			slog.String("point_id", pointID),
			slog.Int("delta", delta),
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()),
		)
		return pwe
	}

	pwe.Compensated = true
	metrics.ObserveCompensation(label, "ok")
	s.logger.Warn("user write failed, inventory rolled back",
		slog.String("action", label),
		slog.String("point_id", pointID),
		slog.String("error", cause.Error()),
	)
	return pwe
}

// readRetry retries reads on transport failures only; NotFound and auth
// failures go straight back to the caller.
func (s *LoanService) readRetry() *retry.Config {
	cfg := *s.retry
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, domain.ErrTransport) }
	return &cfg
}

func actionLabel(a domain.Action) string {
	if a == domain.ActionReturn {
		return "return"
	}
	return "borrow"
}
