package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/umbrellashare/umbrellashare/internal/domain"
)

const userKeyPrefix = "users/"

// UserKey maps an identity to its document key, users/<phone>_<studentId>.json.
func UserKey(phone, studentID string) (string, error) {
	if err := ValidateIdentity(phone, studentID); err != nil {
		return "", err
	}
	return userKeyPrefix + phone + "_" + studentID + ".json", nil
}

// ParseUserKey is the inverse of UserKey.
func ParseUserKey(key string) (phone, studentID string, err error) {
	name, ok := strings.CutPrefix(key, userKeyPrefix)
	if ok {
		name, ok = strings.CutSuffix(name, ".json")
	}
	if ok {
		phone, studentID, ok = strings.Cut(name, "_")
	}
	if !ok {
		return "", "", fmt.Errorf("%q is not a user key: %w", key, domain.ErrInvalidIdentity)
	}
	if err := ValidateIdentity(phone, studentID); err != nil {
		return "", "", err
	}
	return phone, studentID, nil
}

// ValidateIdentity rejects values that would make the user key ambiguous.
// The phone may not contain "_" since that separates it from the student id.
func ValidateIdentity(phone, studentID string) error {
	if !validSegment(phone) || strings.Contains(phone, "_") || !validSegment(studentID) {
		return fmt.Errorf("phone %q student id %q: %w", phone, studentID, domain.ErrInvalidIdentity)
	}
	return nil
}

func validSegment(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsFunc(s, func(r rune) bool {
		return r == '/' || r == '\\' || unicode.IsSpace(r) || unicode.IsControl(r)
	})
}

// UserRepository implements domain.UserRepository on a document store
type UserRepository struct {
	store  domain.DocumentStore
	logger *slog.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(store domain.DocumentStore, logger *slog.Logger) *UserRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserRepository{store: store, logger: logger}
}

// Get loads a user record. Absence is reported as domain.ErrNotFound.
func (r *UserRepository) Get(ctx context.Context, phone, studentID string) (*domain.User, error) {
	key, err := UserKey(phone, studentID)
	if err != nil {
		return nil, err
	}
	doc, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	user := &domain.User{}
	if err := doc.Decode(user); err != nil {
		return nil, &domain.StoreError{Op: "get", Key: key, Kind: domain.ErrTransport, Err: fmt.Errorf("decode user: %w", err)}
	}
	if user.BorrowHistory == nil {
		user.BorrowHistory = []domain.HistoryEntry{}
	}
	user.Version = doc.Version
	return user, nil
}

// Put writes the record, version-checked against user.Version when set.
func (r *UserRepository) Put(ctx context.Context, user *domain.User) (string, error) {
	key, err := UserKey(user.Phone, user.StudentID)
	if err != nil {
		return "", err
	}
	if user.IsBorrowing() != (user.CurrentUmbrella != nil) {
		return "", fmt.Errorf("user %s: borrow status %q disagrees with current umbrella", key, user.BorrowStatus)
	}

	ctx = domain.WithCommitMessage(ctx, fmt.Sprintf("Update user data for %s_%s", user.Phone, user.StudentID))
	version, err := r.store.Put(ctx, key, user, user.Version)
	if err != nil {
		return "", err
	}
	r.logger.Debug("user saved", slog.String("key", key), slog.String("version", version))
	return version, nil
}
