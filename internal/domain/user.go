package domain

import (
	"context"
	"slices"
)

// BorrowStatus is the loan state of a user record. The values are the
// strings stored in existing user documents.
type BorrowStatus string

const (
	StatusNotBorrowed BorrowStatus = "未借伞"
	StatusBorrowed    BorrowStatus = "已借伞"
)

// Action labels a history entry.
type Action string

const (
	ActionBorrow Action = "借伞"
	ActionReturn Action = "还伞"
)

// HistoryEntry is an immutable record of one borrow or return.
type HistoryEntry struct {
	Action    Action `json:"action"`
	PointID   string `json:"pointId"`
	PointName string `json:"pointName"`
	Timestamp string `json:"timestamp"`
}

// User is the persisted record of one borrower, keyed by (Phone, StudentID).
// BorrowStatus is StatusBorrowed exactly when CurrentUmbrella is non-nil.
type User struct {
	Phone           string         `json:"phone"`
	StudentID       string         `json:"studentId"`
	BorrowStatus    BorrowStatus   `json:"borrowStatus"`
	CurrentUmbrella *string        `json:"currentUmbrella"`
	BorrowHistory   []HistoryEntry `json:"borrowHistory"`

	// Version is the store version token observed when the record was read.
	Version string `json:"-"`
}

// NewUser returns a fresh record in the NotBorrowed state.
func NewUser(phone, studentID string) *User {
	return &User{
		Phone:         phone,
		StudentID:     studentID,
		BorrowStatus:  StatusNotBorrowed,
		BorrowHistory: []HistoryEntry{},
	}
}

// IsBorrowing reports whether the user currently holds an umbrella.
func (u *User) IsBorrowing() bool {
	return u.BorrowStatus == StatusBorrowed
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.CurrentUmbrella != nil {
		p := *u.CurrentUmbrella
		c.CurrentUmbrella = &p
	}
	c.BorrowHistory = slices.Clone(u.BorrowHistory)
	if c.BorrowHistory == nil {
		c.BorrowHistory = []HistoryEntry{}
	}
	return &c
}

// UserRepository defines data access for user records
type UserRepository interface {
	Get(ctx context.Context, phone, studentID string) (*User, error)
	Put(ctx context.Context, user *User) (string, error)
}
