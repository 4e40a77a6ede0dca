package audit

import (
	"context"
	"log/slog"
	"time"
)

type requestIDKey struct{}

// WithRequestID stores the request id that audit lines are tagged with.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by WithRequestID.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger.With(slog.String("component", "audit"))}
}

func (al *Logger) LogAction(ctx context.Context, phone, studentID, action, resource, resourceID, status, details string) {
	al.logger.Info("audit",
		slog.String("action", action),
		slog.String("resource", resource),
		slog.String("resource_id", resourceID),
		slog.String("phone", phone),
		slog.String("student_id", studentID),
		slog.String("status", status),
		slog.String("details", details),
		slog.String("request_id", RequestID(ctx)),
		slog.Time("timestamp", time.Now()),
	)
}

// LogLoan records a borrow or return against a point.
func (al *Logger) LogLoan(ctx context.Context, phone, studentID, action, pointID, status, details string) {
	al.LogAction(ctx, phone, studentID, action, "point", pointID, status, details)
}

func (al *Logger) LogLogin(ctx context.Context, phone, studentID, status, details string) {
	al.LogAction(ctx, phone, studentID, "login", "user", phone+"_"+studentID, status, details)
}

func (al *Logger) LogDenied(ctx context.Context, phone, studentID, reason string) {
	al.LogAction(ctx, phone, studentID, "access_denied", "api", "", "denied", reason)
}
