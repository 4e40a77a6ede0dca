package worker

import (
	"context"
	"log/slog"
	"time"
)

// Purger drops expired entries and reports how many went away.
type Purger interface {
	PurgeExpired() int
	Len() int
}

// SessionSweeper periodically evicts expired login sessions so abandoned
// clients do not pin memory until the next lookup of their id.
type SessionSweeper struct {
	sessions Purger
	logger   *slog.Logger
	interval time.Duration
}

// NewSessionSweeper creates a new sweeper
func NewSessionSweeper(sessions Purger, logger *slog.Logger, interval time.Duration) *SessionSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SessionSweeper{
		sessions: sessions,
		logger:   logger,
		interval: interval,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (w *SessionSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("session sweeper started", slog.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep runs one pass and returns the number of sessions removed.
func (w *SessionSweeper) Sweep() int {
	removed := w.sessions.PurgeExpired()
	remaining := w.sessions.Len()
	if removed > 0 {
		w.logger.Info("expired sessions purged",
			slog.Int("removed", removed),
			slog.Int("remaining", remaining),
		)
	}
	return removed
}
