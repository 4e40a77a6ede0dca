// Package chaos wraps a domain.DocumentStore with random failures so the
// retry and compensation paths can be exercised against a live backend.
package chaos

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/umbrellashare/umbrellashare/internal/domain"
	"github.com/umbrellashare/umbrellashare/internal/observability/metrics"
)

// Fault names the kind of failure injected into a call.
type Fault string

const (
	// FaultNone lets the call through untouched.
	FaultNone Fault = ""
	// FaultDrop fails the call before it reaches the backend.
	FaultDrop Fault = "drop"
	// FaultLostResponse performs a write and then reports a transport
	// failure, as if the response never arrived.
	FaultLostResponse Fault = "lost_response"
)

var errInjected = errors.New("injected fault")

// Store is a DocumentStore that fails a share of calls on purpose.
// Disabled by default; it must be enabled explicitly.
type Store struct {
	next        domain.DocumentStore
	logger      *slog.Logger
	probability float64

	mu      sync.Mutex
	rng     *rand.Rand
	enabled bool
}

// New wraps next. probability is clamped to [0, 1].
func New(next domain.DocumentStore, logger *slog.Logger, probability float64, seed uint64) *Store {
	if probability < 0 {
		probability = 0
	}
	if probability > 1 {
		probability = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		next:        next,
		logger:      logger.With(slog.String("component", "chaos")),
		probability: probability,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// SetEnabled toggles fault injection on or off.
func (s *Store) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()

	status := "disabled"
	if enabled {
		status = "enabled"
	}
	s.logger.Warn("chaos store "+status, slog.Float64("probability", s.probability))
}

// Get reads through, failing before the backend on a drop fault.
func (s *Store) Get(ctx context.Context, key string) (*domain.Document, error) {
	if s.pick("get") != FaultNone {
		return nil, s.fail("get", key, FaultDrop)
	}
	return s.next.Get(ctx, key)
}

// Put writes through. Faults either skip the write or hide its result.
func (s *Store) Put(ctx context.Context, key string, body any, expectedVersion string) (string, error) {
	switch f := s.pick("put"); f {
	case FaultDrop:
		return "", s.fail("put", key, f)
	case FaultLostResponse:
		if _, err := s.next.Put(ctx, key, body, expectedVersion); err != nil {
			return "", err
		}
		return "", s.fail("put", key, f)
	}
	return s.next.Put(ctx, key, body, expectedVersion)
}

// pick decides the fault for one call. Reads can only be dropped; writes
// split evenly between drop and lost response.
func (s *Store) pick(op string) Fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.rng.Float64() >= s.probability {
		return FaultNone
	}
	if op == "put" && s.rng.IntN(2) == 1 {
		return FaultLostResponse
	}
	return FaultDrop
}

func (s *Store) fail(op, key string, f Fault) error {
	metrics.ObserveInjectedFault(op, string(f))
	s.logger.Info("injected store fault",
		slog.String("op", op),
		slog.String("key", key),
		slog.String("fault", string(f)),
	)
	return &domain.StoreError{Op: op, Key: key, Kind: domain.ErrTransport, Err: errInjected}
}
