// Package memstore is an in-process domain.DocumentStore used for local
// development and tests.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/umbrellashare/umbrellashare/internal/domain"
	"github.com/umbrellashare/umbrellashare/internal/observability/metrics"
)

type entry struct {
	body    json.RawMessage
	version string
}

// Store keeps documents in a map guarded by a mutex. Versions are random
// UUIDs so a stale token never matches a later write.
type Store struct {
	mu   sync.RWMutex
	docs map[string]entry
}

// New returns an empty store.
func New() *Store {
	return &Store{docs: map[string]entry{}}
}

// Get returns a copy of the document under key.
func (s *Store) Get(ctx context.Context, key string) (*domain.Document, error) {
	start := time.Now()
	doc, err := s.get(ctx, key)
	metrics.ObserveStore("memory", "get", resultLabel(err), time.Since(start))
	return doc, err
}

func (s *Store) get(ctx context.Context, key string) (*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.StoreError{Op: "get", Key: key, Kind: domain.ErrTransport, Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[key]
	if !ok {
		return nil, &domain.StoreError{Op: "get", Key: key, Kind: domain.ErrNotFound}
	}
	return &domain.Document{Key: key, Body: append(json.RawMessage(nil), e.body...), Version: e.version}, nil
}

// Put stores body under key when expectedVersion is empty or current.
func (s *Store) Put(ctx context.Context, key string, body any, expectedVersion string) (string, error) {
	start := time.Now()
	version, err := s.put(ctx, key, body, expectedVersion)
	metrics.ObserveStore("memory", "put", resultLabel(err), time.Since(start))
	return version, err
}

func (s *Store) put(ctx context.Context, key string, body any, expectedVersion string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &domain.StoreError{Op: "put", Key: key, Kind: domain.ErrTransport, Err: err}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if expectedVersion != "" {
		if cur, ok := s.docs[key]; !ok || cur.version != expectedVersion {
			return "", &domain.StoreError{Op: "put", Key: key, Kind: domain.ErrConflict,
				Err: fmt.Errorf("expected version %q", expectedVersion)}
		}
	}
	version := uuid.NewString()
	s.docs[key] = entry{body: data, version: version}
	return version, nil
}

// Keys lists stored keys. Order is unspecified.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.docs))
	for k := range s.docs {
		keys = append(keys, k)
	}
	return keys
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "error"
	}
}
