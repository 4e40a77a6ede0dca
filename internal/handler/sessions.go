package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/umbrellashare/umbrellashare/internal/observability/metrics"
	"github.com/umbrellashare/umbrellashare/internal/service"
	"github.com/umbrellashare/umbrellashare/pkg/cache"
)

const sessionPrefix = "session:"

// SessionStore holds the logged-in sessions of HTTP clients. Each entry
// plays the role of one client instance.
type SessionStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewSessionStore creates a store whose sessions expire after ttl.
func NewSessionStore(c *cache.Cache, ttl time.Duration) *SessionStore {
	return &SessionStore{cache: c, ttl: ttl}
}

// Add stores sess under a new id.
func (s *SessionStore) Add(sess *service.Session) string {
	id := uuid.NewString()
	s.cache.Set(sessionPrefix+id, sess, s.ttl)
	metrics.SetActiveSessions(s.cache.Len())
	return id
}

// Get returns the live session for id.
func (s *SessionStore) Get(id string) (*service.Session, bool) {
	v, ok := s.cache.Get(sessionPrefix + id)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*service.Session)
	return sess, ok
}

// Remove drops a session.
func (s *SessionStore) Remove(id string) {
	s.cache.Delete(sessionPrefix + id)
	metrics.SetActiveSessions(s.cache.Len())
}

// TTL is how long a session lives.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// PurgeExpired reclaims expired sessions and refreshes the gauge.
func (s *SessionStore) PurgeExpired() int {
	n := s.cache.PurgeExpired()
	metrics.SetActiveSessions(s.cache.Len())
	return n
}

// Len counts live sessions.
func (s *SessionStore) Len() int {
	return s.cache.Len()
}
