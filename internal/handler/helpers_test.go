package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/umbrellashare/umbrellashare/internal/domain"
	"github.com/umbrellashare/umbrellashare/internal/repository"
	"github.com/umbrellashare/umbrellashare/internal/security/auth"
	"github.com/umbrellashare/umbrellashare/internal/security/ratelimit"
	"github.com/umbrellashare/umbrellashare/internal/service"
	"github.com/umbrellashare/umbrellashare/pkg/cache"
)

// testServer runs the full router against an in-process store.
type testServer struct {
	*httptest.Server
	Sessions *SessionStore
	Store    domain.DocumentStore
}

type serverOption func(*RouterDeps)

func withStaticDir(dir string) serverOption {
	return func(d *RouterDeps) { d.StaticDir = dir }
}

func withChecks(checks map[string]Pinger) serverOption {
	return func(d *RouterDeps) { d.Checks = checks }
}

func withRateLimit(n int) serverOption {
	return func(d *RouterDeps) { d.Limiter = ratelimit.NewLimiter(n, time.Minute) }
}

func withPolicy(store domain.DocumentStore, p service.ReturnPolicy) serverOption {
	return func(d *RouterDeps) {
		d.Loans = service.NewLoanService(
			repository.NewUserRepository(store, nil),
			repository.NewInventoryRepository(store, nil),
			d.Logger,
			service.Options{Backoff: time.Millisecond, ReturnPolicy: p},
		)
	}
}

func newTestServer(t *testing.T, store domain.DocumentStore, opts ...serverOption) *testServer {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	sessions := NewSessionStore(cache.New(), time.Hour)
	deps := RouterDeps{
		Loans: service.NewLoanService(
			repository.NewUserRepository(store, log),
			repository.NewInventoryRepository(store, log),
			log,
			service.Options{Backoff: time.Millisecond, MaxAttempts: 5},
		),
		Sessions:    sessions,
		Tokens:      auth.NewTokenManager("test-secret", ""),
		CORSOrigins: []string{"http://localhost:5173"},
		Logger:      log,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	if deps.Limiter != nil {
		t.Cleanup(deps.Limiter.Stop)
	}
	srv := httptest.NewServer(NewRouter(deps))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, Sessions: sessions, Store: store}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) login(t *testing.T, phone, studentID string) LoginResponse {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/login", "", map[string]string{"phone": phone, "studentId": studentID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out LoginResponse
	decodeBody(t, resp, &out)
	return out
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var e ErrorResponse
	decodeBody(t, resp, &e)
	return e.Code
}
