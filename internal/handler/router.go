package handler

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/umbrellashare/umbrellashare/internal/observability/metrics"
	"github.com/umbrellashare/umbrellashare/internal/observability/tracing"
	"github.com/umbrellashare/umbrellashare/internal/security/audit"
	"github.com/umbrellashare/umbrellashare/internal/security/auth"
	"github.com/umbrellashare/umbrellashare/internal/security/middleware"
	"github.com/umbrellashare/umbrellashare/internal/security/ratelimit"
	"github.com/umbrellashare/umbrellashare/internal/service"
)

// RouterDeps are the collaborators the HTTP surface is built from.
type RouterDeps struct {
	Loans       *service.LoanService
	Sessions    *SessionStore
	Tokens      *auth.TokenManager
	Limiter     *ratelimit.Limiter
	Audit       *audit.Logger
	Checks      map[string]Pinger
	StaticDir   string
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter wires every route and the middleware chain:
// request ID -> CORS -> tracing -> metrics -> mux.
func NewRouter(d RouterDeps) http.Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	if d.Audit == nil {
		d.Audit = audit.NewLogger(log)
	}

	loginHandler := NewLoginHandler(d.Loans, d.Sessions, d.Tokens, d.Audit, log)
	sessionHandler := NewSessionHandler(d.Sessions, log)
	loanHandler := NewLoanHandler(d.Loans, d.Sessions, d.Audit, log)
	healthHandler := NewHealthHandler(d.Checks, log)

	authed := middleware.JWTMiddleware(d.Tokens, log)
	limited := func(h http.Handler) http.Handler {
		if d.Limiter == nil {
			return authed(h)
		}
		return authed(middleware.RateLimitMiddleware(d.Limiter, log)(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/login", loginHandler)
	mux.Handle("POST /api/logout", authed(http.HandlerFunc(sessionHandler.Logout)))
	mux.Handle("GET /api/session", authed(http.HandlerFunc(sessionHandler.Get)))
	mux.HandleFunc("GET /api/points", loanHandler.Points)
	mux.Handle("POST /api/borrow", limited(http.HandlerFunc(loanHandler.Borrow)))
	mux.Handle("POST /api/return", limited(http.HandlerFunc(loanHandler.Return)))
	mux.HandleFunc("GET /healthz", healthHandler.Health)
	mux.HandleFunc("GET /readyz", healthHandler.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())
	if d.StaticDir != "" {
		mux.Handle("GET /", NewStaticHandler(d.StaticDir, log))
	}

	var h http.Handler = metrics.HTTPMetricsMiddleware(mux)
	h = tracing.Handler(h, "umbrellashare")
	h = middleware.CORS(d.CORSOrigins)(h)
	return middleware.RequestID(log)(h)
}
