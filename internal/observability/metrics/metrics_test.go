package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsUsesRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /files/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := HTTPMetricsMiddleware(mux)

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "GET /files/{name}", "418"))
	for _, p := range []string{"/files/a.js", "/files/b.css"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "GET /files/{name}", "418"))
	assert.Equal(t, 2.0, after-before)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Positive(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestLoanCounters(t *testing.T) {
	before := testutil.ToFloat64(loanOperations.WithLabelValues("borrow", "ok"))
	ObserveLoan("borrow", "ok")
	assert.Equal(t, 1.0, testutil.ToFloat64(loanOperations.WithLabelValues("borrow", "ok"))-before)

	SetActiveSessions(-4)
	assert.Zero(t, testutil.ToFloat64(activeSessions))
	SetActiveSessions(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(activeSessions))

	ObserveStore("memory", "get", "ok", time.Millisecond)
	ObserveInjectedFault("put", "drop")
	assert.Positive(t, testutil.ToFloat64(injectedFaults.WithLabelValues("put", "drop")))
}
