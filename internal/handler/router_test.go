package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbrellashare/umbrellashare/internal/domain"
	"github.com/umbrellashare/umbrellashare/internal/infrastructure/contentapi"
	"github.com/umbrellashare/umbrellashare/internal/infrastructure/contentapi/contentapitest"
	"github.com/umbrellashare/umbrellashare/internal/infrastructure/memstore"
	"github.com/umbrellashare/umbrellashare/internal/repository"
	"github.com/umbrellashare/umbrellashare/internal/service"
)

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, memstore.New())

	resp := srv.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body HealthResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadinessEndpoint(t *testing.T) {
	healthy := true
	srv := newTestServer(t, memstore.New(), withChecks(map[string]Pinger{
		"store": pingFunc(func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("unreachable")
		}),
	}))

	resp := srv.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	healthy = false
	resp = srv.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body ReadinessResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "error: unreachable", body.Checks["store"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, memstore.New())
	srv.do(t, http.MethodGet, "/healthz", "", nil)

	resp := srv.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "umbrellashare_http_requests_total")
}

func TestLoginBorrowReturnFlow(t *testing.T) {
	srv := newTestServer(t, memstore.New())

	login := srv.login(t, "13800000000", "2021001")
	require.NotEmpty(t, login.Token)
	assert.Equal(t, domain.StatusNotBorrowed, login.User.BorrowStatus)
	assert.Len(t, login.Points, 4)
	assert.Equal(t, 1, srv.Sessions.Len())

	resp := srv.do(t, http.MethodPost, "/api/borrow", login.Token, LoanRequest{PointID: "point001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var borrowed LoanResponse
	decodeBody(t, resp, &borrowed)
	assert.Equal(t, domain.StatusBorrowed, borrowed.User.BorrowStatus)
	assert.Equal(t, 9, borrowed.Points[0].Count)

	resp = srv.do(t, http.MethodGet, "/api/session", login.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sess SessionResponse
	decodeBody(t, resp, &sess)
	require.NotNil(t, sess.User.CurrentUmbrella)
	assert.Equal(t, "point001", *sess.User.CurrentUmbrella)

	resp = srv.do(t, http.MethodPost, "/api/return", login.Token, LoanRequest{PointID: "point001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var returned LoanResponse
	decodeBody(t, resp, &returned)
	assert.Equal(t, domain.StatusNotBorrowed, returned.User.BorrowStatus)
	assert.Len(t, returned.User.BorrowHistory, 2)
	assert.Equal(t, 10, returned.Points[0].Count)

	resp = srv.do(t, http.MethodGet, "/api/points", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var points PointsResponse
	decodeBody(t, resp, &points)
	assert.Equal(t, 10, points.Points[0].Count)
}

func TestLoginValidation(t *testing.T) {
	srv := newTestServer(t, memstore.New())

	tests := []struct {
		name string
		body any
	}{
		{"missing student id", map[string]string{"phone": "13800000000"}},
		{"underscore in phone", map[string]string{"phone": "138_0", "studentId": "1"}},
		{"whitespace", map[string]string{"phone": "138 0", "studentId": "1"}},
		{"unknown field", map[string]string{"phone": "1", "studentId": "1", "password": "x"}},
		{"not json", "just a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := srv.do(t, http.MethodPost, "/api/login", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Zero(t, srv.Sessions.Len())
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	srv := newTestServer(t, memstore.New())

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/session"},
		{http.MethodPost, "/api/logout"},
		{http.MethodPost, "/api/borrow"},
		{http.MethodPost, "/api/return"},
	} {
		resp := srv.do(t, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, route.path)
	}
}

func TestLogoutEndsSession(t *testing.T) {
	srv := newTestServer(t, memstore.New())
	login := srv.login(t, "13800000000", "2021001")

	resp := srv.do(t, http.MethodPost, "/api/logout", login.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, srv.Sessions.Len())

	resp = srv.do(t, http.MethodPost, "/api/borrow", login.Token, LoanRequest{PointID: "point001"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "no_session", errorCode(t, resp))
}

func TestBorrowRejectionsOverHTTP(t *testing.T) {
	srv := newTestServer(t, memstore.New())
	login := srv.login(t, "13800000000", "2021001")

	resp := srv.do(t, http.MethodPost, "/api/borrow", login.Token, LoanRequest{PointID: "point404"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "point_not_found", errorCode(t, resp))

	resp = srv.do(t, http.MethodPost, "/api/return", login.Token, LoanRequest{PointID: "point001"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "not_borrowed", errorCode(t, resp))

	resp = srv.do(t, http.MethodPost, "/api/borrow", login.Token, LoanRequest{PointID: "point001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/api/borrow", login.Token, LoanRequest{PointID: "point002"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_borrowed", errorCode(t, resp))

	resp = srv.do(t, http.MethodPost, "/api/borrow", login.Token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWrongReturnPointOverHTTP(t *testing.T) {
	store := memstore.New()
	srv := newTestServer(t, store, withPolicy(store, service.ReturnToOrigin))
	login := srv.login(t, "13800000000", "2021001")

	resp := srv.do(t, http.MethodPost, "/api/borrow", login.Token, LoanRequest{PointID: "point001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/api/return", login.Token, LoanRequest{PointID: "point002"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "wrong_return_point", errorCode(t, resp))
}

func TestRateLimitedBorrow(t *testing.T) {
	srv := newTestServer(t, memstore.New(), withRateLimit(1))
	login := srv.login(t, "13800000000", "2021001")

	resp := srv.do(t, http.MethodPost, "/api/borrow", login.Token, LoanRequest{PointID: "point001"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = srv.do(t, http.MethodPost, "/api/return", login.Token, LoanRequest{PointID: "point001"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestConcurrentBorrowsOverHTTP(t *testing.T) {
	srv := newTestServer(t, memstore.New())
	a := srv.login(t, "13800000001", "2021001")
	b := srv.login(t, "13800000002", "2021002")

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i, token := range []string{a.Token, b.Token} {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/borrow", strings.NewReader(`{"pointId":"point001"}`))
			req.Header.Set("Authorization", "Bearer "+token)
			resp, err := srv.Client().Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i, token)
	}
	wg.Wait()

	assert.Equal(t, []int{http.StatusOK, http.StatusOK}, codes)
	inv, err := repository.NewInventoryRepository(srv.Store, nil).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, inv.Points[0].Count)
}

func TestAgainstContentAPI(t *testing.T) {
	fake := contentapitest.NewServer("acme", "umbrella-data", "tok")
	t.Cleanup(fake.Close)
	client, err := contentapi.New(contentapi.Config{
		BaseURL: fake.URL,
		Owner:   "acme",
		Repo:    "umbrella-data",
		Branch:  "main",
		Token:   "tok",
	}, contentapi.WithHTTPClient(fake.Client()))
	require.NoError(t, err)

	srv := newTestServer(t, client)
	login := srv.login(t, "13800000000", "2021001")

	resp := srv.do(t, http.MethodPost, "/api/borrow", login.Token, LoanRequest{PointID: "point003"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, ok := fake.Content("users/13800000000_2021001.json")
	require.True(t, ok)
	assert.Contains(t, string(raw), "已借伞")
	assert.Contains(t, string(raw), "食堂门口")

	raw, ok = fake.Content(repository.InventoryKey)
	require.True(t, ok)
	assert.Contains(t, string(raw), `"count": 11`)
}

func TestStoreCredentialRejectedIsBadGateway(t *testing.T) {
	fake := contentapitest.NewServer("acme", "umbrella-data", "tok")
	t.Cleanup(fake.Close)
	client, err := contentapi.New(contentapi.Config{
		BaseURL: fake.URL,
		Owner:   "acme",
		Repo:    "umbrella-data",
		Token:   "revoked",
	}, contentapi.WithHTTPClient(fake.Client()))
	require.NoError(t, err)

	srv := newTestServer(t, client)
	resp := srv.do(t, http.MethodPost, "/api/login", "", map[string]string{"phone": "13800000000", "studentId": "2021001"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "store_unauthenticated", errorCode(t, resp))
	assert.Zero(t, fake.CountMethod(http.MethodPut))
}
