package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/metrics"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/users"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestServer(t *testing.T) (*HTTPServer, *metrics.Metrics) {
	t.Helper()
	cfg := &config.Config{SecretKey: "test-secret", AccessTokenValidityDuration: time.Hour, OTPEcho: true}
	svc, err := services.NewUserService(users.NewInMemoryRepository(), cfg, logging.Nop(),
		services.WithHasher(&auth.PBKDF2Hasher{Iterations: 1000}))
	require.NoError(t, err)
	m := metrics.New()
	return NewHTTPServer(":0", logging.Nop(), svc, m), m
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHTTP_FullFlow(t *testing.T) {
	s, m := newTestServer(t)
	h := s.Handler()

	rec, body := do(t, h, http.MethodPost, "/api/register", `{"email":"Alice@X.com","password":"password1"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, body["success"])

	rec, body = do(t, h, http.MethodPost, "/api/login", `{"email":"alice@x.com","password":"password1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	otp, _ := body["otp"].(string)
	require.Regexp(t, `^[0-9]{6}$`, otp)

	rec, body = do(t, h, http.MethodPost, "/api/verify-otp", `{"email":"alice@x.com","otp":"`+otp+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	bearer := map[string]string{"Authorization": "Bearer " + token}
	rec, body = do(t, h, http.MethodGet, "/api/dashboard", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome alice@x.com", body["message"])
	assert.Equal(t, "user", body["role"])

	rec, body = do(t, h, http.MethodGet, "/api/me", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice@x.com", body["subject"])
	assert.Greater(t, body["expires_at"].(float64), body["issued_at"].(float64))

	// the code is single-use
	rec, _ = do(t, h, http.MethodPost, "/api/verify-otp", `{"email":"alice@x.com","otp":"`+otp+`"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthOperations.WithLabelValues("verify_otp", metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthOperations.WithLabelValues("verify_otp", metrics.OutcomeUnauthorized)))
}

func TestHTTP_StatusMapping(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec, _ := do(t, h, http.MethodPost, "/api/register", `{"email":"bob@x.com","password":"password1"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		header map[string]string
		want   int
		msg    string
	}{
		{name: "register duplicate", method: http.MethodPost, path: "/api/register",
			body: `{"email":"BOB@x.com","password":"password2"}`, want: http.StatusConflict, msg: "user already exists"},
		{name: "register short password", method: http.MethodPost, path: "/api/register",
			body: `{"email":"carol@x.com","password":"short"}`, want: http.StatusBadRequest},
		{name: "register malformed json", method: http.MethodPost, path: "/api/register",
			body: `{"email":`, want: http.StatusBadRequest, msg: "invalid JSON body"},
		{name: "login missing password", method: http.MethodPost, path: "/api/login",
			body: `{"email":"bob@x.com"}`, want: http.StatusBadRequest},
		{name: "login wrong password", method: http.MethodPost, path: "/api/login",
			body: `{"email":"bob@x.com","password":"password9"}`, want: http.StatusUnauthorized, msg: "invalid credentials"},
		{name: "login unknown email", method: http.MethodPost, path: "/api/login",
			body: `{"email":"nobody@x.com","password":"password1"}`, want: http.StatusUnauthorized, msg: "invalid credentials"},
		{name: "verify without login", method: http.MethodPost, path: "/api/verify-otp",
			body: `{"email":"bob@x.com","otp":"123456"}`, want: http.StatusUnauthorized, msg: "invalid credentials"},
		{name: "verify missing otp", method: http.MethodPost, path: "/api/verify-otp",
			body: `{"email":"bob@x.com"}`, want: http.StatusBadRequest},
		{name: "dashboard no header", method: http.MethodGet, path: "/api/dashboard",
			want: http.StatusUnauthorized, msg: "invalid credentials"},
		{name: "dashboard bad token", method: http.MethodGet, path: "/api/dashboard",
			header: map[string]string{"Authorization": "Bearer not.a.token"}, want: http.StatusUnauthorized},
		{name: "wrong method", method: http.MethodGet, path: "/api/login", want: http.StatusMethodNotAllowed},
		{name: "unknown route", method: http.MethodGet, path: "/api/nope", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, tt.method, tt.path, tt.body, tt.header)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, false, body["success"])
			if tt.msg != "" {
				assert.Equal(t, tt.msg, body["message"])
			}
		})
	}
}

func TestHTTP_GateSetsChallengeHeader(t *testing.T) {
	s, _ := newTestServer(t)

	rec, _ := do(t, s.Handler(), http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

type failingService struct{}

func (failingService) Register(context.Context, string, string) (*models.User, error) {
	return nil, errors.New("disk on fire")
}
func (failingService) Login(context.Context, string, string) (*services.LoginResult, error) {
	return nil, common.ErrorInternal
}
func (failingService) VerifyOTP(context.Context, string, string) (*services.VerifyResult, error) {
	return nil, common.ErrorInternal
}
func (failingService) Authenticate(context.Context, string) (*auth.Claims, error) {
	return nil, common.ErrorInternal
}

func TestHTTP_InternalErrorsAreOpaque(t *testing.T) {
	s := NewHTTPServer(":0", logging.Nop(), failingService{}, metrics.New())

	rec, body := do(t, s.Handler(), http.MethodPost, "/api/register", `{"email":"a@x.com","password":"password1"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", body["message"])
	assert.NotContains(t, rec.Body.String(), "disk on fire")

	rec, _ = do(t, s.Handler(), http.MethodGet, "/api/dashboard", "", map[string]string{"Authorization": "Bearer x"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHTTP_HealthMetricsAndHeaders(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec, _ := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec, _ = do(t, h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gophauth_http_request_duration_seconds_count{code="200",route="/health"} 1`)
}

func TestHTTP_ServeShutsDownCleanly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	tr := &http.Transport{DisableKeepAlives: true}
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}
	resp, err := client.Post("http://"+ln.Addr().String()+"/api/register", "application/json",
		bytes.NewBufferString(`{"email":"live@x.com","password":"password1"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	tr.CloseIdleConnections()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestHTTP_RunFailsOnBusyAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := NewHTTPServer(ln.Addr().String(), logging.Nop(), failingService{}, metrics.New())
	assert.Error(t, s.Run(context.Background()))
}
