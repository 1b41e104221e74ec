package verification

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carepoint/scheduler/internal/platform/auth"
)

func post(t *testing.T, e *echo.Echo, path, body string, p *auth.Principal) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newRoutedEnv() (*testEnv, *echo.Echo) {
	env := newTestEnv(Config{TTL: 10 * time.Minute, MaxAttempts: 2})
	e := echo.New()
	NewHandler(env.svc).RegisterRoutes(e.Group("/api/v1"))
	return env, e
}

func TestHandler_IssueAndVerify(t *testing.T) {
	env, e := newRoutedEnv()
	patient := auth.NewPrincipal(uuid.New(), "patient")

	rec := post(t, e, "/api/v1/verification/otp", `{"email":"pat@example.com"}`, patient)
	if rec.Code != http.StatusOK {
		t.Fatalf("issue: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), env.lastCode(t)) {
		t.Error("the code must not be echoed in the response")
	}

	rec = post(t, e, "/api/v1/verification/otp/verify", `{"email":"pat@example.com","code":"`+env.lastCode(t)+`"}`, patient)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_FallsBackToPrincipalEmail(t *testing.T) {
	env, e := newRoutedEnv()
	p := auth.NewPrincipal(uuid.New(), "doctor")
	p.Email = "doc@example.com"

	rec := post(t, e, "/api/v1/verification/otp", `{}`, p)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if msg, _ := env.outbox.Last(); msg.To != "doc@example.com" {
		t.Errorf("expected mail to principal, got %q", msg.To)
	}
}

func TestHandler_ErrorStatuses(t *testing.T) {
	env, e := newRoutedEnv()
	p := auth.NewPrincipal(uuid.New(), "patient")

	if rec := post(t, e, "/api/v1/verification/otp", `{"email":"nope"}`, p); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid email: expected 400, got %d", rec.Code)
	}
	if rec := post(t, e, "/api/v1/verification/otp/verify", `{"email":"pat@example.com","code":"123456"}`, p); rec.Code != http.StatusBadRequest {
		t.Errorf("no code: expected 400, got %d", rec.Code)
	}

	post(t, e, "/api/v1/verification/otp", `{"email":"pat@example.com"}`, p)
	bad := wrongCode(env.lastCode(t))
	if rec := post(t, e, "/api/v1/verification/otp/verify", `{"email":"pat@example.com","code":"`+bad+`"}`, p); rec.Code != http.StatusBadRequest {
		t.Errorf("wrong code: expected 400, got %d", rec.Code)
	}
	if rec := post(t, e, "/api/v1/verification/otp/verify", `{"email":"pat@example.com","code":"`+bad+`"}`, p); rec.Code != http.StatusTooManyRequests {
		t.Errorf("burned code: expected 429, got %d", rec.Code)
	}

	env.outbox.Err = errFake("smtp down")
	if rec := post(t, e, "/api/v1/verification/otp", `{"email":"pat@example.com"}`, p); rec.Code != http.StatusBadGateway {
		t.Errorf("delivery failure: expected 502, got %d", rec.Code)
	}
}

func TestHandler_RequiresPrincipal(t *testing.T) {
	_, e := newRoutedEnv()
	if rec := post(t, e, "/api/v1/verification/otp", `{"email":"pat@example.com"}`, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

type errFake string

func (e errFake) Error() string { return string(e) }
