package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carepoint/scheduler/internal/config"
	"github.com/carepoint/scheduler/internal/domain/scheduling"
	"github.com/carepoint/scheduler/internal/domain/verification"
	"github.com/carepoint/scheduler/internal/platform/auth"
	"github.com/carepoint/scheduler/internal/platform/cache"
	"github.com/carepoint/scheduler/internal/platform/db"
	"github.com/carepoint/scheduler/internal/platform/middleware"
	"github.com/carepoint/scheduler/internal/platform/notification"
)

const testSigningKey = "test-signing-key"

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testServer struct {
	outbox *notification.Outbox
	deps   serverDeps
}

// newTestServer builds the real router. The schedule repositories are nil, so
// tests only reach schedule routes where the request is rejected first.
func newTestServer(t *testing.T, cfg *config.Config, pinger db.Pinger) (*testServer, http.Handler) {
	t.Helper()
	outbox := &notification.Outbox{}
	ts := &testServer{outbox: outbox}
	ts.deps = serverDeps{
		schedule:     scheduling.NewHandler(scheduling.NewService(nil, nil, nil, nil, nil)),
		verification: verification.NewHandler(verification.NewService(cache.NewMemoryStore(), outbox, verification.Config{})),
		db:           pinger,
	}
	e, err := newServer(cfg, zerolog.Nop(), ts.deps)
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	return ts, e
}

func devConfig() *config.Config {
	return &config.Config{Env: "development", CORSOrigins: []string{"*"}}
}

func prodConfig() *config.Config {
	return &config.Config{
		Env:            "production",
		AuthSigningKey: testSigningKey,
		CORSOrigins:    []string{"https://clinic.example.com"},
		RateLimitRPS:   10,
		RateLimitBurst: 2,
	}
}

func signToken(t *testing.T, sub uuid.UUID, email string, roles ...string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: email,
		Roles: roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t, devConfig(), fakePinger{})

	rec := do(h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != version {
		t.Errorf("unexpected body %v", body)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
}

func TestHealthDB(t *testing.T) {
	_, h := newTestServer(t, devConfig(), fakePinger{})
	if rec := do(h, http.MethodGet, "/health/db", "", nil); rec.Code != http.StatusOK {
		t.Errorf("healthy: expected 200, got %d", rec.Code)
	}

	_, h = newTestServer(t, devConfig(), fakePinger{err: errors.New("connection refused")})
	rec := do(h, http.MethodGet, "/health/db", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy: expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("expected ping error in body, got %s", rec.Body.String())
	}
}

func TestNewServer_NoAuthOutsideDev(t *testing.T) {
	cfg := prodConfig()
	cfg.AuthSigningKey = ""
	if _, err := newServer(cfg, zerolog.Nop(), serverDeps{}); err == nil {
		t.Fatal("expected error without a signing key")
	}
}

func TestAPI_RequiresToken(t *testing.T) {
	_, h := newTestServer(t, prodConfig(), fakePinger{})

	path := "/api/v1/doctors/" + uuid.NewString() + "/schedule/weekly"
	rec := do(h, http.MethodGet, path, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Message != "missing authorization header" {
		t.Errorf("unexpected error body %+v", body)
	}

	rec = do(h, http.MethodGet, path, "", map[string]string{"Authorization": "Bearer not-a-token"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", rec.Code)
	}
}

func TestAPI_DoctorCannotWriteOthersSchedule(t *testing.T) {
	_, h := newTestServer(t, prodConfig(), fakePinger{})

	token := signToken(t, uuid.New(), "doc@example.com", "doctor")
	path := "/api/v1/doctors/" + uuid.NewString() + "/schedule/weekly/monday"
	rec := do(h, http.MethodPut, path, `{}`, map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_VerificationWithToken(t *testing.T) {
	ts, h := newTestServer(t, prodConfig(), fakePinger{})

	token := signToken(t, uuid.New(), "pat@example.com", "patient")
	rec := do(h, http.MethodPost, "/api/v1/verification/otp", `{}`, map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if msg, ok := ts.outbox.Last(); !ok || msg.To != "pat@example.com" {
		t.Errorf("expected code mailed to token email, got %+v", msg)
	}
}

func TestAPI_DevAuth(t *testing.T) {
	ts, h := newTestServer(t, devConfig(), fakePinger{})

	rec := do(h, http.MethodPost, "/api/v1/verification/otp", `{"email":"dev@example.com"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(ts.outbox.Messages()) != 1 {
		t.Errorf("expected one email, got %d", len(ts.outbox.Messages()))
	}

	rec = do(h, http.MethodPost, "/api/v1/verification/otp", `{"email":"dev@example.com"}`,
		map[string]string{auth.DevUserHeader: "not-a-uuid"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for malformed dev user, got %d", rec.Code)
	}
}

func TestAPI_RateLimited(t *testing.T) {
	_, h := newTestServer(t, prodConfig(), fakePinger{})

	token := signToken(t, uuid.New(), "pat@example.com", "patient")
	headers := map[string]string{"Authorization": "Bearer " + token}

	var last int
	for i := 0; i < 5; i++ {
		last = do(h, http.MethodPost, "/api/v1/verification/otp", `{"email":"nope"}`, headers).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst, got %d", last)
	}
}

func TestAPI_BodyLimit(t *testing.T) {
	_, h := newTestServer(t, devConfig(), fakePinger{})

	body := `{"email":"` + strings.Repeat("a", 70*1024) + `@example.com"}`
	rec := do(h, http.MethodPost, "/api/v1/verification/otp", body, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestMigrateCommands(t *testing.T) {
	cmd := migrateCmd()
	for _, name := range []string{"up", "status"} {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Fatalf("expected %q subcommand, got %v", name, err)
		}
		if got, _ := sub.Flags().GetString("schema"); got != db.DefaultSchema {
			t.Errorf("%s: expected default schema %q, got %q", name, db.DefaultSchema, got)
		}
		if got, _ := sub.Flags().GetString("dir"); got != "./migrations" {
			t.Errorf("%s: unexpected default dir %q", name, got)
		}
	}
}
