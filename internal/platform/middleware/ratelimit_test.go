package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carepoint/scheduler/internal/platform/auth"
)

func fixedStore(cfg RateLimitConfig, now *time.Time) *limiterStore {
	s := newLimiterStore(cfg)
	s.now = func() time.Time { return *now }
	return s
}

func limitedHandler(store *limiterStore) echo.HandlerFunc {
	return rateLimit(store)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func hit(e *echo.Echo, h echo.HandlerFunc, ip string, p *auth.Principal) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRealIP, ip)
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 5; i++ {
		rec, err := hit(e, h, "10.0.0.1", nil)
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	now := time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)
	e := echo.New()
	h := limitedHandler(fixedStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2}, &now))

	for i := 0; i < 2; i++ {
		if _, err := hit(e, h, "10.0.0.1", nil); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	rec, err := hit(e, h, "10.0.0.1", nil)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining '0', got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	ra, convErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if convErr != nil || ra != 1 {
		t.Errorf("expected Retry-After 1, got %q", rec.Header().Get("Retry-After"))
	}

	// A second later one token has refilled.
	now = now.Add(time.Second)
	if _, err := hit(e, h, "10.0.0.1", nil); err != nil {
		t.Errorf("expected request after refill to pass, got %v", err)
	}
}

func TestRateLimit_RetryAfterRoundsUp(t *testing.T) {
	now := time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)
	e := echo.New()
	h := limitedHandler(fixedStore(RateLimitConfig{RequestsPerSecond: 0.25, BurstSize: 1}, &now))

	hit(e, h, "10.0.0.1", nil)
	rec, err := hit(e, h, "10.0.0.1", nil)
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	if got := rec.Header().Get("Retry-After"); got != "4" {
		t.Errorf("expected Retry-After 4, got %q", got)
	}

	// The rejected request must not consume the next token.
	now = now.Add(4 * time.Second)
	if _, err := hit(e, h, "10.0.0.1", nil); err != nil {
		t.Errorf("expected request after 4s to pass, got %v", err)
	}
}

func TestRateLimit_PerKeyIsolation(t *testing.T) {
	now := time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)
	e := echo.New()
	h := limitedHandler(fixedStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, &now))

	alice := auth.NewPrincipal(uuid.New(), "doctor")
	bob := auth.NewPrincipal(uuid.New(), "doctor")

	if _, err := hit(e, h, "10.0.0.1", alice); err != nil {
		t.Fatalf("alice first request: %v", err)
	}
	if _, err := hit(e, h, "10.0.0.1", alice); err == nil {
		t.Fatal("alice second request: expected rate limit error")
	}
	// Same IP, different principal: separate bucket.
	if _, err := hit(e, h, "10.0.0.1", bob); err != nil {
		t.Fatalf("bob first request: %v", err)
	}
	// Anonymous callers are keyed by IP.
	if _, err := hit(e, h, "10.0.0.1", nil); err != nil {
		t.Fatalf("anonymous first request: %v", err)
	}
	if _, err := hit(e, h, "10.0.0.2", nil); err != nil {
		t.Fatalf("other ip first request: %v", err)
	}
}

func TestRateLimit_ZeroRate(t *testing.T) {
	now := time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)
	e := echo.New()
	h := limitedHandler(fixedStore(RateLimitConfig{RequestsPerSecond: 0, BurstSize: 1}, &now))

	hit(e, h, "10.0.0.1", nil)
	rec, err := hit(e, h, "10.0.0.1", nil)
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1 for zero rate, got %q", got)
	}
}

func TestLimiterStore_SweepsIdleClients(t *testing.T) {
	now := time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)
	store := fixedStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute}, &now)

	l1 := store.get("a", now)
	if store.get("a", now) != l1 {
		t.Error("expected same limiter for same key")
	}
	store.get("b", now)
	if store.size() != 2 {
		t.Fatalf("expected 2 limiters, got %d", store.size())
	}

	now = now.Add(2 * time.Minute)
	store.get("c", now)
	if store.size() != 1 {
		t.Errorf("expected idle limiters swept, got %d", store.size())
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 50 {
		t.Errorf("expected RequestsPerSecond 50, got %f", cfg.RequestsPerSecond)
	}
	if cfg.BurstSize != 100 {
		t.Errorf("expected BurstSize 100, got %d", cfg.BurstSize)
	}
}
