package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(sub string, roles ...string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Roles: roles,
	}
}

func mustJWT(t *testing.T, cfg JWTConfig) echo.MiddlewareFunc {
	t.Helper()
	mw, err := JWTMiddleware(cfg)
	if err != nil {
		t.Fatalf("JWTMiddleware: %v", err)
	}
	return mw
}

func runMiddleware(mw echo.MiddlewareFunc, req *http.Request, handler echo.HandlerFunc) error {
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	return mw(handler)(c)
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d error, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_NoKeyConfigured(t *testing.T) {
	if _, err := JWTMiddleware(JWTConfig{}); err == nil {
		t.Error("expected error without a key source")
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	err := runMiddleware(mustJWT(t, JWTConfig{SigningKey: testSigningKey}), req, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			err := runMiddleware(mustJWT(t, JWTConfig{SigningKey: testSigningKey}), req, okHandler)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	id := uuid.New()
	tokenStr := createTestToken(t, validClaims(id.String(), "doctor"), testSigningKey)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	var got *Principal
	err := runMiddleware(mustJWT(t, JWTConfig{SigningKey: testSigningKey}), req, func(c echo.Context) error {
		got, _ = PrincipalFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != id || !got.Has(RoleDoctor) {
		t.Errorf("unexpected principal %+v", got)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims(uuid.New().String(), "doctor")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	tokenStr := createTestToken(t, claims, testSigningKey)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	err := runMiddleware(mustJWT(t, JWTConfig{SigningKey: testSigningKey}), req, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(uuid.New().String(), "admin"), []byte("another-key"))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	err := runMiddleware(mustJWT(t, JWTConfig{SigningKey: testSigningKey}), req, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_NonUUIDSubject(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("user-123", "doctor"), testSigningKey)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	err := runMiddleware(mustJWT(t, JWTConfig{SigningKey: testSigningKey}), req, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_IssuerMismatch(t *testing.T) {
	claims := validClaims(uuid.New().String(), "doctor")
	claims.Issuer = "someone-else"
	tokenStr := createTestToken(t, claims, testSigningKey)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	err := runMiddleware(mustJWT(t, JWTConfig{SigningKey: testSigningKey, Issuer: "carepoint"}), req, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_RSAPublicKeyPEM(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	id := uuid.New()
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims(id.String(), "patient")).SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	var got *Principal
	err = runMiddleware(mustJWT(t, JWTConfig{SigningKey: pubPEM}), req, func(c echo.Context) error {
		got, _ = PrincipalFromContext(c.Request().Context())
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != id || !got.Has(RolePatient) {
		t.Errorf("unexpected principal %+v", got)
	}

	// An HMAC token must not pass an RSA-configured verifier.
	hmacToken := createTestToken(t, validClaims(id.String(), "admin"), pubPEM)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+hmacToken)
	expectStatus(t, runMiddleware(mustJWT(t, JWTConfig{SigningKey: pubPEM}), req, okHandler), http.StatusUnauthorized)
}

func TestDevAuthMiddleware_DefaultsToAdmin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	var got *Principal
	err := runMiddleware(DevAuthMiddleware(), req, func(c echo.Context) error {
		got, _ = PrincipalFromContext(c.Request().Context())
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != DevAdminID || !got.Has(RoleAdmin) {
		t.Errorf("expected dev admin principal, got %+v", got)
	}
}

func TestDevAuthMiddleware_Headers(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevUserHeader, id.String())
	req.Header.Set(DevRolesHeader, "doctor, patient")

	var got *Principal
	err := runMiddleware(DevAuthMiddleware(), req, func(c echo.Context) error {
		got, _ = PrincipalFromContext(c.Request().Context())
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != id || !got.Has(RoleDoctor) || !got.Has(RolePatient) || got.Has(RoleAdmin) {
		t.Errorf("unexpected principal %+v", got)
	}
}

func TestDevAuthMiddleware_BadUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevUserHeader, "dev-user")
	expectStatus(t, runMiddleware(DevAuthMiddleware(), req, okHandler), http.StatusUnauthorized)
}
