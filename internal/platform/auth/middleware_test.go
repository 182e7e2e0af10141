package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func newTestIssuer() *TokenIssuer {
	return NewTokenIssuer(testSigningKey, "referral-tracker", time.Hour)
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string) (Identity, bool, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var (
		got    Identity
		called bool
	)
	err := mw(func(c echo.Context) error {
		called = true
		got, _ = IdentityFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})(c)
	return got, called, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, called, err := runMiddleware(t, JWTMiddleware(newTestIssuer(), nil), "")
	expectStatus(t, err, http.StatusUnauthorized)
	if called {
		t.Error("handler should not be called")
	}
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
			_, _, err := runMiddleware(t, JWTMiddleware(newTestIssuer(), nil), tt.header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	issuer := newTestIssuer()
	userID := uuid.New()
	token, _, err := issuer.Issue(userID, "Dana Reyes", RoleStaff)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	id, called, err := runMiddleware(t, JWTMiddleware(issuer, nil), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler was not called")
	}
	if id.UserID != userID || id.Role != RoleStaff || id.Name != "Dana Reyes" {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    "referral-tracker",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
		Role: RoleStaff,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, _, err = runMiddleware(t, JWTMiddleware(newTestIssuer(), nil), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	other := NewTokenIssuer([]byte("some-other-key"), "referral-tracker", time.Hour)
	token, _, err := other.Issue(uuid.New(), "x", RoleAdmin)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	_, _, err = runMiddleware(t, JWTMiddleware(newTestIssuer(), nil), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_RevokedToken(t *testing.T) {
	issuer := newTestIssuer()
	store := NewMemoryRevocationStore()
	defer store.Close()

	token, id, err := issuer.Issue(uuid.New(), "Sam", RoleStaff)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if err := store.Revoke(context.Background(), id.TokenID, id.ExpiresAt); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}

	_, called, err := runMiddleware(t, JWTMiddleware(issuer, store), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
	if called {
		t.Error("handler should not be called for a revoked token")
	}
}

type failingRevocations struct{}

func (failingRevocations) Revoke(context.Context, string, time.Time) error { return nil }
func (failingRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestJWTMiddleware_RevocationLookupFails(t *testing.T) {
	issuer := newTestIssuer()
	token, _, err := issuer.Issue(uuid.New(), "Sam", RoleStaff)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	_, _, err = runMiddleware(t, JWTMiddleware(issuer, failingRevocations{}), "Bearer "+token)
	expectStatus(t, err, http.StatusServiceUnavailable)
}

func TestDevAuthMiddleware_NoHeader(t *testing.T) {
	id, called, err := runMiddleware(t, DevAuthMiddleware(newTestIssuer(), nil), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler was not called")
	}
	if id.Role != RoleAdmin || id.UserID != uuid.Nil {
		t.Errorf("expected dev identity, got %+v", id)
	}
}

func TestDevAuthMiddleware_StillValidatesTokens(t *testing.T) {
	_, _, err := runMiddleware(t, DevAuthMiddleware(newTestIssuer(), nil), "Bearer not-a-jwt")
	expectStatus(t, err, http.StatusUnauthorized)
}
