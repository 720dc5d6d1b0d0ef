package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, secret string, method jwt.SigningMethod, expires time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func adminRequest(t *testing.T, secret, authHeader string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := AdminClaimsFromContext(r.Context()); !ok {
			t.Error("expected claims in request context")
		}
		reached = true
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/sync", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	AdminJWT(secret)(next).ServeHTTP(rec, req)
	return rec, reached
}

func TestAdminJWTAcceptsValidToken(t *testing.T) {
	token := signedToken(t, "sync-secret", jwt.SigningMethodHS256, time.Now().Add(time.Hour))
	rec, reached := adminRequest(t, "sync-secret", "Bearer "+token)
	if !reached {
		t.Fatal("expected handler to run")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAdminJWTRejections(t *testing.T) {
	valid := signedToken(t, "sync-secret", jwt.SigningMethodHS256, time.Now().Add(time.Hour))
	expired := signedToken(t, "sync-secret", jwt.SigningMethodHS256, time.Now().Add(-time.Minute))
	wrongKey := signedToken(t, "other-secret", jwt.SigningMethodHS256, time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		secret string
		header string
	}{
		{"empty secret rejects everything", "", "Bearer " + valid},
		{"missing header", "sync-secret", ""},
		{"not a bearer token", "sync-secret", "Basic abc"},
		{"garbage token", "sync-secret", "Bearer not.a.jwt"},
		{"expired token", "sync-secret", "Bearer " + expired},
		{"wrong signing key", "sync-secret", "Bearer " + wrongKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, reached := adminRequest(t, tt.secret, tt.header)
			if reached {
				t.Fatal("handler must not run")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}
