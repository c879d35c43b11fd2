package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("test-secret-key")

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken("alice@example.com", "reviewer", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ValidateToken(token, testSecret)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Reviewer != "alice@example.com" || claims.Role != "reviewer" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken("alice", "reviewer", testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(token, []byte("other-secret")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	token, err := GenerateToken("alice", "reviewer", testSecret, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(token, testSecret); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestAuthMiddleware(t *testing.T) {
	handler := AuthMiddleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := GetClaims(r)
		if err != nil {
			t.Errorf("GetClaims: %v", err)
		}
		if claims.Reviewer != "alice" {
			t.Errorf("reviewer = %s", claims.Reviewer)
		}
		w.WriteHeader(http.StatusOK)
	}))

	// no token
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", rec.Code)
	}

	// malformed header
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Token abc")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("malformed header: status %d", rec.Code)
	}

	// valid token
	token, err := GenerateToken("alice", "reviewer", testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status %d", rec.Code)
	}
}

func TestAuthMiddlewareDevMode(t *testing.T) {
	handler := AuthMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("dev mode should pass through, got %d", rec.Code)
	}
}
