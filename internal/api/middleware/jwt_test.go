package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateAndValidateAdminToken(t *testing.T) {
	secret := []byte("test-secret")

	token, expiresAt, err := GenerateAdminToken(secret, 7, "ops")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if expiresAt.IsZero() {
		t.Fatal("expected non-zero expiry")
	}

	var gotID int64
	handler := RequireAdminAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = AdminIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotID != 7 {
		t.Fatalf("expected admin ID 7, got %d", gotID)
	}
}

func TestRequireAdminAuthRejectsMissingOrInvalidToken(t *testing.T) {
	secret := []byte("test-secret")
	handler := RequireAdminAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing header, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("Authorization", "Bearer not-a-real-token")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rec2.Code)
	}
}

func TestRequireAdminAuthRejectsOtherSecret(t *testing.T) {
	token, _, err := GenerateAdminToken([]byte("secret-a"), 3, "ops")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	handler := RequireAdminAuth([]byte("secret-b"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for token signed with a different secret, got %d", rec.Code)
	}
}
