package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	fbauth "firebase.google.com/go/v4/auth"

	"milenio/internal/logging"
)

type fakeVerifier map[string]string

func (f fakeVerifier) VerifyIDToken(_ context.Context, idToken string) (*fbauth.Token, error) {
	uid, ok := f[idToken]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return &fbauth.Token{UID: uid}, nil
}

func TestRequire(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := NewMiddleware(fakeVerifier{"good": "user-1"}, logging.Discard()).Require(next)

	cases := []struct {
		name   string
		header string
		status int
		user   string
	}{
		{"valid", "Bearer good", http.StatusNoContent, "user-1"},
		{"lowercase scheme", "bearer good", http.StatusNoContent, "user-1"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic good", http.StatusUnauthorized, ""},
		{"bad token", "Bearer bad", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPost, "/api/cashout", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
			if seen != tc.user {
				t.Fatalf("expected user %q, got %q", tc.user, seen)
			}
		})
	}
}

func TestRequireWithoutVerifier(t *testing.T) {
	handler := NewMiddleware(nil, logging.Discard()).Require(http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/ranking", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestUserIDEmpty(t *testing.T) {
	if _, ok := UserID(context.Background()); ok {
		t.Fatal("expected no user id")
	}
	if id, ok := UserID(WithUserID(context.Background(), "u")); !ok || id != "u" {
		t.Fatalf("expected u, got %q", id)
	}
}
