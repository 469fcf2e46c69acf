package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	fbauth "firebase.google.com/go/v4/auth"
)

type contextKey string

const userIDKey contextKey = "user_id"

// TokenVerifier checks a Firebase ID token. *fbauth.Client satisfies it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// Middleware authenticates browser requests with Firebase ID tokens.
type Middleware struct {
	verifier TokenVerifier
	logger   *slog.Logger
}

// NewMiddleware builds the middleware. With a nil verifier every request is refused with 503.
func NewMiddleware(verifier TokenVerifier, logger *slog.Logger) *Middleware {
	return &Middleware{verifier: verifier, logger: logger.With("component", "auth")}
}

// Require rejects requests without a valid bearer token and stores the user id in the context.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.verifier == nil {
			writeError(w, http.StatusServiceUnavailable, "Authentication not configured")
			return
		}

		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		verified, err := m.verifier.VerifyIDToken(r.Context(), token)
		if err != nil || verified.UID == "" {
			m.logger.Debug("id token rejected", "error", err)
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), verified.UID)))
	})
}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated user id, if any.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
