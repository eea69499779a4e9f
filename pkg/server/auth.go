package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/smarthubsync/smarthubsync/pkg/log"
)

// updateAuthMiddleware requires a Google ID token belonging to updateEmail
// when an audience is configured. Without one the endpoints are open.
func (s *Server) updateAuthMiddleware(next http.Handler) http.Handler {
	if s.updateVerifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.Ctx(ctx).WarnContext(ctx, "missing authorization header")
			writeJSONError(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
			writeJSONError(w, "invalid auth header", http.StatusBadRequest)
			return
		}

		email, err := s.authenticateToken(ctx, strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "update token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid id token", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(email), []byte(s.updateEmail)) != 1 {
			log.Ctx(ctx).WarnContext(ctx, "update email mismatch", slog.String("got", email), slog.String("want", s.updateEmail))
			writeJSONError(w, "forbidden", http.StatusForbidden)
			return
		}
		log.Ctx(ctx).DebugContext(ctx, "update authorized", slog.String("email", email))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticateToken(ctx context.Context, token string) (string, error) {
	idToken, err := s.updateVerifier(ctx, token)
	if err != nil {
		return "", fmt.Errorf("google verifier failed: %w", err)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("failed to parse id token claims: %w", err)
	}
	if claims.Email == "" {
		return "", errors.New("id token has no email")
	}
	if !claims.EmailVerified {
		return "", errors.New("id token email is not verified")
	}
	return claims.Email, nil
}
