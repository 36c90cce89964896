// Package auth attaches the signed-in user supplied by the external auth
// system to the request context. Tokens are HS256 JWTs validated by a
// JWTValidator.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/pkg/requestcontext"
)

// JWTValidator validates a bearer token and returns its claims.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims is the part of the token the consent service relies on.
type JWTClaims struct {
	UserID string
	Email  string
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// authenticate resolves the Authorization header. present is false when no
// bearer token was sent.
func authenticate(r *http.Request, validator JWTValidator, logger *slog.Logger) (identity models.Identity, present bool, ok bool) {
	ctx := r.Context()
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || token == "" {
		return models.Identity{}, false, false
	}
	claims, err := validator.ValidateToken(token)
	if err != nil || claims.UserID == "" {
		logger.WarnContext(ctx, "unauthorized access - invalid token",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return models.Identity{}, true, false
	}
	return models.Identity{ID: claims.UserID, Email: claims.Email, Token: token}, true, true
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, present, ok := authenticate(r, validator, logger)
			if !present {
				ctx := r.Context()
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithIdentity(r.Context(), identity)))
		})
	}
}

// OptionalAuth lets anonymous requests through and attaches the identity
// when a valid token is sent. A token that is present but invalid is still
// rejected so a client never silently loses its signed-in state.
func OptionalAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, present, ok := authenticate(r, validator, logger)
			if !present {
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithIdentity(r.Context(), identity)))
		})
	}
}
