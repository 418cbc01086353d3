package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"prediction-auth/internal/model"
	"prediction-auth/internal/service"
	"prediction-auth/internal/util"
)

type contextKey string

const (
	identityContextKey contextKey = "auth.identity"
	sessionContextKey  contextKey = "auth.session"
)

// AuthMiddleware validates the bearer token on every request and injects the
// resolved identity and session into the request context. Anything short of
// a fully valid token is a 401; the middleware never distinguishes why.
func AuthMiddleware(authService *service.AuthService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w, logger)
				return
			}

			identity, session, err := authService.ValidateToken(r.Context(), token)
			if err != nil {
				unauthorized(w, logger)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			ctx = context.WithValue(ctx, sessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the authenticated identity, or nil outside the
// auth middleware.
func IdentityFromContext(ctx context.Context) *model.Identity {
	identity, _ := ctx.Value(identityContextKey).(*model.Identity)
	return identity
}

// SessionFromContext returns the session the request authenticated with, or
// nil outside the auth middleware.
func SessionFromContext(ctx context.Context) *model.Session {
	session, _ := ctx.Value(sessionContextKey).(*model.Session)
	return session
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func unauthorized(w http.ResponseWriter, logger *zap.Logger) {
	logger.Debug("Request rejected by auth gate")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   "unauthorized",
		Code:    CodeUnauthorized,
	}); err != nil {
		logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}
