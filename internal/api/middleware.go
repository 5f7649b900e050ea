package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/savegress/careledger/internal/config"
	"github.com/savegress/careledger/pkg/models"
)

type contextKey string

const principalKey contextKey = "principal"

// PrincipalResolver turns an authenticated user ID into a Principal
// with its ledger address and role.
type PrincipalResolver interface {
	Resolve(ctx context.Context, principalID string) (models.Principal, error)
}

// TokenDenylist tracks tokens invalidated by logout before expiry
type TokenDenylist interface {
	DenyToken(ctx context.Context, token string, ttl time.Duration) error
	IsTokenDenied(ctx context.Context, token string) (bool, error)
}

// AuthMiddleware validates JWT tokens and resolves the caller to a
// Principal. Websocket clients may pass the token as a query parameter
// since browsers cannot set headers on upgrade requests.
func AuthMiddleware(cfg *config.Config, resolver PrincipalResolver, denylist TokenDenylist) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				respondError(w, http.StatusUnauthorized, "Missing authorization header")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil || !token.Valid {
				respondError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				respondError(w, http.StatusUnauthorized, "Invalid token claims")
				return
			}

			userID, ok := claims["sub"].(string)
			if !ok {
				respondError(w, http.StatusUnauthorized, "Invalid user ID in token")
				return
			}

			if denylist != nil {
				if denied, err := denylist.IsTokenDenied(r.Context(), tokenString); err == nil && denied {
					respondError(w, http.StatusUnauthorized, "Token has been revoked")
					return
				}
			}

			principal, err := resolver.Resolve(r.Context(), userID)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "Unknown principal")
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// principalFrom extracts the authenticated principal set by
// AuthMiddleware.
func principalFrom(r *http.Request) (models.Principal, bool) {
	principal, ok := r.Context().Value(principalKey).(models.Principal)
	return principal, ok
}
