package middleware

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"example.com/socialstream/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const IdentityCtxKey = contextKey("identity")

// JWTAuth verifies the bearer token and attaches the caller's identity to the
// request context. Identity is established exclusively here; nothing below
// this middleware trusts ids from the request body.
func JWTAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwtSecret := []byte(os.Getenv("JWT_SECRET"))
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "invalid Authorization header", http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			http.Error(w, "invalid token claims", http.StatusUnauthorized)
			return
		}

		accountID, ok := claims["account_id"].(string)
		if !ok || accountID == "" {
			http.Error(w, "invalid account_id in token", http.StatusUnauthorized)
			return
		}

		// Profile claims are optional; the id alone is enough to act.
		account := models.Account{ID: accountID}
		if name, ok := claims["display_name"].(string); ok {
			account.DisplayName = name
		}
		if avatar, ok := claims["avatar_ref"].(string); ok {
			account.AvatarRef = avatar
		}

		ctx := context.WithValue(r.Context(), IdentityCtxKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccountFromContext returns the authenticated caller.
func AccountFromContext(ctx context.Context) (models.Account, bool) {
	account, ok := ctx.Value(IdentityCtxKey).(models.Account)
	return account, ok
}

// AccountIDFromContext returns just the caller's id.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	account, ok := AccountFromContext(ctx)
	return account.ID, ok
}
