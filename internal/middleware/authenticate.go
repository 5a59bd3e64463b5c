package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/networkserver/internal/auth"
	"github.com/networkserver/internal/logger"
)

// IdentityResolver: то же, что ws.Authenticator: токен → username.
type IdentityResolver interface {
	GetIdentity(ctx context.Context, credentials string) (string, error)
}

// Authenticate проверяет Bearer-токен (или ?token= для WebSocket) и кладёт username в контекст.
// Невалидный токен даёт 401, сбой проверки (БД недоступна) даёт 503.
func Authenticate(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolver.GetIdentity(r.Context(), auth.TokenFromRequest(r))
			if err != nil {
				if errors.Is(err, auth.ErrUnauthenticated) {
					http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
					return
				}
				logger.Errorf("authenticate %s %s: %v", r.Method, r.URL.Path, err)
				http.Error(w, `{"error":"auth unavailable"}`, http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}
