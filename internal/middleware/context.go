package middleware

import "context"

type contextKey string

const IdentityKey contextKey = "identity"

// GetIdentity возвращает username из контекста (устанавливается Authenticate).
func GetIdentity(ctx context.Context) string {
	v, _ := ctx.Value(IdentityKey).(string)
	return v
}

// WithIdentity кладёт username в контекст (для Authenticate и тестов обработчиков).
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}
