// Package auth resolves connection credentials to an identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is the AuthError of the realtime layer: the caller must
// re-authenticate and reconnect, nothing is retried on its behalf.
var ErrUnauthenticated = errors.New("unauthenticated")

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// UserLookup confirms that a token's subject still exists.
type UserLookup interface {
	UserExists(ctx context.Context, username string) (bool, error)
}

// JWTAuthenticator validates HS256 tokens issued by the account service.
type JWTAuthenticator struct {
	secret []byte
	users  UserLookup
}

func NewJWTAuthenticator(secret string, users UserLookup) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), users: users}
}

// GetIdentity returns the username carried by a valid token.
func (a *JWTAuthenticator) GetIdentity(ctx context.Context, token string) (string, error) {
	if token == "" || len(a.secret) == 0 {
		return "", ErrUnauthenticated
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Username == "" {
		return "", fmt.Errorf("%w: empty username claim", ErrUnauthenticated)
	}
	if a.users != nil {
		ok, err := a.users.UserExists(ctx, claims.Username)
		if err != nil {
			return "", fmt.Errorf("auth lookup %s: %w", claims.Username, err)
		}
		if !ok {
			return "", fmt.Errorf("%w: unknown user %s", ErrUnauthenticated, claims.Username)
		}
	}
	return claims.Username, nil
}

// Sign issues a token for username. Used by tooling and tests; production
// tokens come from the account service with the same secret.
func Sign(secret, username string, ttl time.Duration) (string, error) {
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// TokenFromRequest reads "Authorization: Bearer <token>", falling back to the
// token query parameter that browser WebSocket clients have to use.
func TokenFromRequest(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return h
	}
	return r.URL.Query().Get("token")
}
