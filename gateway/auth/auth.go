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

// Principal represents an authenticated API client.
type Principal struct {
	Subject string
}

type principalKey struct{}

// FromContext returns the authenticated principal, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(Principal)
	return principal, ok
}

var (
	// ErrMissingToken indicates the request carried no bearer credential.
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrInvalidToken indicates the credential failed verification.
	ErrInvalidToken = errors.New("auth: invalid bearer token")
)

// Authenticator verifies HS256 bearer tokens on mutating routes.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewAuthenticator builds an authenticator for the shared secret. Issuer and
// audience are enforced only when non-empty.
func NewAuthenticator(secret, issuer, audience string) (*Authenticator, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, fmt.Errorf("auth: secret required")
	}
	return &Authenticator{
		secret:   []byte(trimmed),
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
		now:      time.Now,
	}, nil
}

// SetNowFunc overrides the verification clock, primarily for tests.
func (a *Authenticator) SetNowFunc(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// Verify parses and validates a raw bearer token, returning the principal.
func (a *Authenticator) Verify(raw string) (Principal, error) {
	if a == nil {
		return Principal{}, fmt.Errorf("auth: authenticator not configured")
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Principal{}, ErrMissingToken
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		options = append(options, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		options = append(options, jwt.WithAudience(a.audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(trimmed, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, options...)
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Principal{Subject: strings.TrimSpace(claims.Subject)}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// principal on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		principal, err := a.Verify(header[len(prefix):])
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
