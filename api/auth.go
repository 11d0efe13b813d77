package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medguardian/adherence-engine/adherence"
)

const tokenIssuer = "adherence-engine"

var errUnauthenticated = errors.New("missing or invalid bearer token")

// Authenticator issues and verifies HS256 bearer tokens. The subject claim
// carries the user ID.
type Authenticator struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{Secret: []byte(secret), TTL: ttl, Now: time.Now}
}

// Issue signs a token for user.
func (a *Authenticator) Issue(user adherence.UserID) (string, time.Time, error) {
	now := a.Now().UTC()
	exp := now.Add(a.TTL)
	claims := jwt.RegisteredClaims{
		Subject:   string(user),
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse verifies raw and returns its subject.
func (a *Authenticator) Parse(raw string) (adherence.UserID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return a.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.Now),
	)
	if err != nil {
		return "", errUnauthenticated
	}
	if claims.Subject == "" {
		return "", errUnauthenticated
	}
	return adherence.UserID(claims.Subject), nil
}

type ctxKey struct{}

// Middleware rejects requests without a valid bearer token and stores the
// caller's ID in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", errUnauthenticated)
			return
		}
		user, err := a.Parse(strings.TrimSpace(raw))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, user adherence.UserID) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFrom returns the authenticated user, or "" outside the middleware.
func UserFrom(ctx context.Context) adherence.UserID {
	user, _ := ctx.Value(ctxKey{}).(adherence.UserID)
	return user
}
