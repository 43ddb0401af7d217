package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/thecalistalife/review-service/pkg/errors"
	"github.com/thecalistalife/review-service/pkg/httputil"
)

type contextKeyType string

const (
	userIDKey contextKeyType = "user_id"
	roleKey   contextKeyType = "role"
)

// Headers set by the API gateway after it has authenticated the caller.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Claims are the caller attributes extracted from a bearer token.
type Claims struct {
	UserID string
	Email  string
	Role   string
}

// TokenValidator validates a raw bearer token and returns its claims.
type TokenValidator func(token string) (*Claims, error)

// NewJWTValidator returns a validator for HMAC-signed tokens issued by the user
// service. The subject is read from user_id, falling back to sub.
func NewJWTValidator(secret string) TokenValidator {
	key := []byte(secret)
	return newKeyfuncValidator(func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
}

// NewJWKSValidator returns a validator for asymmetrically signed tokens whose
// keys are resolved by keyfunc, typically a JWKS published by the identity
// provider. HMAC tokens are rejected so a public key can never act as a
// shared secret.
func NewJWKSValidator(keyfunc jwt.Keyfunc) TokenValidator {
	return newKeyfuncValidator(func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA, *jwt.SigningMethodRSAPSS, *jwt.SigningMethodEd25519:
			return keyfunc(t)
		default:
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
	})
}

func newKeyfuncValidator(keyfunc jwt.Keyfunc) TokenValidator {
	return func(raw string) (*Claims, error) {
		token, err := jwt.Parse(raw, keyfunc)
		if err != nil {
			return nil, fmt.Errorf("parse token: %w", err)
		}
		mc, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			return nil, fmt.Errorf("invalid token claims")
		}

		c := &Claims{}
		c.UserID, _ = mc["user_id"].(string)
		if c.UserID == "" {
			c.UserID, _ = mc["sub"].(string)
		}
		c.Email, _ = mc["email"].(string)
		c.Role, _ = mc["role"].(string)
		if c.UserID == "" {
			return nil, fmt.Errorf("token has no subject")
		}
		return c, nil
	}
}

// OptionalAuth attaches the caller's identity to the request context when one
// is presented and lets anonymous requests through. A bearer token wins over
// gateway headers; a malformed or invalid token is rejected with 401 rather
// than silently downgraded to anonymous. validate may be nil, in which case
// only gateway headers are honoured.
func OptionalAuth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if authHeader := r.Header.Get("Authorization"); authHeader != "" && validate != nil {
				scheme, token, ok := strings.Cut(authHeader, " ")
				if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
					httputil.WriteError(w, r, apperrors.Unauthorized("invalid authorization header format"), nil)
					return
				}
				claims, err := validate(token)
				if err != nil {
					httputil.WriteError(w, r, apperrors.Unauthorized("invalid or expired token"), nil)
					return
				}
				ctx = WithIdentity(ctx, claims.UserID, claims.Role)
			} else if id := strings.TrimSpace(r.Header.Get(HeaderUserID)); id != "" {
				ctx = WithIdentity(ctx, id, strings.TrimSpace(r.Header.Get(HeaderUserRole)))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects anonymous requests with 401 and authenticated requests
// lacking one of roles with 403.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserIDFromContext(r.Context()) == "" {
				httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), nil)
				return
			}
			if _, ok := allowed[RoleFromContext(r.Context())]; !ok {
				httputil.WriteError(w, r, apperrors.Forbidden("insufficient permissions"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithIdentity stores the caller's user ID and role in ctx.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, roleKey, role)
}

// UserIDFromContext returns the authenticated user ID, or "" for anonymous
// callers.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// RoleFromContext returns the authenticated caller's role.
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}
