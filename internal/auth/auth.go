package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const PrincipalContextKey ContextKey = "principal"

const (
	ScopeRead   = "read"
	ScopeIngest = "ingest"
)

const defaultTokenTTL = 24 * time.Hour

var ErrNotInitialized = errors.New("auth not initialized")

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject string   `json:"subject"`
	Scopes  []string `json:"scopes"`
}

func (p *Principal) HasScope(scope string) bool {
	return p != nil && slices.Contains(p.Scopes, scope)
}

type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

var (
	authConfig *AuthConfig
)

type AuthConfig struct {
	JwtSecret []byte
	TokenTTL  time.Duration
	Enabled   bool
}

// InitializeAuth sets up the auth configuration
func InitializeAuth(jwtSecret string, tokenTTL time.Duration, enabled bool) {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	authConfig = &AuthConfig{
		JwtSecret: []byte(jwtSecret),
		TokenTTL:  tokenTTL,
		Enabled:   enabled,
	}
}

// IsAuthEnabled returns whether authentication is enabled
func IsAuthEnabled() bool {
	if authConfig == nil {
		return false
	}
	return authConfig.Enabled
}

// GenerateJWT issues a service token for subject carrying scopes.
func GenerateJWT(subject string, scopes []string) (string, error) {
	if authConfig == nil {
		return "", ErrNotInitialized
	}
	if len(authConfig.JwtSecret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(authConfig.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(authConfig.JwtSecret)
}

// ValidateJWT validates and parses a JWT token
func ValidateJWT(tokenString string) (*Principal, error) {
	if authConfig == nil {
		return nil, ErrNotInitialized
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return authConfig.JwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return &Principal{Subject: claims.Subject, Scopes: claims.Scopes}, nil
	}
	return nil, fmt.Errorf("invalid token")
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return ""
}

// RequireScope rejects requests without a valid token carrying scope.
// When auth is disabled every request passes through.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsAuthEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			tokenString := tokenFromRequest(r)
			if tokenString == "" {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}
			p, err := ValidateJWT(tokenString)
			if err != nil {
				http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
				return
			}
			if !p.HasScope(scope) {
				http.Error(w, "Missing scope "+scope, http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalContextKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipalFromContext extracts the caller from request context
func GetPrincipalFromContext(r *http.Request) *Principal {
	if p, ok := r.Context().Value(PrincipalContextKey).(*Principal); ok {
		return p
	}
	return nil
}
