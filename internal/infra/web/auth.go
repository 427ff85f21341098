// File: internal/infra/web/auth.go
package web

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/tenant"
	"practice-entitlement-engine/internal/infra/logging"
)

const (
	sessionCookieName = "session"
	sessionTTL        = 30 * 24 * time.Hour
)

// SessionClaims carries the authenticated tenant through the JWT.
type SessionClaims struct {
	TenantID int64 `json:"tid"`
	jwt.RegisteredClaims
}

// AuthManager mints and verifies tenant session tokens (HS256). Tokens are
// accepted from the Authorization header or the session cookie.
type AuthManager struct {
	secret []byte
	ttl    time.Duration
}

func NewAuthManager(secret string) *AuthManager {
	return &AuthManager{secret: []byte(secret), ttl: sessionTTL}
}

func (a *AuthManager) Mint(tenantID int64) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", tenantID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthManager) Parse(token string) (int64, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid || claims.TenantID == 0 {
		return 0, domain.ErrNotAuthenticated
	}
	return claims.TenantID, nil
}

// FromRequest extracts the tenant id from a bearer token, falling back to
// the session cookie.
func (a *AuthManager) FromRequest(r *http.Request) (int64, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return 0, domain.ErrNotAuthenticated
		}
		return a.Parse(token)
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return a.Parse(c.Value)
	}
	return 0, domain.ErrNotAuthenticated
}

// Middleware rejects unauthenticated requests and scopes the request
// context to the caller's tenant. Every handler behind it can rely on
// tenant.Require succeeding.
func (a *AuthManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := a.FromRequest(r)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := tenant.WithTenant(r.Context(), tenantID)
		ctx = logging.WithTenantID(ctx, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
