// Package auth validates bearer tokens issued by the clinic's identity
// service and places the tenant and acting user into the request context.
package auth

import (
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/clinicflow/clinic-inventory/pkg/actor"
	"github.com/clinicflow/clinic-inventory/pkg/config"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/clinicflow/clinic-inventory/pkg/httputil"
	"github.com/clinicflow/clinic-inventory/pkg/tenant"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims represents the access token claims
type Claims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	TenantID    string   `json:"tenant_id"`
}

// Manager validates (and, for tooling, issues) HS256 access tokens
type Manager struct {
	config *config.JWTConfig
}

// NewManager creates a new JWT manager
func NewManager(cfg *config.JWTConfig) *Manager {
	return &Manager{config: cfg}
}

// IssueAccessToken signs an access token for the given actor. The service
// itself never logs users in; this backs the dev-token command and tests.
func (m *Manager) IssueAccessToken(a *actor.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   a.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		UserID:      a.ID,
		Email:       a.Email,
		Name:        a.Name,
		Role:        a.Role,
		Permissions: a.Permissions,
		TenantID:    a.TenantID,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.config.Secret))
}

// ValidateAccessToken validates an access token and returns the claims
func (m *Manager) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.TokenInvalid()
		}
		return []byte(m.config.Secret), nil
	}, jwt.WithIssuer(m.config.Issuer))

	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.TokenExpired()
		}
		return nil, errors.TokenInvalid()
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.TokenInvalid()
	}

	return claims, nil
}

// Middleware authenticates the bearer token and sets tenant and actor.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.Error(w, errors.Unauthorized("missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.Error(w, errors.Unauthorized("invalid authorization header format"))
			return
		}

		claims, err := m.ValidateAccessToken(parts[1])
		if err != nil {
			httputil.Error(w, err)
			return
		}

		if _, err := uuid.Parse(claims.TenantID); err != nil {
			httputil.Error(w, errors.Forbidden("token carries no tenant"))
			return
		}

		userID := claims.UserID
		if userID == "" {
			userID = claims.Subject
		}

		ctx := tenant.WithTenantID(r.Context(), claims.TenantID)
		ctx = actor.WithActor(ctx, &actor.Actor{
			ID:          userID,
			Name:        claims.Name,
			Email:       claims.Email,
			TenantID:    claims.TenantID,
			Role:        claims.Role,
			Permissions: claims.Permissions,
		})
		httputil.RecordIdentity(ctx, claims.TenantID, userID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
