package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/closeflow/closeflow/pkg/models"
)

// Context keys set by the auth middleware.
const (
	ContextUserID     = "user_id"
	ContextRole       = "role"
	ContextBusinessID = "business_id"
	ContextCallerID   = "caller_id"
)

// Claims is the only supported JWT claims shape for this service. A
// token carries at most one profile ID, matching its role.
type Claims struct {
	jwt.RegisteredClaims

	UserID     string          `json:"user_id"`
	Role       models.UserRole `json:"role"`
	BusinessID string          `json:"business_id,omitempty"`
	CallerID   string          `json:"caller_id,omitempty"`
}

// Auth verifies a Bearer token signed with HS256 and stashes the claims
// into the request context.
func Auth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := parseBearer(c.Request().Header.Get("Authorization"), secret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing token")
			}

			c.Set(ContextUserID, claims.UserID)
			c.Set(ContextRole, claims.Role)
			c.Set(ContextBusinessID, claims.BusinessID)
			c.Set(ContextCallerID, claims.CallerID)
			return next(c)
		}
	}
}

// RequireRole rejects requests whose token does not carry the given role.
// Must run after Auth.
func RequireRole(role models.UserRole) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got, ok := c.Get(ContextRole).(models.UserRole)
			if !ok || got != role {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
			}
			return next(c)
		}
	}
}

// BusinessID returns the business profile ID from the request context.
func BusinessID(c echo.Context) string {
	id, _ := c.Get(ContextBusinessID).(string)
	return id
}

// CallerID returns the caller profile ID from the request context.
func CallerID(c echo.Context) string {
	id, _ := c.Get(ContextCallerID).(string)
	return id
}

// UserID returns the account ID from the request context.
func UserID(c echo.Context) string {
	id, _ := c.Get(ContextUserID).(string)
	return id
}

func parseBearer(header, secret string) (*Claims, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, errors.New("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, prefix))

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
