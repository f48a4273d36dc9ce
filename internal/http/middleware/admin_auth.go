package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the role claim required on moderation routes.
const RoleAdmin = "admin"

// ctxKeyAdminSubject holds the "sub" claim of an authenticated admin.
const ctxKeyAdminSubject = "admin.subject"

// AdminClaims are the JWT claims accepted by AdminAuth.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewAdminToken signs an HS256 admin token for subject, valid for ttl. Used
// by operators and tests; the API never issues tokens itself.
func NewAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("empty signing key")
	}
	now := time.Now()
	claims := AdminClaims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseAdminToken verifies raw with secret and returns its claims. Only
// HS256 is accepted and the role claim must be "admin".
func ParseAdminToken(secret, raw string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.Role != RoleAdmin {
		return nil, errors.New("admin role required")
	}
	return claims, nil
}

// AdminSubject returns the subject of the authenticated admin, if any.
func AdminSubject(c *gin.Context) string {
	v, _ := c.Get(ctxKeyAdminSubject)
	return asString(v)
}

// AdminAuth guards moderation routes with a Bearer JWT signed by secret.
//
//   - empty secret: every request gets 404, so admin routes do not exist
//     unless configured.
//   - missing or malformed token: 401 unauthorized.
//   - valid signature without the admin role, or expired: 401 unauthorized.
func AdminAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"request_id": GetRequestID(c),
				"code":       "not_found",
				"message":    "route not found",
			})
			return
		}

		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Header("WWW-Authenticate", `Bearer realm="admin"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": GetRequestID(c),
				"code":       "unauthorized",
				"message":    "missing bearer token",
			})
			return
		}

		claims, err := ParseAdminToken(secret, raw)
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("admin token rejected")
			c.Header("WWW-Authenticate", `Bearer realm="admin", error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": GetRequestID(c),
				"code":       "unauthorized",
				"message":    "invalid admin token",
			})
			return
		}

		c.Set(ctxKeyAdminSubject, claims.Subject)
		c.Next()
	}
}

func bearerToken(h string) (string, bool) {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}
