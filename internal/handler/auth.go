package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const orgKey = "org_id"

var errUnauthorized = errors.New("unauthorized")

// OrgClaims identifies the organization a caller acts for.
type OrgClaims struct {
	OrgID string `json:"org_id"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token scoped to orgID.
func IssueToken(secret []byte, orgID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := OrgClaims{
		OrgID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   orgID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseToken(secret []byte, token string) (OrgClaims, error) {
	if token == "" {
		return OrgClaims{}, errUnauthorized
	}
	parsed, err := jwt.ParseWithClaims(token, &OrgClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnauthorized
		}
		return secret, nil
	})
	if err != nil {
		return OrgClaims{}, errUnauthorized
	}
	claims, ok := parsed.Claims.(*OrgClaims)
	if !ok || !parsed.Valid || claims.OrgID == "" {
		return OrgClaims{}, errUnauthorized
	}
	return *claims, nil
}

// Auth rejects requests without a valid bearer token and stores the caller's
// organization on the context.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := parseToken(secret, extractBearer(c))
		if err != nil {
			c.String(http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}
		c.Set(orgKey, claims.OrgID)
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func orgID(c *gin.Context) string {
	return c.GetString(orgKey)
}
