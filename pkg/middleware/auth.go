package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/jwt"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/response"
)

const (
	UserIDKey     = "user_id"
	UsernameKey   = "username"
	RoleKey       = "role"
	ClaimsKey     = "claims"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	TokenQueryKey = "token"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// AuthMiddleware validates JWT tokens locally with the shared secret.
type AuthMiddleware struct {
	verifier TokenVerifier
}

// NewAuthMiddleware creates a new auth middleware. A nil verifier disables
// authentication: the identity is then taken from the role and subject
// query parameters (development only).
func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Enabled reports whether tokens are checked.
func (m *AuthMiddleware) Enabled() bool {
	return m.verifier != nil
}

// BearerToken extracts the token from the Authorization header, falling back
// to the token query parameter (browsers cannot set headers on a websocket
// upgrade).
func BearerToken(c *gin.Context) string {
	if h := c.GetHeader(AuthHeaderKey); strings.HasPrefix(h, BearerPrefix) {
		return strings.TrimPrefix(h, BearerPrefix)
	}
	return c.Query(TokenQueryKey)
}

// Authenticate resolves the caller's claims without aborting.
func (m *AuthMiddleware) Authenticate(c *gin.Context) (*jwt.Claims, error) {
	if m.verifier == nil {
		claims := &jwt.Claims{Role: c.DefaultQuery("role", jwt.RoleAdmin)}
		claims.Subject = c.DefaultQuery("subject", "dev-"+claims.Role)
		return claims, nil
	}
	token := BearerToken(c)
	if token == "" {
		return nil, jwt.ErrInvalidToken
	}
	return m.verifier.ValidateToken(token)
}

// RequireAuth returns a Gin middleware that validates JWT tokens.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := m.Authenticate(c)
		if err != nil {
			response.Unauthorized(c, err.Error())
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.Subject)
		c.Set(UsernameKey, claims.Username)
		c.Set(RoleKey, claims.Role)
		c.Set(ClaimsKey, claims)

		c.Next()
	}
}

// RequireRole aborts with 403 unless the authenticated role is one of roles.
// It must run after RequireAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "role "+role+" may not access this resource")
		c.Abort()
	}
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetRole extracts the role from Gin context.
func GetRole(c *gin.Context) string {
	return c.GetString(RoleKey)
}

// GetClaims extracts the verified claims from Gin context.
func GetClaims(c *gin.Context) *jwt.Claims {
	if v, ok := c.Get(ClaimsKey); ok {
		if claims, ok := v.(*jwt.Claims); ok {
			return claims
		}
	}
	return nil
}
