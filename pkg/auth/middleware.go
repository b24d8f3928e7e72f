package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Middleware gates gin routes behind a valid bearer token and the
// token's run scope.
type Middleware struct {
	jwtSvc *JWTService
}

// NewMiddleware builds a Middleware from an already-constructed
// JWTService.
func NewMiddleware(jwtSvc *JWTService) *Middleware {
	return &Middleware{jwtSvc: jwtSvc}
}

// RequireScheduleAccess requires a valid bearer token whose scope
// allows reading the :scheduleId path parameter.
func (m *Middleware) RequireScheduleAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization token required", "code": "AUTH_TOKEN_MISSING"})
			c.Abort()
			return
		}

		claims, err := m.jwtSvc.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token", "code": "AUTH_TOKEN_INVALID"})
			c.Abort()
			return
		}

		if scheduleID := c.Param("scheduleId"); scheduleID != "" && !claims.Allows(scheduleID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "token scope does not permit this run", "code": "AUTH_SCOPE_DENIED"})
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}
