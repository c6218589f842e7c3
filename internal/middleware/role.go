package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/peerline/backend/pkg/response"
)

// Role returns the authenticated caller's role, or "".
func Role(c *gin.Context) string { return c.GetString(ContextUserRole) }

// RequireRole allows only callers whose token carries one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		switch role := Role(c); {
		case role == "":
			response.Unauthorized(c, "missing user context")
		case !allowed[role]:
			response.Forbidden(c, "insufficient permissions")
		default:
			c.Next()
			return
		}
		c.Abort()
	}
}
