package middleware

import (
	"strings"

	"github.com/callmonitor/courier/internal/pkg/jwt"
	"github.com/callmonitor/courier/internal/pkg/response"
	"github.com/gin-gonic/gin"
)

const (
	ContextKeyTenantID = "tenant_id"
	ContextKeyUserID   = "user_id"
	ContextKeyRole     = "role"
)

// Auth requires a valid bearer token and stores its tenant and user on the context.
func Auth(signer *jwt.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := signer.Parse(extractToken(c))
		if err != nil {
			response.Unauthorized(c)
			return
		}
		c.Set(ContextKeyTenantID, claims.TenantID)
		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyRole, claims.Role)
		c.Next()
	}
}

// RequireOperator must run after Auth.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextKeyRole) != jwt.RoleOperator {
			response.Forbidden(c)
			return
		}
		c.Next()
	}
}

// TenantID returns the authenticated tenant.
func TenantID(c *gin.Context) string { return c.GetString(ContextKeyTenantID) }

// UserID returns the authenticated user, if any.
func UserID(c *gin.Context) string { return c.GetString(ContextKeyUserID) }

func extractToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
