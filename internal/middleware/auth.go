package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const CheckUserKey = "user_id"
const CheckRoleKey = "user_role"

// LoadUser reads the authenticated identity injected by the upstream gateway.
// This service trusts X-User-ID / X-User-Role blindly; authentication itself
// happens before traffic reaches us.
func LoadUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader("X-User-ID"); raw != "" {
			if id, err := strconv.ParseUint(raw, 10, 64); err == nil && id > 0 {
				c.Set(CheckUserKey, uint(id))
			}
		}
		if role := c.GetHeader("X-User-Role"); role != "" {
			c.Set(CheckRoleKey, role)
		}
		c.Next()
	}
}

// AuthRequired ensures a user identity is present
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(CheckUserKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid X-User-ID header"})
			return
		}
		c.Next()
	}
}

// AdminRequired ensures the gateway marked this identity as admin
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(CheckRoleKey)
		if !exists || role != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}
