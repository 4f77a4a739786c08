package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/teamflowhq/teamflow/internal/utils"
)

const (
	ContextUserID        = "user_id"
	ContextPreferredName = "preferred_name"
	ContextTms           = "tms"
)

// AuthRequired is a middleware that checks for a valid JWT token
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		tokenString := parts[1]
		claims, err := utils.ParseToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		// Set user info in context
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextPreferredName, claims.PreferredName)
		c.Set(ContextTms, claims.Tms)

		c.Next()
	}
}

// GetUserID gets the current user ID from context
func GetUserID(c *gin.Context) string {
	if id, exists := c.Get(ContextUserID); exists {
		return id.(string)
	}
	return ""
}

// GetPreferredName gets the current user's display name from context
func GetPreferredName(c *gin.Context) string {
	if name, exists := c.Get(ContextPreferredName); exists {
		return name.(string)
	}
	return ""
}

// GetTms gets the team ids of the current user's token
func GetTms(c *gin.Context) []string {
	if tms, exists := c.Get(ContextTms); exists {
		if ids, ok := tms.([]string); ok {
			return ids
		}
	}
	return nil
}

// IsTeamMember reports whether the authenticated user belongs to teamID.
func IsTeamMember(c *gin.Context, teamID string) bool {
	for _, id := range GetTms(c) {
		if id == teamID {
			return true
		}
	}
	return false
}

// RequireTeamMember aborts with 403 unless the authenticated user
// belongs to teamID.
func RequireTeamMember(c *gin.Context, teamID string) bool {
	if IsTeamMember(c, teamID) {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "team access required"})
	c.Abort()
	return false
}
