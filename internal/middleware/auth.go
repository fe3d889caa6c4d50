package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"crisis-comms/internal/auth"
	"crisis-comms/internal/models"
)

// AuthMiddleware validates the Authorization header and stores the caller's
// identity on the request context.
func AuthMiddleware(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		identity, err := verifier.Verify(c.Request.Context(), parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("userID", identity.UserID)
		c.Set("role", string(identity.Role))
		c.Next()
	}
}

// RoleFromContext reads the authenticated role set by AuthMiddleware.
func RoleFromContext(c *gin.Context) models.Role {
	return models.Role(c.GetString("role"))
}
