package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"futameet/controllers"
	"futameet/directory"
)

// AuthMiddleware ensures the user is authenticated.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		matricNo, err := controllers.GetUserIDFromToken(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		// Set the user ID in the context for later use in the handler
		c.Set("userID", matricNo)

		c.Next()
	}
}

// LecturerMiddleware ensures the user is authenticated AND a lecturer.
func LecturerMiddleware(dir *directory.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.IsAborted() {
			return
		}

		userID, exists := c.Get("userID")
		if !exists {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "User ID not found in context"})
			c.Abort()
			return
		}

		matricNo, ok := userID.(string)
		if !ok || !dir.IsLecturer(matricNo) {
			c.JSON(http.StatusForbidden, gin.H{"message": "Forbidden: User is not a lecturer"})
			c.Abort()
			return
		}

		c.Next()
	}
}
