package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────
// Bearer Token Authentication Middleware
//
// If a token is configured, all routes require: Authorization: Bearer <token>
// ──────────────────────────────────────────────────────────────────

// AuthMiddleware returns a Gin middleware that validates bearer tokens
// against token. If token is empty, all requests are allowed (dev mode).
// WARNING: in release mode, leaving the token unset exposes every route
// to the public internet. Always set a strong token in prod.
func AuthMiddleware(token string, ginMode string) gin.HandlerFunc {
	// Fail loudly in production if auth is not configured.
	if token == "" && ginMode == "release" {
		log.Println("[SECURITY WARNING] no auth token is configured in release mode. " +
			"All endpoints are publicly accessible. Set an auth token to enforce authentication.")
	}

	return func(c *gin.Context) {
		// If no token is configured, skip auth (development mode)
		if token == "" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing Authorization header",
				"hint":  "Use: Authorization: Bearer <API_AUTH_TOKEN>",
			})
			c.Abort()
			return
		}

		// Parse "Bearer <token>"
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid Authorization header format"})
			c.Abort()
			return
		}

		// Use constant-time comparison to prevent timing-based token enumeration.
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
