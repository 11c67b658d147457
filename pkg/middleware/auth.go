package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GenerateControlToken generates a secure random token for control API authentication
func GenerateControlToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// TokenQueryParam carries the control token for clients that cannot set
// headers, such as browser websockets.
const TokenQueryParam = "access_token"

// ControlAuthMiddleware validates bearer tokens for the control API. The
// Authorization header wins over TokenQueryParam. When limiter is non-nil,
// clients that keep presenting bad tokens are locked out by IP.
func ControlAuthMiddleware(token string, limiter *AuthRateLimiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.ClientIP()
		if limiter != nil && !limiter.Allow(client) {
			c.Header("Retry-After", limiter.RetryAfter())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many failed authentication attempts"})
			return
		}

		reject := func(msg string) {
			if limiter != nil {
				limiter.RecordFailure(client)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
		}

		authHeader := c.GetHeader("Authorization")
		var presented string
		switch {
		case authHeader != "":
			// Extract token from "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				reject("Invalid authorization header format")
				return
			}
			presented = strings.TrimSpace(parts[1])
		case c.Query(TokenQueryParam) != "":
			presented = c.Query(TokenQueryParam)
		default:
			reject("Authorization header required")
			return
		}

		if presented == "" {
			reject("Token required")
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			logger.Warn("Invalid control token",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", client),
			)
			reject("Invalid token")
			return
		}

		c.Next()
	}
}
