// Package middleware provides Gin HTTP middleware for push authentication,
// rate limiting, security headers, request IDs, and metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RequestID → Metrics → RateLimit → Auth → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any
// credential verification work.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nuget-registry/nuget-registry/internal/auth"
)

// APIKeyHeader is the header NuGet clients use to present a push key.
const APIKeyHeader = "X-NuGet-ApiKey"

// PushAuthMiddleware gates mutating endpoints (push, delete, relist) behind
// the configured push keys. The key is read from the X-NuGet-ApiKey header;
// when that is absent the basic-auth password is accepted as a fallback, which
// is how several clients deliver the secret.
//
// When no key is configured at all, the authenticator runs in open mode and
// every request passes. Rejections use 401 with the standard WWW-Authenticate
// challenge so clients can prompt for credentials.
func PushAuthMiddleware(authenticator *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader(APIKeyHeader)
		if presented == "" {
			if _, password, ok := c.Request.BasicAuth(); ok {
				presented = password
			}
		}

		if !authenticator.Authenticate(presented) {
			c.Header("WWW-Authenticate", `Basic realm="nuget-registry"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "A valid API key is required to perform this action",
			})
			return
		}

		c.Next()
	}
}

// ReadOnlyMiddleware rejects every request with 403. It is mounted on the
// mutating routes when packages.read_only is set, keeping the route table
// identical between modes so clients see a clear error instead of a 404.
func ReadOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "This registry is read-only",
		})
	}
}
