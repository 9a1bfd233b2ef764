package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const capabilitiesContextKey = "auth_capabilities"

// Middleware validates the bearer token and stores the caller's capabilities.
func (a *Authorizer) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		claims, err := a.ParseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		caps, err := a.Capabilities(c.Request.Context(), claimString(claims, claimSubject), claims)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve permissions"})
			return
		}
		c.Set(capabilitiesContextKey, caps)
		c.Next()
	}
}

// CapabilitiesFromContext returns what the middleware resolved.
func CapabilitiesFromContext(c *gin.Context) (Capabilities, bool) {
	val, ok := c.Get(capabilitiesContextKey)
	if !ok {
		return Capabilities{}, false
	}
	caps, ok := val.(Capabilities)
	return caps, ok
}

// RequireSuperAdmin rejects callers without the super admin capability.
func RequireSuperAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		caps, ok := CapabilitiesFromContext(c)
		if !ok || !caps.SuperAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// RequireOrganization rejects callers that are not members of the organization named
// by the route parameter.
func RequireOrganization(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caps, ok := CapabilitiesFromContext(c)
		if !ok || !caps.CanAccess(c.Param(param)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// CronGuard accepts only `Authorization: Bearer <secret>`.
func CronGuard(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if secret == "" || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
