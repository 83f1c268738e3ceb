package rbac

import (
	"net/http"

	"consultation-service/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireOrg enforces that staff callers are scoped to an organisation.
// super_admin and service tokens are exempt; patients never reach routes that use this.
func RequireOrg() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := auth.Role(c.Request.Context())
		if IsSuperAdmin(role) || IsHiddenRole(role) {
			c.Next()
			return
		}
		if auth.OrgID(c.Request.Context()) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - super_admin bypasses all checks
// - service is a hidden role, and will be denied unless explicitly allowed
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsSuperAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
