package middleware

import (
	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"

	"github.com/szsip239/corebridge/internal/pkg/response"
)

// RequirePermission returns a middleware that checks a specific Casbin
// permission, gating the ops surface's connect/disconnect/request actions.
// This repository manages exactly one Core endpoint, so policies are scoped
// by role only — there is no department/domain dimension to enforce.
//
// Usage:
//
//	router.POST("/core/connect", middleware.RequirePermission(enforcer, "core", "connect"), handler.Connect)
func RequirePermission(enforcer *casbin.Enforcer, obj, act string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetUserRole(c)
		if role == "" {
			response.Unauthorized(c, "missing user role")
			c.Abort()
			return
		}

		if role == "SYSTEM_ADMIN" {
			c.Next()
			return
		}

		ok, err := enforcer.Enforce(role, obj, act)
		if err != nil {
			response.InternalError(c, "permission check failed")
			c.Abort()
			return
		}
		if !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}

		c.Next()
	}
}
