package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/openshs/enrollment-api/internal/access"
	appErrors "github.com/openshs/enrollment-api/pkg/errors"
	"github.com/openshs/enrollment-api/pkg/response"
)

// RequireCapability gates a route on the same capability resolution that
// drives the navigation menu, so a screen a user can see is exactly a route
// they can call. When impersonating, the impersonated identity is checked.
func RequireCapability(capability string) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := SessionFromContext(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !access.Can(session.Effective(), capability) {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
