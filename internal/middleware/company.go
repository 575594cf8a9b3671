package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/siteops/site-entry-api/internal/models"
	appErrors "github.com/siteops/site-entry-api/pkg/errors"
	"github.com/siteops/site-entry-api/pkg/response"
)

// RequireCompanyType restricts a route to users whose company has one of the
// allowed types. Finer-grained checks (is this the request's intermediate
// company) stay in the services, which know the resource.
func RequireCompanyType(allowed ...models.CompanyType) gin.HandlerFunc {
	allowedTypes := make(map[models.CompanyType]struct{}, len(allowed))
	for _, t := range allowed {
		allowedTypes[t] = struct{}{}
	}

	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := claimsValue.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowedTypes[claims.CompanyType]; ok {
			c.Next()
			return
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
