package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/Data-Analyst4/tally-connect/internal/api/generated"
	"github.com/Data-Analyst4/tally-connect/internal/domain"
)

// Authorizer decides whether an actor holds a permission.
type Authorizer interface {
	Authorize(actor domain.Actor, perm string) error
}

// OperationSecurity enforces the bearerAuth requirement the generated
// wrapper records for an operation: a valid token whose roles grant every
// listed scope. Operations declared with no security pass through.
// It is meant for generated.GinServerOptions.Middlewares.
func OperationSecurity(cfg JWTConfig, authz Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, secured := c.Get(generated.BearerAuthScopes)
		if !secured {
			return
		}
		if !authenticate(c, cfg) {
			return
		}
		actor, _ := ActorFrom(c.Request.Context())
		scopes, _ := raw.([]string)
		for _, perm := range scopes {
			if err := authz.Authorize(actor, perm); err != nil {
				Abort(c, err)
				return
			}
		}
	}
}
