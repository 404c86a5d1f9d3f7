package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/questplus-school-api/internal/models"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
	"github.com/noah-isme/questplus-school-api/pkg/response"
)

// ContextRoleKey stores the role derived for the current request.
const ContextRoleKey = "currentRole"

// Authorizer derives an identity's current role from its profile.
type Authorizer interface {
	Authorize(ctx context.Context, identityID string, roles ...models.Role) (models.Role, bool)
}

// MembershipChecker reports active group membership.
type MembershipChecker interface {
	IsMember(ctx context.Context, identityID, groupID string) (bool, error)
}

// RequireRoles admits callers whose current profile role is one of roles.
// The role is looked up per request, never read from the token.
func RequireRoles(access Authorizer, roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := CurrentUserID(c)
		if userID == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		role, ok := access.Authorize(c.Request.Context(), userID, roles...)
		if !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Set(ContextRoleKey, role)
		c.Next()
	}
}

// CurrentRole returns the role stored by RequireRoles.
func CurrentRole(c *gin.Context) models.Role {
	if value, ok := c.Get(ContextRoleKey); ok {
		if role, ok := value.(models.Role); ok {
			return role
		}
	}
	return ""
}

// RequireGroupAccess must run after RequireRoles. Admins pass; anyone else
// must be an active member of the group named by the route param.
func RequireGroupAccess(groups MembershipChecker, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentRole(c) == models.RoleAdmin {
			c.Next()
			return
		}
		groupID := c.Param(param)
		member, err := groups.IsMember(c.Request.Context(), CurrentUserID(c), groupID)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if !member {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "you are not assigned to this group"))
			c.Abort()
			return
		}
		c.Next()
	}
}
