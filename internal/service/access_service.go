package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/questplus-school-api/internal/models"
)

const roleCachePrefix = "access:role:"

type roleRepository interface {
	FindRole(ctx context.Context, id string) (models.Role, error)
}

type roleCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Delete(ctx context.Context, keys ...string) error
}

// AccessService derives the effective role of an identity from its stored
// profile on every check. Tokens carry no role.
type AccessService struct {
	roles   roleRepository
	cache   roleCache
	ttl     time.Duration
	metrics *MetricsService
	logger  *zap.Logger
}

// NewAccessService constructs an AccessService. The cache is only consulted
// when ttl is positive.
func NewAccessService(roles roleRepository, cache roleCache, ttl time.Duration, metrics *MetricsService, logger *zap.Logger) *AccessService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		cache = nil
	}
	return &AccessService{roles: roles, cache: cache, ttl: ttl, metrics: metrics, logger: logger}
}

// Role returns the current role of an active identity. ok is false when the
// identity is unknown, inactive, deleted or has no valid profile.
func (s *AccessService) Role(ctx context.Context, identityID string) (models.Role, bool) {
	if identityID == "" {
		return "", false
	}
	key := roleCachePrefix + identityID
	if s.cache != nil {
		var cached models.Role
		if s.cache.Get(ctx, key, &cached) && cached.Valid() {
			return cached, true
		}
	}

	role, err := s.roles.FindRole(ctx, identityID)
	if err != nil {
		if !isNoRows(err) {
			s.logger.Warn("role lookup failed", zap.String("identity_id", identityID), zap.Error(err))
		}
		return "", false
	}
	if !role.Valid() {
		s.logger.Warn("profile carries unknown role", zap.String("identity_id", identityID), zap.String("role", string(role)))
		return "", false
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, role, s.ttl)
	}
	return role, true
}

// Allows reports whether the identity currently holds one of roles. It never
// fails; any lookup problem is a denial.
func (s *AccessService) Allows(ctx context.Context, identityID string, roles ...models.Role) bool {
	_, allowed := s.Authorize(ctx, identityID, roles...)
	return allowed
}

// Authorize is Allows that also returns the derived role on success.
func (s *AccessService) Authorize(ctx context.Context, identityID string, roles ...models.Role) (models.Role, bool) {
	role, ok := s.Role(ctx, identityID)
	allowed := false
	if ok {
		for _, r := range roles {
			if r == role {
				allowed = true
				break
			}
		}
	}
	s.metrics.RecordAccessDecision(allowed)
	if !allowed {
		return "", false
	}
	return role, true
}

// Invalidate drops any cached role for the identity. Call it before returning
// from a role change, deactivation or deletion.
func (s *AccessService) Invalidate(ctx context.Context, identityID string) {
	if s == nil || s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, roleCachePrefix+identityID); err != nil {
		s.logger.Error("role cache invalidation failed", zap.String("identity_id", identityID), zap.Error(err))
	}
}
