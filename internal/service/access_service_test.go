package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/questplus-school-api/internal/models"
)

func TestAccessServiceCachesRole(t *testing.T) {
	db := newMemDB()
	cacheRepo := newMemCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewAccessService(memIdentities{db}, cache, time.Minute, nil, nil)
	teacher := db.seedAccount("F001", "tara@school.example", "", models.RoleTeacher)
	ctx := context.Background()

	role, ok := svc.Role(ctx, teacher.ID)
	require.True(t, ok)
	assert.Equal(t, models.RoleTeacher, role)
	assert.True(t, cacheRepo.has(roleCachePrefix+teacher.ID))

	// a stale cache entry wins until it is invalidated
	require.NoError(t, memIdentities{db}.UpdateRole(ctx, teacher.ID, models.RoleAdmin))
	role, _ = svc.Role(ctx, teacher.ID)
	assert.Equal(t, models.RoleTeacher, role)

	svc.Invalidate(ctx, teacher.ID)
	assert.False(t, cacheRepo.has(roleCachePrefix+teacher.ID))
	role, ok = svc.Role(ctx, teacher.ID)
	require.True(t, ok)
	assert.Equal(t, models.RoleAdmin, role)
}

func TestAccessServiceAllows(t *testing.T) {
	db := newMemDB()
	svc := NewAccessService(memIdentities{db}, nil, 0, nil, nil)
	learner := db.seedAccount("L15", "lia@school.example", "", models.RoleLearner)
	ctx := context.Background()

	assert.True(t, svc.Allows(ctx, learner.ID, models.RoleLearner))
	assert.False(t, svc.Allows(ctx, learner.ID, models.RoleAdmin, models.RoleTeacher))
	assert.False(t, svc.Allows(ctx, "", models.RoleLearner))
	assert.False(t, svc.Allows(ctx, "unknown", models.RoleLearner))

	role, ok := svc.Authorize(ctx, learner.ID, models.RoleTeacher, models.RoleLearner)
	require.True(t, ok)
	assert.Equal(t, models.RoleLearner, role)

	require.NoError(t, memIdentities{db}.SetActive(ctx, learner.ID, false))
	assert.False(t, svc.Allows(ctx, learner.ID, models.RoleLearner))
}

func TestAccessServiceRejectsUnknownRole(t *testing.T) {
	db := newMemDB()
	svc := NewAccessService(memIdentities{db}, nil, 0, nil, nil)
	odd := db.seedAccount("X001", "odd@school.example", "", models.Role("Janitor"))

	_, ok := svc.Role(context.Background(), odd.ID)
	assert.False(t, ok)
}

func TestAccessServiceCacheErrorFallsBack(t *testing.T) {
	db := newMemDB()
	cacheRepo := newMemCacheRepo()
	cacheRepo.getErr = errors.New("redis down")
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewAccessService(memIdentities{db}, cache, time.Minute, nil, nil)
	admin := db.seedAccount("A001", "admin@school.example", "", models.RoleAdmin)

	role, ok := svc.Role(context.Background(), admin.ID)
	require.True(t, ok)
	assert.Equal(t, models.RoleAdmin, role)
}
