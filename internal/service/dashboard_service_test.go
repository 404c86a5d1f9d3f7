package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/pkg/config"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
)

func TestDashboardServiceHome(t *testing.T) {
	db := newMemDB()
	ctx := context.Background()
	groups := NewGroupService(memGroups{db}, memCohorts{db}, nil, config.GroupsConfig{}, nil)
	cacheRepo := newMemCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewDashboardService(memIdentities{db}, groups, memProjects{db}, cache, time.Minute, nil)

	grade, divisions := db.seedGrade("5", "A", "B")
	a, err := groups.EnsureFor(ctx, grade, divisions[0])
	require.NoError(t, err)
	_, err = groups.EnsureFor(ctx, grade, divisions[1])
	require.NoError(t, err)

	admin := db.seedAccount("A001", "admin@school.example", "", models.RoleAdmin)
	teacher := db.seedAccount("F001", "tara@school.example", "", models.RoleTeacher)
	learner := db.seedAccount("L15", "lia@school.example", "", models.RoleLearner)
	db.seedAccount("L25", "max@school.example", "", models.RoleLearner)
	require.NoError(t, groups.Bind(ctx, teacher.ID, a.ID, models.MembershipTeacher))
	require.NoError(t, groups.Bind(ctx, learner.ID, a.ID, models.MembershipLearner))

	projects := memProjects{db}
	project := &models.ClassroomProject{Title: "Alpha", GroupID: a.ID, GroupName: a.Name}
	require.NoError(t, projects.Create(ctx, project))
	require.NoError(t, projects.CreateSubmission(ctx, &models.ProjectSubmission{ProjectID: project.ID, StudentID: learner.ID, FileName: "work.pdf"}))

	t.Run("admin", func(t *testing.T) {
		dash, cached, err := svc.Home(ctx, admin.ID, models.RoleAdmin)
		require.NoError(t, err)
		assert.False(t, cached)
		require.NotNil(t, dash.Admin)
		assert.Equal(t, models.AdminDashboard{Teachers: 1, Students: 2, Groups: 2, Projects: 1}, *dash.Admin)
		assert.Nil(t, dash.Teacher)
		assert.True(t, cacheRepo.has("dash:admin"))

		again, cached, err := svc.Home(ctx, admin.ID, models.RoleAdmin)
		require.NoError(t, err)
		assert.True(t, cached)
		assert.Equal(t, dash.Admin, again.Admin)
	})

	t.Run("teacher", func(t *testing.T) {
		dash, _, err := svc.Home(ctx, teacher.ID, models.RoleTeacher)
		require.NoError(t, err)
		require.NotNil(t, dash.Teacher)
		require.Len(t, dash.Teacher.Groups, 1)
		assert.Equal(t, "5 - A", dash.Teacher.Groups[0].Name)
		assert.Equal(t, 1, dash.Teacher.Groups[0].StudentCount)
		assert.Equal(t, 1, dash.Teacher.Projects)
		assert.Equal(t, 1, dash.Teacher.Pending)
		assert.True(t, cacheRepo.has("dash:Teacher:"+teacher.ID))
	})

	t.Run("learner", func(t *testing.T) {
		dash, _, err := svc.Home(ctx, learner.ID, models.RoleLearner)
		require.NoError(t, err)
		require.NotNil(t, dash.Learner)
		require.NotNil(t, dash.Learner.Group)
		assert.Equal(t, a.ID, dash.Learner.Group.ID)
		assert.Equal(t, 1, dash.Learner.Projects)
		assert.Equal(t, 1, dash.Learner.Submissions)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, _, err := svc.Home(ctx, admin.ID, models.Role("Guest"))
		assertAppError(t, err, appErrors.ErrForbidden.Code)
	})
}

func TestDashboardServiceTeacherWithoutGroups(t *testing.T) {
	db := newMemDB()
	groups := NewGroupService(memGroups{db}, memCohorts{db}, nil, config.GroupsConfig{}, nil)
	svc := NewDashboardService(memIdentities{db}, groups, memProjects{db}, nil, 0, nil)
	teacher := db.seedAccount("F001", "tara@school.example", "", models.RoleTeacher)

	dash, cached, err := svc.Home(context.Background(), teacher.ID, models.RoleTeacher)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Empty(t, dash.Teacher.Groups)
	assert.NotNil(t, dash.Teacher.Groups)
	assert.Zero(t, dash.Teacher.Projects)
}
