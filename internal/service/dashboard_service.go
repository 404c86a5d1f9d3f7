package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/questplus-school-api/internal/models"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
)

type dashboardCounts interface {
	CountActiveByRole(ctx context.Context, role models.Role) (int, error)
}

type dashboardGroups interface {
	List(ctx context.Context, activeOnly bool) ([]models.GroupSummary, error)
	ActiveGroupIDs(ctx context.Context, identityID string) ([]string, error)
	ReverseLookup(ctx context.Context, identityID string) (*models.Group, error)
}

type dashboardProjects interface {
	CountByGroups(ctx context.Context, groupIDs []string) (int, error)
	CountPendingReviews(ctx context.Context, groupIDs []string) (int, error)
	CountSubmissionsByStudent(ctx context.Context, studentID string) (int, error)
}

type dashboardCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
}

// DashboardService composes the role dispatched home payload.
type DashboardService struct {
	identities dashboardCounts
	groups     dashboardGroups
	projects   dashboardProjects
	cache      dashboardCache
	ttl        time.Duration
	logger     *zap.Logger
}

// NewDashboardService constructs a DashboardService. A non-positive ttl
// defaults to one minute.
func NewDashboardService(identities dashboardCounts, groups dashboardGroups, projects dashboardProjects, cache dashboardCache, ttl time.Duration, logger *zap.Logger) *DashboardService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{identities: identities, groups: groups, projects: projects, cache: cache, ttl: ttl, logger: logger}
}

// Home returns the dashboard for the caller's role and whether it came from cache.
func (s *DashboardService) Home(ctx context.Context, identityID string, role models.Role) (*models.Dashboard, bool, error) {
	key := fmt.Sprintf("dash:%s:%s", role, identityID)
	if role == models.RoleAdmin {
		key = "dash:admin"
	}
	if s.cache != nil {
		var cached models.Dashboard
		if s.cache.Get(ctx, key, &cached) {
			return &cached, true, nil
		}
	}

	var (
		dash *models.Dashboard
		err  error
	)
	switch role {
	case models.RoleAdmin:
		dash, err = s.admin(ctx)
	case models.RoleTeacher:
		dash, err = s.teacher(ctx, identityID)
	case models.RoleLearner:
		dash, err = s.learner(ctx, identityID)
	default:
		return nil, false, appErrors.ErrForbidden
	}
	if err != nil {
		return nil, false, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, dash, s.ttl)
	}
	return dash, false, nil
}

func (s *DashboardService) admin(ctx context.Context) (*models.Dashboard, error) {
	teachers, err := s.identities.CountActiveByRole(ctx, models.RoleTeacher)
	if err != nil {
		return nil, internalError(err, "failed to count teachers")
	}
	students, err := s.identities.CountActiveByRole(ctx, models.RoleLearner)
	if err != nil {
		return nil, internalError(err, "failed to count students")
	}
	groups, err := s.groups.List(ctx, true)
	if err != nil {
		return nil, err
	}
	projects, err := s.projects.CountByGroups(ctx, nil)
	if err != nil {
		return nil, internalError(err, "failed to count projects")
	}
	return &models.Dashboard{Role: models.RoleAdmin, Admin: &models.AdminDashboard{
		Teachers: teachers,
		Students: students,
		Groups:   len(groups),
		Projects: projects,
	}}, nil
}

func (s *DashboardService) teacher(ctx context.Context, teacherID string) (*models.Dashboard, error) {
	ids, err := s.groups.ActiveGroupIDs(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	section := &models.TeacherDashboard{Groups: []models.GroupSummary{}}
	if len(ids) > 0 {
		mine := make(map[string]bool, len(ids))
		for _, id := range ids {
			mine[id] = true
		}
		all, err := s.groups.List(ctx, false)
		if err != nil {
			return nil, err
		}
		for _, g := range all {
			if mine[g.ID] {
				section.Groups = append(section.Groups, g)
			}
		}
		if section.Projects, err = s.projects.CountByGroups(ctx, ids); err != nil {
			return nil, internalError(err, "failed to count projects")
		}
		if section.Pending, err = s.projects.CountPendingReviews(ctx, ids); err != nil {
			return nil, internalError(err, "failed to count pending reviews")
		}
	}
	return &models.Dashboard{Role: models.RoleTeacher, Teacher: section}, nil
}

func (s *DashboardService) learner(ctx context.Context, studentID string) (*models.Dashboard, error) {
	group, err := s.groups.ReverseLookup(ctx, studentID)
	if err != nil {
		return nil, err
	}
	section := &models.LearnerDashboard{Group: group}
	if group != nil {
		if section.Projects, err = s.projects.CountByGroups(ctx, []string{group.ID}); err != nil {
			return nil, internalError(err, "failed to count projects")
		}
	}
	if section.Submissions, err = s.projects.CountSubmissionsByStudent(ctx, studentID); err != nil {
		return nil, internalError(err, "failed to count submissions")
	}
	return &models.Dashboard{Role: models.RoleLearner, Learner: section}, nil
}
