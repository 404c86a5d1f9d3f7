package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/pkg/config"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
)

// groupNameSeparator joins grade and division names in group display names.
const groupNameSeparator = " - "

type groupRepository interface {
	FindByID(ctx context.Context, id string) (*models.Group, error)
	FindByPair(ctx context.Context, gradeID, divisionID string) (*models.Group, error)
	CreateIfAbsent(ctx context.Context, group *models.Group) (bool, error)
	List(ctx context.Context, activeOnly bool) ([]models.GroupSummary, error)
	ListByGrade(ctx context.Context, gradeID string) ([]models.Group, error)
	ListByDivision(ctx context.Context, divisionID string) ([]models.Group, error)
	UpdateName(ctx context.Context, id, name, shortName string) error
	SetActive(ctx context.Context, id string, active bool) error
	InsertMembership(ctx context.Context, membership *models.GroupMembership) (bool, error)
	SoftDeleteMembershipsExcept(ctx context.Context, identityID string, kind models.MembershipKind, keep []string) (int64, error)
	SoftDeleteAllMemberships(ctx context.Context, identityID string) error
	LatestActiveGroup(ctx context.Context, identityID string) (*models.Group, error)
	ActiveGroups(ctx context.Context, identityID string) ([]models.Group, error)
	IsMember(ctx context.Context, identityID, groupID string) (bool, error)
	ListMembers(ctx context.Context, groupID string, kind models.MembershipKind) ([]models.UserAccount, error)
	ListMemberships(ctx context.Context, identityID string, includeDeleted bool) ([]models.GroupMembership, error)
}

type cohortLookup interface {
	FindGrade(ctx context.Context, id string) (*models.Grade, error)
	FindGradeByName(ctx context.Context, name string) (*models.Grade, error)
	FindDivision(ctx context.Context, id string) (*models.Division, error)
	FindDivisionByName(ctx context.Context, name string) (*models.Division, error)
}

// GroupService resolves (grade, division) pairs to groups and maintains
// memberships.
type GroupService struct {
	groups     groupRepository
	cohorts    cohortLookup
	tx         transactor
	policy     string
	locationID *string
	logger     *zap.Logger
}

// NewGroupService constructs a GroupService.
func NewGroupService(groups groupRepository, cohorts cohortLookup, tx transactor, cfg config.GroupsConfig, logger *zap.Logger) *GroupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tx == nil {
		tx = noTx{}
	}
	policy := cfg.OrphanPolicy
	if policy == "" {
		policy = config.OrphanPolicyRetain
	}
	var location *string
	if cfg.LocationID != "" {
		loc := cfg.LocationID
		location = &loc
	}
	return &GroupService{groups: groups, cohorts: cohorts, tx: tx, policy: policy, locationID: location, logger: logger}
}

// CanonicalName trims, collapses inner whitespace and upper-cases a grade or
// division name.
func CanonicalName(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), " "))
}

// ComposeGroupName renders the display name of a group.
func ComposeGroupName(gradeName, divisionName string) string {
	return gradeName + groupNameSeparator + divisionName
}

// DecomposeGroupName splits a display name on the first separator.
func DecomposeGroupName(name string) (gradeName, divisionName string, ok bool) {
	return strings.Cut(name, groupNameSeparator)
}

// Resolve returns the group for a pair or ErrNotFound.
func (s *GroupService) Resolve(ctx context.Context, gradeID, divisionID string) (*models.Group, error) {
	group, err := s.groups.FindByPair(ctx, gradeID, divisionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve group")
	}
	return group, nil
}

// ResolveByNames resolves a group from grade and division names.
func (s *GroupService) ResolveByNames(ctx context.Context, gradeName, divisionName string) (*models.Group, error) {
	grade, division, err := s.lookupByNames(ctx, gradeName, divisionName)
	if err != nil {
		return nil, err
	}
	return s.Resolve(ctx, grade.ID, division.ID)
}

// ResolveByGroupName resolves a "{Grade} - {Division}" display name.
func (s *GroupService) ResolveByGroupName(ctx context.Context, name string) (*models.Group, error) {
	gradeName, divisionName, ok := DecomposeGroupName(name)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "group name must look like \"grade - division\"")
	}
	return s.ResolveByNames(ctx, gradeName, divisionName)
}

// Get returns a group by id.
func (s *GroupService) Get(ctx context.Context, id string) (*models.Group, error) {
	group, err := s.groups.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	return group, nil
}

// Ensure returns the group for a pair, creating it when missing. Concurrent
// callers converge on one row. A deactivated group is reactivated.
func (s *GroupService) Ensure(ctx context.Context, gradeID, divisionID string) (*models.Group, error) {
	grade, err := s.cohorts.FindGrade(ctx, gradeID)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrUnknownGrade, "failed to load grade")
	}
	division, err := s.cohorts.FindDivision(ctx, divisionID)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrUnknownDivision, "failed to load division")
	}
	return s.EnsureFor(ctx, grade, division)
}

// EnsureFor is Ensure for already loaded grade and division records.
func (s *GroupService) EnsureFor(ctx context.Context, grade *models.Grade, division *models.Division) (*models.Group, error) {
	group, err := s.groups.FindByPair(ctx, grade.ID, division.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve group")
	}
	if group == nil {
		name := ComposeGroupName(grade.Name, division.Name)
		created, err := s.groups.CreateIfAbsent(ctx, &models.Group{
			GradeID:    grade.ID,
			DivisionID: division.ID,
			Name:       name,
			ShortName:  name,
			LocationID: s.locationID,
			Active:     true,
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create group")
		}
		if created {
			s.logger.Info("group created", zap.String("group", name))
		}
		if group, err = s.groups.FindByPair(ctx, grade.ID, division.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
		}
	}
	if !group.Active {
		if err := s.groups.SetActive(ctx, group.ID, true); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reactivate group")
		}
		group.Active = true
	}
	return group, nil
}

// Bind adds an active membership. Learners keep a single active group, so
// their other learner memberships become history first. Binding twice is a no-op.
func (s *GroupService) Bind(ctx context.Context, identityID, groupID string, kind models.MembershipKind) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if kind == models.MembershipLearner {
			if _, err := s.groups.SoftDeleteMembershipsExcept(ctx, identityID, kind, []string{groupID}); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to retire memberships")
			}
		}
		if _, err := s.groups.InsertMembership(ctx, s.membership(identityID, groupID, kind)); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to bind membership")
		}
		return nil
	})
}

// ReplaceTeacherGroups makes groupIDs the exact set of a teacher's active groups.
func (s *GroupService) ReplaceTeacherGroups(ctx context.Context, identityID string, groupIDs []string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.groups.SoftDeleteMembershipsExcept(ctx, identityID, models.MembershipTeacher, groupIDs); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to retire memberships")
		}
		for _, groupID := range groupIDs {
			if _, err := s.groups.InsertMembership(ctx, s.membership(identityID, groupID, models.MembershipTeacher)); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to bind membership")
			}
		}
		return nil
	})
}

// Release retires every active membership of an identity.
func (s *GroupService) Release(ctx context.Context, identityID string) error {
	if err := s.groups.SoftDeleteAllMemberships(ctx, identityID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release memberships")
	}
	return nil
}

// ReverseLookup returns the group of the identity's most recent active
// membership, or nil when it has none.
func (s *GroupService) ReverseLookup(ctx context.Context, identityID string) (*models.Group, error) {
	group, err := s.groups.LatestActiveGroup(ctx, identityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up group")
	}
	return group, nil
}

// History lists every membership of an identity, retired ones included,
// oldest first.
func (s *GroupService) History(ctx context.Context, identityID string) ([]models.GroupMembership, error) {
	memberships, err := s.groups.ListMemberships(ctx, identityID, true)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load membership history")
	}
	if memberships == nil {
		memberships = []models.GroupMembership{}
	}
	return memberships, nil
}

// ActiveGroups lists every group the identity is an active member of.
func (s *GroupService) ActiveGroups(ctx context.Context, identityID string) ([]models.Group, error) {
	groups, err := s.groups.ActiveGroups(ctx, identityID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list groups")
	}
	return groups, nil
}

// ActiveGroupIDs is ActiveGroups reduced to ids.
func (s *GroupService) ActiveGroupIDs(ctx context.Context, identityID string) ([]string, error) {
	groups, err := s.ActiveGroups(ctx, identityID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

// IsMember reports whether the identity is an active member of the group.
func (s *GroupService) IsMember(ctx context.Context, identityID, groupID string) (bool, error) {
	ok, err := s.groups.IsMember(ctx, identityID, groupID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check membership")
	}
	return ok, nil
}

// ListMembers returns the accounts bound to a group with the given kind.
func (s *GroupService) ListMembers(ctx context.Context, groupID string, kind models.MembershipKind) ([]models.UserAccount, error) {
	if _, err := s.Get(ctx, groupID); err != nil {
		return nil, err
	}
	members, err := s.groups.ListMembers(ctx, groupID, kind)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list members")
	}
	return members, nil
}

// List returns groups with learner counts.
func (s *GroupService) List(ctx context.Context, activeOnly bool) ([]models.GroupSummary, error) {
	groups, err := s.groups.List(ctx, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list groups")
	}
	return groups, nil
}

// RenameForGrade recomputes display names after a grade rename.
func (s *GroupService) RenameForGrade(ctx context.Context, grade *models.Grade) error {
	groups, err := s.groups.ListByGrade(ctx, grade.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list groups")
	}
	return s.rename(ctx, groups, func(g models.Group) (string, error) {
		division, err := s.cohorts.FindDivision(ctx, g.DivisionID)
		if err != nil {
			return "", err
		}
		return ComposeGroupName(grade.Name, division.Name), nil
	})
}

// RenameForDivision recomputes display names after a division rename.
func (s *GroupService) RenameForDivision(ctx context.Context, division *models.Division) error {
	groups, err := s.groups.ListByDivision(ctx, division.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list groups")
	}
	return s.rename(ctx, groups, func(g models.Group) (string, error) {
		grade, err := s.cohorts.FindGrade(ctx, g.GradeID)
		if err != nil {
			return "", err
		}
		return ComposeGroupName(grade.Name, division.Name), nil
	})
}

func (s *GroupService) rename(ctx context.Context, groups []models.Group, compose func(models.Group) (string, error)) error {
	for _, g := range groups {
		name, err := compose(g)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compose group name")
		}
		if name == g.Name {
			continue
		}
		if err := s.groups.UpdateName(ctx, g.ID, name, name); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rename group")
		}
	}
	return nil
}

// MappingRemoved applies the orphan policy to the group of a removed mapping.
// It returns the group when one exists.
func (s *GroupService) MappingRemoved(ctx context.Context, gradeID, divisionID string) (*models.Group, error) {
	group, err := s.groups.FindByPair(ctx, gradeID, divisionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve group")
	}
	switch s.policy {
	case config.OrphanPolicyDeactivate:
		if err := s.groups.SetActive(ctx, group.ID, false); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate group")
		}
		group.Active = false
		s.logger.Info("orphan group deactivated", zap.String("group_id", group.ID))
	default:
		s.logger.Info("orphan group retained", zap.String("group_id", group.ID))
	}
	return group, nil
}

func (s *GroupService) lookupByNames(ctx context.Context, gradeName, divisionName string) (*models.Grade, *models.Division, error) {
	grade, err := s.cohorts.FindGradeByName(ctx, CanonicalName(gradeName))
	if err != nil {
		return nil, nil, lookupError(err, appErrors.ErrUnknownGrade, "failed to load grade")
	}
	division, err := s.cohorts.FindDivisionByName(ctx, CanonicalName(divisionName))
	if err != nil {
		return nil, nil, lookupError(err, appErrors.ErrUnknownDivision, "failed to load division")
	}
	return grade, division, nil
}

func (s *GroupService) membership(identityID, groupID string, kind models.MembershipKind) *models.GroupMembership {
	location := ""
	if s.locationID != nil {
		location = *s.locationID
	}
	return &models.GroupMembership{IdentityID: identityID, GroupID: groupID, LocationID: location, Kind: kind}
}

// lookupError maps a missing row to notFound and anything else to an internal error.
func lookupError(err error, notFound *appErrors.Error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
