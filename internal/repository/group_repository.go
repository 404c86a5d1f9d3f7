package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/questplus-school-api/internal/models"
)

const groupColumns = `g.id, g.grade_id, g.division_id, g.name, g.short_name, g.location_id, g.active, g.deleted, g.created_at, g.updated_at`

// GroupRepository stores groups and the memberships binding identities to them.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs the repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// FindByID returns a non-deleted group.
func (r *GroupRepository) FindByID(ctx context.Context, id string) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups g WHERE g.id = $1 AND g.deleted = FALSE`
	var group models.Group
	if err := conn(ctx, r.db).GetContext(ctx, &group, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find group: %w", err)
	}
	return &group, nil
}

// FindByPair returns the group keyed by the grade and division ids.
func (r *GroupRepository) FindByPair(ctx context.Context, gradeID, divisionID string) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups g WHERE g.grade_id = $1 AND g.division_id = $2 AND g.deleted = FALSE`
	var group models.Group
	if err := conn(ctx, r.db).GetContext(ctx, &group, query, gradeID, divisionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find group by pair: %w", err)
	}
	return &group, nil
}

// CreateIfAbsent inserts the group unless one already exists for its pair.
// It reports whether this call created the row.
func (r *GroupRepository) CreateIfAbsent(ctx context.Context, group *models.Group) (bool, error) {
	stampNew(&group.ID, &group.CreatedAt, &group.UpdatedAt)
	const query = `INSERT INTO groups (id, grade_id, division_id, name, short_name, location_id, active, deleted, created_at, updated_at)
VALUES (:id, :grade_id, :division_id, :name, :short_name, :location_id, :active, FALSE, :created_at, :updated_at)
ON CONFLICT (grade_id, division_id) DO NOTHING`
	res, err := conn(ctx, r.db).NamedExecContext(ctx, query, group)
	if err != nil {
		return false, fmt.Errorf("create group: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// List returns groups with their active learner counts.
func (r *GroupRepository) List(ctx context.Context, activeOnly bool) ([]models.GroupSummary, error) {
	query := `SELECT ` + groupColumns + `, COUNT(m.id) AS student_count FROM groups g
LEFT JOIN group_memberships m ON m.group_id = g.id AND m.deleted = FALSE AND m.kind = 'LEARNER'
WHERE g.deleted = FALSE`
	if activeOnly {
		query += ` AND g.active = TRUE`
	}
	query += ` GROUP BY g.id ORDER BY g.name`
	var groups []models.GroupSummary
	if err := conn(ctx, r.db).SelectContext(ctx, &groups, query); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// ListByGrade returns the groups built on a grade.
func (r *GroupRepository) ListByGrade(ctx context.Context, gradeID string) ([]models.Group, error) {
	return r.listWhere(ctx, "g.grade_id = $1", gradeID)
}

// ListByDivision returns the groups built on a division.
func (r *GroupRepository) ListByDivision(ctx context.Context, divisionID string) ([]models.Group, error) {
	return r.listWhere(ctx, "g.division_id = $1", divisionID)
}

func (r *GroupRepository) listWhere(ctx context.Context, where string, arg interface{}) ([]models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups g WHERE ` + where + ` AND g.deleted = FALSE ORDER BY g.name`
	var groups []models.Group
	if err := conn(ctx, r.db).SelectContext(ctx, &groups, query, arg); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// UpdateName rewrites the derived display names.
func (r *GroupRepository) UpdateName(ctx context.Context, id, name, shortName string) error {
	const query = `UPDATE groups SET name = $2, short_name = $3, updated_at = $4 WHERE id = $1`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, name, shortName, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rename group: %w", err)
	}
	return requireAffected(res, "rename group")
}

// SetActive toggles the active flag of a group.
func (r *GroupRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE groups SET active = $2, updated_at = $3 WHERE id = $1 AND deleted = FALSE`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set group active: %w", err)
	}
	return requireAffected(res, "set group active")
}

// InsertMembership adds an active membership unless an identical one exists.
func (r *GroupRepository) InsertMembership(ctx context.Context, membership *models.GroupMembership) (bool, error) {
	stampNew(&membership.ID, &membership.CreatedAt, &membership.UpdatedAt)
	const query = `INSERT INTO group_memberships (id, identity_id, group_id, location_id, kind, deleted, import_code, created_at, updated_at)
VALUES (:id, :identity_id, :group_id, :location_id, :kind, FALSE, :import_code, :created_at, :updated_at)
ON CONFLICT (identity_id, location_id, group_id) WHERE deleted = FALSE DO NOTHING`
	res, err := conn(ctx, r.db).NamedExecContext(ctx, query, membership)
	if err != nil {
		return false, fmt.Errorf("insert membership: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SoftDeleteMembershipsExcept marks every active membership of the given kind
// deleted unless its group is listed in keep. It returns the affected count.
func (r *GroupRepository) SoftDeleteMembershipsExcept(ctx context.Context, identityID string, kind models.MembershipKind, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	const query = `UPDATE group_memberships SET deleted = TRUE, updated_at = $4
WHERE identity_id = $1 AND kind = $2 AND deleted = FALSE AND NOT (group_id = ANY($3))`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, identityID, string(kind), pq.Array(keep), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("soft delete memberships: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SoftDeleteAllMemberships retires every active membership of an identity.
func (r *GroupRepository) SoftDeleteAllMemberships(ctx context.Context, identityID string) error {
	const query = `UPDATE group_memberships SET deleted = TRUE, updated_at = $2 WHERE identity_id = $1 AND deleted = FALSE`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, identityID, time.Now().UTC()); err != nil {
		return fmt.Errorf("soft delete memberships: %w", err)
	}
	return nil
}

// LatestActiveGroup returns the group of the most recent active membership.
func (r *GroupRepository) LatestActiveGroup(ctx context.Context, identityID string) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM group_memberships m JOIN groups g ON g.id = m.group_id
WHERE m.identity_id = $1 AND m.deleted = FALSE AND g.deleted = FALSE ORDER BY m.created_at DESC LIMIT 1`
	var group models.Group
	if err := conn(ctx, r.db).GetContext(ctx, &group, query, identityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("latest active group: %w", err)
	}
	return &group, nil
}

// ActiveGroups returns every group with an active membership for the identity.
func (r *GroupRepository) ActiveGroups(ctx context.Context, identityID string) ([]models.Group, error) {
	query := `SELECT DISTINCT ` + groupColumns + ` FROM group_memberships m JOIN groups g ON g.id = m.group_id
WHERE m.identity_id = $1 AND m.deleted = FALSE AND g.deleted = FALSE ORDER BY g.name`
	var groups []models.Group
	if err := conn(ctx, r.db).SelectContext(ctx, &groups, query, identityID); err != nil {
		return nil, fmt.Errorf("active groups: %w", err)
	}
	return groups, nil
}

// IsMember reports whether the identity holds an active membership in the group.
func (r *GroupRepository) IsMember(ctx context.Context, identityID, groupID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM group_memberships WHERE identity_id = $1 AND group_id = $2 AND deleted = FALSE)`
	var exists bool
	if err := conn(ctx, r.db).GetContext(ctx, &exists, query, identityID, groupID); err != nil {
		return false, fmt.Errorf("membership exists: %w", err)
	}
	return exists, nil
}

// ListMemberships returns the membership history of an identity.
func (r *GroupRepository) ListMemberships(ctx context.Context, identityID string, includeDeleted bool) ([]models.GroupMembership, error) {
	query := `SELECT id, identity_id, group_id, location_id, kind, deleted, import_code, created_at, updated_at FROM group_memberships WHERE identity_id = $1`
	if !includeDeleted {
		query += ` AND deleted = FALSE`
	}
	query += ` ORDER BY created_at`
	var memberships []models.GroupMembership
	if err := conn(ctx, r.db).SelectContext(ctx, &memberships, query, identityID); err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return memberships, nil
}

// ListMembers returns the active accounts bound to a group with the given kind.
func (r *GroupRepository) ListMembers(ctx context.Context, groupID string, kind models.MembershipKind) ([]models.UserAccount, error) {
	query := `SELECT ` + accountColumns + ` ` + accountFrom + `
JOIN group_memberships m ON m.identity_id = i.id
WHERE m.group_id = $1 AND m.kind = $2 AND m.deleted = FALSE AND i.deleted = FALSE
ORDER BY p.first_name, p.last_name`
	var accounts []models.UserAccount
	if err := conn(ctx, r.db).SelectContext(ctx, &accounts, query, groupID, string(kind)); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return accounts, nil
}

