package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/questplus-school-api/internal/models"
)

// LegacyRepository reads the external directory tables used for shadow
// provisioning. It never writes.
type LegacyRepository struct {
	db *sqlx.DB
}

// NewLegacyRepository constructs the repository.
func NewLegacyRepository(db *sqlx.DB) *LegacyRepository {
	return &LegacyRepository{db: db}
}

// FindIdentity returns the active directory record for a user name.
func (r *LegacyRepository) FindIdentity(ctx context.Context, userName string) (*models.LegacyIdentity, error) {
	const query = `SELECT user_id, user_name, email, first_name, last_name, phone_number, institution_id, active, deleted
FROM legacy_identities WHERE user_name = $1 AND active = TRUE AND deleted = FALSE LIMIT 1`
	var identity models.LegacyIdentity
	if err := conn(ctx, r.db).GetContext(ctx, &identity, query, userName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find legacy identity: %w", err)
	}
	return &identity, nil
}

// FindRoles returns the directory role names assigned to a legacy user.
func (r *LegacyRepository) FindRoles(ctx context.Context, userID string) ([]models.LegacyRoleAssignment, error) {
	const query = `SELECT user_id, role_name FROM legacy_role_assignments WHERE user_id = $1 ORDER BY role_name`
	var roles []models.LegacyRoleAssignment
	if err := conn(ctx, r.db).SelectContext(ctx, &roles, query, userID); err != nil {
		return nil, fmt.Errorf("find legacy roles: %w", err)
	}
	return roles, nil
}
