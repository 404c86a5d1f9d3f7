package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/questplus-school-api/internal/models"
)

const identityColumns = `i.id, i.username, i.email, i.password_hash, i.active, i.deleted, i.institution_id, i.last_login, i.created_at, i.updated_at`

const accountColumns = identityColumns + `, p.identity_id, p.role, p.first_name, p.last_name, p.gender, p.date_of_birth, p.grade_id, p.division_id, p.admission_no, p.contact_no, p.alt_contact_no, g.name AS grade_name, d.name AS division_name`

const accountFrom = `FROM identities i JOIN profiles p ON p.identity_id = i.id LEFT JOIN grades g ON g.id = p.grade_id LEFT JOIN divisions d ON d.id = p.division_id`

// IdentityRepository stores identities, their profiles and refresh sessions.
type IdentityRepository struct {
	db *sqlx.DB
}

// NewIdentityRepository creates a new instance of IdentityRepository.
func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) findOne(ctx context.Context, where string, arg interface{}, label string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities i WHERE ` + where + ` AND i.deleted = FALSE LIMIT 1`
	var identity models.Identity
	if err := conn(ctx, r.db).GetContext(ctx, &identity, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find identity by %s: %w", label, err)
	}
	return &identity, nil
}

// FindByID returns a non-deleted identity by id.
func (r *IdentityRepository) FindByID(ctx context.Context, id string) (*models.Identity, error) {
	return r.findOne(ctx, "i.id = $1", id, "id")
}

// FindByUsername returns a non-deleted identity by login handle.
func (r *IdentityRepository) FindByUsername(ctx context.Context, username string) (*models.Identity, error) {
	return r.findOne(ctx, "i.username = $1", username, "username")
}

// FindByEmail returns a non-deleted identity by email, case-insensitively.
func (r *IdentityRepository) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	return r.findOne(ctx, "LOWER(i.email) = LOWER($1)", email, "email")
}

// FindByIdentifier matches either the login handle or the email.
func (r *IdentityRepository) FindByIdentifier(ctx context.Context, identifier string) (*models.Identity, error) {
	return r.findOne(ctx, "(i.username = $1 OR LOWER(i.email) = LOWER($1))", identifier, "identifier")
}

// FindAccount returns the joined identity and profile view.
func (r *IdentityRepository) FindAccount(ctx context.Context, id string) (*models.UserAccount, error) {
	query := `SELECT ` + accountColumns + ` ` + accountFrom + ` WHERE i.id = $1 AND i.deleted = FALSE LIMIT 1`
	var account models.UserAccount
	if err := conn(ctx, r.db).GetContext(ctx, &account, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &account, nil
}

// FindByFullName returns the oldest non-deleted account holding role whose
// first and last names match case-insensitively.
func (r *IdentityRepository) FindByFullName(ctx context.Context, role models.Role, firstName, lastName string) (*models.UserAccount, error) {
	query := `SELECT ` + accountColumns + ` ` + accountFrom + ` WHERE i.deleted = FALSE AND p.role = $1 AND LOWER(p.first_name) = LOWER($2) AND LOWER(p.last_name) = LOWER($3) ORDER BY i.created_at LIMIT 1`
	var account models.UserAccount
	if err := conn(ctx, r.db).GetContext(ctx, &account, query, role, firstName, lastName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find account by name: %w", err)
	}
	return &account, nil
}

// FindRole reads the role tag of an active, non-deleted identity with a single
// primary key lookup.
func (r *IdentityRepository) FindRole(ctx context.Context, id string) (models.Role, error) {
	const query = `SELECT p.role FROM profiles p JOIN identities i ON i.id = p.identity_id WHERE p.identity_id = $1 AND i.active = TRUE AND i.deleted = FALSE`
	var role models.Role
	if err := conn(ctx, r.db).GetContext(ctx, &role, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("find role: %w", err)
	}
	return role, nil
}

// Create inserts a new identity.
func (r *IdentityRepository) Create(ctx context.Context, identity *models.Identity) error {
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now

	const query = `INSERT INTO identities (id, username, email, password_hash, active, deleted, institution_id, created_at, updated_at) VALUES (:id, :username, :email, :password_hash, :active, :deleted, :institution_id, :created_at, :updated_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, identity); err != nil {
		return fmt.Errorf("create identity: %w", mapPQError(err))
	}
	return nil
}

// CreateProfile inserts the profile that belongs to an identity.
func (r *IdentityRepository) CreateProfile(ctx context.Context, profile *models.Profile) error {
	const query = `INSERT INTO profiles (identity_id, role, first_name, last_name, gender, date_of_birth, grade_id, division_id, admission_no, contact_no, alt_contact_no) VALUES (:identity_id, :role, :first_name, :last_name, :gender, :date_of_birth, :grade_id, :division_id, :admission_no, :contact_no, :alt_contact_no)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, profile); err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// UpdateProfile updates the mutable profile fields. The role is changed via UpdateRole.
func (r *IdentityRepository) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	const query = `UPDATE profiles SET first_name = :first_name, last_name = :last_name, gender = :gender, date_of_birth = :date_of_birth, grade_id = :grade_id, division_id = :division_id, admission_no = :admission_no, contact_no = :contact_no, alt_contact_no = :alt_contact_no WHERE identity_id = :identity_id`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, profile); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// UpdateRole replaces the role tag of an identity.
func (r *IdentityRepository) UpdateRole(ctx context.Context, id string, role models.Role) error {
	const query = `UPDATE profiles SET role = $2 WHERE identity_id = $1`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, role)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return requireAffected(res, "update role")
}

// UpdateEmail changes the email of an identity.
func (r *IdentityRepository) UpdateEmail(ctx context.Context, id, email string) error {
	const query = `UPDATE identities SET email = $2, updated_at = $3 WHERE id = $1 AND deleted = FALSE`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, id, email, time.Now().UTC()); err != nil {
		return fmt.Errorf("update email: %w", mapPQError(err))
	}
	return nil
}

// UpdateLastLogin updates the last_login timestamp for an identity.
func (r *IdentityRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE identities SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword updates the stored password hash.
func (r *IdentityRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE identities SET password_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// SetActive toggles the active flag.
func (r *IdentityRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE identities SET active = $2, updated_at = $3 WHERE id = $1 AND deleted = FALSE`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	return requireAffected(res, "set active")
}

// SoftDelete marks an identity deleted and inactive. Identities are never hard-deleted.
func (r *IdentityRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE identities SET deleted = TRUE, active = FALSE, updated_at = $2 WHERE id = $1 AND deleted = FALSE`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("soft delete identity: %w", err)
	}
	return requireAffected(res, "soft delete identity")
}

// List returns accounts based on filters with total count.
func (r *IdentityRepository) List(ctx context.Context, filter models.IdentityFilter) ([]models.UserAccount, int, error) {
	baseQuery := accountFrom + ` WHERE i.deleted = FALSE`
	var conditions []string
	var args []interface{}

	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("p.role = $%d", len(args)+1))
		args = append(args, *filter.Role)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("i.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.GradeID != "" {
		conditions = append(conditions, fmt.Sprintf("p.grade_id = $%d", len(args)+1))
		args = append(args, filter.GradeID)
	}
	if filter.DivisionID != "" {
		conditions = append(conditions, fmt.Sprintf("p.division_id = $%d", len(args)+1))
		args = append(args, filter.DivisionID)
	}
	if filter.GroupID != "" {
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM group_memberships m WHERE m.identity_id = i.id AND m.group_id = $%d AND m.deleted = FALSE)", len(args)+1))
		args = append(args, filter.GroupID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(i.email) LIKE $%d OR LOWER(i.username) LIKE $%d OR LOWER(p.first_name || ' ' || p.last_name) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	_, pageSize, offset := normalisePage(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY i.created_at DESC LIMIT %d OFFSET %d", accountColumns, baseQuery, pageSize, offset)

	var accounts []models.UserAccount
	if err := conn(ctx, r.db).SelectContext(ctx, &accounts, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := conn(ctx, r.db).GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	return accounts, total, nil
}

// CountByRole counts identities holding a role, deleted ones included, so
// sequence seeds never reuse a handle.
func (r *IdentityRepository) CountByRole(ctx context.Context, role models.Role) (int, error) {
	const query = `SELECT COUNT(*) FROM profiles WHERE role = $1`
	var count int
	if err := conn(ctx, r.db).GetContext(ctx, &count, query, role); err != nil {
		return 0, fmt.Errorf("count by role: %w", err)
	}
	return count, nil
}

// CountActiveByRole counts active, non-deleted identities holding a role.
func (r *IdentityRepository) CountActiveByRole(ctx context.Context, role models.Role) (int, error) {
	const query = `SELECT COUNT(*) FROM profiles p JOIN identities i ON i.id = p.identity_id WHERE p.role = $1 AND i.deleted = FALSE AND i.active = TRUE`
	var count int
	if err := conn(ctx, r.db).GetContext(ctx, &count, query, role); err != nil {
		return 0, fmt.Errorf("count active by role: %w", err)
	}
	return count, nil
}

// CountProfilesInGrade counts profiles assigned to a grade.
func (r *IdentityRepository) CountProfilesInGrade(ctx context.Context, gradeID string) (int, error) {
	const query = `SELECT COUNT(*) FROM profiles WHERE grade_id = $1`
	var count int
	if err := conn(ctx, r.db).GetContext(ctx, &count, query, gradeID); err != nil {
		return 0, fmt.Errorf("count profiles in grade: %w", err)
	}
	return count, nil
}

// NextSequence atomically allocates the next value of a username scope. The
// first allocation stores seed; later ones increment the stored value.
func (r *IdentityRepository) NextSequence(ctx context.Context, scope string, seed int) (int, error) {
	const query = `INSERT INTO username_sequences (scope, value) VALUES ($1, $2) ON CONFLICT (scope) DO UPDATE SET value = username_sequences.value + 1 RETURNING value`
	var value int
	if err := conn(ctx, r.db).GetContext(ctx, &value, query, scope, seed); err != nil {
		return 0, fmt.Errorf("next username sequence %s: %w", scope, err)
	}
	return value, nil
}

// CreateRefreshToken persists a refresh token entry.
func (r *IdentityRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, identity_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent) VALUES (:id, :identity_id, :token, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by token string.
func (r *IdentityRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const query = `SELECT id, identity_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := conn(ctx, r.db).GetContext(ctx, &rt, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked.
func (r *IdentityRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllRefreshTokens revokes every live refresh token of an identity.
func (r *IdentityRepository) RevokeAllRefreshTokens(ctx context.Context, identityID string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE identity_id = $1 AND revoked = FALSE`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, identityID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}

// CreateAuditLog stores an audit log entry.
func (r *IdentityRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return insertAuditLog(ctx, conn(ctx, r.db), log)
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func normalisePage(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize, (page - 1) * pageSize
}
