package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/questplus-school-api/internal/models"
)

const gradeColumns = `id, code, name, active, created_at, updated_at`
const divisionColumns = `id, name, active, created_at, updated_at`

// GradeRepository stores grades, divisions and the mappings between them.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs the repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// ListGrades returns every grade ordered by name.
func (r *GradeRepository) ListGrades(ctx context.Context) ([]models.Grade, error) {
	const query = `SELECT ` + gradeColumns + ` FROM grades WHERE deleted_at IS NULL ORDER BY name`
	var grades []models.Grade
	if err := conn(ctx, r.db).SelectContext(ctx, &grades, query); err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	return grades, nil
}

// FindGrade returns a grade by id.
func (r *GradeRepository) FindGrade(ctx context.Context, id string) (*models.Grade, error) {
	const query = `SELECT ` + gradeColumns + ` FROM grades WHERE id = $1 AND deleted_at IS NULL`
	var grade models.Grade
	if err := conn(ctx, r.db).GetContext(ctx, &grade, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find grade: %w", err)
	}
	return &grade, nil
}

// FindGradeByName looks a grade up by its canonical name.
func (r *GradeRepository) FindGradeByName(ctx context.Context, name string) (*models.Grade, error) {
	const query = `SELECT ` + gradeColumns + ` FROM grades WHERE UPPER(name) = UPPER($1) AND deleted_at IS NULL`
	var grade models.Grade
	if err := conn(ctx, r.db).GetContext(ctx, &grade, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find grade by name: %w", err)
	}
	return &grade, nil
}

// CreateGrade inserts a grade.
func (r *GradeRepository) CreateGrade(ctx context.Context, grade *models.Grade) error {
	stampNew(&grade.ID, &grade.CreatedAt, &grade.UpdatedAt)
	const query = `INSERT INTO grades (id, code, name, active, created_at, updated_at) VALUES (:id, :code, :name, :active, :created_at, :updated_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, grade); err != nil {
		return fmt.Errorf("create grade: %w", mapPQError(err))
	}
	return nil
}

// GetOrCreateGrade returns the grade named name, inserting it when absent.
// Concurrent callers converge on the same row.
func (r *GradeRepository) GetOrCreateGrade(ctx context.Context, name, code string) (*models.Grade, bool, error) {
	now := time.Now().UTC()
	const insert = `INSERT INTO grades (id, code, name, active, created_at, updated_at) VALUES ($1, $2, $3, TRUE, $4, $4) ON CONFLICT DO NOTHING`
	res, err := conn(ctx, r.db).ExecContext(ctx, insert, uuid.NewString(), code, name, now)
	if err != nil {
		return nil, false, fmt.Errorf("get or create grade: %w", err)
	}
	created, _ := res.RowsAffected()
	grade, err := r.FindGradeByName(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// the insert lost against a different grade holding the same code
			return nil, false, &UniqueViolationError{Constraint: ConstraintGradeCode, Err: err}
		}
		return nil, false, err
	}
	return grade, created > 0, nil
}

// UpdateGrade updates name, code and active flag.
func (r *GradeRepository) UpdateGrade(ctx context.Context, grade *models.Grade) error {
	grade.UpdatedAt = time.Now().UTC()
	const query = `UPDATE grades SET code = :code, name = :name, active = :active, updated_at = :updated_at WHERE id = :id AND deleted_at IS NULL`
	res, err := conn(ctx, r.db).NamedExecContext(ctx, query, grade)
	if err != nil {
		return fmt.Errorf("update grade: %w", mapPQError(err))
	}
	return requireAffected(res, "update grade")
}

// SoftDeleteGrade marks a grade deleted and inactive, releasing its name and code.
func (r *GradeRepository) SoftDeleteGrade(ctx context.Context, id string) error {
	const query = `UPDATE grades SET deleted_at = $2, active = FALSE, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete grade: %w", err)
	}
	return requireAffected(res, "delete grade")
}

// ListDivisions returns every division ordered by name.
func (r *GradeRepository) ListDivisions(ctx context.Context) ([]models.Division, error) {
	const query = `SELECT ` + divisionColumns + ` FROM divisions WHERE deleted_at IS NULL ORDER BY name`
	var divisions []models.Division
	if err := conn(ctx, r.db).SelectContext(ctx, &divisions, query); err != nil {
		return nil, fmt.Errorf("list divisions: %w", err)
	}
	return divisions, nil
}

// FindDivision returns a division by id.
func (r *GradeRepository) FindDivision(ctx context.Context, id string) (*models.Division, error) {
	const query = `SELECT ` + divisionColumns + ` FROM divisions WHERE id = $1 AND deleted_at IS NULL`
	var division models.Division
	if err := conn(ctx, r.db).GetContext(ctx, &division, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find division: %w", err)
	}
	return &division, nil
}

// FindDivisionByName looks a division up by its canonical name.
func (r *GradeRepository) FindDivisionByName(ctx context.Context, name string) (*models.Division, error) {
	const query = `SELECT ` + divisionColumns + ` FROM divisions WHERE UPPER(name) = UPPER($1) AND deleted_at IS NULL`
	var division models.Division
	if err := conn(ctx, r.db).GetContext(ctx, &division, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find division by name: %w", err)
	}
	return &division, nil
}

// CreateDivision inserts a division.
func (r *GradeRepository) CreateDivision(ctx context.Context, division *models.Division) error {
	stampNew(&division.ID, &division.CreatedAt, &division.UpdatedAt)
	const query = `INSERT INTO divisions (id, name, active, created_at, updated_at) VALUES (:id, :name, :active, :created_at, :updated_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, division); err != nil {
		return fmt.Errorf("create division: %w", mapPQError(err))
	}
	return nil
}

// GetOrCreateDivision returns the division named name, inserting it when absent.
func (r *GradeRepository) GetOrCreateDivision(ctx context.Context, name string) (*models.Division, bool, error) {
	now := time.Now().UTC()
	const insert = `INSERT INTO divisions (id, name, active, created_at, updated_at) VALUES ($1, $2, TRUE, $3, $3) ON CONFLICT DO NOTHING`
	res, err := conn(ctx, r.db).ExecContext(ctx, insert, uuid.NewString(), name, now)
	if err != nil {
		return nil, false, fmt.Errorf("get or create division: %w", err)
	}
	created, _ := res.RowsAffected()
	division, err := r.FindDivisionByName(ctx, name)
	if err != nil {
		return nil, false, err
	}
	return division, created > 0, nil
}

// UpdateDivision updates name and active flag.
func (r *GradeRepository) UpdateDivision(ctx context.Context, division *models.Division) error {
	division.UpdatedAt = time.Now().UTC()
	const query = `UPDATE divisions SET name = :name, active = :active, updated_at = :updated_at WHERE id = :id AND deleted_at IS NULL`
	res, err := conn(ctx, r.db).NamedExecContext(ctx, query, division)
	if err != nil {
		return fmt.Errorf("update division: %w", mapPQError(err))
	}
	return requireAffected(res, "update division")
}

// SoftDeleteDivision marks a division deleted and inactive, releasing its name.
func (r *GradeRepository) SoftDeleteDivision(ctx context.Context, id string) error {
	const query = `UPDATE divisions SET deleted_at = $2, active = FALSE, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete division: %w", err)
	}
	return requireAffected(res, "delete division")
}

// GradesForDivision returns the grades a division is mapped to.
func (r *GradeRepository) GradesForDivision(ctx context.Context, divisionID string) ([]models.Grade, error) {
	const query = `SELECT g.id, g.code, g.name, g.active, g.created_at, g.updated_at FROM grade_division_mappings m JOIN grades g ON g.id = m.grade_id WHERE m.division_id = $1 ORDER BY g.name`
	var grades []models.Grade
	if err := conn(ctx, r.db).SelectContext(ctx, &grades, query, divisionID); err != nil {
		return nil, fmt.Errorf("grades for division: %w", err)
	}
	return grades, nil
}

// ListMappings returns every grade/division mapping with display names.
func (r *GradeRepository) ListMappings(ctx context.Context) ([]models.GradeDivisionMapping, error) {
	const query = `SELECT m.id, m.grade_id, m.division_id, g.name AS grade_name, d.name AS division_name, m.created_at FROM grade_division_mappings m JOIN grades g ON g.id = m.grade_id JOIN divisions d ON d.id = m.division_id ORDER BY g.name, d.name`
	var mappings []models.GradeDivisionMapping
	if err := conn(ctx, r.db).SelectContext(ctx, &mappings, query); err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	return mappings, nil
}

// DivisionsForGrade returns the divisions mapped to a grade.
func (r *GradeRepository) DivisionsForGrade(ctx context.Context, gradeID string) ([]models.Division, error) {
	const query = `SELECT d.id, d.name, d.active, d.created_at, d.updated_at FROM grade_division_mappings m JOIN divisions d ON d.id = m.division_id WHERE m.grade_id = $1 ORDER BY d.name`
	var divisions []models.Division
	if err := conn(ctx, r.db).SelectContext(ctx, &divisions, query, gradeID); err != nil {
		return nil, fmt.Errorf("divisions for grade: %w", err)
	}
	return divisions, nil
}

// MappingExists reports whether a division is valid for a grade.
func (r *GradeRepository) MappingExists(ctx context.Context, gradeID, divisionID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM grade_division_mappings WHERE grade_id = $1 AND division_id = $2)`
	var exists bool
	if err := conn(ctx, r.db).GetContext(ctx, &exists, query, gradeID, divisionID); err != nil {
		return false, fmt.Errorf("mapping exists: %w", err)
	}
	return exists, nil
}

// EnsureMapping inserts the mapping when absent and reports whether it was created.
func (r *GradeRepository) EnsureMapping(ctx context.Context, gradeID, divisionID string) (bool, error) {
	const query = `INSERT INTO grade_division_mappings (id, grade_id, division_id, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (grade_id, division_id) DO NOTHING`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, uuid.NewString(), gradeID, divisionID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("ensure mapping: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteMapping removes one mapping.
func (r *GradeRepository) DeleteMapping(ctx context.Context, gradeID, divisionID string) error {
	const query = `DELETE FROM grade_division_mappings WHERE grade_id = $1 AND division_id = $2`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, gradeID, divisionID)
	if err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return requireAffected(res, "delete mapping")
}

func stampNew(id *string, createdAt, updatedAt *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	now := time.Now().UTC()
	if createdAt.IsZero() {
		*createdAt = now
	}
	*updatedAt = now
}

// CreateAuditLog stores an audit log entry for cohort changes.
func (r *GradeRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return insertAuditLog(ctx, conn(ctx, r.db), log)
}
