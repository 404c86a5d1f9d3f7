package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gradeRowColumns = []string{"id", "code", "name", "active", "created_at", "updated_at"}

func TestGradeGetOrCreateInsertsOnce(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO grades (id, code, name, active, created_at, updated_at) VALUES ($1, $2, $3, TRUE, $4, $4) ON CONFLICT DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "G5", "5", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM grades WHERE UPPER(name) = UPPER($1)")).
		WithArgs("5").
		WillReturnRows(sqlmock.NewRows(gradeRowColumns).AddRow("g5", "G5", "5", true, now, now))

	grade, created, err := repo.GetOrCreateGrade(context.Background(), "5", "G5")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "g5", grade.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeGetOrCreateCodeClash(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectExec("INSERT INTO grades").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM grades WHERE UPPER").WillReturnError(sql.ErrNoRows)

	_, _, err := repo.GetOrCreateGrade(context.Background(), "6", "G5")
	assert.True(t, IsUniqueViolation(err, ConstraintGradeCode))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeEnsureMapping(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (grade_id, division_id) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "g5", "dA", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.EnsureMapping(context.Background(), "g5", "dA")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeMappingExists(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM grade_division_mappings WHERE grade_id = $1 AND division_id = $2)")).
		WithArgs("g5", "dZ").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := repo.MappingExists(context.Background(), "g5", "dZ")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeDeleteMappingMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectExec("DELETE FROM grade_division_mappings").
		WithArgs("g5", "dA").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteMapping(context.Background(), "g5", "dA")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeDivisionsForGrade(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	now := time.Now()
	mock.ExpectQuery("FROM grade_division_mappings m JOIN divisions d").
		WithArgs("g5").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "active", "created_at", "updated_at"}).
			AddRow("dA", "A", true, now, now).
			AddRow("dB", "B", true, now, now))

	divisions, err := repo.DivisionsForGrade(context.Background(), "g5")
	require.NoError(t, err)
	assert.Len(t, divisions, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeSoftDelete(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE grades SET deleted_at = $2, active = FALSE, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL")).
		WithArgs("g5", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE grades SET deleted_at").
		WithArgs("g5", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SoftDeleteGrade(context.Background(), "g5"))
	assert.ErrorIs(t, repo.SoftDeleteGrade(context.Background(), "g5"), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeListSkipsDeleted(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM grades WHERE deleted_at IS NULL ORDER BY name")).
		WillReturnRows(sqlmock.NewRows(gradeRowColumns).AddRow("g5", "5", "5", true, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM divisions WHERE id = $1 AND deleted_at IS NULL")).
		WithArgs("dA").
		WillReturnError(sql.ErrNoRows)

	grades, err := repo.ListGrades(context.Background())
	require.NoError(t, err)
	assert.Len(t, grades, 1)
	_, err = repo.FindDivision(context.Background(), "dA")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeSoftDeleteDivisionAndGradesForDivision(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("JOIN grades g ON g.id = m.grade_id WHERE m.division_id = $1")).
		WithArgs("dA").
		WillReturnRows(sqlmock.NewRows(gradeRowColumns).
			AddRow("g5", "5", "5", true, now, now).
			AddRow("g6", "6", "6", true, now, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE divisions SET deleted_at = $2")).
		WithArgs("dA", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	grades, err := repo.GradesForDivision(context.Background(), "dA")
	require.NoError(t, err)
	assert.Len(t, grades, 2)
	require.NoError(t, repo.SoftDeleteDivision(context.Background(), "dA"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
