package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/questplus-school-api/internal/models"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
)

func TestFormatUsername(t *testing.T) {
	cases := []struct {
		role     models.Role
		seq      int
		code     string
		expected string
	}{
		{models.RoleAdmin, 1, "", "A001"},
		{models.RoleTeacher, 42, "", "F042"},
		{models.RoleTeacher, 1234, "", "F1234"},
		{models.RoleLearner, 3, "5", "L35"},
		{models.RoleLearner, 12, "KG1", "L12KG1"},
	}
	for _, tc := range cases {
		got, err := FormatUsername(tc.role, tc.seq, tc.code)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, got)
	}

	_, err := FormatUsername(models.RoleLearner, 1, "")
	assertAppError(t, err, appErrors.ErrGradeRequired.Code)
	_, err = FormatUsername(models.Role("Parent"), 1, "")
	assertAppError(t, err, appErrors.ErrValidation.Code)
}

func TestUsernameGeneratorSeedsFromExistingRows(t *testing.T) {
	db := newMemDB()
	ctx := context.Background()
	gen := NewUsernameGenerator(memIdentities{db})
	grade, _ := db.seedGrade("5", "A")

	for _, name := range []string{"L15", "L25"} {
		learner := db.seedAccount(name, name+"@school.example", "", models.RoleLearner)
		db.profiles[learner.ID].GradeID = &grade.ID
	}
	db.seedAccount("F001", "tara@school.example", "", models.RoleTeacher)

	username, err := gen.Generate(ctx, models.RoleLearner, grade)
	require.NoError(t, err)
	assert.Equal(t, "L35", username)

	username, err = gen.Generate(ctx, models.RoleLearner, grade)
	require.NoError(t, err)
	assert.Equal(t, "L45", username)

	username, err = gen.Generate(ctx, models.RoleTeacher, nil)
	require.NoError(t, err)
	assert.Equal(t, "F002", username)

	username, err = gen.Generate(ctx, models.RoleAdmin, nil)
	require.NoError(t, err)
	assert.Equal(t, "A001", username)
}

func TestUsernameGeneratorRejects(t *testing.T) {
	gen := NewUsernameGenerator(memIdentities{newMemDB()})

	_, err := gen.Generate(context.Background(), models.RoleLearner, nil)
	assertAppError(t, err, appErrors.ErrGradeRequired.Code)

	_, err = gen.Generate(context.Background(), models.Role("Parent"), nil)
	assertAppError(t, err, appErrors.ErrValidation.Code)
}

func TestGradeCodeFallsBackToName(t *testing.T) {
	assert.Equal(t, "KG1", gradeCode(models.Grade{Name: "KG 1"}))
	assert.Equal(t, "G5", gradeCode(models.Grade{Name: "GRADE 5", Code: "G5"}))
}
