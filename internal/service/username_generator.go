package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/questplus-school-api/internal/models"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
)

type sequenceRepository interface {
	CountByRole(ctx context.Context, role models.Role) (int, error)
	CountProfilesInGrade(ctx context.Context, gradeID string) (int, error)
	NextSequence(ctx context.Context, scope string, seed int) (int, error)
}

// UsernameGenerator allocates login handles from atomic per-scope sequences.
// The first allocation in a scope is seeded from the existing row count so
// handles continue where counting left off.
type UsernameGenerator struct {
	repo sequenceRepository
}

// NewUsernameGenerator constructs the generator.
func NewUsernameGenerator(repo sequenceRepository) *UsernameGenerator {
	return &UsernameGenerator{repo: repo}
}

// Generate returns the next handle for role. Learners need a grade.
func (g *UsernameGenerator) Generate(ctx context.Context, role models.Role, grade *models.Grade) (string, error) {
	var (
		scope string
		count int
		err   error
	)
	switch role {
	case models.RoleAdmin, models.RoleTeacher:
		scope = "role:" + string(role)
		count, err = g.repo.CountByRole(ctx, role)
	case models.RoleLearner:
		if grade == nil || grade.ID == "" {
			return "", appErrors.ErrGradeRequired
		}
		scope = "grade:" + grade.ID
		count, err = g.repo.CountProfilesInGrade(ctx, grade.ID)
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown role %q", role))
	}
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count existing accounts")
	}

	seq, err := g.repo.NextSequence(ctx, scope, count+1)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate username")
	}
	code := ""
	if grade != nil {
		code = gradeCode(*grade)
	}
	return FormatUsername(role, seq, code)
}

// FormatUsername renders a handle: A%03d for admins, F%03d for teachers and
// L{seq}{gradeCode} for learners.
func FormatUsername(role models.Role, seq int, code string) (string, error) {
	switch role {
	case models.RoleAdmin:
		return fmt.Sprintf("A%03d", seq), nil
	case models.RoleTeacher:
		return fmt.Sprintf("F%03d", seq), nil
	case models.RoleLearner:
		if code == "" {
			return "", appErrors.ErrGradeRequired
		}
		return fmt.Sprintf("L%d%s", seq, code), nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown role %q", role))
	}
}

func gradeCode(grade models.Grade) string {
	code := grade.Code
	if strings.TrimSpace(code) == "" {
		code = grade.Name
	}
	return strings.Join(strings.Fields(code), "")
}
