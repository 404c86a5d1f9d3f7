package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/internal/repository"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
)

type gradeRepository interface {
	ListGrades(ctx context.Context) ([]models.Grade, error)
	FindGrade(ctx context.Context, id string) (*models.Grade, error)
	FindGradeByName(ctx context.Context, name string) (*models.Grade, error)
	CreateGrade(ctx context.Context, grade *models.Grade) error
	GetOrCreateGrade(ctx context.Context, name, code string) (*models.Grade, bool, error)
	UpdateGrade(ctx context.Context, grade *models.Grade) error
	SoftDeleteGrade(ctx context.Context, id string) error
	ListDivisions(ctx context.Context) ([]models.Division, error)
	FindDivision(ctx context.Context, id string) (*models.Division, error)
	FindDivisionByName(ctx context.Context, name string) (*models.Division, error)
	CreateDivision(ctx context.Context, division *models.Division) error
	GetOrCreateDivision(ctx context.Context, name string) (*models.Division, bool, error)
	UpdateDivision(ctx context.Context, division *models.Division) error
	SoftDeleteDivision(ctx context.Context, id string) error
	GradesForDivision(ctx context.Context, divisionID string) ([]models.Grade, error)
	ListMappings(ctx context.Context) ([]models.GradeDivisionMapping, error)
	DivisionsForGrade(ctx context.Context, gradeID string) ([]models.Division, error)
	MappingExists(ctx context.Context, gradeID, divisionID string) (bool, error)
	EnsureMapping(ctx context.Context, gradeID, divisionID string) (bool, error)
	DeleteMapping(ctx context.Context, gradeID, divisionID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type groupLifecycle interface {
	EnsureFor(ctx context.Context, grade *models.Grade, division *models.Division) (*models.Group, error)
	RenameForGrade(ctx context.Context, grade *models.Grade) error
	RenameForDivision(ctx context.Context, division *models.Division) error
	MappingRemoved(ctx context.Context, gradeID, divisionID string) (*models.Group, error)
}

// GradeService maintains the grade and division catalog and its mappings.
type GradeService struct {
	repo      gradeRepository
	groups    groupLifecycle
	tx        transactor
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGradeService constructs a GradeService.
func NewGradeService(repo gradeRepository, groups groupLifecycle, tx transactor, validate *validator.Validate, logger *zap.Logger) *GradeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if tx == nil {
		tx = noTx{}
	}
	return &GradeService{repo: repo, groups: groups, tx: tx, validator: validate, logger: logger}
}

// ListGrades returns every grade.
func (s *GradeService) ListGrades(ctx context.Context) ([]models.Grade, error) {
	grades, err := s.repo.ListGrades(ctx)
	if err != nil {
		return nil, internalError(err, "failed to list grades")
	}
	if grades == nil {
		grades = []models.Grade{}
	}
	return grades, nil
}

// GetGrade returns one grade.
func (s *GradeService) GetGrade(ctx context.Context, id string) (*models.Grade, error) {
	grade, err := s.repo.FindGrade(ctx, id)
	if err != nil {
		return nil, lookupError(err, appErrors.Clone(appErrors.ErrNotFound, "grade not found"), "failed to load grade")
	}
	return grade, nil
}

// CreateGrade adds a grade. Names are canonicalised and unique.
func (s *GradeService) CreateGrade(ctx context.Context, req models.GradeRequest) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	name := CanonicalName(req.Name)
	grade := &models.Grade{Name: name, Code: defaultGradeCode(req.Code, name), Active: boolOr(req.Active, true)}
	if err := s.repo.CreateGrade(ctx, grade); err != nil {
		return nil, cohortWriteError(err, "grade")
	}
	return grade, nil
}

// UpdateGrade renames or toggles a grade and recomputes group names.
func (s *GradeService) UpdateGrade(ctx context.Context, id string, req models.GradeRequest) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	grade, err := s.GetGrade(ctx, id)
	if err != nil {
		return nil, err
	}
	renamed := CanonicalName(req.Name) != grade.Name
	grade.Name = CanonicalName(req.Name)
	if strings.TrimSpace(req.Code) != "" {
		grade.Code = strings.TrimSpace(req.Code)
	}
	grade.Active = boolOr(req.Active, grade.Active)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateGrade(ctx, grade); err != nil {
			return cohortWriteError(err, "grade")
		}
		if renamed {
			return s.groups.RenameForGrade(ctx, grade)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grade, nil
}

// ListDivisions returns every division.
func (s *GradeService) ListDivisions(ctx context.Context) ([]models.Division, error) {
	divisions, err := s.repo.ListDivisions(ctx)
	if err != nil {
		return nil, internalError(err, "failed to list divisions")
	}
	if divisions == nil {
		divisions = []models.Division{}
	}
	return divisions, nil
}

// GetDivision returns one division.
func (s *GradeService) GetDivision(ctx context.Context, id string) (*models.Division, error) {
	division, err := s.repo.FindDivision(ctx, id)
	if err != nil {
		return nil, lookupError(err, appErrors.Clone(appErrors.ErrNotFound, "division not found"), "failed to load division")
	}
	return division, nil
}

// CreateDivision adds a division.
func (s *GradeService) CreateDivision(ctx context.Context, req models.DivisionRequest) (*models.Division, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid division payload")
	}
	division := &models.Division{Name: CanonicalName(req.Name), Active: boolOr(req.Active, true)}
	if err := s.repo.CreateDivision(ctx, division); err != nil {
		return nil, cohortWriteError(err, "division")
	}
	return division, nil
}

// UpdateDivision renames or toggles a division and recomputes group names.
func (s *GradeService) UpdateDivision(ctx context.Context, id string, req models.DivisionRequest) (*models.Division, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid division payload")
	}
	division, err := s.GetDivision(ctx, id)
	if err != nil {
		return nil, err
	}
	renamed := CanonicalName(req.Name) != division.Name
	division.Name = CanonicalName(req.Name)
	division.Active = boolOr(req.Active, division.Active)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateDivision(ctx, division); err != nil {
			return cohortWriteError(err, "division")
		}
		if renamed {
			return s.groups.RenameForDivision(ctx, division)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return division, nil
}

// ListMappings groups every mapping by grade.
func (s *GradeService) ListMappings(ctx context.Context) ([]models.GradeWithDivisions, error) {
	mappings, err := s.repo.ListMappings(ctx)
	if err != nil {
		return nil, internalError(err, "failed to list mappings")
	}
	result := []models.GradeWithDivisions{}
	index := map[string]int{}
	for _, m := range mappings {
		i, ok := index[m.GradeID]
		if !ok {
			i = len(result)
			index[m.GradeID] = i
			result = append(result, models.GradeWithDivisions{Grade: models.Grade{ID: m.GradeID, Name: m.GradeName}, Divisions: []models.Division{}})
		}
		result[i].Divisions = append(result[i].Divisions, models.Division{ID: m.DivisionID, Name: m.DivisionName})
	}
	return result, nil
}

// CreateMapping get-or-creates the grade, each division, the mappings and
// the groups behind them.
func (s *GradeService) CreateMapping(ctx context.Context, actorID string, req models.MappingRequest) (*models.MappingResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mapping payload")
	}
	gradeName := CanonicalName(req.Grade)
	divisionNames := uniqueCanonical(req.Divisions)
	if gradeName == "" || len(divisionNames) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "grade and divisions are required")
	}

	result := &models.MappingResult{AddedDivisions: []string{}, CreatedGroups: []string{}}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		grade, _, err := s.repo.GetOrCreateGrade(ctx, gradeName, defaultGradeCode("", gradeName))
		if err != nil {
			return cohortWriteError(err, "grade")
		}
		result.Grade = *grade
		for _, name := range divisionNames {
			division, _, err := s.repo.GetOrCreateDivision(ctx, name)
			if err != nil {
				return cohortWriteError(err, "division")
			}
			added, err := s.repo.EnsureMapping(ctx, grade.ID, division.ID)
			if err != nil {
				return internalError(err, "failed to create mapping")
			}
			if !added {
				continue
			}
			result.AddedDivisions = append(result.AddedDivisions, division.Name)
			group, err := s.groups.EnsureFor(ctx, grade, division)
			if err != nil {
				return err
			}
			result.CreatedGroups = append(result.CreatedGroups, group.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	recordAudit(ctx, s.repo, s.logger, actorID, models.AuditActionMappingCreate, "grade", result.Grade.ID, result)
	return result, nil
}

// DeleteMapping removes a mapping and applies the orphan policy to its group.
func (s *GradeService) DeleteMapping(ctx context.Context, actorID string, req models.MappingDeleteRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mapping payload")
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.DeleteMapping(ctx, req.GradeID, req.DivisionID); err != nil {
			return lookupError(err, appErrors.Clone(appErrors.ErrNotFound, "mapping not found"), "failed to delete mapping")
		}
		_, err := s.groups.MappingRemoved(ctx, req.GradeID, req.DivisionID)
		return err
	})
	if err != nil {
		return err
	}
	recordAudit(ctx, s.repo, s.logger, actorID, models.AuditActionMappingDelete, "grade", req.GradeID, req)
	return nil
}

// DeleteGrade soft deletes a grade. Its mappings are removed first so the
// orphan policy applies to every group of the grade.
func (s *GradeService) DeleteGrade(ctx context.Context, actorID, id string) error {
	grade, err := s.GetGrade(ctx, id)
	if err != nil {
		return err
	}
	var removed []string
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		divisions, err := s.repo.DivisionsForGrade(ctx, grade.ID)
		if err != nil {
			return internalError(err, "failed to load divisions")
		}
		for _, d := range divisions {
			if err := s.unmap(ctx, grade.ID, d.ID); err != nil {
				return err
			}
			removed = append(removed, d.Name)
		}
		if err := s.repo.SoftDeleteGrade(ctx, grade.ID); err != nil {
			return lookupError(err, appErrors.Clone(appErrors.ErrNotFound, "grade not found"), "failed to delete grade")
		}
		return nil
	})
	if err != nil {
		return err
	}
	recordAudit(ctx, s.repo, s.logger, actorID, models.AuditActionGradeDelete, "grade", grade.ID, map[string]interface{}{"name": grade.Name, "unmapped_divisions": removed})
	return nil
}

// DeleteDivision soft deletes a division after unmapping it from every grade.
func (s *GradeService) DeleteDivision(ctx context.Context, actorID, id string) error {
	division, err := s.GetDivision(ctx, id)
	if err != nil {
		return err
	}
	var removed []string
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		grades, err := s.repo.GradesForDivision(ctx, division.ID)
		if err != nil {
			return internalError(err, "failed to load grades")
		}
		for _, g := range grades {
			if err := s.unmap(ctx, g.ID, division.ID); err != nil {
				return err
			}
			removed = append(removed, g.Name)
		}
		if err := s.repo.SoftDeleteDivision(ctx, division.ID); err != nil {
			return lookupError(err, appErrors.Clone(appErrors.ErrNotFound, "division not found"), "failed to delete division")
		}
		return nil
	})
	if err != nil {
		return err
	}
	recordAudit(ctx, s.repo, s.logger, actorID, models.AuditActionDivisionDelete, "division", division.ID, map[string]interface{}{"name": division.Name, "unmapped_grades": removed})
	return nil
}

func (s *GradeService) unmap(ctx context.Context, gradeID, divisionID string) error {
	if err := s.repo.DeleteMapping(ctx, gradeID, divisionID); err != nil {
		return internalError(err, "failed to delete mapping")
	}
	_, err := s.groups.MappingRemoved(ctx, gradeID, divisionID)
	return err
}

// ReplaceDivisions makes divisionIDs the exact set of divisions mapped to a grade.
func (s *GradeService) ReplaceDivisions(ctx context.Context, actorID, gradeID string, req models.ReplaceDivisionsRequest) (*models.GradeWithDivisions, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid divisions payload")
	}
	grade, err := s.GetGrade(ctx, gradeID)
	if err != nil {
		return nil, err
	}

	want := map[string]bool{}
	for _, id := range req.DivisionIDs {
		want[id] = true
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.DivisionsForGrade(ctx, grade.ID)
		if err != nil {
			return internalError(err, "failed to load divisions")
		}
		for _, d := range current {
			if want[d.ID] {
				continue
			}
			if err := s.unmap(ctx, grade.ID, d.ID); err != nil {
				return err
			}
		}
		for _, id := range req.DivisionIDs {
			division, err := s.repo.FindDivision(ctx, id)
			if err != nil {
				return lookupError(err, appErrors.ErrUnknownDivision, "failed to load division")
			}
			if _, err := s.repo.EnsureMapping(ctx, grade.ID, division.ID); err != nil {
				return internalError(err, "failed to create mapping")
			}
			if _, err := s.groups.EnsureFor(ctx, grade, division); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	divisions, err := s.repo.DivisionsForGrade(ctx, grade.ID)
	if err != nil {
		return nil, internalError(err, "failed to load divisions")
	}
	if divisions == nil {
		divisions = []models.Division{}
	}
	recordAudit(ctx, s.repo, s.logger, actorID, models.AuditActionMappingCreate, "grade", grade.ID, req)
	return &models.GradeWithDivisions{Grade: *grade, Divisions: divisions}, nil
}

func cohortWriteError(err error, kind string) error {
	if repository.IsUniqueViolation(err, "") {
		return appErrors.Clone(appErrors.ErrConflict, kind+" already exists")
	}
	if isNoRows(err) {
		return appErrors.Clone(appErrors.ErrNotFound, kind+" not found")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return internalError(err, "failed to save "+kind)
}

func defaultGradeCode(code, name string) string {
	if trimmed := strings.TrimSpace(code); trimmed != "" {
		return trimmed
	}
	return strings.Join(strings.Fields(name), "")
}

func uniqueCanonical(names []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(names))
	for _, n := range names {
		c := CanonicalName(n)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
