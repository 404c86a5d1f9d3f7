package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/internal/repository"
	"github.com/noah-isme/questplus-school-api/pkg/config"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
)

type accountRepository interface {
	FindAccount(ctx context.Context, id string) (*models.UserAccount, error)
	FindByEmail(ctx context.Context, email string) (*models.Identity, error)
	List(ctx context.Context, filter models.IdentityFilter) ([]models.UserAccount, int, error)
	Create(ctx context.Context, identity *models.Identity) error
	CreateProfile(ctx context.Context, profile *models.Profile) error
	UpdateProfile(ctx context.Context, profile *models.Profile) error
	UpdateRole(ctx context.Context, id string, role models.Role) error
	UpdateEmail(ctx context.Context, id, email string) error
	SetActive(ctx context.Context, id string, active bool) error
	SoftDelete(ctx context.Context, id string) error
	RevokeAllRefreshTokens(ctx context.Context, identityID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type cohortCatalog interface {
	cohortLookup
	MappingExists(ctx context.Context, gradeID, divisionID string) (bool, error)
}

type groupBinder interface {
	EnsureFor(ctx context.Context, grade *models.Grade, division *models.Division) (*models.Group, error)
	Bind(ctx context.Context, identityID, groupID string, kind models.MembershipKind) error
	ReplaceTeacherGroups(ctx context.Context, identityID string, groupIDs []string) error
	Release(ctx context.Context, identityID string) error
	ReverseLookup(ctx context.Context, identityID string) (*models.Group, error)
	ActiveGroups(ctx context.Context, identityID string) ([]models.Group, error)
}

type usernameAllocator interface {
	Generate(ctx context.Context, role models.Role, grade *models.Grade) (string, error)
}

type accessInvalidator interface {
	Invalidate(ctx context.Context, identityID string)
}

type welcomeNotifier interface {
	Welcome(ctx context.Context, account models.UserAccount, password string, extra map[string]interface{})
}

var errUsernameTaken = errors.New("generated username already taken")

// AccountService manages admin, teacher and student accounts.
type AccountService struct {
	repo      accountRepository
	cohorts   cohortCatalog
	groups    groupBinder
	usernames usernameAllocator
	access    accessInvalidator
	notifier  welcomeNotifier
	tx        transactor
	validator *validator.Validate
	logger    *zap.Logger
	config    config.AccountsConfig
}

// NewAccountService constructs an AccountService.
func NewAccountService(repo accountRepository, cohorts cohortCatalog, groups groupBinder, usernames usernameAllocator, access accessInvalidator, notifier welcomeNotifier, tx transactor, validate *validator.Validate, logger *zap.Logger, cfg config.AccountsConfig) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if tx == nil {
		tx = noTx{}
	}
	if cfg.UsernameMaxRetries < 0 {
		cfg.UsernameMaxRetries = 0
	}
	return &AccountService{repo: repo, cohorts: cohorts, groups: groups, usernames: usernames, access: access, notifier: notifier, tx: tx, validator: validate, logger: logger, config: cfg}
}

// newAccount describes an identity to provision.
type newAccount struct {
	role     models.Role
	email    string
	password string
	active   bool
	profile  models.Profile
	grade    *models.Grade
	// bind runs inside the creation transaction once the identity exists.
	bind func(ctx context.Context, identityID string) error
}

// provision creates identity and profile in one transaction. Username
// allocation happens ahead of the transaction so a retry after a username
// conflict draws a fresh sequence value.
func (s *AccountService) provision(ctx context.Context, acct newAccount) (*models.UserAccount, error) {
	email := strings.TrimSpace(acct.email)
	if err := s.ensureEmailFree(ctx, email, ""); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(acct.password), bcrypt.DefaultCost)
	if err != nil {
		return nil, internalError(err, "failed to hash password")
	}

	var identity *models.Identity
	for attempt := 0; attempt <= s.config.UsernameMaxRetries; attempt++ {
		username, genErr := s.usernames.Generate(ctx, acct.role, acct.grade)
		if genErr != nil {
			return nil, genErr
		}
		identity = &models.Identity{Username: username, Email: email, PasswordHash: string(hash), Active: acct.active}

		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.repo.Create(ctx, identity); err != nil {
				switch {
				case repository.IsUniqueViolation(err, repository.ConstraintIdentityEmail):
					return appErrors.ErrDuplicateEmail
				case repository.IsUniqueViolation(err, repository.ConstraintIdentityUsername):
					return errUsernameTaken
				}
				return internalError(err, "failed to create identity")
			}
			profile := acct.profile
			profile.IdentityID = identity.ID
			profile.Role = acct.role
			if err := s.repo.CreateProfile(ctx, &profile); err != nil {
				return internalError(err, "failed to create profile")
			}
			if acct.bind != nil {
				return acct.bind(ctx, identity.ID)
			}
			return nil
		})
		if !errors.Is(err, errUsernameTaken) {
			break
		}
		s.logger.Warn("username collision, retrying", zap.String("username", username), zap.Int("attempt", attempt+1))
	}
	if errors.Is(err, errUsernameTaken) {
		return nil, appErrors.ErrDuplicateUsername
	}
	if err != nil {
		return nil, err
	}

	return s.loadAccount(ctx, identity.ID)
}

func (s *AccountService) ensureEmailFree(ctx context.Context, email, ownerID string) error {
	existing, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if isNoRows(err) {
			return nil
		}
		return internalError(err, "failed to check email")
	}
	if existing.ID != ownerID {
		return appErrors.ErrDuplicateEmail
	}
	return nil
}

func (s *AccountService) loadAccount(ctx context.Context, id string) (*models.UserAccount, error) {
	account, err := s.repo.FindAccount(ctx, id)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrNotFound, "failed to load user")
	}
	return account, nil
}

// loadRole loads an account and checks it holds role.
func (s *AccountService) loadRole(ctx context.Context, id string, role models.Role) (*models.UserAccount, error) {
	account, err := s.loadAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Role != role {
		return nil, appErrors.Clone(appErrors.ErrNotFound, strings.ToLower(string(role))+" not found")
	}
	return account, nil
}

// AdminSignup self-registers an administrator when signup is enabled.
func (s *AccountService) AdminSignup(ctx context.Context, req models.AdminSignupRequest) (*models.UserAccount, error) {
	if !s.config.AdminSignupEnabled {
		return nil, appErrors.ErrSignupDisabled
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid signup payload")
	}
	account, err := s.provision(ctx, newAccount{
		role:     models.RoleAdmin,
		email:    req.Email,
		password: req.Password,
		active:   true,
		profile: models.Profile{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Gender:    req.Gender,
			ContactNo: req.Phone,
		},
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, account.Identity.ID, models.AuditActionUserCreate, "identity", account.Identity.ID, map[string]interface{}{"role": models.RoleAdmin})
	s.notify(ctx, *account, "", nil)
	return account, nil
}

// CreateTeacher provisions a teacher and binds the groups in the mapping.
func (s *AccountService) CreateTeacher(ctx context.Context, actorID string, req models.CreateTeacherRequest) (*models.TeacherDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher payload")
	}

	var groupNames []string
	account, err := s.provision(ctx, newAccount{
		role:     models.RoleTeacher,
		email:    req.Email,
		password: req.Password,
		active:   boolOr(req.Active, true),
		profile: models.Profile{
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Gender:       req.Gender,
			ContactNo:    req.ContactNo,
			AltContactNo: req.AltContactNo,
		},
		bind: func(ctx context.Context, identityID string) error {
			groups, err := s.resolveMapping(ctx, req.GradeDivisionMapping)
			if err != nil {
				return err
			}
			groupNames = groupNames[:0]
			for _, g := range groups {
				if err := s.groups.Bind(ctx, identityID, g.ID, models.MembershipTeacher); err != nil {
					return err
				}
				groupNames = append(groupNames, g.Name)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actorID, models.AuditActionUserCreate, "teacher", account.Identity.ID, map[string]interface{}{"username": account.Username, "groups": groupNames})
	s.notify(ctx, *account, req.Password, map[string]interface{}{"Groups": groupNames})
	return s.teacherDetail(ctx, account)
}

// GetTeacher returns a teacher with its groups.
func (s *AccountService) GetTeacher(ctx context.Context, id string) (*models.TeacherDetail, error) {
	account, err := s.loadRole(ctx, id, models.RoleTeacher)
	if err != nil {
		return nil, err
	}
	return s.teacherDetail(ctx, account)
}

// ListTeachers lists teacher accounts.
func (s *AccountService) ListTeachers(ctx context.Context, filter models.IdentityFilter) ([]models.UserAccount, *models.Pagination, error) {
	return s.list(ctx, models.RoleTeacher, filter)
}

// UpdateTeacher patches a teacher. A non-nil mapping replaces its group set.
func (s *AccountService) UpdateTeacher(ctx context.Context, actorID, id string, req models.UpdateTeacherRequest) (*models.TeacherDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher payload")
	}
	account, err := s.loadRole(ctx, id, models.RoleTeacher)
	if err != nil {
		return nil, err
	}

	profile := account.Profile
	profile.IdentityID = account.Identity.ID
	patchString(&profile.FirstName, req.FirstName)
	patchString(&profile.LastName, req.LastName)
	patchOptional(&profile.Gender, req.Gender)
	patchOptional(&profile.ContactNo, req.ContactNo)
	patchOptional(&profile.AltContactNo, req.AltContactNo)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateProfile(ctx, &profile); err != nil {
			return internalError(err, "failed to update teacher")
		}
		if req.Active != nil && *req.Active != account.Active {
			if err := s.repo.SetActive(ctx, account.Identity.ID, *req.Active); err != nil {
				return internalError(err, "failed to update status")
			}
		}
		if req.GradeDivisionMapping == nil {
			return nil
		}
		groups, err := s.resolveMapping(ctx, req.GradeDivisionMapping)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(groups))
		for _, g := range groups {
			ids = append(ids, g.ID)
		}
		return s.groups.ReplaceTeacherGroups(ctx, account.Identity.ID, ids)
	})
	if err != nil {
		return nil, err
	}
	if req.Active != nil && *req.Active != account.Active {
		s.access.Invalidate(ctx, account.Identity.ID)
	}

	s.audit(ctx, actorID, models.AuditActionUserUpdate, "teacher", account.Identity.ID, req)
	updated, err := s.loadAccount(ctx, account.Identity.ID)
	if err != nil {
		return nil, err
	}
	return s.teacherDetail(ctx, updated)
}

func (s *AccountService) teacherDetail(ctx context.Context, account *models.UserAccount) (*models.TeacherDetail, error) {
	groups, err := s.groups.ActiveGroups(ctx, account.Identity.ID)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []models.Group{}
	}
	return &models.TeacherDetail{UserAccount: *account, Groups: groups, GradeDivisionMapping: groupMapping(groups)}, nil
}

// groupMapping rebuilds the {grade: [divisions]} view from group display names.
func groupMapping(groups []models.Group) map[string][]string {
	mapping := make(map[string][]string, len(groups))
	for _, g := range groups {
		grade, division, ok := DecomposeGroupName(g.Name)
		if !ok {
			continue
		}
		mapping[grade] = append(mapping[grade], division)
	}
	for grade := range mapping {
		sort.Strings(mapping[grade])
	}
	return mapping
}

// resolveMapping turns {grade: [divisions]} into groups, creating missing
// groups for mapped pairs. Unknown or unmapped pairs are rejected.
func (s *AccountService) resolveMapping(ctx context.Context, mapping map[string][]string) ([]*models.Group, error) {
	grades := make([]string, 0, len(mapping))
	for grade := range mapping {
		grades = append(grades, grade)
	}
	sort.Strings(grades)

	var groups []*models.Group
	seen := map[string]bool{}
	for _, gradeName := range grades {
		grade, err := s.cohorts.FindGradeByName(ctx, CanonicalName(gradeName))
		if err != nil {
			return nil, lookupError(err, appErrors.Clone(appErrors.ErrUnknownGrade, fmt.Sprintf("grade %q does not exist", gradeName)), "failed to load grade")
		}
		for _, divisionName := range mapping[gradeName] {
			division, err := s.cohorts.FindDivisionByName(ctx, CanonicalName(divisionName))
			if err != nil {
				return nil, lookupError(err, appErrors.Clone(appErrors.ErrUnknownDivision, fmt.Sprintf("division %q does not exist", divisionName)), "failed to load division")
			}
			group, err := s.mappedGroup(ctx, grade, division)
			if err != nil {
				return nil, err
			}
			if !seen[group.ID] {
				seen[group.ID] = true
				groups = append(groups, group)
			}
		}
	}
	return groups, nil
}

func (s *AccountService) mappedGroup(ctx context.Context, grade *models.Grade, division *models.Division) (*models.Group, error) {
	mapped, err := s.cohorts.MappingExists(ctx, grade.ID, division.ID)
	if err != nil {
		return nil, internalError(err, "failed to check grade mapping")
	}
	if !mapped {
		return nil, appErrors.Clone(appErrors.ErrUnmappedDivision, fmt.Sprintf("division %s is not mapped to grade %s", division.Name, grade.Name))
	}
	return s.groups.EnsureFor(ctx, grade, division)
}

func (s *AccountService) gradeAndDivision(ctx context.Context, gradeID, divisionID string) (*models.Grade, *models.Division, error) {
	grade, err := s.cohorts.FindGrade(ctx, gradeID)
	if err != nil {
		return nil, nil, lookupError(err, appErrors.ErrUnknownGrade, "failed to load grade")
	}
	division, err := s.cohorts.FindDivision(ctx, divisionID)
	if err != nil {
		return nil, nil, lookupError(err, appErrors.ErrUnknownDivision, "failed to load division")
	}
	return grade, division, nil
}

// CreateStudent provisions a learner, ensures its group and binds it.
func (s *AccountService) CreateStudent(ctx context.Context, actorID string, req models.CreateStudentRequest) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	grade, division, err := s.gradeAndDivision(ctx, req.GradeID, req.DivisionID)
	if err != nil {
		return nil, err
	}
	dob, err := parseDate(req.DateOfBirth)
	if err != nil {
		return nil, err
	}
	password, err := s.studentPassword(req.Password)
	if err != nil {
		return nil, err
	}

	var group *models.Group
	account, err := s.provision(ctx, newAccount{
		role:     models.RoleLearner,
		email:    req.Email,
		password: password,
		active:   boolOr(req.Active, true),
		grade:    grade,
		profile: models.Profile{
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Gender:      req.Gender,
			DateOfBirth: dob,
			GradeID:     &grade.ID,
			DivisionID:  &division.ID,
			AdmissionNo: req.AdmissionNo,
			ContactNo:   req.ContactNo,
		},
		bind: func(ctx context.Context, identityID string) error {
			g, err := s.mappedGroup(ctx, grade, division)
			if err != nil {
				return err
			}
			group = g
			return s.groups.Bind(ctx, identityID, g.ID, models.MembershipLearner)
		},
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actorID, models.AuditActionUserCreate, "student", account.Identity.ID, map[string]interface{}{"username": account.Username, "group": group.Name})
	s.notify(ctx, *account, password, map[string]interface{}{"Group": group.Name})
	return &models.StudentDetail{UserAccount: *account, Group: group}, nil
}

// GetStudent returns a learner with its current group.
func (s *AccountService) GetStudent(ctx context.Context, id string) (*models.StudentDetail, error) {
	account, err := s.loadRole(ctx, id, models.RoleLearner)
	if err != nil {
		return nil, err
	}
	group, err := s.groups.ReverseLookup(ctx, account.Identity.ID)
	if err != nil {
		return nil, err
	}
	return &models.StudentDetail{UserAccount: *account, Group: group}, nil
}

// ListStudents lists learner accounts.
func (s *AccountService) ListStudents(ctx context.Context, filter models.IdentityFilter) ([]models.UserAccount, *models.Pagination, error) {
	return s.list(ctx, models.RoleLearner, filter)
}

// UpdateStudent patches a learner. A grade or division change rebinds the group.
func (s *AccountService) UpdateStudent(ctx context.Context, actorID, id string, req models.UpdateStudentRequest) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	account, err := s.loadRole(ctx, id, models.RoleLearner)
	if err != nil {
		return nil, err
	}

	profile := account.Profile
	profile.IdentityID = account.Identity.ID
	patchString(&profile.FirstName, req.FirstName)
	patchString(&profile.LastName, req.LastName)
	patchOptional(&profile.Gender, req.Gender)
	patchOptional(&profile.AdmissionNo, req.AdmissionNo)
	patchOptional(&profile.ContactNo, req.ContactNo)
	if req.DateOfBirth != nil {
		dob, err := parseDate(req.DateOfBirth)
		if err != nil {
			return nil, err
		}
		profile.DateOfBirth = dob
	}

	gradeID := deref(profile.GradeID)
	divisionID := deref(profile.DivisionID)
	if req.GradeID != nil {
		gradeID = *req.GradeID
	}
	if req.DivisionID != nil {
		divisionID = *req.DivisionID
	}
	regroup := gradeID != deref(account.GradeID) || divisionID != deref(account.DivisionID)

	var grade *models.Grade
	var division *models.Division
	if regroup {
		if grade, division, err = s.gradeAndDivision(ctx, gradeID, divisionID); err != nil {
			return nil, err
		}
		profile.GradeID = &grade.ID
		profile.DivisionID = &division.ID
	}

	newEmail := ""
	if req.Email != nil && !strings.EqualFold(strings.TrimSpace(*req.Email), account.Email) {
		newEmail = strings.TrimSpace(*req.Email)
		if err := s.ensureEmailFree(ctx, newEmail, account.Identity.ID); err != nil {
			return nil, err
		}
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if newEmail != "" {
			if err := s.repo.UpdateEmail(ctx, account.Identity.ID, newEmail); err != nil {
				if repository.IsUniqueViolation(err, repository.ConstraintIdentityEmail) {
					return appErrors.ErrDuplicateEmail
				}
				return internalError(err, "failed to update email")
			}
		}
		if err := s.repo.UpdateProfile(ctx, &profile); err != nil {
			return internalError(err, "failed to update student")
		}
		if req.Active != nil && *req.Active != account.Active {
			if err := s.repo.SetActive(ctx, account.Identity.ID, *req.Active); err != nil {
				return internalError(err, "failed to update status")
			}
		}
		if !regroup {
			return nil
		}
		group, err := s.mappedGroup(ctx, grade, division)
		if err != nil {
			return err
		}
		return s.groups.Bind(ctx, account.Identity.ID, group.ID, models.MembershipLearner)
	})
	if err != nil {
		return nil, err
	}
	if req.Active != nil && *req.Active != account.Active {
		s.access.Invalidate(ctx, account.Identity.ID)
	}

	s.audit(ctx, actorID, models.AuditActionUserUpdate, "student", account.Identity.ID, req)
	return s.GetStudent(ctx, account.Identity.ID)
}

// DeleteAccount soft-deletes an account of the given role and retires its
// memberships.
func (s *AccountService) DeleteAccount(ctx context.Context, actorID, id string, role models.Role) error {
	account, err := s.loadRole(ctx, id, role)
	if err != nil {
		return err
	}
	if account.Identity.ID == actorID {
		return appErrors.Clone(appErrors.ErrForbidden, "you cannot delete your own account")
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SoftDelete(ctx, account.Identity.ID); err != nil {
			return lookupError(err, appErrors.ErrNotFound, "failed to load user")
		}
		if err := s.groups.Release(ctx, account.Identity.ID); err != nil {
			return err
		}
		return s.repo.RevokeAllRefreshTokens(ctx, account.Identity.ID)
	})
	if err != nil {
		return err
	}
	s.access.Invalidate(ctx, account.Identity.ID)
	s.audit(ctx, actorID, models.AuditActionUserDelete, strings.ToLower(string(role)), account.Identity.ID, nil)
	return nil
}

// ChangeRole replaces the role tag of an account. Memberships of the old
// role are retired and the cached role is dropped before returning.
func (s *AccountService) ChangeRole(ctx context.Context, actorID, id string, req models.ChangeRoleRequest) (*models.UserAccount, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role payload")
	}
	if id == actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot change your own role")
	}
	account, err := s.loadAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Role == req.Role {
		return account, nil
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateRole(ctx, id, req.Role); err != nil {
			return lookupError(err, appErrors.ErrNotFound, "failed to load user")
		}
		return s.groups.Release(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	s.access.Invalidate(ctx, id)
	s.audit(ctx, actorID, models.AuditActionRoleChange, "identity", id, map[string]interface{}{"from": account.Role, "to": req.Role})
	return s.loadAccount(ctx, id)
}

// SetStatus activates or deactivates an account. Deactivation ends its sessions.
func (s *AccountService) SetStatus(ctx context.Context, actorID, id string, req models.ChangeStatusRequest) (*models.UserAccount, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if id == actorID && !*req.Active {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot deactivate your own account")
	}
	if err := s.repo.SetActive(ctx, id, *req.Active); err != nil {
		return nil, lookupError(err, appErrors.ErrNotFound, "failed to load user")
	}
	if !*req.Active {
		if err := s.repo.RevokeAllRefreshTokens(ctx, id); err != nil {
			s.logger.Warn("failed to revoke refresh tokens", zap.String("identity_id", id), zap.Error(err))
		}
	}
	s.access.Invalidate(ctx, id)
	s.audit(ctx, actorID, models.AuditActionUserUpdate, "identity", id, map[string]interface{}{"active": *req.Active})
	return s.loadAccount(ctx, id)
}

// StudentUpsert is one learner keyed by email, as read by bulk import.
type StudentUpsert struct {
	Email       string
	FirstName   string
	LastName    string
	Gender      *string
	DateOfBirth *time.Time
	Grade       *models.Grade
	Division    *models.Division
	AdmissionNo *string
	Active      bool
}

// UpsertStudent creates the learner for an email or updates the existing
// one. It reports whether an account was created.
func (s *AccountService) UpsertStudent(ctx context.Context, actorID string, in StudentUpsert) (bool, error) {
	if in.Grade == nil || in.Division == nil {
		return false, appErrors.ErrGradeRequired
	}
	existing, err := s.repo.FindByEmail(ctx, in.Email)
	if err != nil && !isNoRows(err) {
		return false, internalError(err, "failed to check email")
	}

	if existing == nil {
		password, err := s.studentPassword("")
		if err != nil {
			return false, err
		}
		var group *models.Group
		account, err := s.provision(ctx, newAccount{
			role:     models.RoleLearner,
			email:    in.Email,
			password: password,
			active:   in.Active,
			grade:    in.Grade,
			profile: models.Profile{
				FirstName:   in.FirstName,
				LastName:    in.LastName,
				Gender:      in.Gender,
				DateOfBirth: in.DateOfBirth,
				GradeID:     &in.Grade.ID,
				DivisionID:  &in.Division.ID,
				AdmissionNo: in.AdmissionNo,
			},
			bind: func(ctx context.Context, identityID string) error {
				g, err := s.groups.EnsureFor(ctx, in.Grade, in.Division)
				if err != nil {
					return err
				}
				group = g
				return s.groups.Bind(ctx, identityID, g.ID, models.MembershipLearner)
			},
		})
		if err != nil {
			return false, err
		}
		s.audit(ctx, actorID, models.AuditActionUserCreate, "student", account.Identity.ID, map[string]interface{}{"username": account.Username, "source": "import"})
		s.notify(ctx, *account, password, map[string]interface{}{"Group": group.Name})
		return true, nil
	}

	account, err := s.loadAccount(ctx, existing.ID)
	if err != nil {
		return false, err
	}
	if account.Role != models.RoleLearner {
		return false, appErrors.Clone(appErrors.ErrDuplicateEmail, "email belongs to a non-student account")
	}
	profile := account.Profile
	profile.IdentityID = account.Identity.ID
	profile.FirstName = in.FirstName
	profile.LastName = in.LastName
	profile.Gender = in.Gender
	profile.DateOfBirth = in.DateOfBirth
	profile.GradeID = &in.Grade.ID
	profile.DivisionID = &in.Division.ID
	profile.AdmissionNo = in.AdmissionNo

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateProfile(ctx, &profile); err != nil {
			return internalError(err, "failed to update student")
		}
		if in.Active != account.Active {
			if err := s.repo.SetActive(ctx, account.Identity.ID, in.Active); err != nil {
				return internalError(err, "failed to update status")
			}
		}
		group, err := s.groups.EnsureFor(ctx, in.Grade, in.Division)
		if err != nil {
			return err
		}
		return s.groups.Bind(ctx, account.Identity.ID, group.ID, models.MembershipLearner)
	})
	if err != nil {
		return false, err
	}
	if in.Active != account.Active {
		s.access.Invalidate(ctx, account.Identity.ID)
	}
	return false, nil
}

func (s *AccountService) list(ctx context.Context, role models.Role, filter models.IdentityFilter) ([]models.UserAccount, *models.Pagination, error) {
	filter.Role = &role
	accounts, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list accounts")
	}
	if accounts == nil {
		accounts = []models.UserAccount{}
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	return accounts, &models.Pagination{Page: page, PageSize: pageSizeOrDefault(filter.PageSize), TotalCount: total}, nil
}

func (s *AccountService) studentPassword(requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if s.config.StudentDefaultPassword != "" {
		return s.config.StudentDefaultPassword, nil
	}
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", internalError(err, "failed to generate password")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (s *AccountService) notify(ctx context.Context, account models.UserAccount, password string, extra map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.Welcome(ctx, account, password, extra)
}

func (s *AccountService) audit(ctx context.Context, actorID, action, resource, resourceID string, values interface{}) {
	recordAudit(ctx, s.repo, s.logger, actorID, action, resource, resourceID, values)
}

func parseDate(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", strings.TrimSpace(*raw))
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be formatted as YYYY-MM-DD")
	}
	return &t, nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func patchString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func patchOptional(dst **string, v *string) {
	if v == nil {
		return
	}
	if trimmed := strings.TrimSpace(*v); trimmed != "" {
		*dst = &trimmed
		return
	}
	*dst = nil
}
