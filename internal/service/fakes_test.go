package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/internal/repository"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
	"github.com/noah-isme/questplus-school-api/pkg/mailer"
)

// memDB is a shared in-memory store behind the fake repositories below.
type memDB struct {
	mu     sync.Mutex
	nextID int

	identities map[string]*models.Identity
	profiles   map[string]*models.Profile
	tokens     map[string]*models.RefreshToken
	audits     []models.AuditLog
	sequences  map[string]int

	grades    map[string]*models.Grade
	divisions map[string]*models.Division
	mappings  map[[2]string]bool

	groups      map[string]*models.Group
	memberships []*models.GroupMembership

	legacy      map[string]*models.LegacyIdentity
	legacyRoles map[string][]models.LegacyRoleAssignment

	projects    map[string]*models.ClassroomProject
	assets      []models.ProjectAsset
	quizzes     []models.ReflectiveQuiz
	responses   []models.QuizResponse
	submissions map[string]*models.ProjectSubmission
	sessions    map[string]*models.ProjectSession

	timeSlots map[string]*models.TimeSlot
	schedules map[string]*models.Schedule
	slots     map[string]*models.ScheduleSlot

	// usernameConflicts makes the next N identity inserts fail on the username index.
	usernameConflicts int
	failCreateProfile error
}

func newMemDB() *memDB {
	return &memDB{
		identities:  map[string]*models.Identity{},
		profiles:    map[string]*models.Profile{},
		tokens:      map[string]*models.RefreshToken{},
		sequences:   map[string]int{},
		grades:      map[string]*models.Grade{},
		divisions:   map[string]*models.Division{},
		mappings:    map[[2]string]bool{},
		groups:      map[string]*models.Group{},
		legacy:      map[string]*models.LegacyIdentity{},
		legacyRoles: map[string][]models.LegacyRoleAssignment{},
		projects:    map[string]*models.ClassroomProject{},
		submissions: map[string]*models.ProjectSubmission{},
		sessions:    map[string]*models.ProjectSession{},
		timeSlots:   map[string]*models.TimeSlot{},
		schedules:   map[string]*models.Schedule{},
		slots:       map[string]*models.ScheduleSlot{},
	}
}

func (db *memDB) id(prefix string) string {
	db.nextID++
	return fmt.Sprintf("%s-%d", prefix, db.nextID)
}

func uniqueViolation(constraint string) error {
	return &repository.UniqueViolationError{Constraint: constraint, Err: errors.New("duplicate key value")}
}

func (db *memDB) auditActions() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	actions := make([]string, 0, len(db.audits))
	for _, a := range db.audits {
		actions = append(actions, a.Action)
	}
	return actions
}

func (db *memDB) addAudit(log *models.AuditLog) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.audits = append(db.audits, *log)
}

// seedGrade adds a grade with the given divisions mapped to it.
func (db *memDB) seedGrade(name string, divisions ...string) (*models.Grade, []*models.Division) {
	db.mu.Lock()
	defer db.mu.Unlock()
	grade := &models.Grade{ID: db.id("grade"), Name: name, Code: strings.Join(strings.Fields(name), ""), Active: true}
	db.grades[grade.ID] = grade
	var out []*models.Division
	for _, d := range divisions {
		var division *models.Division
		for _, existing := range db.divisions {
			if existing.Name == d {
				division = existing
			}
		}
		if division == nil {
			division = &models.Division{ID: db.id("division"), Name: d, Active: true}
			db.divisions[division.ID] = division
		}
		db.mappings[[2]string{grade.ID, division.ID}] = true
		out = append(out, division)
	}
	return grade, out
}

// seedDivision adds an unmapped division.
func (db *memDB) seedDivision(name string) *models.Division {
	db.mu.Lock()
	defer db.mu.Unlock()
	division := &models.Division{ID: db.id("division"), Name: name, Active: true}
	db.divisions[division.ID] = division
	return division
}

// seedAccount inserts an active identity and profile directly.
func (db *memDB) seedAccount(username, email, passwordHash string, role models.Role) *models.Identity {
	db.mu.Lock()
	defer db.mu.Unlock()
	identity := &models.Identity{ID: db.id("identity"), Username: username, Email: email, PasswordHash: passwordHash, Active: true}
	db.identities[identity.ID] = identity
	db.profiles[identity.ID] = &models.Profile{IdentityID: identity.ID, Role: role, FirstName: username}
	copied := *identity
	return &copied
}

func (db *memDB) activeMemberships(identityID string) []*models.GroupMembership {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*models.GroupMembership
	for _, m := range db.memberships {
		if m.IdentityID == identityID && !m.Deleted {
			copied := *m
			out = append(out, &copied)
		}
	}
	return out
}

func (db *memDB) account(id string) (*models.UserAccount, error) {
	identity, ok := db.identities[id]
	if !ok || identity.Deleted {
		return nil, sql.ErrNoRows
	}
	profile, ok := db.profiles[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	account := &models.UserAccount{Identity: *identity, Profile: *profile}
	if profile.GradeID != nil {
		if g, ok := db.grades[*profile.GradeID]; ok {
			name := g.Name
			account.GradeName = &name
		}
	}
	if profile.DivisionID != nil {
		if d, ok := db.divisions[*profile.DivisionID]; ok {
			name := d.Name
			account.DivisionName = &name
		}
	}
	return account, nil
}

// memIdentities implements the identity, token, sequence and audit repositories.
type memIdentities struct{ db *memDB }

func (r memIdentities) FindAccount(ctx context.Context, id string) (*models.UserAccount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.account(id)
}

func (r memIdentities) find(match func(*models.Identity) bool) (*models.Identity, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, identity := range r.db.identities {
		if !identity.Deleted && match(identity) {
			copied := *identity
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memIdentities) FindByID(ctx context.Context, id string) (*models.Identity, error) {
	return r.find(func(i *models.Identity) bool { return i.ID == id })
}

func (r memIdentities) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	return r.find(func(i *models.Identity) bool { return strings.EqualFold(i.Email, strings.TrimSpace(email)) })
}

func (r memIdentities) FindByUsername(ctx context.Context, username string) (*models.Identity, error) {
	return r.find(func(i *models.Identity) bool { return i.Username == username })
}

func (r memIdentities) FindByIdentifier(ctx context.Context, identifier string) (*models.Identity, error) {
	return r.find(func(i *models.Identity) bool {
		return i.Username == identifier || strings.EqualFold(i.Email, identifier)
	})
}

func (r memIdentities) FindByFullName(ctx context.Context, role models.Role, firstName, lastName string) (*models.UserAccount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	ids := make([]string, 0, len(r.db.identities))
	for id := range r.db.identities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		account, err := r.db.account(id)
		if err != nil || account.Deleted || account.Role != role {
			continue
		}
		if strings.EqualFold(account.FirstName, firstName) && strings.EqualFold(account.LastName, lastName) {
			return account, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memIdentities) List(ctx context.Context, filter models.IdentityFilter) ([]models.UserAccount, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.UserAccount
	for id := range r.db.identities {
		account, err := r.db.account(id)
		if err != nil {
			continue
		}
		if filter.Role != nil && account.Role != *filter.Role {
			continue
		}
		if filter.Active != nil && account.Active != *filter.Active {
			continue
		}
		if filter.GradeID != "" && deref(account.GradeID) != filter.GradeID {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(account.Username+" "+account.Email+" "+account.FullName()), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, *account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, len(out), nil
}

func (r memIdentities) Create(ctx context.Context, identity *models.Identity) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.usernameConflicts > 0 {
		r.db.usernameConflicts--
		return uniqueViolation(repository.ConstraintIdentityUsername)
	}
	for _, existing := range r.db.identities {
		if existing.Deleted {
			continue
		}
		if existing.Username == identity.Username {
			return uniqueViolation(repository.ConstraintIdentityUsername)
		}
		if strings.EqualFold(existing.Email, identity.Email) {
			return uniqueViolation(repository.ConstraintIdentityEmail)
		}
	}
	identity.ID = r.db.id("identity")
	identity.CreatedAt = time.Now().UTC()
	identity.UpdatedAt = identity.CreatedAt
	copied := *identity
	r.db.identities[identity.ID] = &copied
	return nil
}

func (r memIdentities) CreateProfile(ctx context.Context, profile *models.Profile) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.failCreateProfile != nil {
		// roll back the identity the way the enclosing transaction would
		delete(r.db.identities, profile.IdentityID)
		return r.db.failCreateProfile
	}
	copied := *profile
	r.db.profiles[profile.IdentityID] = &copied
	return nil
}

func (r memIdentities) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	existing, ok := r.db.profiles[profile.IdentityID]
	if !ok {
		return sql.ErrNoRows
	}
	copied := *profile
	copied.Role = existing.Role
	r.db.profiles[profile.IdentityID] = &copied
	return nil
}

func (r memIdentities) UpdateRole(ctx context.Context, id string, role models.Role) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	profile, ok := r.db.profiles[id]
	if !ok {
		return sql.ErrNoRows
	}
	profile.Role = role
	return nil
}

func (r memIdentities) withIdentity(id string, fn func(*models.Identity)) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	identity, ok := r.db.identities[id]
	if !ok || identity.Deleted {
		return sql.ErrNoRows
	}
	fn(identity)
	return nil
}

func (r memIdentities) UpdateEmail(ctx context.Context, id, email string) error {
	return r.withIdentity(id, func(i *models.Identity) { i.Email = email })
}

func (r memIdentities) SetActive(ctx context.Context, id string, active bool) error {
	return r.withIdentity(id, func(i *models.Identity) { i.Active = active })
}

func (r memIdentities) SoftDelete(ctx context.Context, id string) error {
	return r.withIdentity(id, func(i *models.Identity) { i.Deleted = true; i.Active = false })
}

func (r memIdentities) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return r.withIdentity(id, func(i *models.Identity) { i.LastLogin = &ts })
}

func (r memIdentities) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	return r.withIdentity(id, func(i *models.Identity) { i.PasswordHash = passwordHash; i.UpdatedAt = updatedAt })
}

func (r memIdentities) RevokeAllRefreshTokens(ctx context.Context, identityID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.tokens {
		if t.IdentityID == identityID {
			t.Revoked = true
		}
	}
	return nil
}

func (r memIdentities) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	copied := *token
	r.db.tokens[token.Token] = &copied
	return nil
}

func (r memIdentities) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *t
	return &copied, nil
}

func (r memIdentities) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.tokens {
		if t.ID == id {
			t.Revoked = true
			t.RevokedAt = &revokedAt
			return nil
		}
	}
	return sql.ErrNoRows
}

func (r memIdentities) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.db.addAudit(log)
	return nil
}

func (r memIdentities) FindRole(ctx context.Context, id string) (models.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	identity, ok := r.db.identities[id]
	if !ok || identity.Deleted || !identity.Active {
		return "", sql.ErrNoRows
	}
	profile, ok := r.db.profiles[id]
	if !ok {
		return "", sql.ErrNoRows
	}
	return profile.Role, nil
}

func (r memIdentities) CountByRole(ctx context.Context, role models.Role) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, p := range r.db.profiles {
		if p.Role == role {
			n++
		}
	}
	return n, nil
}

func (r memIdentities) CountActiveByRole(ctx context.Context, role models.Role) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for id, p := range r.db.profiles {
		if i, ok := r.db.identities[id]; ok && p.Role == role && i.Active && !i.Deleted {
			n++
		}
	}
	return n, nil
}

func (r memIdentities) CountProfilesInGrade(ctx context.Context, gradeID string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, p := range r.db.profiles {
		if p.Role == models.RoleLearner && deref(p.GradeID) == gradeID {
			n++
		}
	}
	return n, nil
}

func (r memIdentities) NextSequence(ctx context.Context, scope string, seed int) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	current, ok := r.db.sequences[scope]
	if !ok {
		r.db.sequences[scope] = seed
		return seed, nil
	}
	r.db.sequences[scope] = current + 1
	return current + 1, nil
}

// memCohorts implements the grade, division and mapping catalog.
type memCohorts struct{ db *memDB }

func (r memCohorts) ListGrades(ctx context.Context) ([]models.Grade, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]models.Grade, 0, len(r.db.grades))
	for _, g := range r.db.grades {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memCohorts) FindGrade(ctx context.Context, id string) (*models.Grade, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g, ok := r.db.grades[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *g
	return &copied, nil
}

func (r memCohorts) FindGradeByName(ctx context.Context, name string) (*models.Grade, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, g := range r.db.grades {
		if g.Name == name {
			copied := *g
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memCohorts) CreateGrade(ctx context.Context, grade *models.Grade) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, g := range r.db.grades {
		if g.Name == grade.Name {
			return uniqueViolation(repository.ConstraintGradeName)
		}
	}
	grade.ID = r.db.id("grade")
	copied := *grade
	r.db.grades[grade.ID] = &copied
	return nil
}

func (r memCohorts) GetOrCreateGrade(ctx context.Context, name, code string) (*models.Grade, bool, error) {
	if g, err := r.FindGradeByName(ctx, name); err == nil {
		return g, false, nil
	}
	grade := &models.Grade{Name: name, Code: code, Active: true}
	if err := r.CreateGrade(ctx, grade); err != nil {
		return nil, false, err
	}
	return grade, true, nil
}

func (r memCohorts) UpdateGrade(ctx context.Context, grade *models.Grade) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.grades[grade.ID]; !ok {
		return sql.ErrNoRows
	}
	for _, g := range r.db.grades {
		if g.ID != grade.ID && g.Name == grade.Name {
			return uniqueViolation(repository.ConstraintGradeName)
		}
	}
	copied := *grade
	r.db.grades[grade.ID] = &copied
	return nil
}

func (r memCohorts) ListDivisions(ctx context.Context) ([]models.Division, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]models.Division, 0, len(r.db.divisions))
	for _, d := range r.db.divisions {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memCohorts) FindDivision(ctx context.Context, id string) (*models.Division, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	d, ok := r.db.divisions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *d
	return &copied, nil
}

func (r memCohorts) FindDivisionByName(ctx context.Context, name string) (*models.Division, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, d := range r.db.divisions {
		if d.Name == name {
			copied := *d
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memCohorts) CreateDivision(ctx context.Context, division *models.Division) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, d := range r.db.divisions {
		if d.Name == division.Name {
			return uniqueViolation(repository.ConstraintDivisionName)
		}
	}
	division.ID = r.db.id("division")
	copied := *division
	r.db.divisions[division.ID] = &copied
	return nil
}

func (r memCohorts) GetOrCreateDivision(ctx context.Context, name string) (*models.Division, bool, error) {
	if d, err := r.FindDivisionByName(ctx, name); err == nil {
		return d, false, nil
	}
	division := &models.Division{Name: name, Active: true}
	if err := r.CreateDivision(ctx, division); err != nil {
		return nil, false, err
	}
	return division, true, nil
}

func (r memCohorts) UpdateDivision(ctx context.Context, division *models.Division) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.divisions[division.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *division
	r.db.divisions[division.ID] = &copied
	return nil
}

func (r memCohorts) ListMappings(ctx context.Context) ([]models.GradeDivisionMapping, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.GradeDivisionMapping
	for pair := range r.db.mappings {
		out = append(out, models.GradeDivisionMapping{
			GradeID:      pair[0],
			DivisionID:   pair[1],
			GradeName:    r.db.grades[pair[0]].Name,
			DivisionName: r.db.divisions[pair[1]].Name,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GradeName != out[j].GradeName {
			return out[i].GradeName < out[j].GradeName
		}
		return out[i].DivisionName < out[j].DivisionName
	})
	return out, nil
}

func (r memCohorts) DivisionsForGrade(ctx context.Context, gradeID string) ([]models.Division, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Division
	for pair := range r.db.mappings {
		if pair[0] == gradeID {
			out = append(out, *r.db.divisions[pair[1]])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memCohorts) GradesForDivision(ctx context.Context, divisionID string) ([]models.Grade, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Grade
	for pair := range r.db.mappings {
		if pair[1] == divisionID {
			out = append(out, *r.db.grades[pair[0]])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SoftDeleteGrade drops the grade from the map, which hides it from every lookup.
func (r memCohorts) SoftDeleteGrade(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.grades[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.db.grades, id)
	return nil
}

func (r memCohorts) SoftDeleteDivision(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.divisions[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.db.divisions, id)
	return nil
}

func (r memCohorts) MappingExists(ctx context.Context, gradeID, divisionID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.mappings[[2]string{gradeID, divisionID}], nil
}

func (r memCohorts) EnsureMapping(ctx context.Context, gradeID, divisionID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := [2]string{gradeID, divisionID}
	if r.db.mappings[key] {
		return false, nil
	}
	r.db.mappings[key] = true
	return true, nil
}

func (r memCohorts) DeleteMapping(ctx context.Context, gradeID, divisionID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := [2]string{gradeID, divisionID}
	if !r.db.mappings[key] {
		return sql.ErrNoRows
	}
	delete(r.db.mappings, key)
	return nil
}

func (r memCohorts) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.db.addAudit(log)
	return nil
}

// memGroups implements the group and membership repository.
type memGroups struct{ db *memDB }

func (r memGroups) FindByID(ctx context.Context, id string) (*models.Group, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g, ok := r.db.groups[id]
	if !ok || g.Deleted {
		return nil, sql.ErrNoRows
	}
	copied := *g
	return &copied, nil
}

func (r memGroups) FindByPair(ctx context.Context, gradeID, divisionID string) (*models.Group, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, g := range r.db.groups {
		if g.GradeID == gradeID && g.DivisionID == divisionID && !g.Deleted {
			copied := *g
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memGroups) CreateIfAbsent(ctx context.Context, group *models.Group) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, g := range r.db.groups {
		if g.GradeID == group.GradeID && g.DivisionID == group.DivisionID {
			return false, nil
		}
	}
	group.ID = r.db.id("group")
	copied := *group
	r.db.groups[group.ID] = &copied
	return true, nil
}

func (r memGroups) List(ctx context.Context, activeOnly bool) ([]models.GroupSummary, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.GroupSummary
	for _, g := range r.db.groups {
		if g.Deleted || (activeOnly && !g.Active) {
			continue
		}
		summary := models.GroupSummary{Group: *g}
		for _, m := range r.db.memberships {
			if m.GroupID == g.ID && !m.Deleted && m.Kind == models.MembershipLearner {
				summary.StudentCount++
			}
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memGroups) listWhere(match func(*models.Group) bool) []models.Group {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Group
	for _, g := range r.db.groups {
		if !g.Deleted && match(g) {
			out = append(out, *g)
		}
	}
	return out
}

func (r memGroups) ListByGrade(ctx context.Context, gradeID string) ([]models.Group, error) {
	return r.listWhere(func(g *models.Group) bool { return g.GradeID == gradeID }), nil
}

func (r memGroups) ListByDivision(ctx context.Context, divisionID string) ([]models.Group, error) {
	return r.listWhere(func(g *models.Group) bool { return g.DivisionID == divisionID }), nil
}

func (r memGroups) UpdateName(ctx context.Context, id, name, shortName string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g, ok := r.db.groups[id]
	if !ok {
		return sql.ErrNoRows
	}
	g.Name, g.ShortName = name, shortName
	return nil
}

func (r memGroups) SetActive(ctx context.Context, id string, active bool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g, ok := r.db.groups[id]
	if !ok {
		return sql.ErrNoRows
	}
	g.Active = active
	return nil
}

func (r memGroups) InsertMembership(ctx context.Context, membership *models.GroupMembership) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.db.memberships {
		if m.IdentityID == membership.IdentityID && m.GroupID == membership.GroupID && m.Kind == membership.Kind && !m.Deleted {
			return false, nil
		}
	}
	membership.ID = r.db.id("membership")
	copied := *membership
	r.db.memberships = append(r.db.memberships, &copied)
	return true, nil
}

func (r memGroups) SoftDeleteMembershipsExcept(ctx context.Context, identityID string, kind models.MembershipKind, keep []string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	kept := map[string]bool{}
	for _, id := range keep {
		kept[id] = true
	}
	var n int64
	for _, m := range r.db.memberships {
		if m.IdentityID == identityID && m.Kind == kind && !m.Deleted && !kept[m.GroupID] {
			m.Deleted = true
			n++
		}
	}
	return n, nil
}

func (r memGroups) SoftDeleteAllMemberships(ctx context.Context, identityID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.db.memberships {
		if m.IdentityID == identityID {
			m.Deleted = true
		}
	}
	return nil
}

func (r memGroups) LatestActiveGroup(ctx context.Context, identityID string) (*models.Group, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i := len(r.db.memberships) - 1; i >= 0; i-- {
		m := r.db.memberships[i]
		if m.IdentityID == identityID && !m.Deleted {
			copied := *r.db.groups[m.GroupID]
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memGroups) ListMemberships(ctx context.Context, identityID string, includeDeleted bool) ([]models.GroupMembership, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.GroupMembership
	for _, m := range r.db.memberships {
		if m.IdentityID == identityID && (includeDeleted || !m.Deleted) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r memGroups) ActiveGroups(ctx context.Context, identityID string) ([]models.Group, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	seen := map[string]bool{}
	var out []models.Group
	for _, m := range r.db.memberships {
		if m.IdentityID == identityID && !m.Deleted && !seen[m.GroupID] {
			seen[m.GroupID] = true
			out = append(out, *r.db.groups[m.GroupID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memGroups) IsMember(ctx context.Context, identityID, groupID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.db.memberships {
		if m.IdentityID == identityID && m.GroupID == groupID && !m.Deleted {
			return true, nil
		}
	}
	return false, nil
}

func (r memGroups) ListMembers(ctx context.Context, groupID string, kind models.MembershipKind) ([]models.UserAccount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.UserAccount
	for _, m := range r.db.memberships {
		if m.GroupID != groupID || m.Kind != kind || m.Deleted {
			continue
		}
		if account, err := r.db.account(m.IdentityID); err == nil {
			out = append(out, *account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// memLegacy implements the read-only legacy directory.
type memLegacy struct{ db *memDB }

func (r memLegacy) FindIdentity(ctx context.Context, userName string) (*models.LegacyIdentity, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	l, ok := r.db.legacy[userName]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *l
	return &copied, nil
}

func (r memLegacy) FindRoles(ctx context.Context, userID string) ([]models.LegacyRoleAssignment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.legacyRoles[userID], nil
}

// memProjects implements the project repository and its dashboard counters.
type memProjects struct{ db *memDB }

func (r memProjects) visible(p *models.ClassroomProject, filter models.ProjectFilter) bool {
	if filter.GroupIDs == nil && filter.AssignedTeacherID == "" {
		return true
	}
	for _, id := range filter.GroupIDs {
		if p.GroupID == id {
			return true
		}
	}
	return filter.AssignedTeacherID != "" && p.AssignedTeacherID != nil && *p.AssignedTeacherID == filter.AssignedTeacherID
}

func (r memProjects) List(ctx context.Context, filter models.ProjectFilter) ([]models.ClassroomProject, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.ClassroomProject
	for _, p := range r.db.projects {
		if r.visible(p, filter) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, len(out), nil
}

func (r memProjects) FindByID(ctx context.Context, id string) (*models.ClassroomProject, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.projects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *p
	return &copied, nil
}

func (r memProjects) Create(ctx context.Context, project *models.ClassroomProject) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	project.ID = r.db.id("project")
	project.CreatedAt = time.Now().UTC()
	copied := *project
	r.db.projects[project.ID] = &copied
	return nil
}

func (r memProjects) Update(ctx context.Context, project *models.ClassroomProject) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.projects[project.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *project
	r.db.projects[project.ID] = &copied
	return nil
}

func (r memProjects) CreateAsset(ctx context.Context, asset *models.ProjectAsset) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	asset.ID = r.db.id("asset")
	r.db.assets = append(r.db.assets, *asset)
	return nil
}

func (r memProjects) ListAssets(ctx context.Context, projectID string) ([]models.ProjectAsset, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.ProjectAsset
	for _, a := range r.db.assets {
		if a.ProjectID == projectID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r memProjects) CreateQuiz(ctx context.Context, quiz *models.ReflectiveQuiz) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	quiz.ID = r.db.id("quiz")
	r.db.quizzes = append(r.db.quizzes, *quiz)
	return nil
}

func (r memProjects) ListQuizzes(ctx context.Context, projectID string) ([]models.ReflectiveQuiz, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.ReflectiveQuiz
	for _, q := range r.db.quizzes {
		if q.ProjectID == projectID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (r memProjects) SaveQuizResponse(ctx context.Context, response *models.QuizResponse) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.responses {
		if existing.QuizID == response.QuizID && existing.StudentID == response.StudentID {
			return uniqueViolation(repository.ConstraintQuizResponse)
		}
	}
	response.ID = r.db.id("response")
	r.db.responses = append(r.db.responses, *response)
	return nil
}

func (r memProjects) CreateSubmission(ctx context.Context, submission *models.ProjectSubmission) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	submission.ID = r.db.id("submission")
	submission.SubmittedAt = time.Now().UTC()
	copied := *submission
	r.db.submissions[submission.ID] = &copied
	return nil
}

func (r memProjects) ListSubmissions(ctx context.Context, projectID, studentID string) ([]models.ProjectSubmission, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.ProjectSubmission
	for _, s := range r.db.submissions {
		if s.ProjectID == projectID && (studentID == "" || s.StudentID == studentID) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memProjects) FindSubmission(ctx context.Context, id string) (*models.ProjectSubmission, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.submissions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *s
	return &copied, nil
}

func (r memProjects) ReviewSubmission(ctx context.Context, submission *models.ProjectSubmission) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.submissions[submission.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *submission
	r.db.submissions[submission.ID] = &copied
	return nil
}

func (r memProjects) CreateSession(ctx context.Context, session *models.ProjectSession) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	session.ID = r.db.id("session")
	session.CreatedAt = time.Now().UTC()
	session.UpdatedAt = session.CreatedAt
	copied := *session
	r.db.sessions[session.ID] = &copied
	return nil
}

func (r memProjects) UpdateSession(ctx context.Context, session *models.ProjectSession) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.sessions[session.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *session
	r.db.sessions[session.ID] = &copied
	return nil
}

func (r memProjects) FindSession(ctx context.Context, id string) (*models.ProjectSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *s
	return &copied, nil
}

func (r memProjects) ListSessions(ctx context.Context, projectID string) ([]models.ProjectSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.ProjectSession
	for _, s := range r.db.sessions {
		if s.ProjectID == projectID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (r memProjects) CountByGroups(ctx context.Context, groupIDs []string) (int, error) {
	projects, _, _ := r.List(ctx, models.ProjectFilter{GroupIDs: groupIDs})
	return len(projects), nil
}

func (r memProjects) CountPendingReviews(ctx context.Context, groupIDs []string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	in := map[string]bool{}
	for _, id := range groupIDs {
		in[id] = true
	}
	n := 0
	for _, s := range r.db.submissions {
		if p, ok := r.db.projects[s.ProjectID]; ok && in[p.GroupID] && s.ReviewedAt == nil {
			n++
		}
	}
	return n, nil
}

func (r memProjects) CountSubmissionsByStudent(ctx context.Context, studentID string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, s := range r.db.submissions {
		if s.StudentID == studentID {
			n++
		}
	}
	return n, nil
}

// memCacheRepo is a CacheRepository storing JSON in a map.
type memCacheRepo struct {
	mu      sync.Mutex
	items   map[string][]byte
	getErr  error
	deletes []string
}

func newMemCacheRepo() *memCacheRepo {
	return &memCacheRepo{items: map[string][]byte{}}
}

func (c *memCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return c.getErr
	}
	raw, ok := c.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = raw
	return nil
}

func (c *memCacheRepo) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
		c.deletes = append(c.deletes, k)
	}
	return nil
}

func (c *memCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if ok, _ := path.Match(pattern, k); ok {
			delete(c.items, k)
		}
	}
	return nil
}

func (c *memCacheRepo) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// recordingMailer captures sent messages.
type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *recordingMailer) templates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, msg := range m.sent {
		out = append(out, msg.Template)
	}
	return out
}

// memSchedules implements the schedule repository.
type memSchedules struct{ db *memDB }

func (r memSchedules) GetOrCreateTimeSlot(ctx context.Context, label, start, end string) (*models.TimeSlot, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, ts := range r.db.timeSlots {
		if ts.Label == label {
			copied := *ts
			return &copied, nil
		}
	}
	ts := &models.TimeSlot{ID: r.db.id("slot"), Label: label, StartTime: start, EndTime: end, CreatedAt: time.Now()}
	r.db.timeSlots[ts.ID] = ts
	copied := *ts
	return &copied, nil
}

func (r memSchedules) GetOrCreateSchedule(ctx context.Context, groupID, academicYear string) (*models.Schedule, bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, sc := range r.db.schedules {
		if sc.GroupID == groupID && sc.AcademicYear == academicYear {
			copied := *sc
			return &copied, false, nil
		}
	}
	sc := &models.Schedule{ID: r.db.id("schedule"), GroupID: groupID, AcademicYear: academicYear, Active: true}
	r.db.schedules[sc.ID] = sc
	copied := *sc
	return &copied, true, nil
}

func (r memSchedules) UpsertSlot(ctx context.Context, slot *models.ScheduleSlot) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.slots {
		if existing.ScheduleID == slot.ScheduleID && existing.Day == slot.Day && existing.TimeSlotID == slot.TimeSlotID {
			existing.Course = slot.Course
			existing.TeacherID = slot.TeacherID
			slot.ID = existing.ID
			return nil
		}
	}
	slot.ID = r.db.id("entry")
	copied := *slot
	r.db.slots[slot.ID] = &copied
	return nil
}

func (r memSchedules) FindTeacherConflict(ctx context.Context, teacherID, academicYear, day, timeSlotID, scheduleID string) (*models.ScheduleEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, entry := range r.entries(func(slot *models.ScheduleSlot, sc *models.Schedule) bool {
		return slot.TeacherID != nil && *slot.TeacherID == teacherID && slot.Day == day &&
			slot.TimeSlotID == timeSlotID && sc.ID != scheduleID && sc.AcademicYear == academicYear
	}) {
		return &entry, nil
	}
	return nil, sql.ErrNoRows
}

func (r memSchedules) ListByGroup(ctx context.Context, groupID, academicYear string) ([]models.ScheduleEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.entries(func(slot *models.ScheduleSlot, sc *models.Schedule) bool {
		return sc.GroupID == groupID && yearMatches(sc, academicYear)
	}), nil
}

func (r memSchedules) ListByTeacher(ctx context.Context, teacherID, academicYear string) ([]models.ScheduleEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.entries(func(slot *models.ScheduleSlot, sc *models.Schedule) bool {
		return slot.TeacherID != nil && *slot.TeacherID == teacherID && yearMatches(sc, academicYear)
	}), nil
}

func yearMatches(sc *models.Schedule, academicYear string) bool {
	if academicYear == "" {
		return sc.Active
	}
	return sc.AcademicYear == academicYear
}

type orderedEntry struct {
	models.ScheduleEntry
	dayOrder int
}

// entries joins matching slots and orders them by weekday, start time and group name.
func (r memSchedules) entries(match func(*models.ScheduleSlot, *models.Schedule) bool) []models.ScheduleEntry {
	var rows []orderedEntry
	for _, slot := range r.db.slots {
		sc := r.db.schedules[slot.ScheduleID]
		if sc == nil || !match(slot, sc) {
			continue
		}
		ts := r.db.timeSlots[slot.TimeSlotID]
		entry := models.ScheduleEntry{
			ID: slot.ID, ScheduleID: sc.ID, GroupID: sc.GroupID, AcademicYear: sc.AcademicYear,
			Day: slot.Day, TimeSlot: ts.Label, StartTime: ts.StartTime, EndTime: ts.EndTime,
			Course: slot.Course, TeacherID: slot.TeacherID,
		}
		if g := r.db.groups[sc.GroupID]; g != nil {
			entry.GroupName = g.Name
		}
		if slot.TeacherID != nil {
			if p := r.db.profiles[*slot.TeacherID]; p != nil {
				name := p.FullName()
				entry.TeacherName = &name
			}
		}
		rows = append(rows, orderedEntry{ScheduleEntry: entry, dayOrder: slot.DayOrder})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.dayOrder != b.dayOrder {
			return a.dayOrder < b.dayOrder
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.GroupName < b.GroupName
	})
	out := make([]models.ScheduleEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ScheduleEntry)
	}
	return out
}
