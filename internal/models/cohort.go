package models

import "time"

// Grade is a reference entity such as "5". Code is the external identifier
// embedded in learner usernames.
type Grade struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Division is a free-form section label such as "A".
type Division struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// GradeDivisionMapping declares that a division is valid for a grade.
type GradeDivisionMapping struct {
	ID           string    `db:"id" json:"id"`
	GradeID      string    `db:"grade_id" json:"grade_id"`
	DivisionID   string    `db:"division_id" json:"division_id"`
	GradeName    string    `db:"grade_name" json:"grade_name"`
	DivisionName string    `db:"division_name" json:"division_name"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// GradeWithDivisions groups mappings by grade for listings.
type GradeWithDivisions struct {
	Grade     Grade      `json:"grade"`
	Divisions []Division `json:"divisions"`
}

// Group is the cohort for a (grade, division) pair. Name is derived for display.
type Group struct {
	ID         string    `db:"id" json:"id"`
	GradeID    string    `db:"grade_id" json:"grade_id"`
	DivisionID string    `db:"division_id" json:"division_id"`
	Name       string    `db:"name" json:"name"`
	ShortName  string    `db:"short_name" json:"short_name"`
	LocationID *string   `db:"location_id" json:"location_id,omitempty"`
	Active     bool      `db:"active" json:"active"`
	Deleted    bool      `db:"deleted" json:"-"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// GroupSummary adds the active learner head count to a group.
type GroupSummary struct {
	Group
	StudentCount int `db:"student_count" json:"student_count"`
}

// MembershipKind separates teacher assignments from learner enrolment.
type MembershipKind string

const (
	MembershipTeacher MembershipKind = "TEACHER"
	MembershipLearner MembershipKind = "LEARNER"
)

// MembershipKindFor maps a role to the membership kind it holds.
func MembershipKindFor(role Role) (MembershipKind, bool) {
	switch role {
	case RoleTeacher:
		return MembershipTeacher, true
	case RoleLearner:
		return MembershipLearner, true
	case RoleAdmin:
		return "", false
	default:
		return "", false
	}
}

// GroupMembership binds an identity to a group. Deleted rows are history.
type GroupMembership struct {
	ID         string         `db:"id" json:"id"`
	IdentityID string         `db:"identity_id" json:"identity_id"`
	GroupID    string         `db:"group_id" json:"group_id"`
	LocationID string         `db:"location_id" json:"location_id,omitempty"`
	Kind       MembershipKind `db:"kind" json:"kind"`
	Deleted    bool           `db:"deleted" json:"deleted"`
	ImportCode *string        `db:"import_code" json:"import_code,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// GradeRequest creates or updates a grade.
type GradeRequest struct {
	Name   string `json:"name" validate:"required,max=64"`
	Code   string `json:"code" validate:"omitempty,max=32"`
	Active *bool  `json:"active"`
}

// DivisionRequest creates or updates a division.
type DivisionRequest struct {
	Name   string `json:"name" validate:"required,max=64"`
	Active *bool  `json:"active"`
}

// MappingRequest get-or-creates a grade with a list of divisions.
type MappingRequest struct {
	Grade     string   `json:"grade" validate:"required"`
	Divisions []string `json:"divisions" validate:"required,min=1,dive,required"`
}

// MappingDeleteRequest removes one grade/division mapping.
type MappingDeleteRequest struct {
	GradeID    string `json:"grade_id" validate:"required"`
	DivisionID string `json:"division_id" validate:"required"`
}

// ReplaceDivisionsRequest replaces every division mapped to a grade.
type ReplaceDivisionsRequest struct {
	DivisionIDs []string `json:"division_ids" validate:"dive,required"`
}

// MappingResult reports what a mapping request created.
type MappingResult struct {
	Grade          Grade    `json:"grade"`
	AddedDivisions []string `json:"added_divisions"`
	CreatedGroups  []string `json:"created_groups"`
}
