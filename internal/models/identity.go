package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of profile roles used for authorization.
type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleTeacher Role = "Teacher"
	RoleLearner Role = "Learner"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleTeacher, RoleLearner}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleLearner:
		return true
	default:
		return false
	}
}

// ParseRole accepts the canonical role names and the legacy directory aliases.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "admin", "administrator", "schooladmin":
		return RoleAdmin, nil
	case "teacher", "faculty":
		return RoleTeacher, nil
	case "learner", "student":
		return RoleLearner, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Identity is the canonical authenticatable account.
type Identity struct {
	ID            string     `db:"id" json:"id"`
	Username      string     `db:"username" json:"username"`
	Email         string     `db:"email" json:"email"`
	PasswordHash  string     `db:"password_hash" json:"-"`
	Active        bool       `db:"active" json:"active"`
	Deleted       bool       `db:"deleted" json:"-"`
	InstitutionID *string    `db:"institution_id" json:"institution_id,omitempty"`
	LastLogin     *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Profile carries the role tag and personal data attached one-to-one to an Identity.
type Profile struct {
	IdentityID   string     `db:"identity_id" json:"-"`
	Role         Role       `db:"role" json:"role"`
	FirstName    string     `db:"first_name" json:"first_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	Gender       *string    `db:"gender" json:"gender,omitempty"`
	DateOfBirth  *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	GradeID      *string    `db:"grade_id" json:"grade_id,omitempty"`
	DivisionID   *string    `db:"division_id" json:"division_id,omitempty"`
	AdmissionNo  *string    `db:"admission_no" json:"admission_no,omitempty"`
	ContactNo    *string    `db:"contact_no" json:"contact_no,omitempty"`
	AltContactNo *string    `db:"alt_contact_no" json:"alt_contact_no,omitempty"`
}

// FullName joins first and last name.
func (p Profile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// UserAccount is the joined identity, profile and cohort view used by listings.
type UserAccount struct {
	Identity
	Profile
	GradeName    *string `db:"grade_name" json:"grade_name,omitempty"`
	DivisionName *string `db:"division_name" json:"division_name,omitempty"`
}

// IdentityFilter captures filtering criteria for listing accounts.
type IdentityFilter struct {
	Role       *Role
	Active     *bool
	GradeID    string
	DivisionID string
	GroupID    string
	Search     string
	Page       int
	PageSize   int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
