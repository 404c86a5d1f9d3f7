package models

// CreateTeacherRequest provisions a teacher and assigns groups by grade name.
type CreateTeacherRequest struct {
	Email                string              `json:"email" validate:"required,email"`
	Password             string              `json:"password" validate:"required,min=8"`
	FirstName            string              `json:"first_name" validate:"required,max=100"`
	LastName             string              `json:"last_name" validate:"max=100"`
	Gender               *string             `json:"gender" validate:"omitempty,oneof=Male Female Other"`
	ContactNo            *string             `json:"contact_no" validate:"omitempty,max=50"`
	AltContactNo         *string             `json:"alt_contact_no" validate:"omitempty,max=50"`
	Active               *bool               `json:"is_active"`
	GradeDivisionMapping map[string][]string `json:"grade_division_mapping"`
}

// UpdateTeacherRequest patches a teacher. A non-nil mapping replaces every group.
type UpdateTeacherRequest struct {
	FirstName            *string             `json:"first_name" validate:"omitempty,max=100"`
	LastName             *string             `json:"last_name" validate:"omitempty,max=100"`
	Gender               *string             `json:"gender" validate:"omitempty,oneof=Male Female Other"`
	ContactNo            *string             `json:"contact_no" validate:"omitempty,max=50"`
	AltContactNo         *string             `json:"alt_contact_no" validate:"omitempty,max=50"`
	Active               *bool               `json:"is_active"`
	GradeDivisionMapping map[string][]string `json:"grade_division_mapping"`
}

// CreateStudentRequest provisions a learner in a grade and division.
type CreateStudentRequest struct {
	Email       string  `json:"email" validate:"required,email"`
	Password    string  `json:"password" validate:"omitempty,min=8"`
	FirstName   string  `json:"first_name" validate:"required,max=100"`
	LastName    string  `json:"last_name" validate:"max=100"`
	Gender      *string `json:"gender" validate:"omitempty,oneof=Male Female Other"`
	DateOfBirth *string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	GradeID     string  `json:"grade_id" validate:"required"`
	DivisionID  string  `json:"division_id" validate:"required"`
	AdmissionNo *string `json:"admission_no" validate:"omitempty,max=50"`
	ContactNo   *string `json:"contact_no" validate:"omitempty,max=50"`
	Active      *bool   `json:"is_active"`
}

// UpdateStudentRequest patches a learner. Changing grade or division rebinds the group.
type UpdateStudentRequest struct {
	Email       *string `json:"email" validate:"omitempty,email"`
	FirstName   *string `json:"first_name" validate:"omitempty,max=100"`
	LastName    *string `json:"last_name" validate:"omitempty,max=100"`
	Gender      *string `json:"gender" validate:"omitempty,oneof=Male Female Other"`
	DateOfBirth *string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	GradeID     *string `json:"grade_id"`
	DivisionID  *string `json:"division_id"`
	AdmissionNo *string `json:"admission_no" validate:"omitempty,max=50"`
	ContactNo   *string `json:"contact_no" validate:"omitempty,max=50"`
	Active      *bool   `json:"is_active"`
}

// ChangeRoleRequest switches the role tag of an account.
type ChangeRoleRequest struct {
	Role Role `json:"role" validate:"required,oneof=Admin Teacher Learner"`
}

// ChangeStatusRequest toggles the active flag of an account.
type ChangeStatusRequest struct {
	Active *bool `json:"is_active" validate:"required"`
}

// TeacherDetail is a teacher account with its current grade/division assignments.
type TeacherDetail struct {
	UserAccount
	GradeDivisionMapping map[string][]string `json:"grade_division_mapping"`
	Groups               []Group             `json:"groups"`
}

// StudentDetail is a learner account with its current group.
type StudentDetail struct {
	UserAccount
	Group *Group `json:"group,omitempty"`
}
