package models

import (
	"time"

	"github.com/lib/pq"
)

// ClassroomProject is an assignment scoped to a grade/division group.
type ClassroomProject struct {
	ID                string     `db:"id" json:"id"`
	Title             string     `db:"title" json:"title"`
	Description       *string    `db:"description" json:"description,omitempty"`
	GradeID           string     `db:"grade_id" json:"grade_id"`
	DivisionID        string     `db:"division_id" json:"division_id"`
	GroupID           string     `db:"group_id" json:"group_id"`
	GroupName         string     `db:"group_name" json:"group_name"`
	AssignedTeacherID *string    `db:"assigned_teacher_id" json:"assigned_teacher_id,omitempty"`
	DueDate           *time.Time `db:"due_date" json:"due_date,omitempty"`
	CreatedBy         string     `db:"created_by" json:"created_by"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// ProjectAsset is a file attached to a project.
type ProjectAsset struct {
	ID          string    `db:"id" json:"id"`
	ProjectID   string    `db:"project_id" json:"project_id"`
	FileName    string    `db:"file_name" json:"file_name"`
	StoragePath string    `db:"storage_path" json:"-"`
	FileType    string    `db:"file_type" json:"file_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	UploadedBy  string    `db:"uploaded_by" json:"uploaded_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	DownloadURL string    `db:"-" json:"download_url,omitempty"`
}

// ReflectiveQuiz is a question attached to a project.
type ReflectiveQuiz struct {
	ID          string         `db:"id" json:"id"`
	ProjectID   string         `db:"project_id" json:"project_id"`
	Question    string         `db:"question" json:"question"`
	Options     pq.StringArray `db:"options" json:"options"`
	Answers     pq.StringArray `db:"answers" json:"answers,omitempty"`
	Multiselect bool           `db:"multiselect" json:"multiselect"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// QuizResponse is a learner's answer to a reflective quiz.
type QuizResponse struct {
	ID        string         `db:"id" json:"id"`
	QuizID    string         `db:"quiz_id" json:"quiz_id"`
	StudentID string         `db:"student_id" json:"student_id"`
	Answers   pq.StringArray `db:"answers" json:"answers"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// ProjectSubmission is a learner's uploaded work for a project.
type ProjectSubmission struct {
	ID          string     `db:"id" json:"id"`
	ProjectID   string     `db:"project_id" json:"project_id"`
	StudentID   string     `db:"student_id" json:"student_id"`
	FileName    string     `db:"file_name" json:"file_name"`
	StoragePath string     `db:"storage_path" json:"-"`
	Feedback    *string    `db:"feedback" json:"feedback,omitempty"`
	Marks       *float64   `db:"marks" json:"marks,omitempty"`
	ReviewedBy  *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	SubmittedAt time.Time  `db:"submitted_at" json:"submitted_at"`
	DownloadURL string     `db:"-" json:"download_url,omitempty"`
}

// ProjectSession is a teaching session of a project, optionally with a slide deck.
type ProjectSession struct {
	ID           string    `db:"id" json:"id"`
	ProjectID    string    `db:"project_id" json:"project_id"`
	Title        string    `db:"title" json:"title"`
	OverviewText *string   `db:"overview_text" json:"overview_text,omitempty"`
	ModuleName   *string   `db:"module_name" json:"module_name,omitempty"`
	FileName     *string   `db:"file_name" json:"file_name,omitempty"`
	StoragePath  *string   `db:"storage_path" json:"-"`
	FileType     string    `db:"file_type" json:"file_type"`
	CreatedBy    string    `db:"created_by" json:"created_by"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
	DownloadURL  string    `db:"-" json:"download_url,omitempty"`
}

// ProjectFilter narrows project listings.
type ProjectFilter struct {
	GroupIDs          []string
	AssignedTeacherID string
	Page              int
	PageSize          int
}

// CreateProjectRequest creates a classroom project.
type CreateProjectRequest struct {
	Title             string  `json:"title" validate:"required,max=255"`
	Description       *string `json:"description"`
	GradeID           string  `json:"grade_id" validate:"required"`
	DivisionID        string  `json:"division_id" validate:"required"`
	AssignedTeacherID *string `json:"assigned_teacher_id"`
	DueDate           *string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

// UpdateProjectRequest patches a classroom project.
type UpdateProjectRequest struct {
	Title             *string `json:"title" validate:"omitempty,max=255"`
	Description       *string `json:"description"`
	AssignedTeacherID *string `json:"assigned_teacher_id"`
	DueDate           *string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

// QuizInput describes one reflective quiz question.
type QuizInput struct {
	Question    string   `json:"question" validate:"required"`
	Options     []string `json:"options"`
	Answers     []string `json:"answers"`
	Multiselect bool     `json:"multiselect"`
}

// CreateQuizzesRequest attaches quizzes to a project.
type CreateQuizzesRequest struct {
	Quizzes []QuizInput `json:"quizzes" validate:"required,min=1,dive"`
}

// QuizAnswerInput is one answer in a quiz submission.
type QuizAnswerInput struct {
	QuizID  string   `json:"quiz_id" validate:"required"`
	Answers []string `json:"answers" validate:"required,min=1"`
}

// SubmitQuizRequest records a learner's quiz answers.
type SubmitQuizRequest struct {
	Responses []QuizAnswerInput `json:"responses" validate:"required,min=1,dive"`
}

// ReviewSubmissionRequest records teacher feedback.
type ReviewSubmissionRequest struct {
	Feedback *string  `json:"feedback"`
	Marks    *float64 `json:"marks" validate:"omitempty,gte=0,lte=100"`
}

// SessionRequest carries the form fields of a project session. On create and
// full update Title is required; a partial update applies only present fields.
type SessionRequest struct {
	Title        *string `form:"title" validate:"omitempty,min=1,max=255"`
	OverviewText *string `form:"overview_text"`
	ModuleName   *string `form:"module_name" validate:"omitempty,max=100"`
}
