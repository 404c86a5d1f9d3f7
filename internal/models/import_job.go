package models

import "time"

// ImportStatus tracks a bulk import lifecycle.
type ImportStatus string

const (
	ImportStatusQueued    ImportStatus = "queued"
	ImportStatusRunning   ImportStatus = "running"
	ImportStatusCompleted ImportStatus = "completed"
	ImportStatusFailed    ImportStatus = "failed"
)

// ImportRowError reports why a spreadsheet row, or one cell of it, was skipped.
type ImportRowError struct {
	Row    int    `json:"row"`
	Column string `json:"column,omitempty"`
	Email  string `json:"email,omitempty"`
	Error  string `json:"error"`
}

// ImportTask is the pollable state of a bulk student or schedule import.
type ImportTask struct {
	TaskID       string           `json:"task_id"`
	Status       ImportStatus     `json:"status"`
	FileName     string           `json:"file_name"`
	CreatedBy    string           `json:"created_by"`
	TotalRows    int              `json:"total_rows"`
	SuccessCount int              `json:"success_count"`
	Errors       []ImportRowError `json:"errors"`
	Message      string           `json:"message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
}

// StudentImportRow is one parsed spreadsheet row.
type StudentImportRow struct {
	Line        int
	FirstName   string
	LastName    string
	Gender      string
	DateOfBirth string
	Email       string
	Grade       string
	Division    string
	AdmissionNo string
	Active      string
}
