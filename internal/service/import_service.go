package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/questplus-school-api/internal/models"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
	"github.com/noah-isme/questplus-school-api/pkg/jobs"
	"github.com/noah-isme/questplus-school-api/pkg/spreadsheet"
)

const importJobType = "student-import"

// Student import column headers.
const (
	colFirstName   = "Name"
	colLastName    = "Last Name"
	colGender      = "Gender"
	colDOB         = "DOB"
	colEmail       = "E-Mail"
	colGrade       = "Grade"
	colDivision    = "Division"
	colAdmissionNo = "Admission No."
	colActive      = "Active Status"
)

var requiredImportColumns = []string{colFirstName, colLastName, colEmail, colGrade, colDivision}

type studentUpserter interface {
	UpsertStudent(ctx context.Context, actorID string, in StudentUpsert) (bool, error)
}

type importCatalog interface {
	GetOrCreateGrade(ctx context.Context, name, code string) (*models.Grade, bool, error)
	GetOrCreateDivision(ctx context.Context, name string) (*models.Division, bool, error)
	EnsureMapping(ctx context.Context, gradeID, divisionID string) (bool, error)
}

type taskCache interface {
	Enabled() bool
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type importPayload struct {
	actorID string
	sheet   *spreadsheet.Sheet
}

// ImportService accepts student spreadsheets and processes them on a worker queue.
type ImportService struct {
	students studentUpserter
	catalog  importCatalog
	tasks    *taskTracker
	queue    jobDispatcher
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewImportService constructs an ImportService. The queue is attached with
// UseQueue once it has been built around Process.
func NewImportService(students studentUpserter, catalog importCatalog, cache taskCache, metrics *MetricsService, logger *zap.Logger, statusTTL time.Duration) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{
		students: students,
		catalog:  catalog,
		tasks:    newTaskTracker(cache, "import:task:", statusTTL),
		metrics:  metrics,
		logger:   logger,
	}
}

// UseQueue sets the dispatcher jobs are sent to.
func (s *ImportService) UseQueue(queue jobDispatcher) {
	s.queue = queue
}

// Submit validates the upload, records a queued task and enqueues it.
func (s *ImportService) Submit(ctx context.Context, actorID, filename string, data []byte) (*models.ImportTask, error) {
	if !spreadsheet.Supported(filename) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file must be a .csv or .xlsx spreadsheet")
	}
	sheet, err := spreadsheet.Read(filename, bytes.NewReader(data))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unable to read spreadsheet")
	}
	if missing := sheet.HasColumns(requiredImportColumns...); len(missing) > 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "missing columns: "+strings.Join(missing, ", "))
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "import queue unavailable")
	}

	task := models.ImportTask{
		TaskID:    uuid.NewString(),
		Status:    models.ImportStatusQueued,
		FileName:  filename,
		CreatedBy: actorID,
		TotalRows: len(sheet.Records),
		Errors:    []models.ImportRowError{},
		CreatedAt: s.tasks.now(),
	}
	s.tasks.save(ctx, task)

	job := jobs.Job{ID: task.TaskID, Type: importJobType, Payload: importPayload{actorID: actorID, sheet: sheet}}
	if err := s.queue.Enqueue(job); err != nil {
		s.finish(ctx, task, models.ImportStatusFailed, "failed to enqueue import")
		return nil, internalError(err, "failed to enqueue import")
	}
	s.metrics.RecordImportJob(models.ImportStatusQueued)
	return &task, nil
}

// Status returns the current state of a task.
func (s *ImportService) Status(ctx context.Context, taskID string) (*models.ImportTask, error) {
	task, ok := s.tasks.load(ctx, taskID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "import task not found")
	}
	return &task, nil
}

// Process is the queue handler. Row failures are collected on the task and
// never fail the job.
func (s *ImportService) Process(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(importPayload)
	if !ok {
		return fmt.Errorf("unexpected import payload %T", job.Payload)
	}
	task, ok := s.tasks.load(ctx, job.ID)
	if !ok {
		task = models.ImportTask{TaskID: job.ID, CreatedBy: payload.actorID, CreatedAt: s.tasks.now()}
	}
	task.Status = models.ImportStatusRunning
	task.TotalRows = len(payload.sheet.Records)
	task.SuccessCount = 0
	task.Errors = []models.ImportRowError{}
	s.tasks.save(ctx, task)
	s.metrics.RecordImportJob(models.ImportStatusRunning)

	for _, record := range payload.sheet.Records {
		if ctx.Err() != nil {
			s.finish(ctx, task, models.ImportStatusFailed, "import interrupted")
			return nil
		}
		row := parseImportRow(record)
		if err := s.importRow(ctx, payload.actorID, row); err != nil {
			task.Errors = append(task.Errors, models.ImportRowError{Row: row.Line, Email: row.Email, Error: rowErrorMessage(err)})
			s.metrics.RecordImportRow(false)
			continue
		}
		task.SuccessCount++
		s.metrics.RecordImportRow(true)
	}

	s.finish(ctx, task, models.ImportStatusCompleted, "")
	s.logger.Info("student import finished",
		zap.String("task_id", task.TaskID),
		zap.Int("rows", task.TotalRows),
		zap.Int("imported", task.SuccessCount),
		zap.Int("failed", len(task.Errors)),
	)
	return nil
}

// MarkFailed records a job that exhausted its retries.
func (s *ImportService) MarkFailed(job jobs.Job, err error) {
	ctx := context.Background()
	task, ok := s.tasks.load(ctx, job.ID)
	if !ok {
		task = models.ImportTask{TaskID: job.ID, CreatedAt: s.tasks.now()}
	}
	s.finish(ctx, task, models.ImportStatusFailed, "import failed")
	s.logger.Error("student import failed", zap.String("task_id", job.ID), zap.Error(err))
}

func (s *ImportService) importRow(ctx context.Context, actorID string, row models.StudentImportRow) error {
	if row.Email == "" {
		return fmt.Errorf("missing %s", colEmail)
	}
	if row.FirstName == "" || row.LastName == "" {
		return fmt.Errorf("missing %s/%s", colFirstName, colLastName)
	}
	dob, err := time.Parse("2006-01-02", row.DateOfBirth)
	if err != nil {
		return fmt.Errorf("invalid %s %q, expected YYYY-MM-DD", colDOB, row.DateOfBirth)
	}
	gradeName, divisionName := CanonicalName(row.Grade), CanonicalName(row.Division)
	if gradeName == "" || divisionName == "" {
		return fmt.Errorf("missing %s/%s", colGrade, colDivision)
	}

	grade, _, err := s.catalog.GetOrCreateGrade(ctx, gradeName, defaultGradeCode("", gradeName))
	if err != nil {
		return fmt.Errorf("grade %s: %w", gradeName, err)
	}
	division, _, err := s.catalog.GetOrCreateDivision(ctx, divisionName)
	if err != nil {
		return fmt.Errorf("division %s: %w", divisionName, err)
	}
	if _, err := s.catalog.EnsureMapping(ctx, grade.ID, division.ID); err != nil {
		return fmt.Errorf("mapping %s: %w", ComposeGroupName(gradeName, divisionName), err)
	}

	in := StudentUpsert{
		Email:       row.Email,
		FirstName:   row.FirstName,
		LastName:    row.LastName,
		Gender:      importGender(row.Gender),
		DateOfBirth: &dob,
		Grade:       grade,
		Division:    division,
		Active:      importActive(row.Active),
	}
	if row.AdmissionNo != "" {
		admission := row.AdmissionNo
		in.AdmissionNo = &admission
	}
	_, err = s.students.UpsertStudent(ctx, actorID, in)
	return err
}

func (s *ImportService) finish(ctx context.Context, task models.ImportTask, status models.ImportStatus, message string) {
	s.tasks.finish(ctx, task, status, message)
	s.metrics.RecordImportJob(status)
}

func parseImportRow(r spreadsheet.Record) models.StudentImportRow {
	return models.StudentImportRow{
		Line:        r.Line,
		FirstName:   r.Get(colFirstName),
		LastName:    r.Get(colLastName),
		Gender:      r.Get(colGender),
		DateOfBirth: r.Get(colDOB),
		Email:       r.Get(colEmail),
		Grade:       r.Get(colGrade),
		Division:    r.Get(colDivision),
		AdmissionNo: r.Get(colAdmissionNo),
		Active:      r.Get(colActive),
	}
}

func importGender(raw string) *string {
	var g string
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "m", "male":
		g = "Male"
	case "f", "female":
		g = "Female"
	case "":
		return nil
	default:
		g = "Other"
	}
	return &g
}

// importActive treats a missing status as active.
func importActive(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "true", "1", "yes", "y":
		return true
	default:
		return false
	}
}

func rowErrorMessage(err error) string {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
