package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/questplus-school-api/internal/models"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
	"github.com/noah-isme/questplus-school-api/pkg/jobs"
	"github.com/noah-isme/questplus-school-api/pkg/spreadsheet"
)

const scheduleJobType = "schedule-import"

// Schedule upload column headers. Every other column is a time slot.
const (
	colDay     = "Day"
	colSection = "Section"
)

// DefaultCourse is the course of a teacher cell.
const DefaultCourse = "Regular Class"

var (
	timeSlotHeader   = regexp.MustCompile(`^(\d{1,2}:\d{2}(?::\d{2})?)\s*-\s*(\d{1,2}:\d{2}(?::\d{2})?)$`)
	academicYearForm = regexp.MustCompile(`^\d{4}([-/]\d{2,4})?$`)
)

var weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

type scheduleRepository interface {
	GetOrCreateTimeSlot(ctx context.Context, label, start, end string) (*models.TimeSlot, error)
	GetOrCreateSchedule(ctx context.Context, groupID, academicYear string) (*models.Schedule, bool, error)
	UpsertSlot(ctx context.Context, slot *models.ScheduleSlot) error
	FindTeacherConflict(ctx context.Context, teacherID, academicYear, day, timeSlotID, scheduleID string) (*models.ScheduleEntry, error)
	ListByGroup(ctx context.Context, groupID, academicYear string) ([]models.ScheduleEntry, error)
	ListByTeacher(ctx context.Context, teacherID, academicYear string) ([]models.ScheduleEntry, error)
}

type teacherDirectory interface {
	FindByFullName(ctx context.Context, role models.Role, firstName, lastName string) (*models.UserAccount, error)
}

type scheduleGroups interface {
	EnsureFor(ctx context.Context, grade *models.Grade, division *models.Division) (*models.Group, error)
}

// slotColumn is a time slot header parsed at submit time.
type slotColumn struct {
	Header string
	Label  string
	Start  string
	End    string
}

type schedulePayload struct {
	actorID      string
	academicYear string
	sheet        *spreadsheet.Sheet
	columns      []slotColumn
}

// ScheduleService ingests timetable spreadsheets and serves group and teacher timetables.
type ScheduleService struct {
	repo     scheduleRepository
	catalog  importCatalog
	groups   scheduleGroups
	teachers teacherDirectory
	tasks    *taskTracker
	queue    jobDispatcher
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewScheduleService constructs a ScheduleService. The queue is attached with
// UseQueue once it has been built around Process.
func NewScheduleService(repo scheduleRepository, catalog importCatalog, groups scheduleGroups, teachers teacherDirectory, cache taskCache, metrics *MetricsService, logger *zap.Logger, statusTTL time.Duration) *ScheduleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{
		repo:     repo,
		catalog:  catalog,
		groups:   groups,
		teachers: teachers,
		tasks:    newTaskTracker(cache, "schedule-import:task:", statusTTL),
		metrics:  metrics,
		logger:   logger,
	}
}

// UseQueue sets the dispatcher jobs are sent to.
func (s *ScheduleService) UseQueue(queue jobDispatcher) {
	s.queue = queue
}

// Submit validates the header of a timetable upload and queues it.
func (s *ScheduleService) Submit(ctx context.Context, actorID, filename, academicYear string, data []byte) (*models.ImportTask, error) {
	academicYear = strings.TrimSpace(academicYear)
	if !academicYearForm.MatchString(academicYear) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "academic_year must look like 2026 or 2026-2027")
	}
	if !spreadsheet.Supported(filename) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file must be a .csv or .xlsx spreadsheet")
	}
	sheet, err := spreadsheet.Read(filename, bytes.NewReader(data))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unable to read spreadsheet")
	}
	columns, err := scheduleColumns(sheet)
	if err != nil {
		return nil, err
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "schedule queue unavailable")
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

	payload := schedulePayload{actorID: actorID, academicYear: academicYear, sheet: sheet, columns: columns}
	if err := s.queue.Enqueue(jobs.Job{ID: task.TaskID, Type: scheduleJobType, Payload: payload}); err != nil {
		s.finish(ctx, task, models.ImportStatusFailed, "failed to enqueue schedule upload")
		return nil, internalError(err, "failed to enqueue schedule upload")
	}
	s.metrics.RecordImportJob(models.ImportStatusQueued)
	return &task, nil
}

// Status returns the current state of a schedule upload.
func (s *ScheduleService) Status(ctx context.Context, taskID string) (*models.ImportTask, error) {
	task, ok := s.tasks.load(ctx, taskID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule upload not found")
	}
	return &task, nil
}

// Process is the queue handler. A row counts as imported once its group and
// schedule exist; failing cells are reported without failing the row.
func (s *ScheduleService) Process(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(schedulePayload)
	if !ok {
		return fmt.Errorf("unexpected schedule payload %T", job.Payload)
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

	slots := make(map[string]*models.TimeSlot, len(payload.columns))
	for _, col := range payload.columns {
		slot, err := s.repo.GetOrCreateTimeSlot(ctx, col.Label, col.Start, col.End)
		if err != nil {
			return fmt.Errorf("time slot %s: %w", col.Label, err)
		}
		slots[col.Label] = slot
	}

	for _, record := range payload.sheet.Records {
		if ctx.Err() != nil {
			s.finish(ctx, task, models.ImportStatusFailed, "schedule upload interrupted")
			return nil
		}
		cellErrors, err := s.importRow(ctx, payload, record, slots)
		task.Errors = append(task.Errors, cellErrors...)
		if err != nil {
			task.Errors = append(task.Errors, models.ImportRowError{Row: record.Line, Error: rowErrorMessage(err)})
			s.metrics.RecordImportRow(false)
			continue
		}
		task.SuccessCount++
		s.metrics.RecordImportRow(true)
	}

	s.finish(ctx, task, models.ImportStatusCompleted, "")
	s.logger.Info("schedule upload finished",
		zap.String("task_id", task.TaskID),
		zap.String("academic_year", payload.academicYear),
		zap.Int("rows", task.TotalRows),
		zap.Int("imported", task.SuccessCount),
		zap.Int("errors", len(task.Errors)),
	)
	return nil
}

// MarkFailed records a job that exhausted its retries.
func (s *ScheduleService) MarkFailed(job jobs.Job, err error) {
	ctx := context.Background()
	task, ok := s.tasks.load(ctx, job.ID)
	if !ok {
		task = models.ImportTask{TaskID: job.ID, CreatedAt: s.tasks.now()}
	}
	s.finish(ctx, task, models.ImportStatusFailed, "schedule upload failed")
	s.logger.Error("schedule upload failed", zap.String("task_id", job.ID), zap.Error(err))
}

// GroupSchedule returns the timetable of a group. An empty academic year
// selects the active schedules.
func (s *ScheduleService) GroupSchedule(ctx context.Context, groupID, academicYear string) ([]models.ScheduleEntry, error) {
	entries, err := s.repo.ListByGroup(ctx, groupID, strings.TrimSpace(academicYear))
	if err != nil {
		return nil, internalError(err, "failed to load schedule")
	}
	if entries == nil {
		entries = []models.ScheduleEntry{}
	}
	return entries, nil
}

// TeacherSchedule returns the slots a teacher is scheduled for.
func (s *ScheduleService) TeacherSchedule(ctx context.Context, teacherID, academicYear string) ([]models.ScheduleEntry, error) {
	entries, err := s.repo.ListByTeacher(ctx, teacherID, strings.TrimSpace(academicYear))
	if err != nil {
		return nil, internalError(err, "failed to load schedule")
	}
	if entries == nil {
		entries = []models.ScheduleEntry{}
	}
	return entries, nil
}

func (s *ScheduleService) importRow(ctx context.Context, payload schedulePayload, record spreadsheet.Record, slots map[string]*models.TimeSlot) ([]models.ImportRowError, error) {
	rawDay := record.Get(colDay)
	gradeName := CanonicalName(record.Get(colGrade))
	sectionName := CanonicalName(sectionOf(record))
	if rawDay == "" || gradeName == "" || sectionName == "" {
		return nil, fmt.Errorf("missing %s, %s or %s", colDay, colGrade, colSection)
	}
	day, order, ok := parseWeekday(rawDay)
	if !ok {
		return nil, fmt.Errorf("unknown %s %q", colDay, rawDay)
	}

	grade, _, err := s.catalog.GetOrCreateGrade(ctx, gradeName, defaultGradeCode("", gradeName))
	if err != nil {
		return nil, fmt.Errorf("grade %s: %w", gradeName, err)
	}
	division, _, err := s.catalog.GetOrCreateDivision(ctx, sectionName)
	if err != nil {
		return nil, fmt.Errorf("division %s: %w", sectionName, err)
	}
	if _, err := s.catalog.EnsureMapping(ctx, grade.ID, division.ID); err != nil {
		return nil, fmt.Errorf("mapping %s: %w", ComposeGroupName(gradeName, sectionName), err)
	}
	group, err := s.groups.EnsureFor(ctx, grade, division)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", ComposeGroupName(gradeName, sectionName), err)
	}
	schedule, _, err := s.repo.GetOrCreateSchedule(ctx, group.ID, payload.academicYear)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", group.Name, err)
	}

	var cellErrors []models.ImportRowError
	for _, col := range payload.columns {
		cell := strings.Join(strings.Fields(record.Get(col.Header)), " ")
		if cell == "" {
			continue
		}
		slot := &models.ScheduleSlot{ScheduleID: schedule.ID, Day: day, DayOrder: order, TimeSlotID: slots[col.Label].ID}
		if err := s.fillSlot(ctx, payload.academicYear, slot, cell); err != nil {
			cellErrors = append(cellErrors, models.ImportRowError{Row: record.Line, Column: col.Label, Error: rowErrorMessage(err)})
		}
	}
	return cellErrors, nil
}

// fillSlot resolves a cell to a break or a teacher and stores it.
func (s *ScheduleService) fillSlot(ctx context.Context, academicYear string, slot *models.ScheduleSlot, cell string) error {
	switch lower := strings.ToLower(cell); lower {
	case "break", "lunch":
		slot.Course = strings.ToUpper(lower[:1]) + lower[1:]
	default:
		names := strings.Fields(cell)
		if len(names) < 2 {
			return fmt.Errorf("invalid teacher name %q", cell)
		}
		teacher, err := s.teachers.FindByFullName(ctx, models.RoleTeacher, names[0], names[len(names)-1])
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("teacher %q not found", cell)
			}
			return fmt.Errorf("teacher %q: %w", cell, err)
		}
		conflict, err := s.repo.FindTeacherConflict(ctx, teacher.ID, academicYear, slot.Day, slot.TimeSlotID, slot.ScheduleID)
		switch {
		case err == nil:
			return fmt.Errorf("teacher %q already teaches %s on %s at %s", cell, conflict.GroupName, conflict.Day, conflict.TimeSlot)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("teacher %q: %w", cell, err)
		}
		slot.Course = DefaultCourse
		slot.TeacherID = &teacher.ID
	}
	if err := s.repo.UpsertSlot(ctx, slot); err != nil {
		return fmt.Errorf("store slot: %w", err)
	}
	return nil
}

func (s *ScheduleService) finish(ctx context.Context, task models.ImportTask, status models.ImportStatus, message string) {
	s.tasks.finish(ctx, task, status, message)
	s.metrics.RecordImportJob(status)
}

// scheduleColumns checks the fixed headers and parses every remaining header
// as a time slot.
func scheduleColumns(sheet *spreadsheet.Sheet) ([]slotColumn, error) {
	if missing := sheet.HasColumns(colDay, colGrade); len(missing) > 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "missing columns: "+strings.Join(missing, ", "))
	}
	if len(sheet.HasColumns(colSection)) > 0 && len(sheet.HasColumns(colDivision)) > 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "missing columns: "+colSection)
	}
	var columns []slotColumn
	seen := make(map[string]bool)
	for _, h := range sheet.Header {
		switch strings.ToLower(strings.Join(strings.Fields(h), " ")) {
		case "", strings.ToLower(colDay), strings.ToLower(colGrade), strings.ToLower(colSection), strings.ToLower(colDivision):
			continue
		}
		col, ok := parseSlotHeader(h)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("column %q is not a time slot like 07:30:00-08:15:00", h))
		}
		if seen[col.Label] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("time slot %s appears twice", col.Label))
		}
		seen[col.Label] = true
		columns = append(columns, col)
	}
	if len(columns) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one time slot column is required")
	}
	return columns, nil
}

// parseSlotHeader reads "HH:MM[:SS]-HH:MM[:SS]" and normalises both ends to HH:MM:SS.
func parseSlotHeader(header string) (slotColumn, bool) {
	m := timeSlotHeader.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return slotColumn{}, false
	}
	start, ok := clockTime(m[1])
	if !ok {
		return slotColumn{}, false
	}
	end, ok := clockTime(m[2])
	if !ok || !end.After(start) {
		return slotColumn{}, false
	}
	const layout = "15:04:05"
	return slotColumn{
		Header: header,
		Label:  start.Format(layout) + "-" + end.Format(layout),
		Start:  start.Format(layout),
		End:    end.Format(layout),
	}, true
}

func clockTime(raw string) (time.Time, bool) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseWeekday matches full or three-letter weekday names and returns the
// canonical name with its 1-based order.
func parseWeekday(raw string) (string, int, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for i, d := range weekdays {
		name := strings.ToLower(d)
		if raw == name || (len(raw) == 3 && strings.HasPrefix(name, raw)) {
			return d, i + 1, true
		}
	}
	return "", 0, false
}

func sectionOf(record spreadsheet.Record) string {
	if v := record.Get(colSection); v != "" {
		return v
	}
	return record.Get(colDivision)
}
