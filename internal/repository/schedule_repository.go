package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/questplus-school-api/internal/models"
)

const scheduleEntrySelect = `SELECT s.id, s.schedule_id, sc.group_id, g.name AS group_name, sc.academic_year, s.day,
t.label AS time_slot, t.start_time::text AS start_time, t.end_time::text AS end_time, s.course, s.teacher_id,
NULLIF(TRIM(COALESCE(p.first_name, '') || ' ' || COALESCE(p.last_name, '')), '') AS teacher_name
FROM schedule_slots s
JOIN schedules sc ON sc.id = s.schedule_id
JOIN groups g ON g.id = sc.group_id
JOIN time_slots t ON t.id = s.time_slot_id
LEFT JOIN profiles p ON p.identity_id = s.teacher_id`

const scheduleEntryOrder = ` ORDER BY s.day_order, t.start_time, g.name`

// ScheduleRepository stores time slots, group schedules and their slots.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// GetOrCreateTimeSlot returns the slot with the given label, inserting it when absent.
func (r *ScheduleRepository) GetOrCreateTimeSlot(ctx context.Context, label, start, end string) (*models.TimeSlot, error) {
	const insert = `INSERT INTO time_slots (id, label, start_time, end_time, created_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (label) DO NOTHING`
	if _, err := conn(ctx, r.db).ExecContext(ctx, insert, uuid.NewString(), label, start, end, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("get or create time slot: %w", err)
	}
	const query = `SELECT id, label, start_time::text AS start_time, end_time::text AS end_time, created_at FROM time_slots WHERE label = $1`
	var slot models.TimeSlot
	if err := conn(ctx, r.db).GetContext(ctx, &slot, query, label); err != nil {
		return nil, fmt.Errorf("find time slot: %w", err)
	}
	return &slot, nil
}

// GetOrCreateSchedule returns the schedule of a group for an academic year,
// inserting an active one when absent.
func (r *ScheduleRepository) GetOrCreateSchedule(ctx context.Context, groupID, academicYear string) (*models.Schedule, bool, error) {
	now := time.Now().UTC()
	const insert = `INSERT INTO schedules (id, group_id, academic_year, active, created_at, updated_at) VALUES ($1, $2, $3, TRUE, $4, $4) ON CONFLICT (group_id, academic_year) DO NOTHING`
	res, err := conn(ctx, r.db).ExecContext(ctx, insert, uuid.NewString(), groupID, academicYear, now)
	if err != nil {
		return nil, false, fmt.Errorf("get or create schedule: %w", err)
	}
	created, _ := res.RowsAffected()
	const query = `SELECT id, group_id, academic_year, active, created_at, updated_at FROM schedules WHERE group_id = $1 AND academic_year = $2`
	var schedule models.Schedule
	if err := conn(ctx, r.db).GetContext(ctx, &schedule, query, groupID, academicYear); err != nil {
		return nil, false, fmt.Errorf("find schedule: %w", err)
	}
	return &schedule, created > 0, nil
}

// UpsertSlot writes one cell of a schedule. A second write to the same day and
// time slot replaces the course and teacher.
func (r *ScheduleRepository) UpsertSlot(ctx context.Context, slot *models.ScheduleSlot) error {
	stampNew(&slot.ID, &slot.CreatedAt, &slot.UpdatedAt)
	const query = `INSERT INTO schedule_slots (id, schedule_id, day, day_order, time_slot_id, course, teacher_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (schedule_id, day, time_slot_id) DO UPDATE SET course = EXCLUDED.course, teacher_id = EXCLUDED.teacher_id, updated_at = EXCLUDED.updated_at
RETURNING id`
	err := conn(ctx, r.db).GetContext(ctx, &slot.ID, query,
		slot.ID, slot.ScheduleID, slot.Day, slot.DayOrder, slot.TimeSlotID, slot.Course, slot.TeacherID, slot.CreatedAt, slot.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert schedule slot: %w", err)
	}
	return nil
}

// FindTeacherConflict returns a slot of another schedule in the same academic
// year that already holds the teacher at that day and time.
func (r *ScheduleRepository) FindTeacherConflict(ctx context.Context, teacherID, academicYear, day, timeSlotID, scheduleID string) (*models.ScheduleEntry, error) {
	query := scheduleEntrySelect + ` WHERE s.teacher_id = $1 AND sc.academic_year = $2 AND s.day = $3 AND s.time_slot_id = $4 AND s.schedule_id <> $5 LIMIT 1`
	var entry models.ScheduleEntry
	if err := conn(ctx, r.db).GetContext(ctx, &entry, query, teacherID, academicYear, day, timeSlotID, scheduleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find teacher conflict: %w", err)
	}
	return &entry, nil
}

// ListByGroup returns the timetable of a group. An empty academicYear lists
// every active schedule.
func (r *ScheduleRepository) ListByGroup(ctx context.Context, groupID, academicYear string) ([]models.ScheduleEntry, error) {
	return r.list(ctx, "sc.group_id", groupID, academicYear)
}

// ListByTeacher returns the slots a teacher is scheduled for.
func (r *ScheduleRepository) ListByTeacher(ctx context.Context, teacherID, academicYear string) ([]models.ScheduleEntry, error) {
	return r.list(ctx, "s.teacher_id", teacherID, academicYear)
}

func (r *ScheduleRepository) list(ctx context.Context, column, id, academicYear string) ([]models.ScheduleEntry, error) {
	query := scheduleEntrySelect + ` WHERE ` + column + ` = $1`
	args := []interface{}{id}
	if academicYear != "" {
		query += ` AND sc.academic_year = $2`
		args = append(args, academicYear)
	} else {
		query += ` AND sc.active = TRUE`
	}
	var entries []models.ScheduleEntry
	if err := conn(ctx, r.db).SelectContext(ctx, &entries, query+scheduleEntryOrder, args...); err != nil {
		return nil, fmt.Errorf("list schedule: %w", err)
	}
	return entries, nil
}
