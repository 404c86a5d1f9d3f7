package models

import "time"

// TimeSlot is a period of the school day, labelled "HH:MM:SS-HH:MM:SS".
type TimeSlot struct {
	ID        string    `db:"id" json:"id"`
	Label     string    `db:"label" json:"label"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Schedule is the timetable of one group for an academic year.
type Schedule struct {
	ID           string    `db:"id" json:"id"`
	GroupID      string    `db:"group_id" json:"group_id"`
	AcademicYear string    `db:"academic_year" json:"academic_year"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ScheduleSlot fills one time slot of one weekday. Breaks carry no teacher.
type ScheduleSlot struct {
	ID         string    `db:"id" json:"id"`
	ScheduleID string    `db:"schedule_id" json:"schedule_id"`
	Day        string    `db:"day" json:"day"`
	DayOrder   int       `db:"day_order" json:"-"`
	TimeSlotID string    `db:"time_slot_id" json:"time_slot_id"`
	Course     string    `db:"course" json:"course"`
	TeacherID  *string   `db:"teacher_id" json:"teacher_id,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// ScheduleEntry is a slot joined with its group, time slot and teacher.
type ScheduleEntry struct {
	ID           string  `db:"id" json:"id"`
	ScheduleID   string  `db:"schedule_id" json:"schedule_id"`
	GroupID      string  `db:"group_id" json:"group_id"`
	GroupName    string  `db:"group_name" json:"group_name"`
	AcademicYear string  `db:"academic_year" json:"academic_year"`
	Day          string  `db:"day" json:"day"`
	TimeSlot     string  `db:"time_slot" json:"time_slot"`
	StartTime    string  `db:"start_time" json:"start_time"`
	EndTime      string  `db:"end_time" json:"end_time"`
	Course       string  `db:"course" json:"course"`
	TeacherID    *string `db:"teacher_id" json:"teacher_id,omitempty"`
	TeacherName  *string `db:"teacher_name" json:"teacher_name,omitempty"`
}
