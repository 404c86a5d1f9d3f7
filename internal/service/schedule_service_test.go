package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/pkg/config"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
	"github.com/noah-isme/questplus-school-api/pkg/jobs"
)

const scheduleCSV = `Day,Grade,Section,07:30-08:15,08:15:00-09:00:00,09:00:00-09:30:00
Monday,5,a,Tara Nguyen,Ravi Das,break
monday,5,B,tara  nguyen,Plato,LUNCH
Funday,5,A,Ravi Das,,
Tue,6,A,Ghost Writer,,
,5,A,Tara Nguyen,,
`

func seedPerson(db *memDB, first, last string, role models.Role) *models.Identity {
	identity := db.seedAccount(first+"."+last, first+"@school.example", "hash", role)
	db.profiles[identity.ID].LastName = last
	return identity
}

func newScheduleFixture() (*memDB, *captureQueue, *memCacheRepo, *ScheduleService) {
	db := newMemDB()
	groups := NewGroupService(memGroups{db}, memCohorts{db}, nil, config.GroupsConfig{}, nil)
	cacheRepo := newMemCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewScheduleService(memSchedules{db}, memCohorts{db}, groups, memIdentities{db}, cache, nil, nil, time.Hour)
	queue := &captureQueue{}
	svc.UseQueue(queue)
	return db, queue, cacheRepo, svc
}

func groupFor(t *testing.T, db *memDB, grade, division string) *models.Group {
	t.Helper()
	ctx := context.Background()
	g, err := memCohorts{db}.FindGradeByName(ctx, grade)
	require.NoError(t, err)
	d, err := memCohorts{db}.FindDivisionByName(ctx, division)
	require.NoError(t, err)
	group, err := memGroups{db}.FindByPair(ctx, g.ID, d.ID)
	require.NoError(t, err)
	return group
}

func TestScheduleServiceSubmitAndProcess(t *testing.T) {
	db, queue, cacheRepo, svc := newScheduleFixture()
	tara := seedPerson(db, "Tara", "Nguyen", models.RoleTeacher)
	ravi := seedPerson(db, "Ravi", "Das", models.RoleTeacher)
	seedPerson(db, "Ghost", "Writer", models.RoleLearner)
	ctx := context.Background()

	task, err := svc.Submit(ctx, "admin-1", "timetable.csv", " 2026-2027 ", []byte(scheduleCSV))
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusQueued, task.Status)
	assert.Equal(t, 5, task.TotalRows)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, scheduleJobType, queue.jobs[0].Type)
	assert.True(t, cacheRepo.has("schedule-import:task:"+task.TaskID))

	require.NoError(t, svc.Process(ctx, queue.jobs[0]))

	status, err := svc.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, status.Status)
	assert.Equal(t, 3, status.SuccessCount)
	require.Len(t, status.Errors, 5)

	assert.Equal(t, 3, status.Errors[0].Row)
	assert.Equal(t, "07:30:00-08:15:00", status.Errors[0].Column)
	assert.Contains(t, status.Errors[0].Error, "already teaches 5 - A on Monday")
	assert.Equal(t, "08:15:00-09:00:00", status.Errors[1].Column)
	assert.Contains(t, status.Errors[1].Error, "invalid teacher name")
	assert.Equal(t, 4, status.Errors[2].Row)
	assert.Empty(t, status.Errors[2].Column)
	assert.Contains(t, status.Errors[2].Error, "unknown Day")
	assert.Equal(t, 5, status.Errors[3].Row)
	assert.Contains(t, status.Errors[3].Error, `teacher "Ghost Writer" not found`)
	assert.Equal(t, 6, status.Errors[4].Row)
	assert.Contains(t, status.Errors[4].Error, "missing Day")

	entries, err := svc.GroupSchedule(ctx, groupFor(t, db, "5", "A").ID, "2026-2027")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "07:30:00-08:15:00", entries[0].TimeSlot)
	assert.Equal(t, DefaultCourse, entries[0].Course)
	require.NotNil(t, entries[0].TeacherID)
	assert.Equal(t, tara.ID, *entries[0].TeacherID)
	assert.Equal(t, ravi.ID, *entries[1].TeacherID)
	assert.Equal(t, "Break", entries[2].Course)
	assert.Nil(t, entries[2].TeacherID)

	entries, err = svc.GroupSchedule(ctx, groupFor(t, db, "5", "B").ID, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Lunch", entries[0].Course)

	mine, err := svc.TeacherSchedule(ctx, tara.ID, "2026-2027")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "5 - A", mine[0].GroupName)
	assert.Equal(t, "Monday", mine[0].Day)

	none, err := svc.TeacherSchedule(ctx, tara.ID, "2030")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestScheduleServiceProcessIsRepeatable(t *testing.T) {
	db, queue, _, svc := newScheduleFixture()
	seedPerson(db, "Tara", "Nguyen", models.RoleTeacher)
	seedPerson(db, "Ravi", "Das", models.RoleTeacher)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "admin-1", "timetable.csv", "2026", []byte(scheduleCSV))
	require.NoError(t, err)
	require.NoError(t, svc.Process(ctx, queue.jobs[0]))
	slots, schedules, timeSlots := len(db.slots), len(db.schedules), len(db.timeSlots)

	require.NoError(t, svc.Process(ctx, queue.jobs[0]))
	assert.Equal(t, slots, len(db.slots))
	assert.Equal(t, schedules, len(db.schedules))
	assert.Equal(t, 3, timeSlots)
	assert.Equal(t, timeSlots, len(db.timeSlots))
}

func TestScheduleServiceSubmitRejects(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		year     string
		data     string
		contains string
	}{
		{name: "missing academic year", filename: "t.csv", year: " ", data: scheduleCSV, contains: "academic_year"},
		{name: "unsupported extension", filename: "t.pdf", year: "2026", data: scheduleCSV, contains: ".csv or .xlsx"},
		{name: "missing day", filename: "t.csv", year: "2026", data: "Grade,Section,07:30-08:15\n5,A,Tara Nguyen\n", contains: "missing columns: Day"},
		{name: "missing section", filename: "t.csv", year: "2026", data: "Day,Grade,07:30-08:15\nMonday,5,Tara Nguyen\n", contains: "missing columns: Section"},
		{name: "bad slot header", filename: "t.csv", year: "2026", data: "Day,Grade,Section,Homeroom\nMonday,5,A,x\n", contains: `"Homeroom" is not a time slot`},
		{name: "reversed slot", filename: "t.csv", year: "2026", data: "Day,Grade,Section,09:00-08:00\nMonday,5,A,x\n", contains: "is not a time slot"},
		{name: "no slots", filename: "t.csv", year: "2026", data: "Day,Grade,Section\nMonday,5,A\n", contains: "at least one time slot"},
		{name: "duplicate slot", filename: "t.csv", year: "2026", data: "Day,Grade,Section,07:30-08:15,07:30:00-08:15:00\nMonday,5,A,,\n", contains: "appears twice"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, queue, _, svc := newScheduleFixture()
			_, err := svc.Submit(context.Background(), "admin-1", tc.filename, tc.year, []byte(tc.data))
			require.Error(t, err)
			var appErr *appErrors.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
			assert.Contains(t, appErr.Message, tc.contains)
			assert.Empty(t, queue.jobs)
		})
	}
}

func TestScheduleServiceAcceptsDivisionHeader(t *testing.T) {
	db, queue, _, svc := newScheduleFixture()
	seedPerson(db, "Tara", "Nguyen", models.RoleTeacher)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "admin-1", "t.csv", "2026", []byte("Day,Grade,Division,07:30-08:15\nwed,KG 1,Rose,Tara Nguyen\n"))
	require.NoError(t, err)
	require.NoError(t, svc.Process(ctx, queue.jobs[0]))

	entries, err := svc.GroupSchedule(ctx, groupFor(t, db, "KG 1", "ROSE").ID, "2026")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Wednesday", entries[0].Day)
}

func TestScheduleServiceMarkFailedAndUnknownTask(t *testing.T) {
	_, queue, _, svc := newScheduleFixture()
	ctx := context.Background()

	_, err := svc.Status(ctx, "missing")
	assertAppError(t, err, appErrors.ErrNotFound.Code)

	task, err := svc.Submit(ctx, "admin-1", "t.csv", "2026", []byte(scheduleCSV))
	require.NoError(t, err)
	svc.MarkFailed(queue.jobs[0], errors.New("database down"))

	status, err := svc.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusFailed, status.Status)
	assert.Equal(t, "schedule upload failed", status.Message)

	assert.Error(t, svc.Process(ctx, jobs.Job{ID: "x", Payload: "junk"}))
}

func TestParseSlotHeaderAndWeekday(t *testing.T) {
	col, ok := parseSlotHeader(" 7:30 - 08:15:30 ")
	require.True(t, ok)
	assert.Equal(t, "07:30:00-08:15:30", col.Label)
	assert.Equal(t, "07:30:00", col.Start)

	_, ok = parseSlotHeader("25:00-26:00")
	assert.False(t, ok)

	day, order, ok := parseWeekday(" SAT ")
	require.True(t, ok)
	assert.Equal(t, "Saturday", day)
	assert.Equal(t, 6, order)

	_, _, ok = parseWeekday("Mo")
	assert.False(t, ok)
}
