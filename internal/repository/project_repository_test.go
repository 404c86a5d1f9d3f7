package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/questplus-school-api/internal/models"
)

func TestProjectListByGroups(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProjectRepository(db)

	now := time.Now()
	cols := []string{"id", "title", "description", "grade_id", "division_id", "group_id", "group_name", "assigned_teacher_id", "due_date", "created_by", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("WHERE p.group_id = ANY($1) ORDER BY p.created_at DESC LIMIT 20 OFFSET 0")).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("p1", "Robots", nil, "g5", "dA", "grp1", "5 - A", nil, nil, "admin", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM classroom_projects p WHERE p.group_id = ANY($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	projects, total, err := repo.List(context.Background(), models.ProjectFilter{GroupIDs: []string{"grp1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, projects, 1)
	assert.Equal(t, "5 - A", projects[0].GroupName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectSaveQuizResponseDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProjectRepository(db)

	mock.ExpectExec("INSERT INTO quiz_responses").
		WillReturnError(&pq.Error{Code: "23505", Constraint: ConstraintQuizResponse})

	err := repo.SaveQuizResponse(context.Background(), &models.QuizResponse{QuizID: "q1", StudentID: "u1", Answers: pq.StringArray{"a"}})
	assert.True(t, IsUniqueViolation(err, ConstraintQuizResponse))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectCountPendingReviews(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProjectRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.reviewed_at IS NULL AND p.group_id = ANY($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountPendingReviews(context.Background(), []string{"grp1"})
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectListForTeacherWidensFilter(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProjectRepository(db)

	cols := []string{"id", "title", "description", "grade_id", "division_id", "group_id", "group_name", "assigned_teacher_id", "due_date", "created_by", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("WHERE (p.group_id = ANY($1) OR p.assigned_teacher_id = $2) ORDER BY")).
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM classroom_projects p WHERE (p.group_id = ANY($1) OR p.assigned_teacher_id = $2)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	projects, total, err := repo.List(context.Background(), models.ProjectFilter{GroupIDs: []string{"grp1"}, AssignedTeacherID: "t1"})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, projects)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectCreateSessionStampsRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProjectRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO project_sessions (id, project_id, title, overview_text, module_name, file_name, storage_path, file_type, created_by, created_at, updated_at)")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	session := &models.ProjectSession{ProjectID: "p1", Title: "Kickoff", FileType: "pptx", CreatedBy: "t1"}
	require.NoError(t, repo.CreateSession(context.Background(), session))
	assert.NotEmpty(t, session.ID)
	assert.False(t, session.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectUpdateSessionMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProjectRepository(db)

	mock.ExpectExec("UPDATE project_sessions SET title").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateSession(context.Background(), &models.ProjectSession{ID: "s1", Title: "Kickoff"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectListSessions(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProjectRepository(db)

	now := time.Now()
	cols := []string{"id", "project_id", "title", "overview_text", "module_name", "file_name", "storage_path", "file_type", "created_by", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM project_sessions WHERE project_id = $1 ORDER BY created_at")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("s1", "p1", "Kickoff", nil, "Module 1", "intro.pptx", "projects/p1/sessions/x-intro.pptx", "pptx", "t1", now, now))

	sessions, err := repo.ListSessions(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "pptx", sessions[0].FileType)
	require.NotNil(t, sessions[0].ModuleName)
	assert.Equal(t, "Module 1", *sessions[0].ModuleName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
