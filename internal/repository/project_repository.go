package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/questplus-school-api/internal/models"
)

const projectSelect = `SELECT p.id, p.title, p.description, p.grade_id, p.division_id, p.group_id, g.name AS group_name,
p.assigned_teacher_id, p.due_date, p.created_by, p.created_at, p.updated_at
FROM classroom_projects p JOIN groups g ON g.id = p.group_id`

// ProjectRepository stores classroom projects and their assets, quizzes and submissions.
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository constructs the repository.
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// List returns projects matching the filter with the total count.
func (r *ProjectRepository) List(ctx context.Context, filter models.ProjectFilter) ([]models.ClassroomProject, int, error) {
	// group and teacher filters widen each other: a teacher sees projects
	// in their groups or assigned to them.
	var conditions []string
	var args []interface{}
	if filter.GroupIDs != nil {
		args = append(args, pq.Array(filter.GroupIDs))
		conditions = append(conditions, fmt.Sprintf("p.group_id = ANY($%d)", len(args)))
	}
	if filter.AssignedTeacherID != "" {
		args = append(args, filter.AssignedTeacherID)
		conditions = append(conditions, fmt.Sprintf("p.assigned_teacher_id = $%d", len(args)))
	}
	where := ""
	switch len(conditions) {
	case 0:
	case 1:
		where = " WHERE " + conditions[0]
	default:
		where = " WHERE (" + strings.Join(conditions, " OR ") + ")"
	}
	_, size, offset := normalisePage(filter.Page, filter.PageSize)
	query := projectSelect + where + fmt.Sprintf(" ORDER BY p.created_at DESC LIMIT %d OFFSET %d", size, offset)

	var projects []models.ClassroomProject
	if err := conn(ctx, r.db).SelectContext(ctx, &projects, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	var total int
	if err := conn(ctx, r.db).GetContext(ctx, &total, "SELECT COUNT(*) FROM classroom_projects p"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}
	return projects, total, nil
}

// FindByID returns one project.
func (r *ProjectRepository) FindByID(ctx context.Context, id string) (*models.ClassroomProject, error) {
	var project models.ClassroomProject
	if err := conn(ctx, r.db).GetContext(ctx, &project, projectSelect+" WHERE p.id = $1", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find project: %w", err)
	}
	return &project, nil
}

// Create inserts a project.
func (r *ProjectRepository) Create(ctx context.Context, project *models.ClassroomProject) error {
	stampNew(&project.ID, &project.CreatedAt, &project.UpdatedAt)
	const query = `INSERT INTO classroom_projects (id, title, description, grade_id, division_id, group_id, assigned_teacher_id, due_date, created_by, created_at, updated_at)
VALUES (:id, :title, :description, :grade_id, :division_id, :group_id, :assigned_teacher_id, :due_date, :created_by, :created_at, :updated_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, project); err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// Update rewrites the mutable project fields.
func (r *ProjectRepository) Update(ctx context.Context, project *models.ClassroomProject) error {
	project.UpdatedAt = time.Now().UTC()
	const query = `UPDATE classroom_projects SET title = :title, description = :description, assigned_teacher_id = :assigned_teacher_id, due_date = :due_date, updated_at = :updated_at WHERE id = :id`
	res, err := conn(ctx, r.db).NamedExecContext(ctx, query, project)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireAffected(res, "update project")
}

// Delete removes a project with its dependent rows.
func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM classroom_projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireAffected(res, "delete project")
}

// CountByGroups counts projects across groups. A nil slice counts everything.
func (r *ProjectRepository) CountByGroups(ctx context.Context, groupIDs []string) (int, error) {
	query := `SELECT COUNT(*) FROM classroom_projects`
	var args []interface{}
	if groupIDs != nil {
		query += ` WHERE group_id = ANY($1)`
		args = append(args, pq.Array(groupIDs))
	}
	var count int
	if err := conn(ctx, r.db).GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return count, nil
}

// CreateAsset records an uploaded project file.
func (r *ProjectRepository) CreateAsset(ctx context.Context, asset *models.ProjectAsset) error {
	var updated time.Time
	stampNew(&asset.ID, &asset.CreatedAt, &updated)
	const query = `INSERT INTO project_assets (id, project_id, file_name, storage_path, file_type, size_bytes, uploaded_by, created_at)
VALUES (:id, :project_id, :file_name, :storage_path, :file_type, :size_bytes, :uploaded_by, :created_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, asset); err != nil {
		return fmt.Errorf("create asset: %w", err)
	}
	return nil
}

// ListAssets returns the files attached to a project.
func (r *ProjectRepository) ListAssets(ctx context.Context, projectID string) ([]models.ProjectAsset, error) {
	const query = `SELECT id, project_id, file_name, storage_path, file_type, size_bytes, uploaded_by, created_at FROM project_assets WHERE project_id = $1 ORDER BY created_at`
	var assets []models.ProjectAsset
	if err := conn(ctx, r.db).SelectContext(ctx, &assets, query, projectID); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return assets, nil
}

// CreateQuiz inserts one reflective quiz.
func (r *ProjectRepository) CreateQuiz(ctx context.Context, quiz *models.ReflectiveQuiz) error {
	var updated time.Time
	stampNew(&quiz.ID, &quiz.CreatedAt, &updated)
	if quiz.Options == nil {
		quiz.Options = pq.StringArray{}
	}
	if quiz.Answers == nil {
		quiz.Answers = pq.StringArray{}
	}
	const query = `INSERT INTO reflective_quizzes (id, project_id, question, options, answers, multiselect, created_at)
VALUES (:id, :project_id, :question, :options, :answers, :multiselect, :created_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, quiz); err != nil {
		return fmt.Errorf("create quiz: %w", err)
	}
	return nil
}

// ListQuizzes returns the quizzes of a project.
func (r *ProjectRepository) ListQuizzes(ctx context.Context, projectID string) ([]models.ReflectiveQuiz, error) {
	const query = `SELECT id, project_id, question, options, answers, multiselect, created_at FROM reflective_quizzes WHERE project_id = $1 ORDER BY created_at`
	var quizzes []models.ReflectiveQuiz
	if err := conn(ctx, r.db).SelectContext(ctx, &quizzes, query, projectID); err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	return quizzes, nil
}

// SaveQuizResponse records a learner answer. A second answer to the same
// quiz fails with a unique violation on ConstraintQuizResponse.
func (r *ProjectRepository) SaveQuizResponse(ctx context.Context, response *models.QuizResponse) error {
	var updated time.Time
	stampNew(&response.ID, &response.CreatedAt, &updated)
	const query = `INSERT INTO quiz_responses (id, quiz_id, student_id, answers, created_at) VALUES (:id, :quiz_id, :student_id, :answers, :created_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, response); err != nil {
		return fmt.Errorf("save quiz response: %w", mapPQError(err))
	}
	return nil
}

// CreateSubmission records an uploaded learner submission.
func (r *ProjectRepository) CreateSubmission(ctx context.Context, submission *models.ProjectSubmission) error {
	var updated time.Time
	stampNew(&submission.ID, &submission.SubmittedAt, &updated)
	const query = `INSERT INTO project_submissions (id, project_id, student_id, file_name, storage_path, submitted_at)
VALUES (:id, :project_id, :student_id, :file_name, :storage_path, :submitted_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, submission); err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

const submissionColumns = `id, project_id, student_id, file_name, storage_path, feedback, marks, reviewed_by, reviewed_at, submitted_at`

// ListSubmissions returns the submissions of a project, optionally for one learner.
func (r *ProjectRepository) ListSubmissions(ctx context.Context, projectID, studentID string) ([]models.ProjectSubmission, error) {
	query := `SELECT ` + submissionColumns + ` FROM project_submissions WHERE project_id = $1`
	args := []interface{}{projectID}
	if studentID != "" {
		query += ` AND student_id = $2`
		args = append(args, studentID)
	}
	query += ` ORDER BY submitted_at DESC`
	var submissions []models.ProjectSubmission
	if err := conn(ctx, r.db).SelectContext(ctx, &submissions, query, args...); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return submissions, nil
}

// FindSubmission returns one submission.
func (r *ProjectRepository) FindSubmission(ctx context.Context, id string) (*models.ProjectSubmission, error) {
	var submission models.ProjectSubmission
	if err := conn(ctx, r.db).GetContext(ctx, &submission, `SELECT `+submissionColumns+` FROM project_submissions WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find submission: %w", err)
	}
	return &submission, nil
}

// ReviewSubmission stores feedback and marks.
func (r *ProjectRepository) ReviewSubmission(ctx context.Context, submission *models.ProjectSubmission) error {
	const query = `UPDATE project_submissions SET feedback = :feedback, marks = :marks, reviewed_by = :reviewed_by, reviewed_at = :reviewed_at WHERE id = :id`
	res, err := conn(ctx, r.db).NamedExecContext(ctx, query, submission)
	if err != nil {
		return fmt.Errorf("review submission: %w", err)
	}
	return requireAffected(res, "review submission")
}

const sessionColumns = `id, project_id, title, overview_text, module_name, file_name, storage_path, file_type, created_by, created_at, updated_at`

// CreateSession inserts a project session.
func (r *ProjectRepository) CreateSession(ctx context.Context, session *models.ProjectSession) error {
	stampNew(&session.ID, &session.CreatedAt, &session.UpdatedAt)
	const query = `INSERT INTO project_sessions (` + sessionColumns + `)
VALUES (:id, :project_id, :title, :overview_text, :module_name, :file_name, :storage_path, :file_type, :created_by, :created_at, :updated_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdateSession rewrites the mutable session fields.
func (r *ProjectRepository) UpdateSession(ctx context.Context, session *models.ProjectSession) error {
	session.UpdatedAt = time.Now().UTC()
	const query = `UPDATE project_sessions SET title = :title, overview_text = :overview_text, module_name = :module_name,
file_name = :file_name, storage_path = :storage_path, file_type = :file_type, updated_at = :updated_at WHERE id = :id`
	res, err := conn(ctx, r.db).NamedExecContext(ctx, query, session)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return requireAffected(res, "update session")
}

// FindSession returns one session.
func (r *ProjectRepository) FindSession(ctx context.Context, id string) (*models.ProjectSession, error) {
	var session models.ProjectSession
	if err := conn(ctx, r.db).GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM project_sessions WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &session, nil
}

// ListSessions returns the sessions of a project in creation order.
func (r *ProjectRepository) ListSessions(ctx context.Context, projectID string) ([]models.ProjectSession, error) {
	var sessions []models.ProjectSession
	query := `SELECT ` + sessionColumns + ` FROM project_sessions WHERE project_id = $1 ORDER BY created_at`
	if err := conn(ctx, r.db).SelectContext(ctx, &sessions, query, projectID); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// CountSubmissionsByStudent counts a learner's submissions.
func (r *ProjectRepository) CountSubmissionsByStudent(ctx context.Context, studentID string) (int, error) {
	var count int
	if err := conn(ctx, r.db).GetContext(ctx, &count, `SELECT COUNT(*) FROM project_submissions WHERE student_id = $1`, studentID); err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return count, nil
}

// CountPendingReviews counts unreviewed submissions across groups.
func (r *ProjectRepository) CountPendingReviews(ctx context.Context, groupIDs []string) (int, error) {
	const query = `SELECT COUNT(*) FROM project_submissions s JOIN classroom_projects p ON p.id = s.project_id WHERE s.reviewed_at IS NULL AND p.group_id = ANY($1)`
	var count int
	if err := conn(ctx, r.db).GetContext(ctx, &count, query, pq.Array(groupIDs)); err != nil {
		return 0, fmt.Errorf("count pending reviews: %w", err)
	}
	return count, nil
}
