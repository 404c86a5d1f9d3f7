package service

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/internal/repository"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
	"github.com/noah-isme/questplus-school-api/pkg/storage"
)

// AssetDownloadPath is the route serving signed asset and submission downloads.
const AssetDownloadPath = "/api/v1/assets/download"

type projectRepository interface {
	List(ctx context.Context, filter models.ProjectFilter) ([]models.ClassroomProject, int, error)
	FindByID(ctx context.Context, id string) (*models.ClassroomProject, error)
	Create(ctx context.Context, project *models.ClassroomProject) error
	Update(ctx context.Context, project *models.ClassroomProject) error
	CreateAsset(ctx context.Context, asset *models.ProjectAsset) error
	ListAssets(ctx context.Context, projectID string) ([]models.ProjectAsset, error)
	CreateQuiz(ctx context.Context, quiz *models.ReflectiveQuiz) error
	ListQuizzes(ctx context.Context, projectID string) ([]models.ReflectiveQuiz, error)
	SaveQuizResponse(ctx context.Context, response *models.QuizResponse) error
	CreateSubmission(ctx context.Context, submission *models.ProjectSubmission) error
	ListSubmissions(ctx context.Context, projectID, studentID string) ([]models.ProjectSubmission, error)
	FindSubmission(ctx context.Context, id string) (*models.ProjectSubmission, error)
	ReviewSubmission(ctx context.Context, submission *models.ProjectSubmission) error
	CreateSession(ctx context.Context, session *models.ProjectSession) error
	UpdateSession(ctx context.Context, session *models.ProjectSession) error
	FindSession(ctx context.Context, id string) (*models.ProjectSession, error)
	ListSessions(ctx context.Context, projectID string) ([]models.ProjectSession, error)
}

type projectGroups interface {
	EnsureFor(ctx context.Context, grade *models.Grade, division *models.Division) (*models.Group, error)
	IsMember(ctx context.Context, identityID, groupID string) (bool, error)
	ActiveGroupIDs(ctx context.Context, identityID string) ([]string, error)
}

type objectStore interface {
	Put(key string, r io.Reader) (int64, error)
	Open(key string) (*os.File, error)
	Delete(key string) error
}

type urlSigner interface {
	Sign(subject, key string) (string, time.Time, error)
	Verify(token string) (subject, key string, err error)
}

// Upload is one file received from a multipart request.
type Upload struct {
	Name   string
	Type   string
	Reader io.Reader
}

// Actor identifies the caller of a project operation.
type Actor struct {
	ID   string
	Role models.Role
}

// ProjectDetail is a project with its assets.
type ProjectDetail struct {
	models.ClassroomProject
	Assets []models.ProjectAsset `json:"assets"`
}

// ProjectService manages classroom projects, their files, quizzes and submissions.
type ProjectService struct {
	repo      projectRepository
	cohorts   cohortCatalog
	groups    projectGroups
	store     objectStore
	signer    urlSigner
	tx        transactor
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewProjectService constructs a ProjectService.
func NewProjectService(repo projectRepository, cohorts cohortCatalog, groups projectGroups, store objectStore, signer urlSigner, tx transactor, validate *validator.Validate, logger *zap.Logger) *ProjectService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if tx == nil {
		tx = noTx{}
	}
	return &ProjectService{repo: repo, cohorts: cohorts, groups: groups, store: store, signer: signer, tx: tx, validator: validate, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Create adds a project for a mapped grade and division. Teachers may only
// create projects for groups they belong to.
func (s *ProjectService) Create(ctx context.Context, actor Actor, req models.CreateProjectRequest) (*ProjectDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid project payload")
	}
	grade, err := s.cohorts.FindGrade(ctx, req.GradeID)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrUnknownGrade, "failed to load grade")
	}
	division, err := s.cohorts.FindDivision(ctx, req.DivisionID)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrUnknownDivision, "failed to load division")
	}
	mapped, err := s.cohorts.MappingExists(ctx, grade.ID, division.ID)
	if err != nil {
		return nil, internalError(err, "failed to check grade mapping")
	}
	if !mapped {
		return nil, appErrors.ErrUnmappedDivision
	}
	dueDate, err := parseDate(req.DueDate)
	if err != nil {
		return nil, err
	}

	var project *models.ClassroomProject
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		group, err := s.groups.EnsureFor(ctx, grade, division)
		if err != nil {
			return err
		}
		if actor.Role == models.RoleTeacher {
			member, err := s.groups.IsMember(ctx, actor.ID, group.ID)
			if err != nil {
				return err
			}
			if !member {
				return appErrors.Clone(appErrors.ErrForbidden, "you are not assigned to this group")
			}
		}
		project = &models.ClassroomProject{
			Title:             strings.TrimSpace(req.Title),
			Description:       req.Description,
			GradeID:           grade.ID,
			DivisionID:        division.ID,
			GroupID:           group.ID,
			GroupName:         group.Name,
			AssignedTeacherID: req.AssignedTeacherID,
			DueDate:           dueDate,
			CreatedBy:         actor.ID,
		}
		if err := s.repo.Create(ctx, project); err != nil {
			return internalError(err, "failed to create project")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ProjectDetail{ClassroomProject: *project, Assets: []models.ProjectAsset{}}, nil
}

// List returns every project. Admin only.
func (s *ProjectService) List(ctx context.Context, page, pageSize int) ([]models.ClassroomProject, *models.Pagination, error) {
	return s.list(ctx, models.ProjectFilter{Page: page, PageSize: pageSize})
}

// TeacherProjects lists projects in the teacher's groups or assigned to them.
func (s *ProjectService) TeacherProjects(ctx context.Context, teacherID string, page, pageSize int) ([]models.ClassroomProject, *models.Pagination, error) {
	groupIDs, err := s.groups.ActiveGroupIDs(ctx, teacherID)
	if err != nil {
		return nil, nil, err
	}
	return s.list(ctx, models.ProjectFilter{GroupIDs: groupIDs, AssignedTeacherID: teacherID, Page: page, PageSize: pageSize})
}

// StudentProjects lists projects of the learner's group.
func (s *ProjectService) StudentProjects(ctx context.Context, studentID string, page, pageSize int) ([]models.ClassroomProject, *models.Pagination, error) {
	groupIDs, err := s.groups.ActiveGroupIDs(ctx, studentID)
	if err != nil {
		return nil, nil, err
	}
	return s.list(ctx, models.ProjectFilter{GroupIDs: groupIDs, Page: page, PageSize: pageSize})
}

func (s *ProjectService) list(ctx context.Context, filter models.ProjectFilter) ([]models.ClassroomProject, *models.Pagination, error) {
	if filter.GroupIDs != nil && len(filter.GroupIDs) == 0 && filter.AssignedTeacherID == "" {
		return []models.ClassroomProject{}, &models.Pagination{Page: 1, PageSize: pageSizeOrDefault(filter.PageSize)}, nil
	}
	projects, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list projects")
	}
	if projects == nil {
		projects = []models.ClassroomProject{}
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	return projects, &models.Pagination{Page: page, PageSize: pageSizeOrDefault(filter.PageSize), TotalCount: total}, nil
}

// Get returns a project with signed asset links.
func (s *ProjectService) Get(ctx context.Context, actor Actor, id string) (*ProjectDetail, error) {
	project, err := s.authorize(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	assets, err := s.repo.ListAssets(ctx, project.ID)
	if err != nil {
		return nil, internalError(err, "failed to list assets")
	}
	if assets == nil {
		assets = []models.ProjectAsset{}
	}
	for i := range assets {
		assets[i].DownloadURL = s.downloadURL(assets[i].ID, assets[i].StoragePath)
	}
	return &ProjectDetail{ClassroomProject: *project, Assets: assets}, nil
}

// Update patches a project.
func (s *ProjectService) Update(ctx context.Context, actor Actor, id string, req models.UpdateProjectRequest) (*ProjectDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid project payload")
	}
	if actor.Role == models.RoleLearner {
		return nil, appErrors.ErrForbidden
	}
	project, err := s.authorize(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		project.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		project.Description = req.Description
	}
	if req.AssignedTeacherID != nil {
		if *req.AssignedTeacherID == "" {
			project.AssignedTeacherID = nil
		} else {
			project.AssignedTeacherID = req.AssignedTeacherID
		}
	}
	if req.DueDate != nil {
		if project.DueDate, err = parseDate(req.DueDate); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Update(ctx, project); err != nil {
		return nil, lookupError(err, appErrors.ErrNotFound, "failed to update project")
	}
	return s.Get(ctx, actor, id)
}

// AddAssets stores uploaded files and records them on the project.
func (s *ProjectService) AddAssets(ctx context.Context, actor Actor, projectID string, uploads []Upload) ([]models.ProjectAsset, error) {
	if actor.Role == models.RoleLearner {
		return nil, appErrors.ErrForbidden
	}
	if len(uploads) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one file is required")
	}
	project, err := s.authorize(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}

	assets := make([]models.ProjectAsset, 0, len(uploads))
	var stored []string
	for _, u := range uploads {
		key := storage.NewKey(path.Join("projects", project.ID, "assets"), u.Name)
		size, err := s.store.Put(key, u.Reader)
		if err != nil {
			s.cleanup(stored)
			return nil, internalError(err, "failed to store file")
		}
		stored = append(stored, key)
		assets = append(assets, models.ProjectAsset{
			ProjectID:   project.ID,
			FileName:    path.Base(u.Name),
			StoragePath: key,
			FileType:    u.Type,
			SizeBytes:   size,
			UploadedBy:  actor.ID,
		})
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for i := range assets {
			if err := s.repo.CreateAsset(ctx, &assets[i]); err != nil {
				return internalError(err, "failed to record asset")
			}
		}
		return nil
	})
	if err != nil {
		s.cleanup(stored)
		return nil, err
	}
	for i := range assets {
		assets[i].DownloadURL = s.downloadURL(assets[i].ID, assets[i].StoragePath)
	}
	return assets, nil
}

// OpenDownload resolves a signed token to an open file and its download name.
func (s *ProjectService) OpenDownload(token string) (*os.File, string, error) {
	_, key, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, storage.ErrExpiredToken) {
			return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "download link expired")
		}
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid download link")
	}
	file, err := s.store.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, "", internalError(err, "failed to open file")
	}
	name := path.Base(key)
	// strip the uuid prefix added by storage.NewKey
	if len(name) > 37 && name[36] == '-' {
		name = name[37:]
	}
	return file, name, nil
}

// CreateQuizzes attaches reflective quizzes to a project.
func (s *ProjectService) CreateQuizzes(ctx context.Context, actor Actor, projectID string, req models.CreateQuizzesRequest) ([]models.ReflectiveQuiz, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid quiz payload")
	}
	if actor.Role == models.RoleLearner {
		return nil, appErrors.ErrForbidden
	}
	project, err := s.authorize(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	quizzes := make([]models.ReflectiveQuiz, 0, len(req.Quizzes))
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, in := range req.Quizzes {
			quiz := models.ReflectiveQuiz{
				ProjectID:   project.ID,
				Question:    strings.TrimSpace(in.Question),
				Options:     pq.StringArray(in.Options),
				Answers:     pq.StringArray(in.Answers),
				Multiselect: in.Multiselect,
			}
			if err := s.repo.CreateQuiz(ctx, &quiz); err != nil {
				return internalError(err, "failed to create quiz")
			}
			quizzes = append(quizzes, quiz)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quizzes, nil
}

// ListQuizzes returns a project's quizzes. Learners do not see the answers.
func (s *ProjectService) ListQuizzes(ctx context.Context, actor Actor, projectID string) ([]models.ReflectiveQuiz, error) {
	project, err := s.authorize(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	quizzes, err := s.repo.ListQuizzes(ctx, project.ID)
	if err != nil {
		return nil, internalError(err, "failed to list quizzes")
	}
	if quizzes == nil {
		quizzes = []models.ReflectiveQuiz{}
	}
	if actor.Role == models.RoleLearner {
		for i := range quizzes {
			quizzes[i].Answers = nil
		}
	}
	return quizzes, nil
}

// SubmitQuizAnswers records a learner's answers. Each quiz is answered once.
func (s *ProjectService) SubmitQuizAnswers(ctx context.Context, actor Actor, projectID string, req models.SubmitQuizRequest) ([]models.QuizResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid answer payload")
	}
	if actor.Role != models.RoleLearner {
		return nil, appErrors.ErrForbidden
	}
	project, err := s.authorize(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	quizzes, err := s.repo.ListQuizzes(ctx, project.ID)
	if err != nil {
		return nil, internalError(err, "failed to list quizzes")
	}
	known := make(map[string]models.ReflectiveQuiz, len(quizzes))
	for _, q := range quizzes {
		known[q.ID] = q
	}

	responses := make([]models.QuizResponse, 0, len(req.Responses))
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, in := range req.Responses {
			quiz, ok := known[in.QuizID]
			if !ok {
				return appErrors.Clone(appErrors.ErrNotFound, "quiz not found in this project")
			}
			if !quiz.Multiselect && len(in.Answers) > 1 {
				return appErrors.Clone(appErrors.ErrValidation, "quiz accepts a single answer")
			}
			response := models.QuizResponse{QuizID: quiz.ID, StudentID: actor.ID, Answers: pq.StringArray(in.Answers)}
			if err := s.repo.SaveQuizResponse(ctx, &response); err != nil {
				if repository.IsUniqueViolation(err, repository.ConstraintQuizResponse) {
					return appErrors.ErrAlreadyAnswered
				}
				return internalError(err, "failed to save answer")
			}
			responses = append(responses, response)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return responses, nil
}

// Submit stores a learner's work for a project in their group.
func (s *ProjectService) Submit(ctx context.Context, actor Actor, projectID string, upload Upload) (*models.ProjectSubmission, error) {
	if actor.Role != models.RoleLearner {
		return nil, appErrors.ErrForbidden
	}
	project, err := s.authorize(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	key := storage.NewKey(path.Join("projects", project.ID, "submissions", actor.ID), upload.Name)
	if _, err := s.store.Put(key, upload.Reader); err != nil {
		return nil, internalError(err, "failed to store submission")
	}
	submission := &models.ProjectSubmission{
		ProjectID:   project.ID,
		StudentID:   actor.ID,
		FileName:    path.Base(upload.Name),
		StoragePath: key,
	}
	if err := s.repo.CreateSubmission(ctx, submission); err != nil {
		s.cleanup([]string{key})
		return nil, internalError(err, "failed to record submission")
	}
	submission.DownloadURL = s.downloadURL(submission.ID, key)
	return submission, nil
}

// ListSubmissions returns a project's submissions to admins and its teachers.
func (s *ProjectService) ListSubmissions(ctx context.Context, actor Actor, projectID string) ([]models.ProjectSubmission, error) {
	if actor.Role == models.RoleLearner {
		return nil, appErrors.ErrForbidden
	}
	project, err := s.authorize(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	submissions, err := s.repo.ListSubmissions(ctx, project.ID, "")
	if err != nil {
		return nil, internalError(err, "failed to list submissions")
	}
	if submissions == nil {
		submissions = []models.ProjectSubmission{}
	}
	for i := range submissions {
		submissions[i].DownloadURL = s.downloadURL(submissions[i].ID, submissions[i].StoragePath)
	}
	return submissions, nil
}

// Review records feedback and marks on a submission.
func (s *ProjectService) Review(ctx context.Context, actor Actor, submissionID string, req models.ReviewSubmissionRequest) (*models.ProjectSubmission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.ErrForbidden
	}
	submission, err := s.repo.FindSubmission(ctx, submissionID)
	if err != nil {
		return nil, lookupError(err, appErrors.Clone(appErrors.ErrNotFound, "submission not found"), "failed to load submission")
	}
	if _, err := s.authorize(ctx, actor, submission.ProjectID); err != nil {
		return nil, err
	}
	now := s.now()
	submission.Feedback = req.Feedback
	submission.Marks = req.Marks
	submission.ReviewedBy = &actor.ID
	submission.ReviewedAt = &now
	if err := s.repo.ReviewSubmission(ctx, submission); err != nil {
		return nil, lookupError(err, appErrors.ErrNotFound, "failed to review submission")
	}
	submission.DownloadURL = s.downloadURL(submission.ID, submission.StoragePath)
	return submission, nil
}

var sessionFileTypes = map[string]bool{"ppt": true, "pptx": true, "pps": true, "ppsx": true, "odp": true, "key": true, "pdf": true}

// CreateSession adds a session to a project. The slide deck is optional.
func (s *ProjectService) CreateSession(ctx context.Context, actor Actor, projectID string, req models.SessionRequest, deck *Upload) (*models.ProjectSession, error) {
	if req.Title == nil || strings.TrimSpace(*req.Title) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if actor.Role == models.RoleLearner {
		return nil, appErrors.ErrForbidden
	}
	project, err := s.authorize(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	session := &models.ProjectSession{
		ProjectID:    project.ID,
		Title:        strings.TrimSpace(*req.Title),
		OverviewText: req.OverviewText,
		ModuleName:   req.ModuleName,
		CreatedBy:    actor.ID,
	}
	if deck != nil {
		if err := s.storeDeck(session, deck); err != nil {
			return nil, err
		}
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		if session.StoragePath != nil {
			s.cleanup([]string{*session.StoragePath})
		}
		return nil, internalError(err, "failed to create session")
	}
	session.DownloadURL = s.sessionURL(session)
	return session, nil
}

// UpdateSession rewrites a session. A full update replaces every text field
// and requires a title; a partial one applies only the fields present. A new
// deck replaces the stored one.
func (s *ProjectService) UpdateSession(ctx context.Context, actor Actor, projectID, sessionID string, req models.SessionRequest, deck *Upload, partial bool) (*models.ProjectSession, error) {
	if !partial && (req.Title == nil || strings.TrimSpace(*req.Title) == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if actor.Role == models.RoleLearner {
		return nil, appErrors.ErrForbidden
	}
	project, err := s.authorize(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	session, err := s.repo.FindSession(ctx, sessionID)
	if err != nil {
		return nil, lookupError(err, appErrors.Clone(appErrors.ErrNotFound, "session not found"), "failed to load session")
	}
	if session.ProjectID != project.ID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}

	if req.Title != nil {
		session.Title = strings.TrimSpace(*req.Title)
	}
	if !partial || req.OverviewText != nil {
		session.OverviewText = req.OverviewText
	}
	if !partial || req.ModuleName != nil {
		session.ModuleName = req.ModuleName
	}
	previous := session.StoragePath
	if deck != nil {
		if err := s.storeDeck(session, deck); err != nil {
			return nil, err
		}
	}
	if err := s.repo.UpdateSession(ctx, session); err != nil {
		if deck != nil {
			s.cleanup([]string{*session.StoragePath})
		}
		return nil, lookupError(err, appErrors.Clone(appErrors.ErrNotFound, "session not found"), "failed to update session")
	}
	if deck != nil && previous != nil {
		s.cleanup([]string{*previous})
	}
	session.DownloadURL = s.sessionURL(session)
	return session, nil
}

// ListSessions returns a project's sessions to admins and its teachers.
func (s *ProjectService) ListSessions(ctx context.Context, actor Actor, projectID string) ([]models.ProjectSession, error) {
	if actor.Role == models.RoleLearner {
		return nil, appErrors.ErrForbidden
	}
	project, err := s.authorize(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.repo.ListSessions(ctx, project.ID)
	if err != nil {
		return nil, internalError(err, "failed to list sessions")
	}
	if sessions == nil {
		sessions = []models.ProjectSession{}
	}
	for i := range sessions {
		sessions[i].DownloadURL = s.sessionURL(&sessions[i])
	}
	return sessions, nil
}

// storeDeck writes the slide deck and points the session at it. The file
// type is the lower-cased extension of the uploaded name.
func (s *ProjectService) storeDeck(session *models.ProjectSession, deck *Upload) error {
	name := path.Base(deck.Name)
	fileType := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if !sessionFileTypes[fileType] {
		return appErrors.Clone(appErrors.ErrValidation, "ppt_file must be a presentation or pdf")
	}
	key := storage.NewKey(path.Join("projects", session.ProjectID, "sessions"), name)
	if _, err := s.store.Put(key, deck.Reader); err != nil {
		return internalError(err, "failed to store file")
	}
	session.FileName = &name
	session.StoragePath = &key
	session.FileType = fileType
	return nil
}

func (s *ProjectService) sessionURL(session *models.ProjectSession) string {
	if session.StoragePath == nil {
		return ""
	}
	return s.downloadURL(session.ID, *session.StoragePath)
}

// authorize loads a project and checks the actor may see it: admins always,
// teachers when assigned or in the group, learners when in the group.
func (s *ProjectService) authorize(ctx context.Context, actor Actor, projectID string) (*models.ClassroomProject, error) {
	project, err := s.repo.FindByID(ctx, projectID)
	if err != nil {
		return nil, lookupError(err, appErrors.Clone(appErrors.ErrNotFound, "project not found"), "failed to load project")
	}
	switch actor.Role {
	case models.RoleAdmin:
		return project, nil
	case models.RoleTeacher:
		if project.AssignedTeacherID != nil && *project.AssignedTeacherID == actor.ID {
			return project, nil
		}
	case models.RoleLearner:
	default:
		return nil, appErrors.ErrForbidden
	}
	member, err := s.groups.IsMember(ctx, actor.ID, project.GroupID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you do not have access to this project")
	}
	return project, nil
}

func (s *ProjectService) downloadURL(subject, key string) string {
	if s.signer == nil || subject == "" {
		return ""
	}
	token, _, err := s.signer.Sign(subject, key)
	if err != nil {
		s.logger.Warn("failed to sign download url", zap.String("subject", subject), zap.Error(err))
		return ""
	}
	return AssetDownloadPath + "?token=" + url.QueryEscape(token)
}

func (s *ProjectService) cleanup(keys []string) {
	for _, key := range keys {
		if err := s.store.Delete(key); err != nil {
			s.logger.Warn("failed to remove stored file", zap.String("key", key), zap.Error(err))
		}
	}
}

func pageSizeOrDefault(size int) int {
	if size <= 0 {
		return 20
	}
	if size > 100 {
		return 100
	}
	return size
}
