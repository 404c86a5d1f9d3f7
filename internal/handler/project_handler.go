package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/questplus-school-api/internal/middleware"
	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/internal/service"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
	"github.com/noah-isme/questplus-school-api/pkg/response"
)

type projectService interface {
	Create(ctx context.Context, actor service.Actor, req models.CreateProjectRequest) (*service.ProjectDetail, error)
	List(ctx context.Context, page, pageSize int) ([]models.ClassroomProject, *models.Pagination, error)
	TeacherProjects(ctx context.Context, teacherID string, page, pageSize int) ([]models.ClassroomProject, *models.Pagination, error)
	StudentProjects(ctx context.Context, studentID string, page, pageSize int) ([]models.ClassroomProject, *models.Pagination, error)
	Get(ctx context.Context, actor service.Actor, id string) (*service.ProjectDetail, error)
	Update(ctx context.Context, actor service.Actor, id string, req models.UpdateProjectRequest) (*service.ProjectDetail, error)
	AddAssets(ctx context.Context, actor service.Actor, projectID string, uploads []service.Upload) ([]models.ProjectAsset, error)
	OpenDownload(token string) (*os.File, string, error)
	CreateQuizzes(ctx context.Context, actor service.Actor, projectID string, req models.CreateQuizzesRequest) ([]models.ReflectiveQuiz, error)
	ListQuizzes(ctx context.Context, actor service.Actor, projectID string) ([]models.ReflectiveQuiz, error)
	SubmitQuizAnswers(ctx context.Context, actor service.Actor, projectID string, req models.SubmitQuizRequest) ([]models.QuizResponse, error)
	Submit(ctx context.Context, actor service.Actor, projectID string, upload service.Upload) (*models.ProjectSubmission, error)
	ListSubmissions(ctx context.Context, actor service.Actor, projectID string) ([]models.ProjectSubmission, error)
	Review(ctx context.Context, actor service.Actor, submissionID string, req models.ReviewSubmissionRequest) (*models.ProjectSubmission, error)
	CreateSession(ctx context.Context, actor service.Actor, projectID string, req models.SessionRequest, deck *service.Upload) (*models.ProjectSession, error)
	UpdateSession(ctx context.Context, actor service.Actor, projectID, sessionID string, req models.SessionRequest, deck *service.Upload, partial bool) (*models.ProjectSession, error)
	ListSessions(ctx context.Context, actor service.Actor, projectID string) ([]models.ProjectSession, error)
}

// ProjectHandler exposes classroom projects.
type ProjectHandler struct {
	service  projectService
	maxBytes int64
}

// NewProjectHandler constructs the handler. maxBytes bounds each uploaded file.
func NewProjectHandler(svc projectService, maxBytes int64) *ProjectHandler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &ProjectHandler{service: svc, maxBytes: maxBytes}
}

// Create godoc
// @Summary Create classroom project
// @Tags Projects
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.CreateProjectRequest true "Project payload"
// @Success 201 {object} response.Envelope
// @Router /classroom-projects [post]
func (h *ProjectHandler) Create(c *gin.Context) {
	var req models.CreateProjectRequest
	if !bindJSON(c, &req, "invalid project payload") {
		return
	}
	project, err := h.service.Create(c.Request.Context(), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, project)
}

// List godoc
// @Summary List every project
// @Tags Projects
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /classroom-projects [get]
func (h *ProjectHandler) List(c *gin.Context) {
	items, pagination, err := h.service.List(c.Request.Context(), queryInt(c, "page", 1), queryInt(c, "page_size", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// TeacherProjects godoc
// @Summary Projects of the calling teacher
// @Tags Projects
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /teacher/projects [get]
func (h *ProjectHandler) TeacherProjects(c *gin.Context) {
	items, pagination, err := h.service.TeacherProjects(c.Request.Context(), middleware.CurrentUserID(c), queryInt(c, "page", 1), queryInt(c, "page_size", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// StudentProjects godoc
// @Summary Projects of the calling learner
// @Tags Projects
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /student/projects [get]
func (h *ProjectHandler) StudentProjects(c *gin.Context) {
	items, pagination, err := h.service.StudentProjects(c.Request.Context(), middleware.CurrentUserID(c), queryInt(c, "page", 1), queryInt(c, "page_size", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get project
// @Tags Projects
// @Produce json
// @Security BearerAuth
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Router /classroom-projects/{id} [get]
func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.service.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, project, nil)
}

// Update godoc
// @Summary Update project
// @Tags Projects
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Project ID"
// @Param payload body models.UpdateProjectRequest true "Project payload"
// @Success 200 {object} response.Envelope
// @Router /classroom-projects/{id} [put]
func (h *ProjectHandler) Update(c *gin.Context) {
	var req models.UpdateProjectRequest
	if !bindJSON(c, &req, "invalid project payload") {
		return
	}
	project, err := h.service.Update(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, project, nil)
}

// AddAssets godoc
// @Summary Upload project assets
// @Tags Projects
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Project ID"
// @Param files formData file true "Files"
// @Param file_types formData string true "File type per file, one per uploaded file"
// @Success 201 {object} response.Envelope
// @Router /classroom-projects/{id}/assets [post]
func (h *ProjectHandler) AddAssets(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "multipart form expected"))
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		headers = form.File["files[]"]
	}
	types := form.Value["file_types"]
	if len(types) == 0 {
		types = form.Value["file_types[]"]
	}
	if len(types) != len(headers) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file_types must list one type per file"))
		return
	}

	uploads := make([]service.Upload, 0, len(headers))
	for i, header := range headers {
		if header.Size > h.maxBytes {
			closeUploads(uploads)
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s is too large", header.Filename)))
			return
		}
		file, err := header.Open()
		if err != nil {
			closeUploads(uploads)
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read upload"))
			return
		}
		uploads = append(uploads, service.Upload{Name: header.Filename, Type: types[i], Reader: file})
	}
	defer closeUploads(uploads)

	assets, err := h.service.AddAssets(c.Request.Context(), actorFromContext(c), c.Param("id"), uploads)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assets)
}

func closeUploads(uploads []service.Upload) {
	for _, u := range uploads {
		if closer, ok := u.Reader.(io.Closer); ok {
			_ = closer.Close()
		}
	}
}

// Download godoc
// @Summary Download a stored file through a signed link
// @Tags Projects
// @Produce application/octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Router /assets/download [get]
func (h *ProjectHandler) Download(c *gin.Context) {
	file, name, err := h.service.OpenDownload(c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), file)
}

// CreateQuizzes godoc
// @Summary Attach reflective quizzes
// @Tags Projects
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Project ID"
// @Param payload body models.CreateQuizzesRequest true "Quizzes"
// @Success 201 {object} response.Envelope
// @Router /classroom-projects/{id}/quizzes [post]
func (h *ProjectHandler) CreateQuizzes(c *gin.Context) {
	var req models.CreateQuizzesRequest
	if !bindJSON(c, &req, "invalid quiz payload") {
		return
	}
	quizzes, err := h.service.CreateQuizzes(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, quizzes)
}

// ListQuizzes godoc
// @Summary List project quizzes
// @Tags Projects
// @Produce json
// @Security BearerAuth
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Router /classroom-projects/{id}/quizzes [get]
func (h *ProjectHandler) ListQuizzes(c *gin.Context) {
	quizzes, err := h.service.ListQuizzes(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quizzes, nil)
}

// SubmitQuizAnswers godoc
// @Summary Answer project quizzes
// @Tags Projects
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Project ID"
// @Param payload body models.SubmitQuizRequest true "Answers"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /classroom-projects/{id}/quiz-answers [post]
func (h *ProjectHandler) SubmitQuizAnswers(c *gin.Context) {
	var req models.SubmitQuizRequest
	if !bindJSON(c, &req, "invalid answer payload") {
		return
	}
	responses, err := h.service.SubmitQuizAnswers(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, responses)
}

// Submit godoc
// @Summary Submit project work
// @Tags Projects
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Project ID"
// @Param file formData file true "Submission"
// @Success 201 {object} response.Envelope
// @Router /classroom-projects/{id}/submissions [post]
func (h *ProjectHandler) Submit(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	if header.Size > h.maxBytes {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is too large"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read upload"))
		return
	}
	defer func(f multipart.File) { _ = f.Close() }(file)

	submission, err := h.service.Submit(c.Request.Context(), actorFromContext(c), c.Param("id"), service.Upload{Name: header.Filename, Reader: file})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, submission)
}

// ListSubmissions godoc
// @Summary List project submissions
// @Tags Projects
// @Produce json
// @Security BearerAuth
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Router /classroom-projects/{id}/submissions [get]
func (h *ProjectHandler) ListSubmissions(c *gin.Context) {
	submissions, err := h.service.ListSubmissions(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submissions, nil)
}

// Review godoc
// @Summary Review a submission
// @Tags Projects
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Submission ID"
// @Param payload body models.ReviewSubmissionRequest true "Review"
// @Success 200 {object} response.Envelope
// @Router /submissions/{id}/review [patch]
func (h *ProjectHandler) Review(c *gin.Context) {
	var req models.ReviewSubmissionRequest
	if !bindJSON(c, &req, "invalid review payload") {
		return
	}
	submission, err := h.service.Review(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission, nil)
}

// CreateSession godoc
// @Summary Add a project session
// @Tags Projects
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Project ID"
// @Param title formData string true "Title"
// @Param overview_text formData string false "Overview"
// @Param module_name formData string false "Module name"
// @Param ppt_file formData file false "Slide deck"
// @Success 201 {object} response.Envelope
// @Router /classroom-projects/{id}/sessions [post]
func (h *ProjectHandler) CreateSession(c *gin.Context) {
	req, deck, ok := h.sessionForm(c)
	if !ok {
		return
	}
	if deck != nil {
		defer closeUploads([]service.Upload{*deck})
	}
	session, err := h.service.CreateSession(c.Request.Context(), actorFromContext(c), c.Param("id"), req, deck)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// UpdateSession godoc
// @Summary Update a project session
// @Description PUT replaces every field, PATCH applies only the fields sent.
// @Tags Projects
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Project ID"
// @Param session_id path string true "Session ID"
// @Param title formData string false "Title"
// @Param overview_text formData string false "Overview"
// @Param module_name formData string false "Module name"
// @Param ppt_file formData file false "Slide deck"
// @Success 200 {object} response.Envelope
// @Router /classroom-projects/{id}/sessions/{session_id} [put]
// @Router /classroom-projects/{id}/sessions/{session_id} [patch]
func (h *ProjectHandler) UpdateSession(c *gin.Context) {
	req, deck, ok := h.sessionForm(c)
	if !ok {
		return
	}
	if deck != nil {
		defer closeUploads([]service.Upload{*deck})
	}
	partial := c.Request.Method == http.MethodPatch
	session, err := h.service.UpdateSession(c.Request.Context(), actorFromContext(c), c.Param("id"), c.Param("session_id"), req, deck, partial)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// ListSessions godoc
// @Summary List project sessions
// @Tags Projects
// @Produce json
// @Security BearerAuth
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Router /classroom-projects/{id}/sessions [get]
func (h *ProjectHandler) ListSessions(c *gin.Context) {
	sessions, err := h.service.ListSessions(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// sessionForm reads the session fields and the optional ppt_file upload.
// Absent fields stay nil so partial updates can tell them apart.
func (h *ProjectHandler) sessionForm(c *gin.Context) (models.SessionRequest, *service.Upload, bool) {
	var req models.SessionRequest
	if v, ok := c.GetPostForm("title"); ok {
		req.Title = &v
	}
	if v, ok := c.GetPostForm("overview_text"); ok {
		req.OverviewText = &v
	}
	if v, ok := c.GetPostForm("module_name"); ok {
		req.ModuleName = &v
	}
	header, err := c.FormFile("ppt_file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return req, nil, true
		}
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid session form"))
		return req, nil, false
	}
	if header.Size > h.maxBytes {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "ppt_file is too large"))
		return req, nil, false
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read upload"))
		return req, nil, false
	}
	return req, &service.Upload{Name: header.Filename, Reader: file}, true
}
