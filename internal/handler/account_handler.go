package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/questplus-school-api/internal/middleware"
	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/pkg/response"
)

type accountService interface {
	CreateTeacher(ctx context.Context, actorID string, req models.CreateTeacherRequest) (*models.TeacherDetail, error)
	GetTeacher(ctx context.Context, id string) (*models.TeacherDetail, error)
	ListTeachers(ctx context.Context, filter models.IdentityFilter) ([]models.UserAccount, *models.Pagination, error)
	UpdateTeacher(ctx context.Context, actorID, id string, req models.UpdateTeacherRequest) (*models.TeacherDetail, error)
	CreateStudent(ctx context.Context, actorID string, req models.CreateStudentRequest) (*models.StudentDetail, error)
	GetStudent(ctx context.Context, id string) (*models.StudentDetail, error)
	ListStudents(ctx context.Context, filter models.IdentityFilter) ([]models.UserAccount, *models.Pagination, error)
	UpdateStudent(ctx context.Context, actorID, id string, req models.UpdateStudentRequest) (*models.StudentDetail, error)
	DeleteAccount(ctx context.Context, actorID, id string, role models.Role) error
	ChangeRole(ctx context.Context, actorID, id string, req models.ChangeRoleRequest) (*models.UserAccount, error)
	SetStatus(ctx context.Context, actorID, id string, req models.ChangeStatusRequest) (*models.UserAccount, error)
}

// AccountHandler exposes admin account management.
type AccountHandler struct {
	service accountService
}

// NewAccountHandler constructs the handler.
func NewAccountHandler(svc accountService) *AccountHandler {
	return &AccountHandler{service: svc}
}

func accountFilter(c *gin.Context) models.IdentityFilter {
	return models.IdentityFilter{
		Active:     queryBool(c, "is_active"),
		GradeID:    strings.TrimSpace(c.Query("grade_id")),
		DivisionID: strings.TrimSpace(c.Query("division_id")),
		GroupID:    strings.TrimSpace(c.Query("group_id")),
		Search:     strings.TrimSpace(c.Query("search")),
		Page:       queryInt(c, "page", 1),
		PageSize:   queryInt(c, "page_size", 20),
	}
}

// CreateTeacher godoc
// @Summary Create teacher
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.CreateTeacherRequest true "Teacher payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /teachers [post]
func (h *AccountHandler) CreateTeacher(c *gin.Context) {
	var req models.CreateTeacherRequest
	if !bindJSON(c, &req, "invalid teacher payload") {
		return
	}
	teacher, err := h.service.CreateTeacher(c.Request.Context(), middleware.CurrentUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, teacher)
}

// ListTeachers godoc
// @Summary List teachers
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Param search query string false "Search by name, username or email"
// @Param is_active query bool false "Active flag"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /teachers [get]
func (h *AccountHandler) ListTeachers(c *gin.Context) {
	items, pagination, err := h.service.ListTeachers(c.Request.Context(), accountFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// GetTeacher godoc
// @Summary Get teacher
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /teachers/{id} [get]
func (h *AccountHandler) GetTeacher(c *gin.Context) {
	teacher, err := h.service.GetTeacher(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, teacher, nil)
}

// UpdateTeacher godoc
// @Summary Update teacher
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Teacher ID"
// @Param payload body models.UpdateTeacherRequest true "Teacher payload"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id} [put]
func (h *AccountHandler) UpdateTeacher(c *gin.Context) {
	var req models.UpdateTeacherRequest
	if !bindJSON(c, &req, "invalid teacher payload") {
		return
	}
	teacher, err := h.service.UpdateTeacher(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, teacher, nil)
}

// DeleteTeacher godoc
// @Summary Delete teacher
// @Tags Accounts
// @Security BearerAuth
// @Param id path string true "Teacher ID"
// @Success 204
// @Router /teachers/{id} [delete]
func (h *AccountHandler) DeleteTeacher(c *gin.Context) {
	h.delete(c, models.RoleTeacher)
}

// CreateStudent godoc
// @Summary Create student
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.CreateStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students [post]
func (h *AccountHandler) CreateStudent(c *gin.Context) {
	var req models.CreateStudentRequest
	if !bindJSON(c, &req, "invalid student payload") {
		return
	}
	student, err := h.service.CreateStudent(c.Request.Context(), middleware.CurrentUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// ListStudents godoc
// @Summary List students
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Param grade_id query string false "Grade"
// @Param division_id query string false "Division"
// @Param group_id query string false "Group"
// @Param search query string false "Search by name, username or email"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *AccountHandler) ListStudents(c *gin.Context) {
	items, pagination, err := h.service.ListStudents(c.Request.Context(), accountFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// GetStudent godoc
// @Summary Get student
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
func (h *AccountHandler) GetStudent(c *gin.Context) {
	student, err := h.service.GetStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// UpdateStudent godoc
// @Summary Update student
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Param payload body models.UpdateStudentRequest true "Student payload"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [put]
func (h *AccountHandler) UpdateStudent(c *gin.Context) {
	var req models.UpdateStudentRequest
	if !bindJSON(c, &req, "invalid student payload") {
		return
	}
	student, err := h.service.UpdateStudent(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// DeleteStudent godoc
// @Summary Delete student
// @Tags Accounts
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 204
// @Router /students/{id} [delete]
func (h *AccountHandler) DeleteStudent(c *gin.Context) {
	h.delete(c, models.RoleLearner)
}

func (h *AccountHandler) delete(c *gin.Context, role models.Role) {
	if err := h.service.DeleteAccount(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), role); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ChangeRole godoc
// @Summary Change account role
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param payload body models.ChangeRoleRequest true "Role payload"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/role [patch]
func (h *AccountHandler) ChangeRole(c *gin.Context) {
	var req models.ChangeRoleRequest
	if !bindJSON(c, &req, "invalid role payload") {
		return
	}
	account, err := h.service.ChangeRole(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, account, nil)
}

// SetStatus godoc
// @Summary Activate or deactivate an account
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param payload body models.ChangeStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/status [patch]
func (h *AccountHandler) SetStatus(c *gin.Context) {
	var req models.ChangeStatusRequest
	if !bindJSON(c, &req, "invalid status payload") {
		return
	}
	account, err := h.service.SetStatus(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, account, nil)
}
