package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/questplus-school-api/internal/middleware"
	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/pkg/response"
)

type gradeService interface {
	ListGrades(ctx context.Context) ([]models.Grade, error)
	GetGrade(ctx context.Context, id string) (*models.Grade, error)
	CreateGrade(ctx context.Context, req models.GradeRequest) (*models.Grade, error)
	UpdateGrade(ctx context.Context, id string, req models.GradeRequest) (*models.Grade, error)
	DeleteGrade(ctx context.Context, actorID, id string) error
	ListDivisions(ctx context.Context) ([]models.Division, error)
	GetDivision(ctx context.Context, id string) (*models.Division, error)
	CreateDivision(ctx context.Context, req models.DivisionRequest) (*models.Division, error)
	UpdateDivision(ctx context.Context, id string, req models.DivisionRequest) (*models.Division, error)
	DeleteDivision(ctx context.Context, actorID, id string) error
	ListMappings(ctx context.Context) ([]models.GradeWithDivisions, error)
	CreateMapping(ctx context.Context, actorID string, req models.MappingRequest) (*models.MappingResult, error)
	DeleteMapping(ctx context.Context, actorID string, req models.MappingDeleteRequest) error
	ReplaceDivisions(ctx context.Context, actorID, gradeID string, req models.ReplaceDivisionsRequest) (*models.GradeWithDivisions, error)
}

// GradeHandler manages grades, divisions and their mappings.
type GradeHandler struct {
	service gradeService
}

// NewGradeHandler constructs the handler.
func NewGradeHandler(svc gradeService) *GradeHandler {
	return &GradeHandler{service: svc}
}

// ListGrades godoc
// @Summary List grades
// @Tags Grades
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /grades [get]
func (h *GradeHandler) ListGrades(c *gin.Context) {
	grades, err := h.service.ListGrades(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grades, nil)
}

// GetGrade godoc
// @Summary Get grade
// @Tags Grades
// @Produce json
// @Security BearerAuth
// @Param id path string true "Grade ID"
// @Success 200 {object} response.Envelope
// @Router /grades/{id} [get]
func (h *GradeHandler) GetGrade(c *gin.Context) {
	grade, err := h.service.GetGrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}

// CreateGrade godoc
// @Summary Create grade
// @Tags Grades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.GradeRequest true "Grade payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /grades [post]
func (h *GradeHandler) CreateGrade(c *gin.Context) {
	var req models.GradeRequest
	if !bindJSON(c, &req, "invalid grade payload") {
		return
	}
	grade, err := h.service.CreateGrade(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, grade)
}

// UpdateGrade godoc
// @Summary Update grade
// @Description Renaming a grade recomputes the names of its groups
// @Tags Grades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Grade ID"
// @Param payload body models.GradeRequest true "Grade payload"
// @Success 200 {object} response.Envelope
// @Router /grades/{id} [put]
func (h *GradeHandler) UpdateGrade(c *gin.Context) {
	var req models.GradeRequest
	if !bindJSON(c, &req, "invalid grade payload") {
		return
	}
	grade, err := h.service.UpdateGrade(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}

// DeleteGrade godoc
// @Summary Delete grade
// @Description Soft deletes the grade and removes its mappings.
// @Tags Grades
// @Security BearerAuth
// @Param id path string true "Grade ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /grades/{id} [delete]
func (h *GradeHandler) DeleteGrade(c *gin.Context) {
	if err := h.service.DeleteGrade(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListDivisions godoc
// @Summary List divisions
// @Tags Grades
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /divisions [get]
func (h *GradeHandler) ListDivisions(c *gin.Context) {
	divisions, err := h.service.ListDivisions(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, divisions, nil)
}

// GetDivision godoc
// @Summary Get division
// @Tags Grades
// @Produce json
// @Security BearerAuth
// @Param id path string true "Division ID"
// @Success 200 {object} response.Envelope
// @Router /divisions/{id} [get]
func (h *GradeHandler) GetDivision(c *gin.Context) {
	division, err := h.service.GetDivision(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, division, nil)
}

// CreateDivision godoc
// @Summary Create division
// @Tags Grades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.DivisionRequest true "Division payload"
// @Success 201 {object} response.Envelope
// @Router /divisions [post]
func (h *GradeHandler) CreateDivision(c *gin.Context) {
	var req models.DivisionRequest
	if !bindJSON(c, &req, "invalid division payload") {
		return
	}
	division, err := h.service.CreateDivision(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, division)
}

// UpdateDivision godoc
// @Summary Update division
// @Tags Grades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Division ID"
// @Param payload body models.DivisionRequest true "Division payload"
// @Success 200 {object} response.Envelope
// @Router /divisions/{id} [put]
func (h *GradeHandler) UpdateDivision(c *gin.Context) {
	var req models.DivisionRequest
	if !bindJSON(c, &req, "invalid division payload") {
		return
	}
	division, err := h.service.UpdateDivision(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, division, nil)
}

// DeleteDivision godoc
// @Summary Delete division
// @Description Soft deletes the division and removes its mappings.
// @Tags Grades
// @Security BearerAuth
// @Param id path string true "Division ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /divisions/{id} [delete]
func (h *GradeHandler) DeleteDivision(c *gin.Context) {
	if err := h.service.DeleteDivision(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListMappings godoc
// @Summary List grade/division mappings
// @Tags Grades
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /grade-division-mappings [get]
func (h *GradeHandler) ListMappings(c *gin.Context) {
	mappings, err := h.service.ListMappings(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mappings, nil)
}

// CreateMapping godoc
// @Summary Map divisions to a grade
// @Description Get-or-creates the grade, divisions, mappings and groups
// @Tags Grades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.MappingRequest true "Mapping payload"
// @Success 201 {object} response.Envelope
// @Router /grade-division-mappings [post]
func (h *GradeHandler) CreateMapping(c *gin.Context) {
	var req models.MappingRequest
	if !bindJSON(c, &req, "invalid mapping payload") {
		return
	}
	result, err := h.service.CreateMapping(c.Request.Context(), middleware.CurrentUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// DeleteMapping godoc
// @Summary Remove a grade/division mapping
// @Tags Grades
// @Accept json
// @Security BearerAuth
// @Param payload body models.MappingDeleteRequest true "Mapping payload"
// @Success 204
// @Router /grade-division-mappings [delete]
func (h *GradeHandler) DeleteMapping(c *gin.Context) {
	var req models.MappingDeleteRequest
	if !bindJSON(c, &req, "invalid mapping payload") {
		return
	}
	if err := h.service.DeleteMapping(c.Request.Context(), middleware.CurrentUserID(c), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ReplaceDivisions godoc
// @Summary Replace the divisions of a grade
// @Tags Grades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Grade ID"
// @Param payload body models.ReplaceDivisionsRequest true "Division ids"
// @Success 200 {object} response.Envelope
// @Router /grades/{id}/divisions [put]
func (h *GradeHandler) ReplaceDivisions(c *gin.Context) {
	var req models.ReplaceDivisionsRequest
	if !bindJSON(c, &req, "invalid division payload") {
		return
	}
	result, err := h.service.ReplaceDivisions(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
