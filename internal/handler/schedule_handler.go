package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/questplus-school-api/internal/middleware"
	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/pkg/response"
)

type scheduleService interface {
	Submit(ctx context.Context, actorID, filename, academicYear string, data []byte) (*models.ImportTask, error)
	Status(ctx context.Context, taskID string) (*models.ImportTask, error)
	GroupSchedule(ctx context.Context, groupID, academicYear string) ([]models.ScheduleEntry, error)
	TeacherSchedule(ctx context.Context, teacherID, academicYear string) ([]models.ScheduleEntry, error)
}

// ScheduleHandler serves timetable uploads and lookups.
type ScheduleHandler struct {
	service  scheduleService
	maxBytes int64
}

// NewScheduleHandler constructs the handler. maxBytes bounds the uploaded file.
func NewScheduleHandler(svc scheduleService, maxBytes int64) *ScheduleHandler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &ScheduleHandler{service: svc, maxBytes: maxBytes}
}

// Upload godoc
// @Summary Bulk upload schedules
// @Description Accepts a timetable sheet with Day, Grade and Section columns followed by time slot columns such as 07:30:00-08:15:00
// @Tags Schedules
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "Spreadsheet"
// @Param academic_year formData string true "Academic year, e.g. 2026-2027"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /schedules/bulk-upload [post]
func (h *ScheduleHandler) Upload(c *gin.Context) {
	filename, data, err := readUpload(c, "file", h.maxBytes)
	if err != nil {
		response.Error(c, err)
		return
	}

	task, err := h.service.Submit(c.Request.Context(), middleware.CurrentUserID(c), filename, c.PostForm("academic_year"), data)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, "schedule upload queued", gin.H{"task_id": task.TaskID})
}

// Status godoc
// @Summary Schedule upload status
// @Tags Schedules
// @Produce json
// @Security BearerAuth
// @Param task_id path string true "Task ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedules/bulk-upload/{task_id} [get]
func (h *ScheduleHandler) Status(c *gin.Context) {
	task, err := h.service.Status(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, task, nil)
}

// Group godoc
// @Summary Group timetable
// @Tags Schedules
// @Produce json
// @Security BearerAuth
// @Param id path string true "Group ID"
// @Param academic_year query string false "Academic year; active schedules when omitted"
// @Success 200 {object} response.Envelope
// @Router /groups/{id}/schedule [get]
func (h *ScheduleHandler) Group(c *gin.Context) {
	entries, err := h.service.GroupSchedule(c.Request.Context(), c.Param("id"), c.Query("academic_year"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Mine godoc
// @Summary Teacher timetable
// @Tags Schedules
// @Produce json
// @Security BearerAuth
// @Param academic_year query string false "Academic year; active schedules when omitted"
// @Success 200 {object} response.Envelope
// @Router /teacher/schedule [get]
func (h *ScheduleHandler) Mine(c *gin.Context) {
	entries, err := h.service.TeacherSchedule(c.Request.Context(), middleware.CurrentUserID(c), c.Query("academic_year"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
