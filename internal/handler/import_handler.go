package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/questplus-school-api/internal/middleware"
	"github.com/noah-isme/questplus-school-api/internal/models"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
	"github.com/noah-isme/questplus-school-api/pkg/response"
)

type importService interface {
	Submit(ctx context.Context, actorID, filename string, data []byte) (*models.ImportTask, error)
	Status(ctx context.Context, taskID string) (*models.ImportTask, error)
}

// ImportHandler accepts bulk student uploads.
type ImportHandler struct {
	service  importService
	maxBytes int64
}

// NewImportHandler constructs the handler. maxBytes bounds the uploaded file.
func NewImportHandler(svc importService, maxBytes int64) *ImportHandler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &ImportHandler{service: svc, maxBytes: maxBytes}
}

// Upload godoc
// @Summary Bulk upload students
// @Description Accepts a .csv or .xlsx sheet and imports it in the background
// @Tags Accounts
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "Spreadsheet"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /students/bulk-upload [post]
func (h *ImportHandler) Upload(c *gin.Context) {
	filename, data, err := readUpload(c, "file", h.maxBytes)
	if err != nil {
		response.Error(c, err)
		return
	}

	task, err := h.service.Submit(c.Request.Context(), middleware.CurrentUserID(c), filename, data)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, "import queued", gin.H{"task_id": task.TaskID})
}

// readUpload reads a required multipart file no larger than maxBytes.
func readUpload(c *gin.Context, field string, maxBytes int64) (string, []byte, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return "", nil, appErrors.Clone(appErrors.ErrValidation, field+" is required")
	}
	if header.Size > maxBytes {
		return "", nil, appErrors.Clone(appErrors.ErrValidation, field+" is too large")
	}
	file, err := header.Open()
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read upload")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read upload")
	}
	if int64(len(data)) > maxBytes {
		return "", nil, appErrors.Clone(appErrors.ErrValidation, field+" is too large")
	}
	return header.Filename, data, nil
}

// Status godoc
// @Summary Bulk upload status
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Param task_id path string true "Task ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/bulk-upload/{task_id} [get]
func (h *ImportHandler) Status(c *gin.Context) {
	task, err := h.service.Status(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, task, nil)
}
