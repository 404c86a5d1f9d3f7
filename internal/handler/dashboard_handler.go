package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/questplus-school-api/internal/middleware"
	"github.com/noah-isme/questplus-school-api/internal/models"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
	"github.com/noah-isme/questplus-school-api/pkg/response"
)

type dashboardService interface {
	Home(ctx context.Context, identityID string, role models.Role) (*models.Dashboard, bool, error)
}

// DashboardHandler wires dashboard service to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Home godoc
// @Summary Role dispatched home dashboard
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /dashboard/home [get]
func (h *DashboardHandler) Home(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	role := middleware.CurrentRole(c)
	if role == "" {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	dashboard, cacheHit, err := h.service.Home(c.Request.Context(), middleware.CurrentUserID(c), role)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, dashboard, nil, middleware.Meta(c))
}
