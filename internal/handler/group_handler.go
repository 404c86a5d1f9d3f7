package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/questplus-school-api/internal/middleware"
	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/internal/service"
	"github.com/noah-isme/questplus-school-api/pkg/response"
)

type groupService interface {
	List(ctx context.Context, activeOnly bool) ([]models.GroupSummary, error)
	ReverseLookup(ctx context.Context, identityID string) (*models.Group, error)
	ActiveGroups(ctx context.Context, identityID string) ([]models.Group, error)
	ListMembers(ctx context.Context, groupID string, kind models.MembershipKind) ([]models.UserAccount, error)
	History(ctx context.Context, identityID string) ([]models.GroupMembership, error)
}

type rosterExporter interface {
	Export(ctx context.Context, groupID, format string) (*service.RosterFile, error)
}

// GroupHandler exposes group lookups and roster exports.
type GroupHandler struct {
	groups  groupService
	rosters rosterExporter
}

// NewGroupHandler constructs the handler.
func NewGroupHandler(groups groupService, rosters rosterExporter) *GroupHandler {
	return &GroupHandler{groups: groups, rosters: rosters}
}

// List godoc
// @Summary List groups
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param active query bool false "Only active groups"
// @Success 200 {object} response.Envelope
// @Router /groups [get]
func (h *GroupHandler) List(c *gin.Context) {
	activeOnly := false
	if v := queryBool(c, "active"); v != nil {
		activeOnly = *v
	}
	groups, err := h.groups.List(c.Request.Context(), activeOnly)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, groups, nil)
}

// Mine godoc
// @Summary Groups of the caller
// @Description Learners get their current group; teachers get every active group
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /groups/mine [get]
func (h *GroupHandler) Mine(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	kind, ok := models.MembershipKindFor(middleware.CurrentRole(c))
	if !ok {
		response.JSON(c, http.StatusOK, []models.Group{}, nil)
		return
	}
	if kind == models.MembershipLearner {
		group, err := h.groups.ReverseLookup(c.Request.Context(), userID)
		if err != nil {
			response.Error(c, err)
			return
		}
		groups := []models.Group{}
		if group != nil {
			groups = append(groups, *group)
		}
		response.JSON(c, http.StatusOK, groups, nil)
		return
	}
	groups, err := h.groups.ActiveGroups(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if groups == nil {
		groups = []models.Group{}
	}
	response.JSON(c, http.StatusOK, groups, nil)
}

// Students godoc
// @Summary Learners of a group
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param id path string true "Group ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /groups/{id}/students [get]
func (h *GroupHandler) Students(c *gin.Context) {
	members, err := h.groups.ListMembers(c.Request.Context(), c.Param("id"), models.MembershipLearner)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, members, nil)
}

// Roster godoc
// @Summary Export a group roster
// @Tags Groups
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "Group ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /groups/{id}/roster [get]
func (h *GroupHandler) Roster(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	file, err := h.rosters.Export(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

// History godoc
// @Summary Membership history of a user
// @Description Active and retired group memberships, oldest first
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/groups [get]
func (h *GroupHandler) History(c *gin.Context) {
	memberships, err := h.groups.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, memberships, nil)
}
