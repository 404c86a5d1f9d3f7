package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/internal/service"
	"github.com/noah-isme/questplus-school-api/pkg/response"
)

type bridgeService interface {
	Login(ctx context.Context, req models.UniversalLoginRequest, meta service.SessionMeta) (*models.UniversalLoginResult, error)
	Logout(ctx context.Context, req models.UniversalLogoutRequest) (map[string]interface{}, error)
	SSORedirect(mission string, req models.SSORedirectRequest) (string, error)
}

// BridgeHandler exposes the universal login endpoints.
type BridgeHandler struct {
	service bridgeService
}

// NewBridgeHandler constructs the handler.
func NewBridgeHandler(svc bridgeService) *BridgeHandler {
	return &BridgeHandler{service: svc}
}

// UniversalLogin godoc
// @Summary Universal login
// @Description Authenticate against the legacy backend selected by platform and issue local tokens
// @Tags Accounts
// @Accept json
// @Produce json
// @Param payload body models.UniversalLoginRequest true "Universal login payload"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /accounts/universal-login [post]
func (h *BridgeHandler) UniversalLogin(c *gin.Context) {
	var req models.UniversalLoginRequest
	if !bindJSON(c, &req, "invalid login payload") {
		return
	}
	res, err := h.service.Login(c.Request.Context(), req, sessionMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, "User Authenticated Successfully", res)
}

// UniversalLogout godoc
// @Summary Universal logout
// @Description Close the legacy backend session behind a token
// @Tags Accounts
// @Accept json
// @Produce json
// @Param payload body models.UniversalLogoutRequest true "Universal logout payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /accounts/universal-logout [post]
func (h *BridgeHandler) UniversalLogout(c *gin.Context) {
	var req models.UniversalLogoutRequest
	if !bindJSON(c, &req, "invalid logout payload") {
		return
	}
	res, err := h.service.Logout(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "User Logged Out Successfully", res)
}

// SSOLogin godoc
// @Summary Learner mission redirect
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param mission path string true "Mission name"
// @Param payload body models.SSORedirectRequest true "Launcher user info"
// @Success 200 {object} response.Envelope
// @Router /accounts/student/sso-login/{mission} [post]
func (h *BridgeHandler) SSOLogin(c *gin.Context) {
	var req models.SSORedirectRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req, "invalid launcher payload") {
			return
		}
	}
	url, err := h.service.SSORedirect(c.Param("mission"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"redirect_url": url}, nil)
}
