package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/questplus-school-api/internal/middleware"
	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/internal/service"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
	"github.com/noah-isme/questplus-school-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		return nil
	}
	return claims
}

func actorFromContext(c *gin.Context) service.Actor {
	return service.Actor{ID: middleware.CurrentUserID(c), Role: middleware.CurrentRole(c)}
}

func sessionMeta(c *gin.Context) service.SessionMeta {
	return service.SessionMeta{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// bindJSON decodes the body or writes a 400 envelope.
func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

func queryBool(c *gin.Context, key string) *bool {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}
