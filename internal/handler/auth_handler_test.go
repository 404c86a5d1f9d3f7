package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/questplus-school-api/internal/middleware"
	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/internal/service"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
)

type fakeAuthSrv struct {
	loginReq   models.LoginRequest
	loginResp  *models.LoginResponse
	loginErr   error
	logoutUser string
	forgotErr  error
}

func (f *fakeAuthSrv) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	f.loginReq = req
	return f.loginResp, f.loginErr
}

func (f *fakeAuthSrv) RefreshToken(context.Context, models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	return &models.RefreshTokenResponse{AccessToken: "a"}, nil
}

func (f *fakeAuthSrv) Logout(_ context.Context, identityID string, _ models.LogoutRequest, _ service.SessionMeta) error {
	f.logoutUser = identityID
	return nil
}

func (f *fakeAuthSrv) ChangePassword(context.Context, string, models.ChangePasswordRequest) error {
	return nil
}

func (f *fakeAuthSrv) ForgotPassword(context.Context, models.ForgotPasswordRequest) error {
	return f.forgotErr
}

func (f *fakeAuthSrv) ResetPassword(context.Context, models.ResetPasswordRequest) error {
	return appErrors.ErrInvalidResetToken
}

type fakeSignup struct {
	err error
}

func (f fakeSignup) AdminSignup(_ context.Context, req models.AdminSignupRequest) (*models.UserAccount, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.UserAccount{Identity: models.Identity{ID: "admin-1", Username: "A001", Email: req.Email}}, nil
}

func TestAuthHandlerLoginRejectsMalformedBody(t *testing.T) {
	h := NewAuthHandler(&fakeAuthSrv{}, fakeSignup{})
	c, rec := jsonContext(http.MethodPost, "/auth/login", "{")

	h.Login(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandlerLoginSuccess(t *testing.T) {
	srv := &fakeAuthSrv{loginResp: &models.LoginResponse{AccessToken: "access", User: models.UserInfo{Role: models.RoleTeacher}}}
	h := NewAuthHandler(srv, fakeSignup{})
	c, rec := jsonContext(http.MethodPost, "/auth/login", `{"identifier":"T001","password":"secret123"}`)

	h.Login(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "T001", srv.loginReq.Identifier)
	env := decodeEnvelope(t, rec)
	assert.Contains(t, string(env.Data), `"access_token":"access"`)
}

func TestAuthHandlerLoginMapsInvalidCredentials(t *testing.T) {
	h := NewAuthHandler(&fakeAuthSrv{loginErr: appErrors.ErrInvalidCredentials}, fakeSignup{})
	c, rec := jsonContext(http.MethodPost, "/auth/login", `{"identifier":"x","password":"y"}`)

	h.Login(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeEnvelope(t, rec).Error["code"])
}

func TestAuthHandlerForgotPasswordIsAccepted(t *testing.T) {
	h := NewAuthHandler(&fakeAuthSrv{}, fakeSignup{})
	c, rec := jsonContext(http.MethodPost, "/auth/forgot-password", `{"email":"nobody@example.com"}`)

	h.ForgotPassword(c)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestAuthHandlerLogoutRequiresClaims(t *testing.T) {
	srv := &fakeAuthSrv{}
	h := NewAuthHandler(srv, fakeSignup{})

	c, rec := jsonContext(http.MethodPost, "/auth/logout", `{"refresh_token":"r"}`)
	h.Logout(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = jsonContext(http.MethodPost, "/auth/logout", `{"refresh_token":"r"}`)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-9"})
	h.Logout(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-9", srv.logoutUser)
}

func TestAuthHandlerAdminSignup(t *testing.T) {
	h := NewAuthHandler(&fakeAuthSrv{}, fakeSignup{})
	c, rec := jsonContext(http.MethodPost, "/auth/admin-signup", `{"email":"a@example.com","password":"password1","first_name":"Ada"}`)
	h.AdminSignup(c)
	assert.Equal(t, http.StatusCreated, rec.Code)

	h = NewAuthHandler(&fakeAuthSrv{}, fakeSignup{err: appErrors.ErrSignupDisabled})
	c, rec = jsonContext(http.MethodPost, "/auth/admin-signup", `{"email":"a@example.com","password":"password1","first_name":"Ada"}`)
	h.AdminSignup(c)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
