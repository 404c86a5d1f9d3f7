package service

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/questplus-school-api/internal/bridge"
	"github.com/noah-isme/questplus-school-api/internal/models"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
)

type stubBridgeClient struct {
	result    *bridge.Result
	err       error
	logoutErr error
	calls     []bridge.Credentials
	platforms []bridge.Platform
}

func (c *stubBridgeClient) Authenticate(ctx context.Context, platform bridge.Platform, creds bridge.Credentials) (*bridge.Result, error) {
	c.calls = append(c.calls, creds)
	c.platforms = append(c.platforms, platform)
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

func (c *stubBridgeClient) Logout(ctx context.Context, platform bridge.Platform, token string, meta bridge.Credentials) (map[string]interface{}, error) {
	if c.logoutErr != nil {
		return nil, c.logoutErr
	}
	return map[string]interface{}{"status": "logged out", "token": token}, nil
}

type stubCipher struct {
	plain string
	err   error
}

func (c stubCipher) Decrypt(envelope string) (string, error) {
	return c.plain, c.err
}

func newBridgeFixture(cipher passwordCipher) (*memDB, *stubBridgeClient, *AuthService, *BridgeService) {
	db := newMemDB()
	client := &stubBridgeClient{result: &bridge.Result{
		Platform:    bridge.PlatformWeb,
		Body:        map[string]interface{}{"token": "upstream"},
		CID:         "cid-1",
		CIDVerified: true,
	}}
	auth := NewAuthService(memIdentities{db}, nil, nil, nil, AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, RefreshTokenExpiry: time.Hour})
	svc := NewBridgeService(client, cipher, memIdentities{db}, memLegacy{db}, auth, nil, nil, nil, nil)
	return db, client, auth, svc
}

func loginRequest(username string, platform int) models.UniversalLoginRequest {
	return models.UniversalLoginRequest{Payload: models.UniversalLoginPayload{
		Username:   username,
		Password:   "sealed",
		Platform:   &platform,
		DeviceID:   "device-1",
		ModuleName: "login",
	}}
}

func TestBridgeServiceLoginProvisionsShadowIdentity(t *testing.T) {
	db, client, auth, svc := newBridgeFixture(stubCipher{plain: "s3cret"})
	db.legacy["SNVV@ravi"] = &models.LegacyIdentity{UserID: "u-1", UserName: "SNVV@ravi", FirstName: "Ravi", LastName: "Kumar"}
	db.legacyRoles["u-1"] = []models.LegacyRoleAssignment{{UserID: "u-1", RoleName: "Parent"}, {UserID: "u-1", RoleName: "Student"}}
	ctx := context.Background()

	res, err := svc.Login(ctx, loginRequest("SNVV@ravi", 0), SessionMeta{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "SNVV@ravi", res.Username)
	assert.NotEmpty(t, res.Token.Access)
	assert.NotEmpty(t, res.Token.Refresh)
	assert.Equal(t, "upstream", res.DotNetAuth["token"])

	require.Len(t, client.calls, 1)
	assert.Equal(t, "s3cret", client.calls[0].Password)
	assert.Equal(t, "device-1", client.calls[0].DeviceID)
	assert.Equal(t, bridge.PlatformWeb, client.platforms[0])

	account, err := memIdentities{db}.FindAccount(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "snvv@ravi@shadow.questplus.in", account.Email)
	assert.Equal(t, models.RoleLearner, account.Role)
	assert.Equal(t, "Ravi Kumar", account.FullName())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte("s3cret")))

	claims, err := auth.ValidateToken(res.Token.Access)
	require.NoError(t, err)
	assert.Equal(t, res.ID, claims.UserID)
	assert.Equal(t, "cid-1", claims.CID)
	assert.True(t, claims.CIDVerified)

	assert.Equal(t, []string{models.AuditActionShadowProvision, models.AuditActionBridgeLogin}, db.auditActions())

	// second login reuses the shadow identity
	again, err := svc.Login(ctx, loginRequest("SNVV@ravi", 2), SessionMeta{})
	require.NoError(t, err)
	assert.Equal(t, res.ID, again.ID)
	assert.Equal(t, bridge.PlatformApp, client.platforms[1])
}

func TestBridgeServiceLoginNotProvisioned(t *testing.T) {
	db, _, _, svc := newBridgeFixture(stubCipher{plain: "s3cret"})
	db.legacy["ghost"] = &models.LegacyIdentity{UserID: "u-9", UserName: "ghost", Email: "ghost@school.example"}
	db.legacyRoles["u-9"] = []models.LegacyRoleAssignment{{UserID: "u-9", RoleName: "Parent"}}

	_, err := svc.Login(context.Background(), loginRequest("stranger", 1), SessionMeta{})
	assertAppError(t, err, appErrors.ErrNotProvisioned.Code)

	_, err = svc.Login(context.Background(), loginRequest("ghost", 1), SessionMeta{})
	assertAppError(t, err, appErrors.ErrNotProvisioned.Code)
	assert.Empty(t, db.identities)
}

func TestBridgeServiceLoginErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid platform", func(t *testing.T) {
		_, client, _, svc := newBridgeFixture(stubCipher{plain: "x"})
		_, err := svc.Login(ctx, loginRequest("F001", 7), SessionMeta{})
		assertAppError(t, err, appErrors.ErrInvalidPlatform.Code)
		assert.Empty(t, client.calls)
	})

	t.Run("missing platform", func(t *testing.T) {
		_, _, _, svc := newBridgeFixture(stubCipher{plain: "x"})
		req := loginRequest("F001", 0)
		req.Payload.Platform = nil
		_, err := svc.Login(ctx, req, SessionMeta{})
		assertAppError(t, err, appErrors.ErrValidation.Code)
	})

	t.Run("no cipher", func(t *testing.T) {
		_, client, _, svc := newBridgeFixture(nil)
		_, err := svc.Login(ctx, loginRequest("F001", 0), SessionMeta{})
		assertAppError(t, err, appErrors.ErrBridgeFailure.Code)
		assert.Empty(t, client.calls)
	})

	t.Run("bad envelope", func(t *testing.T) {
		_, _, _, svc := newBridgeFixture(stubCipher{err: errors.New("bad padding")})
		_, err := svc.Login(ctx, loginRequest("F001", 0), SessionMeta{})
		assertAppError(t, err, appErrors.ErrBridgeFailure.Code)
	})

	t.Run("rejected", func(t *testing.T) {
		_, client, _, svc := newBridgeFixture(stubCipher{plain: "x"})
		client.err = &bridge.StatusError{Status: 401}
		_, err := svc.Login(ctx, loginRequest("F001", 1), SessionMeta{})
		assertAppError(t, err, appErrors.ErrBridgeRejected.Code)
	})

	t.Run("transport failure", func(t *testing.T) {
		_, client, _, svc := newBridgeFixture(stubCipher{plain: "x"})
		client.err = errors.New("connection refused")
		_, err := svc.Login(ctx, loginRequest("F001", 1), SessionMeta{})
		assertAppError(t, err, appErrors.ErrBridgeFailure.Code)
	})
}

func TestBridgeServiceLoginSyncsPassword(t *testing.T) {
	db, _, _, svc := newBridgeFixture(stubCipher{plain: "rotated-pass"})
	hash, err := bcrypt.GenerateFromPassword([]byte("old-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	teacher := db.seedAccount("F001", "tara@school.example", string(hash), models.RoleTeacher)
	ctx := context.Background()

	res, err := svc.Login(ctx, loginRequest("F001", 0), SessionMeta{})
	require.NoError(t, err)
	assert.Equal(t, teacher.ID, res.ID)

	stored, err := memIdentities{db}.FindByID(ctx, teacher.ID)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("rotated-pass")))
	assert.NotContains(t, db.auditActions(), models.AuditActionShadowProvision)
}

func TestBridgeServiceLoginInactive(t *testing.T) {
	db, _, _, svc := newBridgeFixture(stubCipher{plain: "x"})
	teacher := db.seedAccount("F001", "tara@school.example", "", models.RoleTeacher)
	require.NoError(t, memIdentities{db}.SetActive(context.Background(), teacher.ID, false))

	_, err := svc.Login(context.Background(), loginRequest("F001", 0), SessionMeta{})
	assertAppError(t, err, appErrors.ErrInactiveAccount.Code)
}

func TestBridgeServiceLogout(t *testing.T) {
	_, client, _, svc := newBridgeFixture(nil)
	platform := 1
	req := models.UniversalLogoutRequest{Payload: models.UniversalLogoutPayload{Token: "upstream", Platform: &platform}}
	ctx := context.Background()

	body, err := svc.Logout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "upstream", body["token"])

	client.logoutErr = &bridge.StatusError{Status: 400}
	_, err = svc.Logout(ctx, req)
	assertAppError(t, err, appErrors.ErrLogoutRejected.Code)

	client.logoutErr = errors.New("timeout")
	_, err = svc.Logout(ctx, req)
	assertAppError(t, err, appErrors.ErrLogoutFailure.Code)

	bad := 5
	req.Payload.Platform = &bad
	_, err = svc.Logout(ctx, req)
	assertAppError(t, err, appErrors.ErrInvalidPlatform.Code)
}

func TestBridgeServiceSSORedirect(t *testing.T) {
	_, _, _, svc := newBridgeFixture(nil)
	var req models.SSORedirectRequest
	req.UserInfo.InstitutionID = "inst42"
	req.UserInfo.UserName = "asha@school"

	url, err := svc.SSORedirect("SCIENCE", models.SSORedirectRequest{})
	require.NoError(t, err)
	assert.Equal(t, "/home/exp-missions", url)

	url, err = svc.SSORedirect("coding", req)
	require.NoError(t, err)
	expected := base64.StdEncoding.EncodeToString([]byte("asha.ict@inst42.questplus.in"))
	assert.Equal(t, "https://kms.ict360.com/ict/student-login/207/"+expected, url)

	_, err = svc.SSORedirect("CODING", models.SSORedirectRequest{})
	assertAppError(t, err, appErrors.ErrValidation.Code)
}

func TestKMSLogin(t *testing.T) {
	cases := map[string]string{
		"SNVV@ravi":   "ravi.ict@inst.questplus.in",
		"asha@school": "asha.ict@inst.questplus.in",
		"plainuser":   "plainuser.ict@inst.questplus.in",
	}
	for userName, expected := range cases {
		assert.Equal(t, expected, KMSLogin(userName, "inst"), userName)
	}
}
