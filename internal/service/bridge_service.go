package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/questplus-school-api/internal/bridge"
	"github.com/noah-isme/questplus-school-api/internal/models"
	"github.com/noah-isme/questplus-school-api/internal/repository"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
)

const (
	ssoMissionCoding = "CODING"
	ssoKMSBaseURL    = "https://kms.ict360.com/ict/student-login/207/"
	ssoDefaultURL    = "/home/exp-missions"
	shadowEmailHost  = "shadow.questplus.in"
)

type bridgeClient interface {
	Authenticate(ctx context.Context, platform bridge.Platform, creds bridge.Credentials) (*bridge.Result, error)
	Logout(ctx context.Context, platform bridge.Platform, token string, meta bridge.Credentials) (map[string]interface{}, error)
}

type passwordCipher interface {
	Decrypt(envelope string) (string, error)
}

type shadowRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.Identity, error)
	Create(ctx context.Context, identity *models.Identity) error
	CreateProfile(ctx context.Context, profile *models.Profile) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type legacyDirectory interface {
	FindIdentity(ctx context.Context, userName string) (*models.LegacyIdentity, error)
	FindRoles(ctx context.Context, userID string) ([]models.LegacyRoleAssignment, error)
}

type sessionIssuer interface {
	IssueSession(ctx context.Context, identity *models.Identity, meta SessionMeta) (*Session, error)
}

var errProvisionRace = errors.New("shadow identity provisioned concurrently")

// BridgeService delegates login to the external identity backends and keeps
// a local shadow identity for every user that signs in through them.
type BridgeService struct {
	client    bridgeClient
	cipher    passwordCipher
	repo      shadowRepository
	legacy    legacyDirectory
	sessions  sessionIssuer
	tx        transactor
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewBridgeService constructs a BridgeService. A nil cipher rejects every
// login because the password channel cannot be opened.
func NewBridgeService(client bridgeClient, cipher passwordCipher, repo shadowRepository, legacy legacyDirectory, sessions sessionIssuer, tx transactor, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *BridgeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if tx == nil {
		tx = noTx{}
	}
	return &BridgeService{client: client, cipher: cipher, repo: repo, legacy: legacy, sessions: sessions, tx: tx, metrics: metrics, validator: validate, logger: logger}
}

// Login authenticates against the backend chosen by the payload platform and
// returns a local token pair plus the backend answer.
func (s *BridgeService) Login(ctx context.Context, req models.UniversalLoginRequest, meta SessionMeta) (*models.UniversalLoginResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}
	payload := req.Payload
	platform, err := bridge.ParsePlatform(*payload.Platform)
	if err != nil {
		return nil, appErrors.ErrInvalidPlatform
	}
	if s.cipher == nil {
		s.logger.Error("password channel key is not configured")
		return nil, appErrors.ErrBridgeFailure
	}
	password, err := s.cipher.Decrypt(payload.Password)
	if err != nil {
		s.logger.Warn("password envelope could not be opened", zap.String("platform", platform.String()), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrBridgeFailure.Code, appErrors.ErrBridgeFailure.Status, appErrors.ErrBridgeFailure.Message)
	}

	start := time.Now()
	result, err := s.client.Authenticate(ctx, platform, bridge.Credentials{
		Username:   payload.Username,
		Password:   password,
		DeviceID:   payload.DeviceID,
		IsLogger:   payload.IsLogger,
		ModuleName: payload.ModuleName,
		EventName:  payload.EventName,
		DataID:     payload.DataID,
	})
	s.metrics.ObserveBridgeCall(platform.String(), bridgeOutcome(err), time.Since(start))
	if err != nil {
		return nil, s.mapAuthError(err, platform)
	}

	identity, err := s.shadowIdentity(ctx, payload.Username, password)
	if err != nil {
		return nil, err
	}

	meta.CID = result.CID
	meta.CIDVerified = result.CIDVerified
	session, err := s.sessions.IssueSession(ctx, identity, meta)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, identity.ID, models.AuditActionBridgeLogin, fmt.Sprintf(`{"platform":%q}`, platform.String()), meta)
	s.logger.Info("universal login succeeded",
		zap.String("platform", platform.String()),
		zap.String("identity_id", identity.ID),
		zap.Bool("cid_verified", result.CIDVerified),
	)

	return &models.UniversalLoginResult{
		Username:   identity.Username,
		ID:         identity.ID,
		Token:      models.TokenPair{Refresh: session.RefreshToken, Access: session.AccessToken},
		DotNetAuth: result.Body,
	}, nil
}

// Logout closes the backend session behind a token.
func (s *BridgeService) Logout(ctx context.Context, req models.UniversalLogoutRequest) (map[string]interface{}, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid logout payload")
	}
	payload := req.Payload
	platform, err := bridge.ParsePlatform(*payload.Platform)
	if err != nil {
		return nil, appErrors.ErrInvalidPlatform
	}

	body, err := s.client.Logout(ctx, platform, payload.Token, bridge.Credentials{
		IsLogger:   payload.IsLogger,
		ModuleName: payload.ModuleName,
		EventName:  payload.EventName,
		DataID:     payload.DataID,
	})
	if err != nil {
		if errors.Is(err, bridge.ErrRejected) {
			return nil, appErrors.ErrLogoutRejected
		}
		s.logger.Error("universal logout failed", zap.String("platform", platform.String()), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrLogoutFailure.Code, appErrors.ErrLogoutFailure.Status, appErrors.ErrLogoutFailure.Message)
	}
	return body, nil
}

// SSORedirect returns the launch URL of a learner mission.
func (s *BridgeService) SSORedirect(mission string, req models.SSORedirectRequest) (string, error) {
	if !strings.EqualFold(mission, ssoMissionCoding) {
		return ssoDefaultURL, nil
	}
	if err := s.validator.Struct(req); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "userInfo.institutionId and userInfo.userName are required")
	}
	login := KMSLogin(req.UserInfo.UserName, req.UserInfo.InstitutionID)
	return ssoKMSBaseURL + base64.StdEncoding.EncodeToString([]byte(login)), nil
}

// KMSLogin rewrites a launcher user name into the KMS login address.
func KMSLogin(userName, institutionID string) string {
	local := userName
	parts := strings.Split(userName, "@")
	switch {
	case strings.HasPrefix(userName, "SNVV@"):
		local = parts[1]
	case len(parts) > 1:
		local = parts[0]
	}
	return fmt.Sprintf("%s.ict@%s.questplus.in", local, institutionID)
}

func (s *BridgeService) mapAuthError(err error, platform bridge.Platform) error {
	switch {
	case errors.Is(err, bridge.ErrInvalidPlatform):
		return appErrors.ErrInvalidPlatform
	case errors.Is(err, bridge.ErrRejected):
		var status *bridge.StatusError
		if errors.As(err, &status) {
			s.logger.Info("backend rejected credentials", zap.String("platform", platform.String()), zap.Int("upstream_status", status.Status))
		}
		return appErrors.ErrBridgeRejected
	default:
		s.logger.Error("backend authentication failed", zap.String("platform", platform.String()), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrBridgeFailure.Code, appErrors.ErrBridgeFailure.Status, appErrors.ErrBridgeFailure.Message)
	}
}

// shadowIdentity returns the local identity for a backend user, provisioning
// it on first login and syncing the local hash when the password changed.
func (s *BridgeService) shadowIdentity(ctx context.Context, username, password string) (*models.Identity, error) {
	identity, err := s.repo.FindByUsername(ctx, username)
	if err != nil && !isNoRows(err) {
		return nil, internalError(err, "failed to load identity")
	}

	if identity == nil {
		identity, err = s.provision(ctx, username, password)
		if errors.Is(err, errProvisionRace) {
			identity, err = s.repo.FindByUsername(ctx, username)
			if err != nil {
				return nil, internalError(err, "failed to load identity")
			}
		} else if err != nil {
			return nil, err
		}
	}

	if !identity.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	if bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)) != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, internalError(err, "failed to hash password")
		}
		if err := s.repo.UpdatePassword(ctx, identity.ID, string(hash), time.Now().UTC()); err != nil {
			return nil, internalError(err, "failed to sync password")
		}
		identity.PasswordHash = string(hash)
	}
	return identity, nil
}

func (s *BridgeService) provision(ctx context.Context, username, password string) (*models.Identity, error) {
	legacy, err := s.legacy.FindIdentity(ctx, username)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.ErrNotProvisioned
		}
		return nil, internalError(err, "failed to read legacy directory")
	}
	assignments, err := s.legacy.FindRoles(ctx, legacy.UserID)
	if err != nil {
		return nil, internalError(err, "failed to read legacy roles")
	}
	role, ok := legacyRole(assignments)
	if !ok {
		s.logger.Warn("legacy user has no usable role", zap.String("username", username))
		return nil, appErrors.Clone(appErrors.ErrNotProvisioned, "user has no role in the legacy directory")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, internalError(err, "failed to hash password")
	}
	email := strings.TrimSpace(legacy.Email)
	if email == "" {
		email = strings.ToLower(username) + "@" + shadowEmailHost
	}

	identity := &models.Identity{
		Username:      username,
		Email:         email,
		PasswordHash:  string(hash),
		Active:        true,
		InstitutionID: legacy.InstitutionID,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, identity); err != nil {
			if repository.IsUniqueViolation(err, repository.ConstraintIdentityUsername) {
				return errProvisionRace
			}
			if repository.IsUniqueViolation(err, repository.ConstraintIdentityEmail) {
				return appErrors.ErrDuplicateEmail
			}
			return internalError(err, "failed to create identity")
		}
		if err := s.repo.CreateProfile(ctx, &models.Profile{
			IdentityID: identity.ID,
			Role:       role,
			FirstName:  legacy.FirstName,
			LastName:   legacy.LastName,
			ContactNo:  legacy.PhoneNumber,
		}); err != nil {
			return internalError(err, "failed to create profile")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, identity.ID, models.AuditActionShadowProvision, fmt.Sprintf(`{"role":%q}`, role), SessionMeta{})
	s.logger.Info("shadow identity provisioned", zap.String("identity_id", identity.ID), zap.String("role", string(role)))
	return identity, nil
}

// legacyRole picks the first directory role that maps onto a local role.
func legacyRole(assignments []models.LegacyRoleAssignment) (models.Role, bool) {
	for _, a := range assignments {
		if role, err := models.ParseRole(a.RoleName); err == nil {
			return role, true
		}
	}
	return "", false
}

func bridgeOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, bridge.ErrRejected):
		return "rejected"
	default:
		return "error"
	}
}

func (s *BridgeService) audit(ctx context.Context, identityID, action, values string, meta SessionMeta) {
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &identityID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &identityID,
		NewValues:  []byte(values),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
