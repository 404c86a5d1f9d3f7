package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/questplus-school-api/internal/models"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
)

type authRepository interface {
	FindByID(ctx context.Context, id string) (*models.Identity, error)
	FindByEmail(ctx context.Context, email string) (*models.Identity, error)
	FindByIdentifier(ctx context.Context, identifier string) (*models.Identity, error)
	FindAccount(ctx context.Context, id string) (*models.UserAccount, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	RevokeAllRefreshTokens(ctx context.Context, identityID string) error
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type resetNotifier interface {
	PasswordReset(ctx context.Context, account models.UserAccount, resetURL, expiresIn string)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
	Audience           []string
	SingleSession      bool
	ResetTokenTTL      time.Duration
	ResetURL           string
}

// SessionMeta describes the client a session is issued to.
type SessionMeta struct {
	IP          string
	UserAgent   string
	CID         string
	CIDVerified bool
}

// Session is a freshly minted access and refresh token pair.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	IssuedAt     time.Time
}

// AuthService provides local authentication and token issuance.
type AuthService struct {
	repo      authRepository
	notifier  resetNotifier
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authRepository, notifier resetNotifier, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = 24 * time.Hour
	}
	return &AuthService{repo: repo, notifier: notifier, validator: validate, logger: logger, config: config, now: func() time.Time { return time.Now().UTC() }}
}

// Login authenticates by username or email and returns issued tokens.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	identity, err := s.repo.FindByIdentifier(ctx, strings.TrimSpace(req.Identifier))
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid username or password")
		}
		return nil, internalError(err, "failed to fetch user")
	}
	if !identity.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid username or password")
	}

	account, err := s.repo.FindAccount(ctx, identity.ID)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "account has no profile")
		}
		return nil, internalError(err, "failed to load profile")
	}

	session, err := s.IssueSession(ctx, identity, SessionMeta{IP: req.IP, UserAgent: req.UserAgent})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, identity.ID, models.AuditActionLogin, `{"status":"success"}`, req.IP, req.UserAgent)

	return &models.LoginResponse{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     session.IssuedAt,
		User:         userInfo(account),
	}, nil
}

// IssueSession mints an access token and persists a refresh token for an
// already authenticated identity.
func (s *AuthService) IssueSession(ctx context.Context, identity *models.Identity, meta SessionMeta) (*Session, error) {
	if s.config.SingleSession {
		if err := s.repo.RevokeAllRefreshTokens(ctx, identity.ID); err != nil {
			s.logger.Warn("failed to revoke previous refresh tokens", zap.Error(err))
		}
	}

	issuedAt := s.now()
	access, expiresAt, err := s.generateAccessToken(identity, meta, issuedAt)
	if err != nil {
		return nil, internalError(err, "failed to create access token")
	}
	refreshValue, err := generateRefreshTokenString()
	if err != nil {
		return nil, internalError(err, "failed to create refresh token")
	}

	refresh := &models.RefreshToken{
		ID:         uuid.NewString(),
		IdentityID: identity.ID,
		Token:      refreshValue,
		ExpiresAt:  issuedAt.Add(s.config.RefreshTokenExpiry),
		CreatedAt:  issuedAt,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if err := s.repo.CreateRefreshToken(ctx, refresh); err != nil {
		return nil, internalError(err, "failed to persist refresh token")
	}
	if err := s.repo.UpdateLastLogin(ctx, identity.ID, issuedAt); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	return &Session{AccessToken: access, RefreshToken: refreshValue, ExpiresAt: expiresAt, IssuedAt: issuedAt}, nil
}

// RefreshToken exchanges a refresh token for a new pair. The used token is revoked.
func (s *AuthService) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	stored, err := s.repo.FindRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
		}
		return nil, internalError(err, "failed to fetch refresh token")
	}
	if stored.Revoked || s.now().After(stored.ExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is expired or revoked")
	}

	identity, err := s.repo.FindByID(ctx, stored.IdentityID)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "associated user no longer exists")
		}
		return nil, internalError(err, "failed to load user")
	}
	if !identity.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	if err := s.repo.RevokeRefreshToken(ctx, stored.ID, s.now()); err != nil {
		s.logger.Warn("failed to revoke used refresh token", zap.Error(err))
	}

	session, err := s.IssueSession(ctx, identity, SessionMeta{IP: req.IP, UserAgent: req.UserAgent})
	if err != nil {
		return nil, err
	}

	return &models.RefreshTokenResponse{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     session.IssuedAt,
	}, nil
}

// Logout revokes a refresh token owned by the caller.
func (s *AuthService) Logout(ctx context.Context, identityID string, req models.LogoutRequest, meta SessionMeta) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid logout payload")
	}
	stored, err := s.repo.FindRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if isNoRows(err) {
			return appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
		}
		return internalError(err, "failed to load refresh token")
	}
	if stored.IdentityID != identityID {
		return appErrors.Clone(appErrors.ErrForbidden, "token does not belong to user")
	}
	if err := s.repo.RevokeRefreshToken(ctx, stored.ID, s.now()); err != nil {
		return internalError(err, "failed to revoke refresh token")
	}
	s.audit(ctx, identityID, models.AuditActionLogout, `{"status":"logout"}`, meta.IP, meta.UserAgent)
	return nil
}

// ChangePassword replaces the caller's password and ends every other session.
func (s *AuthService) ChangePassword(ctx context.Context, identityID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	identity, err := s.repo.FindByID(ctx, identityID)
	if err != nil {
		if isNoRows(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return internalError(err, "failed to load user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}
	if err := s.setPassword(ctx, identity.ID, req.NewPassword); err != nil {
		return err
	}
	s.audit(ctx, identityID, models.AuditActionPasswordChange, `{"status":"changed"}`, "", "")
	return nil
}

// ForgotPassword mails a reset link when the email belongs to an active
// account. Unknown emails succeed silently.
func (s *AuthService) ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid forgot password payload")
	}

	identity, err := s.repo.FindByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if isNoRows(err) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		return internalError(err, "failed to load user")
	}
	if !identity.Active {
		return nil
	}
	account, err := s.repo.FindAccount(ctx, identity.ID)
	if err != nil {
		if isNoRows(err) {
			return nil
		}
		return internalError(err, "failed to load profile")
	}

	uid, token := s.MakeResetToken(identity)
	link, err := s.resetLink(uid, token)
	if err != nil {
		return internalError(err, "failed to build reset link")
	}
	if s.notifier != nil {
		s.notifier.PasswordReset(ctx, *account, link, s.config.ResetTokenTTL.String())
	}
	return nil
}

// ResetPassword consumes a reset token. The token is bound to the current
// password hash, so it stops working once used.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset password payload")
	}

	raw, err := base64.RawURLEncoding.DecodeString(req.UID)
	if err != nil {
		return appErrors.ErrInvalidResetToken
	}
	identity, err := s.repo.FindByID(ctx, string(raw))
	if err != nil {
		if isNoRows(err) {
			return appErrors.ErrInvalidResetToken
		}
		return internalError(err, "failed to load user")
	}
	if !identity.Active || !s.CheckResetToken(identity, req.Token) {
		return appErrors.ErrInvalidResetToken
	}

	if err := s.setPassword(ctx, identity.ID, req.NewPassword); err != nil {
		return err
	}
	s.audit(ctx, identity.ID, models.AuditActionPasswordReset, `{"status":"reset"}`, "", "")
	return nil
}

// MakeResetToken returns the uid and token for a reset link.
func (s *AuthService) MakeResetToken(identity *models.Identity) (string, string) {
	ts := strconv.FormatInt(s.now().Unix(), 36)
	return base64.RawURLEncoding.EncodeToString([]byte(identity.ID)), ts + "-" + s.resetSignature(identity, ts)
}

// CheckResetToken verifies the signature and age of a reset token.
func (s *AuthService) CheckResetToken(identity *models.Identity, token string) bool {
	ts, sig, ok := strings.Cut(token, "-")
	if !ok {
		return false
	}
	issued, err := strconv.ParseInt(ts, 36, 64)
	if err != nil {
		return false
	}
	age := s.now().Sub(time.Unix(issued, 0))
	if age < 0 || age > s.config.ResetTokenTTL {
		return false
	}
	expected := s.resetSignature(identity, ts)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) == 1
}

func (s *AuthService) resetSignature(identity *models.Identity, ts string) string {
	lastLogin := ""
	if identity.LastLogin != nil {
		lastLogin = identity.LastLogin.UTC().Format(time.RFC3339)
	}
	mac := hmac.New(sha256.New, []byte("password-reset:"+s.config.AccessTokenSecret))
	mac.Write([]byte(identity.ID + "|" + identity.PasswordHash + "|" + lastLogin + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

func (s *AuthService) resetLink(uid, token string) (string, error) {
	u, err := url.Parse(s.config.ResetURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("uid", uid)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *AuthService) setPassword(ctx context.Context, identityID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return internalError(err, "failed to hash password")
	}
	if err := s.repo.UpdatePassword(ctx, identityID, string(hash), s.now()); err != nil {
		return internalError(err, "failed to update password")
	}
	if err := s.repo.RevokeAllRefreshTokens(ctx, identityID); err != nil {
		s.logger.Warn("failed to revoke refresh tokens after password change", zap.Error(err))
	}
	return nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

func (s *AuthService) generateAccessToken(identity *models.Identity, meta SessionMeta, issuedAt time.Time) (string, time.Time, error) {
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		UserID:      identity.ID,
		Username:    identity.Username,
		CID:         meta.CID,
		CIDVerified: meta.CID != "" && meta.CIDVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   identity.ID,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *AuthService) audit(ctx context.Context, identityID, action, values, ip, ua string) {
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &identityID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &identityID,
		NewValues:  []byte(values),
		IPAddress:  ip,
		UserAgent:  ua,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func generateRefreshTokenString() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func userInfo(account *models.UserAccount) models.UserInfo {
	return models.UserInfo{
		ID:       account.Identity.ID,
		Username: account.Username,
		Email:    account.Email,
		FullName: account.FullName(),
		Role:     account.Role,
	}
}
