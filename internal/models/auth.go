package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds local credentials. Identifier is a username or an email.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
	IP         string `json:"-"`
	UserAgent  string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new token pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RefreshTokenResponse returns the refreshed tokens.
type RefreshTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// LogoutRequest revokes one refresh token owned by the caller.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// ForgotPasswordRequest initiates the reset flow.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest completes the reset flow.
type ResetPasswordRequest struct {
	UID             string `json:"uidb64" validate:"required"`
	Token           string `json:"token" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
}

// AdminSignupRequest registers a new administrator.
type AdminSignupRequest struct {
	Email     string  `json:"email" validate:"required,email"`
	Password  string  `json:"password" validate:"required,min=8"`
	FirstName string  `json:"first_name" validate:"required"`
	LastName  string  `json:"last_name"`
	Phone     *string `json:"phone"`
	Gender    *string `json:"gender"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// JWTClaims is the access token payload. It deliberately carries no role:
// authorization re-derives the role from the profile on every request.
type JWTClaims struct {
	UserID      string `json:"id"`
	Username    string `json:"username"`
	CID         string `json:"cid,omitempty"`
	CIDVerified bool   `json:"cid_verified,omitempty"`
	jwt.RegisteredClaims
}

// UniversalLoginRequest is the bridge login body.
type UniversalLoginRequest struct {
	Payload UniversalLoginPayload `json:"payload" validate:"required"`
}

// UniversalLoginPayload carries the encrypted credentials and the platform selector.
type UniversalLoginPayload struct {
	Username   string `json:"username" validate:"required"`
	Password   string `json:"password" validate:"required"`
	Platform   *int   `json:"platform" validate:"required"`
	DeviceID   string `json:"deviceId"`
	IsLogger   bool   `json:"isLogger"`
	ModuleName string `json:"moduleName"`
	EventName  string `json:"eventName"`
	DataID     string `json:"dataId"`
}

// UniversalLogoutRequest is the bridge logout body.
type UniversalLogoutRequest struct {
	Payload UniversalLogoutPayload `json:"payload" validate:"required"`
}

// UniversalLogoutPayload identifies the upstream session to close.
type UniversalLogoutPayload struct {
	Token      string `json:"token" validate:"required"`
	Platform   *int   `json:"platform" validate:"required"`
	IsLogger   bool   `json:"isLogger"`
	ModuleName string `json:"moduleName"`
	EventName  string `json:"eventName"`
	DataID     string `json:"dataId"`
}

// TokenPair is the nested token object in the bridge login payload.
type TokenPair struct {
	Refresh string `json:"refresh"`
	Access  string `json:"access"`
}

// UniversalLoginResult is the bridge login payload.
type UniversalLoginResult struct {
	Username   string                 `json:"username"`
	ID         string                 `json:"id"`
	Token      TokenPair              `json:"token"`
	DotNetAuth map[string]interface{} `json:"DotNetAuth"`
}

// SSORedirectRequest carries the launcher user info for mission redirects.
type SSORedirectRequest struct {
	UserInfo struct {
		InstitutionID string `json:"institutionId" validate:"required"`
		UserName      string `json:"userName" validate:"required"`
	} `json:"userInfo" validate:"required"`
}
