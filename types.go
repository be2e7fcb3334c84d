package authcore

import (
	"context"
	"time"

	"github.com/deusexmachina/authcore/account"
	"github.com/deusexmachina/authcore/permission"
)

// TokenTypeBearer is the token_type of every issued access token.
const TokenTypeBearer = "Bearer"

// RegisterRequest creates an email/password account.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginRequest authenticates with email and password. RememberMe extends the
// session to Config.Session.RememberMeTTL.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// GoogleLoginRequest carries either a Google ID token or an authorization
// code. When both are set the ID token wins.
type GoogleLoginRequest struct {
	IDToken     string `json:"id_token"`
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

// UserInfo is the client-facing view of a user.
type UserInfo struct {
	Email         string `json:"email"`
	DisplayName   string `json:"display_name"`
	EmailVerified bool   `json:"email_verified"`
	AuthProvider  string `json:"auth_provider"`
}

func userInfoOf(u *account.User) UserInfo {
	return UserInfo{
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		EmailVerified: u.EmailVerified,
		AuthProvider:  string(u.Provider),
	}
}

// AuthResponse is returned by every flow that creates a session.
type AuthResponse struct {
	UserID       string   `json:"user_id"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
	TokenType    string   `json:"token_type"`
	User         UserInfo `json:"user"`
}

// TokenResponse is returned by Refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// GrantRequest shares a resource. A zero ExpiresAt grants indefinitely.
type GrantRequest struct {
	ResourceID   string                  `json:"resource_id"`
	ResourceType permission.ResourceType `json:"resource_type"`
	GrantedTo    string                  `json:"granted_to"`
	GrantedBy    string                  `json:"granted_by"`
	Level        permission.Level        `json:"level"`
	ExpiresAt    time.Time               `json:"expires_at,omitempty"`
	Custom       map[string]bool         `json:"custom,omitempty"`
}

// EmailNotifier sends the transactional emails of the auth flows. The engine
// calls it from background workers; errors are logged, never returned to the
// requester.
type EmailNotifier interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
	SendNewDeviceLoginNotification(ctx context.Context, email, deviceInfo, ip string) error
	SendMFACode(ctx context.Context, email, code string) error
	SendAccountLockedNotification(ctx context.Context, email string, attempts int) error
	SendPasswordChangedNotification(ctx context.Context, email string) error
}
