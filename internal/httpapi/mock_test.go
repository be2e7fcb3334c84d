package httpapi

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/deusexmachina/authcore"
	"github.com/deusexmachina/authcore/jwt"
	"github.com/deusexmachina/authcore/permission"
	"github.com/deusexmachina/authcore/session"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Register(ctx context.Context, req authcore.RegisterRequest) (*authcore.AuthResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authcore.AuthResponse), args.Error(1)
}

func (m *mockService) Login(ctx context.Context, req authcore.LoginRequest) (*authcore.AuthResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authcore.AuthResponse), args.Error(1)
}

func (m *mockService) GoogleLogin(ctx context.Context, req authcore.GoogleLoginRequest) (*authcore.AuthResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authcore.AuthResponse), args.Error(1)
}

func (m *mockService) Refresh(ctx context.Context, refreshToken string) (*authcore.TokenResponse, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authcore.TokenResponse), args.Error(1)
}

func (m *mockService) Logout(ctx context.Context, refreshToken string, all bool) error {
	return m.Called(ctx, refreshToken, all).Error(0)
}

func (m *mockService) VerifyEmail(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *mockService) ResendVerificationEmail(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *mockService) InitiatePasswordReset(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *mockService) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	return m.Called(ctx, token, newPassword).Error(0)
}

func (m *mockService) ValidateAccessToken(ctx context.Context, token string) (*jwt.AccessClaims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jwt.AccessClaims), args.Error(1)
}

func (m *mockService) ActiveSessions(ctx context.Context, userID string) ([]session.Session, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]session.Session), args.Error(1)
}

func (m *mockService) Ping(ctx context.Context) (time.Duration, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Duration), args.Error(1)
}

func (m *mockService) CheckPermission(ctx context.Context, userID, resourceID, action string) (bool, error) {
	args := m.Called(ctx, userID, resourceID, action)
	return args.Bool(0), args.Error(1)
}

func (m *mockService) EffectiveLevel(ctx context.Context, userID, resourceID string) (permission.Level, bool, error) {
	args := m.Called(ctx, userID, resourceID)
	return args.Get(0).(permission.Level), args.Bool(1), args.Error(2)
}

func (m *mockService) ResourcePermissions(ctx context.Context, resourceID string) ([]permission.Permission, error) {
	args := m.Called(ctx, resourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]permission.Permission), args.Error(1)
}

func (m *mockService) UserPermissions(ctx context.Context, userID string) ([]permission.Permission, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]permission.Permission), args.Error(1)
}

func (m *mockService) GrantPermission(ctx context.Context, req authcore.GrantRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockService) RevokePermission(ctx context.Context, permissionID, revokedBy string) (bool, error) {
	args := m.Called(ctx, permissionID, revokedBy)
	return args.Bool(0), args.Error(1)
}

func (m *mockService) RevokeAllPermissions(ctx context.Context, userID, resourceID, requestedBy string) (int, error) {
	args := m.Called(ctx, userID, resourceID, requestedBy)
	return args.Int(0), args.Error(1)
}

func (m *mockService) TransferOwnership(ctx context.Context, resourceID, from, to string) error {
	return m.Called(ctx, resourceID, from, to).Error(0)
}

func (m *mockService) ClaimResource(ctx context.Context, resourceID string, resourceType permission.ResourceType, ownerID string) (string, error) {
	args := m.Called(ctx, resourceID, resourceType, ownerID)
	return args.String(0), args.Error(1)
}

func (m *mockService) DeleteResource(ctx context.Context, resourceID, requestedBy string) (int, error) {
	args := m.Called(ctx, resourceID, requestedBy)
	return args.Int(0), args.Error(1)
}
