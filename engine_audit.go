package authcore

import (
	"context"
	"errors"
)

const (
	auditEventRegister              = "register"
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventAccountLocked         = "account_locked"
	auditEventGoogleLogin           = "google_login"
	auditEventProviderLinked        = "provider_linked"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventLogoutSession         = "logout_session"
	auditEventLogoutAll             = "logout_all"
	auditEventEmailVerification     = "email_verification"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetComplete = "password_reset_complete"
	auditEventPermissionGranted     = "permission_granted"
	auditEventPermissionRevoked     = "permission_revoked"
	auditEventPermissionsRevokedAll = "permissions_revoked_all"
	auditEventOwnershipTransferred  = "ownership_transferred"
	auditEventResourceClaimed       = "resource_claimed"
	auditEventResourceDeleted       = "resource_deleted"
)

// AuditErrorCode is the stable reason recorded on failed events.
type AuditErrorCode string

const (
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrWeakPassword       AuditErrorCode = "weak_password"
	auditErrBreachedPassword   AuditErrorCode = "breached_password"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrInvalidExternal    AuditErrorCode = "invalid_external_token"
	auditErrForbidden          AuditErrorCode = "forbidden"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidRequest     AuditErrorCode = "invalid_request"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

type auditFields struct {
	userID     string
	sessionID  string
	resourceID string
	metadata   func() map[string]string
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, f auditFields, err error) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if f.metadata != nil {
		metadata = f.metadata()
	}

	event := AuditEvent{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		UserID:     f.userID,
		SessionID:  f.sessionID,
		ResourceID: f.resourceID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInternal):
		return auditErrUnavailable
	case errors.Is(err, ErrAlreadyExists):
		return auditErrDuplicate
	case errors.Is(err, ErrWeakPassword):
		return auditErrWeakPassword
	case errors.Is(err, ErrBreachedPassword):
		return auditErrBreachedPassword
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrInvalidOrExpiredToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrInvalidExternalToken):
		return auditErrInvalidExternal
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidRequest):
		return auditErrInvalidRequest
	default:
		return auditErrInternal
	}
}
