package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/deusexmachina/authcore/account"
	"github.com/deusexmachina/authcore/internal/stores"
)

// InitiatePasswordReset emails a one-hour reset token to a known address.
// It returns nil for unknown addresses so callers cannot probe for accounts.
func (e *Engine) InitiatePasswordReset(ctx context.Context, email string) error {
	e.metricInc(MetricPasswordResetRequest)

	user, err := e.users.FindByEmail(ctx, account.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, auditFields{}, ErrNotFound)
			return nil
		}
		return internalError(err)
	}

	token, err := e.tokens.Issue(ctx, stores.PurposePasswordReset, user.ID, e.config.Tokens.ResetTTL)
	if err != nil {
		return internalError(err)
	}

	to := user.Email
	e.dispatch(ctx, "password_reset", user.ID, func(ctx context.Context) error {
		return e.notifier.SendPasswordResetEmail(ctx, to, token)
	})
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, auditFields{userID: user.ID}, nil)
	return nil
}

// CompletePasswordReset sets a new password with a reset token. The token is
// consumed whatever the outcome, including a rejected password. On success
// every session of the user is revoked and any lockout is lifted.
func (e *Engine) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	record, err := e.tokens.Consume(ctx, stores.PurposePasswordReset, token)
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			e.metricInc(MetricPasswordResetFailure)
			e.emitAudit(ctx, auditEventPasswordResetComplete, false, auditFields{}, ErrInvalidOrExpiredToken)
			return ErrInvalidOrExpiredToken
		}
		return internalError(err)
	}

	if err := e.checkNewPassword(ctx, newPassword); err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetComplete, false, auditFields{userID: record.UserID}, err)
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return internalError(err)
	}

	user, err := e.users.Update(ctx, record.UserID, account.Update{PasswordHash: &hash})
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return internalError(err)
	}

	now := e.now()
	if _, err := e.users.MutateSecurity(ctx, user.ID, func(cur account.SecuritySettings) account.SecuritySettings {
		cur.LastPasswordChange = now
		cur.FailedLoginAttempts = 0
		cur.LockoutUntil = time.Time{}
		return cur
	}); err != nil {
		return internalError(err)
	}

	revoked, err := e.sessions.RevokeAllForUser(ctx, user.ID)
	if err != nil {
		return internalError(err)
	}
	e.metrics.Add(MetricSessionRevoked, uint64(revoked))

	to := user.Email
	e.dispatch(ctx, "password_changed", user.ID, func(ctx context.Context) error {
		return e.notifier.SendPasswordChangedNotification(ctx, to)
	})

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetComplete, true, auditFields{
		userID:   user.ID,
		metadata: func() map[string]string { return map[string]string{"sessions_revoked": strconv.Itoa(revoked)} },
	}, nil)
	e.logger.Info().Str("user_id", user.ID).Int("sessions_revoked", revoked).Msg("password reset")
	return nil
}
