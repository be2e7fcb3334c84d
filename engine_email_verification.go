package authcore

import (
	"context"
	"errors"

	"github.com/deusexmachina/authcore/account"
	"github.com/deusexmachina/authcore/internal/stores"
)

// VerifyEmail redeems a verification token. The token is consumed whatever
// the outcome; verifying an already verified address is a no-op.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	record, err := e.tokens.Consume(ctx, stores.PurposeEmailVerification, token)
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			e.metricInc(MetricEmailVerificationFailure)
			e.emitAudit(ctx, auditEventEmailVerification, false, auditFields{}, ErrInvalidOrExpiredToken)
			return ErrInvalidOrExpiredToken
		}
		return internalError(err)
	}

	user, err := e.users.FindByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return internalError(err)
	}

	if !user.EmailVerified {
		verified := true
		if _, err := e.users.Update(ctx, user.ID, account.Update{EmailVerified: &verified}); err != nil {
			return internalError(err)
		}
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerification, true, auditFields{userID: user.ID}, nil)
	return nil
}

// ResendVerificationEmail issues a fresh verification token for an
// unverified account. Unknown or already verified emails succeed silently.
func (e *Engine) ResendVerificationEmail(ctx context.Context, email string) error {
	user, err := e.users.FindByEmail(ctx, account.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil
		}
		return internalError(err)
	}
	if user.EmailVerified {
		return nil
	}
	e.sendVerification(ctx, user)
	return nil
}
