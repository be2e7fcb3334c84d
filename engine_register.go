package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/deusexmachina/authcore/account"
	"github.com/deusexmachina/authcore/internal/stores"
)

// Register creates an email/password account, queues the verification email
// and logs the new user in.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	email := account.NormalizeEmail(req.Email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidRequest)
	}

	exists, err := e.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, internalError(err)
	}
	if exists {
		e.metricInc(MetricRegisterDuplicate)
		e.emitAudit(ctx, auditEventRegister, false, auditFields{}, ErrAlreadyExists)
		return nil, ErrAlreadyExists
	}

	if err := e.checkNewPassword(ctx, req.Password); err != nil {
		e.metricInc(MetricRegisterRejected)
		e.emitAudit(ctx, auditEventRegister, false, auditFields{}, err)
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, internalError(err)
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = defaultDisplayName(email)
	}

	user, err := e.users.Save(ctx, account.User{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		Provider:     account.ProviderEmail,
	})
	if errors.Is(err, account.ErrEmailTaken) {
		e.metricInc(MetricRegisterDuplicate)
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, internalError(err)
	}

	e.sendVerification(ctx, user)

	resp, err := e.startSession(ctx, user, sessionOptions{ttl: e.config.Session.DefaultTTL})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegister, true, auditFields{userID: user.ID}, nil)
	e.logger.Info().Str("user_id", user.ID).Msg("user registered")

	return resp, nil
}

// sendVerification issues a verification token and queues the email. The
// account already exists, so failures are logged rather than returned.
func (e *Engine) sendVerification(ctx context.Context, user *account.User) {
	token, err := e.tokens.Issue(ctx, stores.PurposeEmailVerification, user.ID, e.config.Tokens.VerificationTTL)
	if err != nil {
		e.logger.Error().Err(err).Str("user_id", user.ID).Msg("verification token not issued")
		return
	}
	email := user.Email
	e.dispatch(ctx, "verification", user.ID, func(ctx context.Context) error {
		return e.notifier.SendVerificationEmail(ctx, email, token)
	})
}

func defaultDisplayName(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
