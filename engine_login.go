package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/deusexmachina/authcore/account"
	"github.com/deusexmachina/authcore/internal/rate"
	"github.com/deusexmachina/authcore/password"
)

// Login authenticates with email and password.
//
// Unknown emails, password-less accounts and wrong passwords all return
// ErrInvalidCredentials after the same amount of hashing work. A locked
// account returns ErrAccountLocked before the password is checked.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	start := e.now()
	defer func() { e.metrics.Observe(MetricLoginLatency, e.now().Sub(start)) }()

	email := account.NormalizeEmail(req.Email)
	ip := clientIPFromContext(ctx)

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckLogin(ctx, email, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, auditEventLoginRateLimited, false, auditFields{}, ErrRateLimited)
				return nil, ErrRateLimited
			}
			return nil, internalError(err)
		}
	}

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, account.ErrNotFound) {
		return nil, internalError(err)
	}
	if user == nil || !user.HasPassword() {
		e.burnPasswordCheck(req.Password)
		return nil, e.rejectLogin(ctx, email, "")
	}

	if user.Security.IsLocked(e.now()) {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginFailure, false, auditFields{userID: user.ID}, ErrAccountLocked)
		return nil, ErrAccountLocked
	}

	ok, err := e.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrInvalidHash) && !errors.Is(err, password.ErrPasswordTooLong) {
		return nil, internalError(err)
	}
	if err != nil {
		e.logger.Warn().Err(err).Str("user_id", user.ID).Msg("password verification rejected")
	}
	if !ok {
		if err := e.recordLoginFailure(ctx, user); err != nil {
			return nil, err
		}
		return nil, e.rejectLogin(ctx, email, user.ID)
	}

	e.clearLoginFailures(ctx, user)
	e.upgradeHash(ctx, user, req.Password)

	ttl := e.config.Session.DefaultTTL
	if req.RememberMe {
		ttl = e.config.Session.RememberMeTTL
	}

	resp, err := e.startSession(ctx, user, sessionOptions{ttl: ttl, newDeviceScan: true})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, auditFields{userID: user.ID}, nil)

	return resp, nil
}

func (e *Engine) rejectLogin(ctx context.Context, email, userID string) error {
	if e.rateLimiter != nil {
		if err := e.rateLimiter.RecordLoginFailure(ctx, email, clientIPFromContext(ctx)); err != nil {
			e.logger.Warn().Err(err).Msg("login failure not counted by rate limiter")
		}
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, auditFields{userID: userID}, ErrInvalidCredentials)
	return ErrInvalidCredentials
}

// recordLoginFailure bumps the failure counter atomically and starts a
// lockout once the threshold is reached.
func (e *Engine) recordLoginFailure(ctx context.Context, user *account.User) error {
	now := e.now()
	var locked bool

	updated, err := e.users.MutateSecurity(ctx, user.ID, func(cur account.SecuritySettings) account.SecuritySettings {
		locked = false
		cur.FailedLoginAttempts++
		if cur.FailedLoginAttempts >= e.config.Lockout.MaxFailedAttempts && !cur.IsLocked(now) {
			cur.LockoutUntil = now.Add(e.config.Lockout.Duration)
			locked = true
		}
		return cur
	})
	if err != nil {
		return internalError(err)
	}
	if !locked {
		return nil
	}

	attempts := updated.Security.FailedLoginAttempts
	e.metricInc(MetricAccountLocked)
	e.emitAudit(ctx, auditEventAccountLocked, true, auditFields{userID: user.ID}, nil)
	e.logger.Warn().Str("user_id", user.ID).Int("attempts", attempts).Msg("account locked")

	if e.config.Lockout.NotifyOnLock {
		email := user.Email
		e.dispatch(ctx, "account_locked", user.ID, func(ctx context.Context) error {
			return e.notifier.SendAccountLockedNotification(ctx, email, attempts)
		})
	}
	return nil
}

func (e *Engine) clearLoginFailures(ctx context.Context, user *account.User) {
	if e.rateLimiter != nil {
		if err := e.rateLimiter.ResetLogin(ctx, user.Email); err != nil {
			e.logger.Warn().Err(err).Str("user_id", user.ID).Msg("rate limiter reset failed")
		}
	}
	if user.Security.FailedLoginAttempts == 0 && user.Security.LockoutUntil.IsZero() {
		return
	}
	_, err := e.users.MutateSecurity(ctx, user.ID, func(cur account.SecuritySettings) account.SecuritySettings {
		cur.FailedLoginAttempts = 0
		cur.LockoutUntil = time.Time{}
		return cur
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("user_id", user.ID).Msg("failed login counter not reset")
	}
}

// upgradeHash rehashes with the current Argon2 cost when the stored hash is
// weaker. Best effort.
func (e *Engine) upgradeHash(ctx context.Context, user *account.User, pw string) {
	needs, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		return
	}
	if _, err := e.users.Update(ctx, user.ID, account.Update{PasswordHash: &hash}); err != nil {
		e.logger.Warn().Err(err).Str("user_id", user.ID).Msg("password hash upgrade failed")
	}
}
