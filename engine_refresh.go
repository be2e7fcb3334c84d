package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/deusexmachina/authcore/account"
	"github.com/deusexmachina/authcore/internal/rate"
	"github.com/deusexmachina/authcore/jwt"
	"github.com/deusexmachina/authcore/session"
)

// Refresh rotates a refresh token. The presented token must be the current
// one of an active session belonging to its subject; the old token stops
// working as soon as this call succeeds. When two refreshes race with the
// same token exactly one wins.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	claims, err := e.jwt.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, e.rejectRefresh(ctx, "", ErrInvalidToken)
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckRefresh(ctx, claims.SessionID); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricRefreshRateLimited)
				return nil, ErrRateLimited
			}
			return nil, internalError(err)
		}
	}

	oldHash := jwt.HashToken(refreshToken)
	sess, err := e.sessions.FindByRefreshTokenHash(ctx, oldHash)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, e.rejectRefresh(ctx, claims.SessionID, ErrInvalidToken)
		}
		return nil, internalError(err)
	}

	now := e.now()
	if !sess.IsActive(now) || sess.UserID != claims.UserID || sess.ID != claims.SessionID {
		return nil, e.rejectRefresh(ctx, sess.ID, ErrInvalidToken)
	}

	user, err := e.users.FindByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, e.rejectRefresh(ctx, sess.ID, ErrInvalidToken)
		}
		return nil, internalError(err)
	}

	newRefresh, err := e.jwt.IssueRefresh(user.ID, sess.ID)
	if err != nil {
		return nil, internalError(err)
	}
	access, err := e.jwt.IssueAccess(subjectOf(user), nil)
	if err != nil {
		return nil, internalError(err)
	}

	if _, err := e.sessions.Rotate(ctx, sess.ID, oldHash, jwt.HashToken(newRefresh), now); err != nil {
		switch {
		case errors.Is(err, session.ErrHashMismatch),
			errors.Is(err, session.ErrInactive),
			errors.Is(err, session.ErrNotFound),
			errors.Is(err, session.ErrConflict):
			e.metricInc(MetricRefreshRaceLost)
			return nil, e.rejectRefresh(ctx, sess.ID, ErrInvalidToken)
		default:
			return nil, internalError(err)
		}
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, auditFields{userID: user.ID, sessionID: sess.ID}, nil)

	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: newRefresh,
		ExpiresIn:    int64(e.jwt.AccessTTL() / time.Second),
		TokenType:    TokenTypeBearer,
	}, nil
}

func (e *Engine) rejectRefresh(ctx context.Context, sessionID string, err error) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, auditFields{sessionID: sessionID}, err)
	return err
}

// Logout revokes the session behind refreshToken, or every session of its
// subject when all is set. It always returns nil; failures are logged.
func (e *Engine) Logout(ctx context.Context, refreshToken string, all bool) error {
	claims, err := e.jwt.VerifyRefresh(refreshToken)
	if err != nil {
		e.logger.Debug().Err(err).Msg("logout with unusable refresh token")
		return nil
	}

	if all {
		n, err := e.sessions.RevokeAllForUser(ctx, claims.UserID)
		if err != nil {
			e.logger.Error().Err(err).Str("user_id", claims.UserID).Msg("logout all failed")
			return nil
		}
		e.metricInc(MetricLogoutAll)
		e.metrics.Add(MetricSessionRevoked, uint64(n))
		e.emitAudit(ctx, auditEventLogoutAll, true, auditFields{userID: claims.UserID}, nil)
		return nil
	}

	sess, err := e.sessions.FindByID(ctx, claims.SessionID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			e.logger.Error().Err(err).Str("session_id", claims.SessionID).Msg("logout lookup failed")
		}
		return nil
	}
	// A rotated-out token must not end the session it no longer controls.
	if sess.RefreshTokenHash != jwt.HashToken(refreshToken) || sess.UserID != claims.UserID {
		return nil
	}

	revoked, err := e.sessions.Revoke(ctx, sess.ID)
	if err != nil {
		e.logger.Error().Err(err).Str("session_id", sess.ID).Msg("logout failed")
		return nil
	}
	if revoked {
		e.metricInc(MetricLogout)
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventLogoutSession, true, auditFields{userID: claims.UserID, sessionID: sess.ID}, nil)
	}
	return nil
}

// ValidateAccessToken verifies an access token without touching storage.
func (e *Engine) ValidateAccessToken(_ context.Context, token string) (*jwt.AccessClaims, error) {
	start := e.now()
	defer func() { e.metrics.Observe(MetricValidateLatency, e.now().Sub(start)) }()

	claims, err := e.jwt.VerifyAccess(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
