package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deusexmachina/authcore/account"
	"github.com/deusexmachina/authcore/internal"
	"github.com/deusexmachina/authcore/internal/rate"
	"github.com/deusexmachina/authcore/internal/stores"
	"github.com/deusexmachina/authcore/jwt"
	"github.com/deusexmachina/authcore/oauth"
	"github.com/deusexmachina/authcore/password"
	"github.com/deusexmachina/authcore/permission"
	"github.com/deusexmachina/authcore/session"
)

// Engine runs the authentication and authorization flows. Build one with
// New().…Build() and share it; all methods are safe for concurrent use.
type Engine struct {
	config Config
	logger zerolog.Logger
	now    func() time.Time

	users       account.Store
	permissions permission.Store
	sessions    *session.Store
	tokens      *stores.TokenStore
	rateLimiter *rate.Limiter

	hasher *password.Argon2
	policy password.Policy
	breach password.BreachChecker
	jwt    *jwt.Manager
	google oauth.Verifier

	notifier EmailNotifier
	notify   *notifyDispatcher
	audit    *auditDispatcher
	metrics  *Metrics

	stop      chan struct{}
	janitorWG sync.WaitGroup
	closeOnce sync.Once
}

// Close stops the janitor and drains the notification and audit queues.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		close(e.stop)
		e.janitorWG.Wait()
		e.notify.Close()
		e.audit.Close()
	})
}

// AuditDropped is the number of audit events dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// NotificationsDropped is the number of emails dropped on a full queue.
func (e *Engine) NotificationsDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.notify.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks the Redis round trip used by sessions.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	d, err := e.sessions.Ping(ctx)
	if err != nil {
		return 0, internalError(err)
	}
	return d, nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func internalError(err error) error {
	return fmt.Errorf("%w: %v", ErrInternal, err)
}

// dispatch queues a best-effort email.
func (e *Engine) dispatch(ctx context.Context, kind, userID string, send func(ctx context.Context) error) {
	e.notify.Submit(ctx, notifyJob{kind: kind, userID: userID, send: send})
}

/*
====================================
PASSWORD CHECKS
====================================
*/

// checkNewPassword applies the strength rules and, when enabled, the breach
// check. A failing breach lookup is logged and ignored.
func (e *Engine) checkNewPassword(ctx context.Context, pw string) error {
	if err := e.policy.Validate(pw); err != nil {
		var weak *password.WeakError
		if errors.As(err, &weak) {
			return fmt.Errorf("%w: missing %s", ErrWeakPassword, strings.Join(weak.Missing, ", "))
		}
		return ErrWeakPassword
	}
	if !e.config.Password.CheckBreached || e.breach == nil {
		return nil
	}
	breached, err := e.breach.IsBreached(ctx, pw)
	if err != nil {
		e.logger.Warn().Err(err).Msg("breach lookup failed, accepting password")
		return nil
	}
	if breached {
		return ErrBreachedPassword
	}
	return nil
}

// burnPasswordCheck spends one verification's worth of work so unknown
// accounts cost as much as wrong passwords.
func (e *Engine) burnPasswordCheck(pw string) {
	_, _ = e.hasher.Verify(pw, "")
}

/*
====================================
SESSIONS
====================================
*/

type sessionOptions struct {
	ttl           time.Duration
	extra         jwt.Claims
	newDeviceScan bool
}

// startSession creates a session for user and mints its token pair.
func (e *Engine) startSession(ctx context.Context, user *account.User, opts sessionOptions) (*AuthResponse, error) {
	now := e.now()
	ip := clientIPFromContext(ctx)
	device := internal.DeviceSummary(userAgentFromContext(ctx))

	if opts.newDeviceScan && e.config.Session.NewDeviceAlerts {
		e.alertIfNewDevice(ctx, user, device, ip)
	}

	sessionID := uuid.NewString()
	refreshToken, err := e.jwt.IssueRefresh(user.ID, sessionID)
	if err != nil {
		return nil, internalError(err)
	}

	sess := &session.Session{
		ID:               sessionID,
		UserID:           user.ID,
		RefreshTokenHash: jwt.HashToken(refreshToken),
		DeviceInfo:       device,
		IPAddress:        ip,
		CreatedAt:        now,
		ExpiresAt:        now.Add(opts.ttl),
		LastAccessedAt:   now,
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		return nil, internalError(err)
	}
	e.metricInc(MetricSessionCreated)

	accessToken, err := e.jwt.IssueAccess(subjectOf(user), opts.extra)
	if err != nil {
		return nil, internalError(err)
	}

	return &AuthResponse{
		UserID:       user.ID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(e.jwt.AccessTTL() / time.Second),
		TokenType:    TokenTypeBearer,
		User:         userInfoOf(user),
	}, nil
}

func (e *Engine) alertIfNewDevice(ctx context.Context, user *account.User, device, ip string) {
	if device == "" {
		return
	}
	active, err := e.sessions.FindActiveByUserID(ctx, user.ID)
	if err != nil {
		e.logger.Warn().Err(err).Str("user_id", user.ID).Msg("new device check skipped")
		return
	}
	for _, s := range active {
		if s.DeviceInfo == device {
			return
		}
	}
	email := user.Email
	e.dispatch(ctx, "new_device_login", user.ID, func(ctx context.Context) error {
		return e.notifier.SendNewDeviceLoginNotification(ctx, email, device, ip)
	})
}

func subjectOf(u *account.User) jwt.Subject {
	return jwt.Subject{
		UserID:        u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		AuthProvider:  string(u.Provider),
	}
}

// ActiveSessions lists the user's unexpired, unrevoked sessions.
func (e *Engine) ActiveSessions(ctx context.Context, userID string) ([]session.Session, error) {
	out, err := e.sessions.FindActiveByUserID(ctx, userID)
	if err != nil {
		return nil, internalError(err)
	}
	return out, nil
}

// SweepExpiredSessions purges expired sessions and revoked sessions past
// their retention.
func (e *Engine) SweepExpiredSessions(ctx context.Context) (int, error) {
	n, err := e.sessions.DeleteExpired(ctx)
	if err != nil {
		return n, internalError(err)
	}
	e.metrics.Add(MetricSweepSessions, uint64(n))
	return n, nil
}
