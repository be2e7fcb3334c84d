package authcore

import "time"

// LintSeverity ranks advisory findings.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	}
	return "UNKNOWN"
}

// LintWarning is one advisory finding. Codes are stable identifiers.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of findings.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, len(r))
	for i, w := range r {
		out[i] = w.Code
	}
	return out
}

// AtLeast returns the findings at or above min.
func (r LintResult) AtLeast(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// Lint reports settings that are valid but questionable. It never fails.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.JWT.Leeway > time.Minute {
		add("leeway_large", LintWarn, "JWT leeway above one minute widens the replay window of expired tokens")
	}
	if c.JWT.AccessTTL > 10*time.Minute {
		add("access_ttl_long", LintInfo, "access tokens live longer than 10 minutes and cannot be revoked early")
	}
	if c.JWT.RefreshTTL > 14*24*time.Hour {
		add("refresh_ttl_long", LintInfo, "refresh tokens live longer than 14 days")
	}
	if c.Session.RememberMeTTL > c.JWT.RefreshTTL {
		add("session_longer_than_refresh", LintWarn, "remember-me sessions outlive the refresh token that renews them")
	}
	if !c.RateLimit.Enabled {
		add("rate_limits_disabled", LintHigh, "login throttling is disabled; only the per-account lockout slows guessing")
	} else if !c.RateLimit.EnableIPThrottle {
		add("ip_throttle_disabled", LintInfo, "login throttling does not key on client IP")
	}
	if c.Lockout.MaxFailedAttempts > 10 {
		add("lockout_threshold_high", LintWarn, "more than 10 failed attempts are allowed before lockout")
	}
	if c.Lockout.Duration < 5*time.Minute {
		add("lockout_short", LintWarn, "lockout window is shorter than five minutes")
	}
	if !c.Password.CheckBreached {
		add("breach_check_disabled", LintWarn, "new passwords are not checked against breached passwords")
	}
	if c.Tokens.ResetTTL > 2*time.Hour {
		add("reset_ttl_long", LintWarn, "password reset tokens stay valid for more than two hours")
	}
	if c.Notify.DropIfFull {
		add("notify_drop_if_full", LintInfo, "emails are dropped when the notification queue is full")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "audit events are not recorded")
	}
	if c.Sweep.Interval == 0 {
		add("janitor_disabled", LintInfo, "expired sessions and grants are only removed by explicit sweeps")
	}

	return ws
}
