package internaldefs

import (
	"github.com/deusexmachina/authcore"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Successful registrations."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected because the email exists."},
	{ID: authcore.MetricRegisterRejected, Name: "authcore_register_rejected_total", Help: "Registrations rejected by the password policy."},
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful password logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed password logins."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Logins refused by the rate limiter."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Logins refused during a lockout window."},
	{ID: authcore.MetricAccountLocked, Name: "authcore_account_locked_total", Help: "Accounts locked after repeated failures."},
	{ID: authcore.MetricGoogleLoginSuccess, Name: "authcore_google_login_success_total", Help: "Successful Google logins."},
	{ID: authcore.MetricGoogleLoginFailure, Name: "authcore_google_login_failure_total", Help: "Failed Google logins."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: authcore.MetricRefreshRaceLost, Name: "authcore_refresh_race_lost_total", Help: "Refresh attempts that lost a concurrent rotation."},
	{ID: authcore.MetricRefreshRateLimited, Name: "authcore_refresh_rate_limited_total", Help: "Refresh attempts refused by the rate limiter."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: authcore.MetricSessionRevoked, Name: "authcore_session_revoked_total", Help: "Revoked sessions."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-everywhere operations."},
	{ID: authcore.MetricEmailVerificationSuccess, Name: "authcore_email_verification_success_total", Help: "Successful email verifications."},
	{ID: authcore.MetricEmailVerificationFailure, Name: "authcore_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricPasswordResetSuccess, Name: "authcore_password_reset_success_total", Help: "Completed password resets."},
	{ID: authcore.MetricPasswordResetFailure, Name: "authcore_password_reset_failure_total", Help: "Failed password reset confirmations."},
	{ID: authcore.MetricPermissionGranted, Name: "authcore_permission_granted_total", Help: "Permission grants created or replaced."},
	{ID: authcore.MetricPermissionRevoked, Name: "authcore_permission_revoked_total", Help: "Permission grants revoked."},
	{ID: authcore.MetricPermissionDenied, Name: "authcore_permission_denied_total", Help: "Permission checks that denied access."},
	{ID: authcore.MetricOwnershipTransferred, Name: "authcore_ownership_transferred_total", Help: "Resource ownership transfers."},
	{ID: authcore.MetricResourceClaimed, Name: "authcore_resource_claimed_total", Help: "Resources claimed by a first owner."},
	{ID: authcore.MetricResourceDeleted, Name: "authcore_resource_deleted_total", Help: "Resources deleted with their grants."},
	{ID: authcore.MetricSweepSessions, Name: "authcore_sweep_sessions_total", Help: "Expired sessions removed by sweeps."},
	{ID: authcore.MetricSweepPermissions, Name: "authcore_sweep_permissions_total", Help: "Expired grants removed by sweeps."},
	{ID: authcore.MetricNotificationSent, Name: "authcore_notification_sent_total", Help: "Notifications delivered to the notifier."},
	{ID: authcore.MetricNotificationFailed, Name: "authcore_notification_failed_total", Help: "Notifications the notifier failed to send."},
	{ID: authcore.MetricNotificationDropped, Name: "authcore_notification_dropped_total", Help: "Notifications dropped because the queue was full."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access token validation latency."},
	{ID: authcore.MetricLoginLatency, Name: "authcore_login_latency_seconds", Help: "Password login latency."},
}

// HistogramBounds are the upper bounds in seconds of the engine's latency
// buckets. The last bucket is unbounded.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundLabels renders each bucket bound, +Inf included, as a
// label value.
var HistogramBoundLabels = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling short input.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
