package internaldefs

import (
	authcore "github.com/MrEthical07/authcore"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported base name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful login attempts."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed login attempts."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Login attempts rejected by the login limiter."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Token families revoked after a rotated refresh token was replayed."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricAccessBlacklisted, Name: "authcore_access_blacklisted_total", Help: "Access tokens rejected because they were blacklisted."},
	{ID: authcore.MetricOTPIssued, Name: "authcore_otp_issued_total", Help: "One-time codes issued."},
	{ID: authcore.MetricOTPVerified, Name: "authcore_otp_verified_total", Help: "One-time codes verified."},
	{ID: authcore.MetricOTPFailed, Name: "authcore_otp_failed_total", Help: "Failed one-time code verifications."},
	{ID: authcore.MetricOTPCooldown, Name: "authcore_otp_cooldown_total", Help: "Code requests rejected by the resend cooldown."},
	{ID: authcore.MetricOTPLockedOut, Name: "authcore_otp_locked_out_total", Help: "Code requests rejected by the generation lockout."},
	{ID: authcore.MetricPermissionCacheHit, Name: "authcore_permission_cache_hit_total", Help: "Permission lookups served from cache."},
	{ID: authcore.MetricPermissionCacheMiss, Name: "authcore_permission_cache_miss_total", Help: "Permission lookups resolved from the store."},
	{ID: authcore.MetricPermissionDenied, Name: "authcore_permission_denied_total", Help: "Authorization checks that denied access."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Throttle denials across all scopes."},
	{ID: authcore.MetricAccountCreated, Name: "authcore_account_created_total", Help: "Accounts created."},
	{ID: authcore.MetricAccountDuplicate, Name: "authcore_account_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: authcore.MetricEmailVerified, Name: "authcore_email_verified_total", Help: "Email addresses verified."},
	{ID: authcore.MetricPasswordResetSuccess, Name: "authcore_password_reset_success_total", Help: "Completed password resets."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Completed password changes."},
	{ID: authcore.MetricPasswordChangeInvalidOld, Name: "authcore_password_change_invalid_old_total", Help: "Password changes rejected for a wrong current password."},
	{ID: authcore.MetricPasswordRehashed, Name: "authcore_password_rehashed_total", Help: "Stored hashes upgraded to current parameters at login."},
	{ID: authcore.MetricOAuthLogin, Name: "authcore_oauth_login_total", Help: "Sessions started through an OAuth provider."},
}

// HistogramDefs lists exported histograms.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access token validation latency."},
}

// AuditDroppedName is the counter for events the audit dispatcher shed.
const AuditDroppedName = "authcore_audit_dropped_total"

// HistogramUpperBounds are the finite bucket bounds in seconds. The eighth
// engine bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket in instrument names, +Inf last.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the engine's eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals. The last
// element is the sample count.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
