package internaldefs

import (
	goAccount "github.com/MrEthical07/goAccount"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goAccount.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goAccount.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: goAccount.MetricLoginSuccess, Name: "goaccount_login_success_total", Help: "Successful login attempts."},
	{ID: goAccount.MetricLoginFailure, Name: "goaccount_login_failure_total", Help: "Failed login attempts."},
	{ID: goAccount.MetricLoginRateLimited, Name: "goaccount_login_rate_limited_total", Help: "Login attempts rejected by the throttle."},
	{ID: goAccount.MetricRefreshSuccess, Name: "goaccount_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: goAccount.MetricRefreshFailure, Name: "goaccount_refresh_failure_total", Help: "Failed refresh token rotations."},
	{ID: goAccount.MetricRefreshReuseDetected, Name: "goaccount_refresh_reuse_detected_total", Help: "Refresh token reuse detections that revoked a family."},
	{ID: goAccount.MetricLogout, Name: "goaccount_logout_total", Help: "Logout operations."},
	{ID: goAccount.MetricSignupSuccess, Name: "goaccount_signup_success_total", Help: "Accounts created through signup."},
	{ID: goAccount.MetricSignupDuplicate, Name: "goaccount_signup_duplicate_total", Help: "Signups rejected for a taken username or email."},
	{ID: goAccount.MetricSignupInvalid, Name: "goaccount_signup_invalid_total", Help: "Signups rejected by input policy."},
	{ID: goAccount.MetricEmailVerificationSuccess, Name: "goaccount_email_verification_success_total", Help: "Successful email verifications."},
	{ID: goAccount.MetricEmailVerificationFailure, Name: "goaccount_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: goAccount.MetricOTPSent, Name: "goaccount_otp_sent_total", Help: "One-time codes handed to the mailer."},
	{ID: goAccount.MetricOTPThrottled, Name: "goaccount_otp_throttled_total", Help: "Code requests rejected inside the resend cooldown."},
	{ID: goAccount.MetricOTPAttemptsExceeded, Name: "goaccount_otp_attempts_exceeded_total", Help: "Codes locked after too many wrong guesses."},
	{ID: goAccount.MetricPasswordResetRequest, Name: "goaccount_password_reset_request_total", Help: "Password reset requests."},
	{ID: goAccount.MetricPasswordResetConfirmSuccess, Name: "goaccount_password_reset_confirm_success_total", Help: "Successful password resets."},
	{ID: goAccount.MetricPasswordResetConfirmFailure, Name: "goaccount_password_reset_confirm_failure_total", Help: "Failed password resets."},
	{ID: goAccount.MetricAccountDeleted, Name: "goaccount_account_deleted_total", Help: "Deleted accounts."},
	{ID: goAccount.MetricGuestCreated, Name: "goaccount_guest_created_total", Help: "Guest accounts created."},
	{ID: goAccount.MetricGuestUpgraded, Name: "goaccount_guest_upgraded_total", Help: "Guest accounts upgraded in place."},
	{ID: goAccount.MetricIdentityLoginSuccess, Name: "goaccount_identity_login_success_total", Help: "Successful external identity logins."},
	{ID: goAccount.MetricIdentityLoginConflict, Name: "goaccount_identity_login_conflict_total", Help: "External identity logins that require a manual link."},
	{ID: goAccount.MetricIdentityLinked, Name: "goaccount_identity_linked_total", Help: "External identities linked to an account."},
	{ID: goAccount.MetricUsernameUpdated, Name: "goaccount_username_updated_total", Help: "Username changes."},
	{ID: goAccount.MetricAuthenticateFailure, Name: "goaccount_authenticate_failure_total", Help: "Rejected access tokens."},
	{ID: goAccount.MetricMailFailure, Name: "goaccount_mail_failure_total", Help: "Mail deliveries that failed after commit."},
	{ID: goAccount.MetricStoreUnavailable, Name: "goaccount_store_unavailable_total", Help: "Operations failed by an unavailable store."},
	{ID: goAccount.MetricRateLimitHit, Name: "goaccount_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goAccount.MetricAuthenticateLatency, Name: "goaccount_authenticate_latency_seconds", Help: "Access token authentication latency."},
}

// HistogramBounds are the upper bounds of the engine buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix mirrors HistogramBounds in instrument-name form.
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

// NormalizeBuckets copies raw into a fixed array, zero filling missing buckets.
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
