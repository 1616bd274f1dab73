package internaldefs

import (
	"github.com/MrEthical07/kennelguard"
)

// Def names one exported series.
type Def struct {
	ID   kennelguard.MetricID
	Name string
	Help string
}

const prefix = "kennelguard_"

func counter(id kennelguard.MetricID, name, help string) Def {
	return Def{ID: id, Name: prefix + name + "_total", Help: help}
}

// Counters lists every exported counter in output order.
var Counters = []Def{
	counter(kennelguard.MetricVerifySuccess, "verify_success", "Access tokens verified."),
	counter(kennelguard.MetricVerifyFailure, "verify_failure", "Access token verifications denied."),
	counter(kennelguard.MetricLoginSuccess, "login_success", "Successful logins."),
	counter(kennelguard.MetricLoginFailure, "login_failure", "Failed logins."),
	counter(kennelguard.MetricLoginRateLimited, "login_rate_limited", "Logins refused by the per-credential budget."),
	counter(kennelguard.MetricRefreshSuccess, "refresh_success", "Token pairs reissued from a refresh token."),
	counter(kennelguard.MetricRefreshFailure, "refresh_failure", "Refresh attempts denied."),
	counter(kennelguard.MetricGuardDenied, "guard_denied", "Requests stopped by an access guard."),
	counter(kennelguard.MetricRateLimitHit, "rate_limit_hit", "Limiter checks that denied a request."),
	counter(kennelguard.MetricPasswordChangeSuccess, "password_change_success", "Completed password changes."),
	counter(kennelguard.MetricPasswordChangeFailure, "password_change_failure", "Rejected password changes."),
	counter(kennelguard.MetricPasswordRehash, "password_rehash", "Password digests upgraded on login."),
	counter(kennelguard.MetricPasswordResetRequest, "password_reset_request", "Password reset requests."),
	counter(kennelguard.MetricPasswordResetConfirmSuccess, "password_reset_confirm_success", "Completed password resets."),
	counter(kennelguard.MetricPasswordResetConfirmFailure, "password_reset_confirm_failure", "Rejected password reset confirmations."),
	counter(kennelguard.MetricResetTokensSwept, "reset_tokens_swept", "Expired or used reset tokens removed."),
	counter(kennelguard.MetricAPIKeyAccepted, "api_key_accepted", "API keys accepted."),
	counter(kennelguard.MetricAPIKeyRejected, "api_key_rejected", "API keys rejected."),
	counter(kennelguard.MetricAPIKeyDevBypass, "api_key_dev_bypass", "Requests admitted with a development key."),
	counter(kennelguard.MetricAPIKeyUsageDropped, "api_key_usage_dropped", "API key usage records dropped on a full queue."),
	counter(kennelguard.MetricStoreFailure, "store_failure", "Credential store outages."),
}

// VerifyLatency is the access token verification histogram.
var VerifyLatency = Def{
	ID:   kennelguard.MetricVerifyLatency,
	Name: prefix + "verify_latency_seconds",
	Help: "Access token verification latency.",
}

// AuditDropped is the dispatcher backpressure counter.
var AuditDropped = Def{
	Name: prefix + "audit_dropped_total",
	Help: "Audit events dropped on a full dispatcher queue.",
}

// Bounds are the histogram upper bounds in seconds, as Prometheus "le"
// labels. They match the engine's millisecond buckets.
var Bounds = [8]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// BoundSuffix renders Bounds as instrument name suffixes for exporters
// without label support.
var BoundSuffix = [8]string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// Cumulative turns the engine's per-bucket counts into cumulative counts.
// Missing buckets count as zero.
func Cumulative(raw []uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
