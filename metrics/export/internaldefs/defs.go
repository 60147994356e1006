package internaldefs

import (
	identitykit "github.com/identitykit/identitykit"
)

// Def binds an engine metric id to its stable exported name.
type Def struct {
	ID   identitykit.MetricID
	Name string
	Help string
}

// Bucket is one histogram bucket boundary. Le is the Prometheus label
// value, Suffix the metric-name-safe spelling used by flat exporters.
type Bucket struct {
	Le     string
	Suffix string
}

// Counters lists every engine counter in export order.
var Counters = []Def{
	{identitykit.MetricSignUpSuccess, "identitykit_signup_success_total", "Created accounts, any flavor."},
	{identitykit.MetricSignUpFailure, "identitykit_signup_failure_total", "Rejected sign-up attempts."},
	{identitykit.MetricSignInSuccess, "identitykit_signin_success_total", "Completed sign-ins across all providers."},
	{identitykit.MetricSignInFailure, "identitykit_signin_failure_total", "Rejected sign-in attempts."},
	{identitykit.MetricMfaRequired, "identitykit_mfa_required_total", "First factors stopped for a second factor."},
	{identitykit.MetricMfaSignInSuccess, "identitykit_mfa_signin_success_total", "Finalized MFA sign-ins."},
	{identitykit.MetricTokenGrantSuccess, "identitykit_token_grant_success_total", "Successful refresh token grants."},
	{identitykit.MetricTokenGrantFailure, "identitykit_token_grant_failure_total", "Rejected refresh token grants."},
	{identitykit.MetricOobCodeCreated, "identitykit_oob_code_created_total", "Minted out-of-band codes."},
	{identitykit.MetricOobCodeConsumed, "identitykit_oob_code_consumed_total", "Successfully applied out-of-band codes."},
	{identitykit.MetricOobCodeInvalid, "identitykit_oob_code_invalid_total", "Rejected out-of-band codes."},
	{identitykit.MetricPhoneCodeCreated, "identitykit_phone_code_created_total", "Started phone verification sessions."},
	{identitykit.MetricPhoneCodeConsumed, "identitykit_phone_code_consumed_total", "Completed phone verifications."},
	{identitykit.MetricBlockingFunctionCall, "identitykit_blocking_function_call_total", "Blocking function invocations."},
	{identitykit.MetricBlockingFunctionError, "identitykit_blocking_function_error_total", "Blocking function rejections and failures."},
	{identitykit.MetricUserUpdated, "identitykit_user_updated_total", "Account mutations through setAccountInfo."},
	{identitykit.MetricUserDeleted, "identitykit_user_deleted_total", "Deleted accounts."},
	{identitykit.MetricTenantCreated, "identitykit_tenant_created_total", "Created tenants."},
	{identitykit.MetricTenantDeleted, "identitykit_tenant_deleted_total", "Deleted tenants."},
}

// Histograms lists every engine histogram in export order.
var Histograms = []Def{
	{identitykit.MetricSignInLatency, "identitykit_signin_latency_seconds", "Sign-in latency histogram."},
}

// Buckets are the upper bounds of every histogram, in seconds.
var Buckets = []Bucket{
	{"0.005", "0_005"},
	{"0.01", "0_01"},
	{"0.025", "0_025"},
	{"0.05", "0_05"},
	{"0.1", "0_1"},
	{"0.25", "0_25"},
	{"1", "1"},
	{"+Inf", "inf"},
}

// EventsDropped is the dispatcher backpressure counter, exported alongside
// the engine counters by every backend.
var EventsDropped = Def{
	Name: "identitykit_events_dropped_total",
	Help: "Dropped lifecycle events due to dispatcher backpressure.",
}

// Cumulate turns raw per-bucket counts into cumulative counts, padded or
// truncated to the fixed bucket layout. The last element doubles as the
// sample count.
func Cumulate(raw []uint64) []uint64 {
	out := make([]uint64, len(Buckets))
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
