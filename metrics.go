package identitykit

import "github.com/identitykit/identitykit/internal/metrics"

// MetricID selects one engine counter or histogram.
type MetricID = metrics.ID

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot = metrics.Snapshot

// Engine metrics. Counters unless noted otherwise.
const (
	MetricSignUpSuccess         = metrics.IDSignUpSuccess
	MetricSignUpFailure         = metrics.IDSignUpFailure
	MetricSignInSuccess         = metrics.IDSignInSuccess
	MetricSignInFailure         = metrics.IDSignInFailure
	MetricMfaRequired           = metrics.IDMfaRequired
	MetricMfaSignInSuccess      = metrics.IDMfaSignInSuccess
	MetricTokenGrantSuccess     = metrics.IDTokenGrantSuccess
	MetricTokenGrantFailure     = metrics.IDTokenGrantFailure
	MetricOobCodeCreated        = metrics.IDOobCodeCreated
	MetricOobCodeConsumed       = metrics.IDOobCodeConsumed
	MetricOobCodeInvalid        = metrics.IDOobCodeInvalid
	MetricPhoneCodeCreated      = metrics.IDPhoneCodeCreated
	MetricPhoneCodeConsumed     = metrics.IDPhoneCodeConsumed
	MetricBlockingFunctionCall  = metrics.IDBlockingFunctionCall
	MetricBlockingFunctionError = metrics.IDBlockingFunctionError
	MetricUserUpdated           = metrics.IDUserUpdated
	MetricUserDeleted           = metrics.IDUserDeleted
	MetricTenantCreated         = metrics.IDTenantCreated
	MetricTenantDeleted         = metrics.IDTenantDeleted

	// MetricSignInLatency is the sign-in latency histogram.
	MetricSignInLatency = metrics.IDSignInLatency
)
