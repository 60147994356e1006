package metrics

import (
	"sync/atomic"
	"time"
)

// ID selects one counter or histogram.
type ID uint16

const (
	// IDSignUpSuccess counts created accounts, any flavor.
	IDSignUpSuccess ID = iota
	// IDSignUpFailure counts rejected sign-up attempts.
	IDSignUpFailure
	// IDSignInSuccess counts completed sign-ins across all providers.
	IDSignInSuccess
	// IDSignInFailure counts rejected sign-in attempts.
	IDSignInFailure
	// IDMfaRequired counts first factors stopped for a second factor.
	IDMfaRequired
	// IDMfaSignInSuccess counts finalized MFA sign-ins.
	IDMfaSignInSuccess
	// IDTokenGrantSuccess counts successful refresh token grants.
	IDTokenGrantSuccess
	// IDTokenGrantFailure counts rejected refresh token grants.
	IDTokenGrantFailure
	// IDOobCodeCreated counts minted out-of-band codes.
	IDOobCodeCreated
	// IDOobCodeConsumed counts successfully applied out-of-band codes.
	IDOobCodeConsumed
	// IDOobCodeInvalid counts rejected out-of-band codes.
	IDOobCodeInvalid
	// IDPhoneCodeCreated counts started phone verification sessions.
	IDPhoneCodeCreated
	// IDPhoneCodeConsumed counts completed phone verifications.
	IDPhoneCodeConsumed
	// IDBlockingFunctionCall counts blocking function invocations.
	IDBlockingFunctionCall
	// IDBlockingFunctionError counts blocking function rejections and failures.
	IDBlockingFunctionError
	// IDUserUpdated counts account mutations through setAccountInfo.
	IDUserUpdated
	// IDUserDeleted counts deleted accounts.
	IDUserDeleted
	// IDTenantCreated counts created tenants.
	IDTenantCreated
	// IDTenantDeleted counts deleted tenants.
	IDTenantDeleted
	// IDSignInLatency is the sign-in latency histogram.
	IDSignInLatency
	idCount
)

// Count is the number of defined metric ids.
const Count = uint16(idCount)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type histogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is the atomic counter table. The zero value is disabled.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [idCount]paddedCounter
	histograms    [idCount]histogram
}

// New builds a counter table. Latency histograms stay off unless requested.
func New(enabled, enableLatency bool) *Metrics {
	return &Metrics{
		enabled:       enabled,
		enableLatency: enabled && enableLatency,
	}
}

// Enabled reports whether the table records anything.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id ID) {
	if m == nil || !m.enabled || id >= idCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the latency histogram for id.
func (m *Metrics) Observe(id ID, d time.Duration) {
	if m == nil || !m.enableLatency || id != IDSignInLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// bucketIndex maps a duration onto the 8 fixed histogram buckets
// (5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 1s, +Inf).
func bucketIndex(d time.Duration) int {
	switch {
	case d <= 5*time.Millisecond:
		return 0
	case d <= 10*time.Millisecond:
		return 1
	case d <= 25*time.Millisecond:
		return 2
	case d <= 50*time.Millisecond:
		return 3
	case d <= 100*time.Millisecond:
		return 4
	case d <= 250*time.Millisecond:
		return 5
	case d <= time.Second:
		return 6
	default:
		return 7
	}
}

// Value returns the current counter value.
func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot is a point-in-time copy of every counter and histogram.
type Snapshot struct {
	Counters   map[ID]uint64
	Histograms map[ID][]uint64
}

// Snapshot copies the table. A disabled table snapshots as empty maps.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{
			Counters:   map[ID]uint64{},
			Histograms: map[ID][]uint64{},
		}
	}
	s := Snapshot{
		Counters:   make(map[ID]uint64, int(idCount)),
		Histograms: make(map[ID][]uint64, 1),
	}
	for id := ID(0); id < idCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[IDSignInLatency].buckets[i])
		}
		s.Histograms[IDSignInLatency] = buckets
	}
	return s
}
