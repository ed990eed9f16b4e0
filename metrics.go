package goTrust

import (
	"sync/atomic"
	"time"
)

// MetricID identifies an engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginMFARequired
	MetricMFASetupStarted
	MetricMFAEnabled
	MetricMFADisabled
	MetricMFASuccess
	MetricMFAFailure
	MetricBackupCodeUsed
	MetricBackupCodesLow
	MetricBackupCodesRegenerated
	MetricTokenIssued
	MetricTokenVerified
	MetricTokenExpired
	MetricTokenInvalid
	MetricPermissionGranted
	MetricPermissionDenied
	MetricRoleCreated
	MetricRoleUpdated
	MetricRoleDeleted
	MetricStoreError
	// MetricVerifyLatency is the only histogram: token verification time.
	MetricVerifyLatency
	metricIDCount
)

// String returns the metric's exported name suffix.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:           "login_success",
	MetricLoginFailure:           "login_failure",
	MetricLoginMFARequired:       "login_mfa_required",
	MetricMFASetupStarted:        "mfa_setup_started",
	MetricMFAEnabled:             "mfa_enabled",
	MetricMFADisabled:            "mfa_disabled",
	MetricMFASuccess:             "mfa_success",
	MetricMFAFailure:             "mfa_failure",
	MetricBackupCodeUsed:         "backup_code_used",
	MetricBackupCodesLow:         "backup_codes_low",
	MetricBackupCodesRegenerated: "backup_codes_regenerated",
	MetricTokenIssued:            "token_issued",
	MetricTokenVerified:          "token_verified",
	MetricTokenExpired:           "token_expired",
	MetricTokenInvalid:           "token_invalid",
	MetricPermissionGranted:      "permission_granted",
	MetricPermissionDenied:       "permission_denied",
	MetricRoleCreated:            "role_created",
	MetricRoleUpdated:            "role_updated",
	MetricRoleDeleted:            "role_deleted",
	MetricStoreError:             "store_error",
	MetricVerifyLatency:          "verify_latency",
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBounds are the inclusive upper bounds of the latency buckets. The
// last bucket is unbounded.
var HistogramBounds = [histBucketCount - 1]time.Duration{
	100 * time.Microsecond,
	250 * time.Microsecond,
	500 * time.Microsecond,
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters. Each counter sits on its own cache line.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	latency       metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters that record only when cfg.Enabled.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters record.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the verification latency histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricVerifyLatency {
		return
	}
	atomic.AddUint64(&m.latency.buckets[bucketIndex(d)], 1)
}

// Value returns the current count for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters. Disabled metrics yield empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := MetricID(0); id < MetricVerifyLatency; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.latency.buckets[i])
		}
		s.Histograms[MetricVerifyLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range HistogramBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
