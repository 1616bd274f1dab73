package kennelguard

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

// Counters. MetricVerifyLatency is the only histogram.
const (
	MetricVerifySuccess MetricID = iota
	MetricVerifyFailure
	MetricLoginSuccess
	MetricLoginFailure
	MetricLoginRateLimited
	MetricRefreshSuccess
	MetricRefreshFailure
	// MetricGuardDenied counts Authorize calls stopped by a guard.
	MetricGuardDenied
	// MetricRateLimitHit counts denied limiter checks of any kind.
	MetricRateLimitHit
	MetricPasswordChangeSuccess
	MetricPasswordChangeFailure
	// MetricPasswordRehash counts digests upgraded on login.
	MetricPasswordRehash
	MetricPasswordResetRequest
	MetricPasswordResetConfirmSuccess
	MetricPasswordResetConfirmFailure
	// MetricResetTokensSwept adds the rows removed by each sweep.
	MetricResetTokensSwept
	MetricAPIKeyAccepted
	MetricAPIKeyRejected
	MetricAPIKeyDevBypass
	// MetricAPIKeyUsageDropped counts usage records lost to a full queue.
	MetricAPIKeyUsageDropped
	// MetricStoreFailure counts store outages seen by any operation.
	MetricStoreFailure
	MetricVerifyLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
	sumNano uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free engine counters and the verify latency histogram.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
	// LatencySums holds the total observed time per histogram.
	LatencySums map[MetricID]time.Duration
}

// NewMetrics returns counters configured by cfg. A disabled Metrics ignores
// every update.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the verify latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to the counter id.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in the histogram id. Only MetricVerifyLatency carries a
// histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricVerifyLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
	if d > 0 {
		atomic.AddUint64(&m.histograms[id].sumNano, uint64(d))
	}
}

// Value returns the current value of the counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and the latency histogram when enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:    map[MetricID]uint64{},
			Histograms:  map[MetricID][]uint64{},
			LatencySums: map[MetricID]time.Duration{},
		}
	}

	s := MetricsSnapshot{
		Counters:    make(map[MetricID]uint64, int(metricIDCount)),
		Histograms:  make(map[MetricID][]uint64, 1),
		LatencySums: make(map[MetricID]time.Duration, 1),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricVerifyLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricVerifyLatency].buckets[i])
		}
		s.Histograms[MetricVerifyLatency] = buckets
		s.LatencySums[MetricVerifyLatency] = time.Duration(atomic.LoadUint64(&m.histograms[MetricVerifyLatency].sumNano))
	}
	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
