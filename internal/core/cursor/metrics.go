package cursor

import (
	"time"
)

// advanceRecord holds timing data for a committed advance.
type advanceRecord struct {
	Timestamp   uint64
	CommittedAt time.Time
}

// Metrics holds cursor throughput data.
type Metrics struct {
	AdvancesPerSecond  float64
	AverageAdvanceTime time.Duration
	Latest             uint64
	LastCommittedAt    time.Time
}

// MetricsCollector tracks cursor throughput over a sliding window.
type MetricsCollector struct {
	windowSize int             // number of advances to track
	advances   []advanceRecord // ring buffer of advances
}

// RecordAdvance records a committed advance. Advances that do not move the
// watermark forward are ignored.
func (mc *MetricsCollector) RecordAdvance(ts uint64, committedAt time.Time) {
	if n := len(mc.advances); n > 0 && mc.advances[n-1].Timestamp >= ts {
		return
	}
	record := advanceRecord{Timestamp: ts, CommittedAt: committedAt}

	if len(mc.advances) >= mc.windowSize {
		// Shift elements left, drop oldest
		copy(mc.advances, mc.advances[1:])
		mc.advances[len(mc.advances)-1] = record
	} else {
		mc.advances = append(mc.advances, record)
	}
}

// GetMetrics returns current metrics.
func (mc *MetricsCollector) GetMetrics() Metrics {
	var m Metrics
	if len(mc.advances) == 0 {
		return m
	}
	last := mc.advances[len(mc.advances)-1]
	m.Latest = last.Timestamp
	m.LastCommittedAt = last.CommittedAt

	if len(mc.advances) >= 2 {
		first := mc.advances[0]
		duration := last.CommittedAt.Sub(first.CommittedAt)

		if duration > 0 {
			count := float64(len(mc.advances) - 1)
			m.AdvancesPerSecond = count / duration.Seconds()
			m.AverageAdvanceTime = time.Duration(float64(duration) / count)
		}
	}

	return m
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.advances = mc.advances[:0]
}
