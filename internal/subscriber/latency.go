package subscriber

import "sync/atomic"

// maxDeadlineSeconds is the histogram's top bucket boundary (spec.md §4.6:
// fixed-width histogram over integer seconds [0, 600]).
const maxDeadlineSeconds = 600

// latencyBucketCount is one bucket per integer second in [0, 600],
// inclusive (601 buckets; spec.md §4's Latency Distribution row).
const latencyBucketCount = maxDeadlineSeconds + 1

// LatencyDistribution is a fixed-width integer-second histogram over
// [0, 600] recording per-message receive-to-ack latency, used by the
// Deadline Controller to compute a high percentile (spec.md §4.6). Every
// bucket is an atomic counter so Record never blocks a completion path, and
// Percentile can run concurrently with Record at the cost of observing a
// possibly slightly stale snapshot (spec.md §4.6, §8's Histogram percentile
// law).
type LatencyDistribution struct {
	buckets [latencyBucketCount]atomic.Uint64
}

// NewLatencyDistribution returns an empty distribution.
func NewLatencyDistribution() *LatencyDistribution {
	return &LatencyDistribution{}
}

// Record increments the bucket for v seconds, clamped to maxDeadlineSeconds.
func (d *LatencyDistribution) Record(v int) {
	if v < 0 {
		v = 0
	}
	if v > maxDeadlineSeconds {
		v = maxDeadlineSeconds
	}
	d.buckets[v].Add(1)
}

// Percentile returns the smallest integer k such that the cumulative count
// through k is at least p% of the total recorded observations. Returns 0 if
// nothing has been recorded yet.
func (d *LatencyDistribution) Percentile(p float64) int {
	var total uint64
	snapshot := make([]uint64, latencyBucketCount)
	for i := range d.buckets {
		c := d.buckets[i].Load()
		snapshot[i] = c
		total += c
	}
	if total == 0 {
		return 0
	}

	threshold := p / 100 * float64(total)
	var cumulative uint64
	for k, c := range snapshot {
		cumulative += c
		if float64(cumulative) >= threshold {
			return k
		}
	}
	return maxDeadlineSeconds
}

// Count returns the total number of observations recorded.
func (d *LatencyDistribution) Count() uint64 {
	var total uint64
	for i := range d.buckets {
		total += d.buckets[i].Load()
	}
	return total
}
