// Package latency implements the probe-scheduling and percentile
// reduction described in spec.md section 4.6: a sparse stream of
// latency-probe frames whose send and receive timestamps reduce to
// typical (median) and worst-case (99.9th percentile) latency.
package latency

import (
	"math"
	"sort"
)

// ProbeFrameIndex returns the frame index at which the i-th of K
// probes (0-indexed) should be sent, per spec.md section 4.6:
// start + floor(i * rate * (duration-delay) / K), where start is the
// frame index corresponding to delay*rate.
func ProbeFrameIndex(i, k uint32, rate uint32, duration, delay uint32) uint64 {
	start := uint64(delay) * uint64(rate)
	return start + uint64(i)*uint64(rate)*uint64(duration-delay)/uint64(k)
}

// Penalty returns the latency value, in milliseconds, assigned to a
// lost probe (receive_ts == 0), per spec.md section 4.6:
// 1000*(duration-delay) + global_timeout.
func Penalty(duration, delay uint32, globalTimeoutMS uint32) float64 {
	return 1000*float64(duration-delay) + float64(globalTimeoutMS)
}

// Evaluate reduces send/receive timestamp vectors (indexed by probe
// id, in the same tick units as hz) to typical (median) and worst-case
// (99.9th percentile) latency in milliseconds, per spec.md section
// 4.6. A zero receive timestamp denotes a lost probe and is replaced
// with penaltyMS. sendTS and receiveTS must have equal, non-zero
// length.
func Evaluate(sendTS, receiveTS []uint64, hz uint64, penaltyMS float64) (tl, wcl float64) {
	k := len(sendTS)
	values := make([]float64, k)
	for i := 0; i < k; i++ {
		if receiveTS[i] == 0 {
			values[i] = penaltyMS
			continue
		}
		values[i] = 1000 * float64(receiveTS[i]-sendTS[i]) / float64(hz)
	}
	sort.Float64s(values)

	tl = percentile(values, 0.5)
	wcl = percentile(values, 0.999)
	return tl, wcl
}

// percentile returns the ceil(p*n)-th element of a sorted slice
// (1-indexed), per spec.md section 4.6's definition of the 99.9th
// percentile.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	idx := int(math.Ceil(p * float64(n)))
	if idx < 1 {
		idx = 1
	}
	if idx > n {
		idx = n
	}
	return sorted[idx-1]
}
