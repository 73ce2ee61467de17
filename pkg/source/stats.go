package source

import "math"

// statsRing is a fixed-size, constant-memory pacing estimator: the last
// 16 (itemCount, elapsedMs) pairs, kept as running sums so a step is
// O(1) regardless of history length.
type statsRing struct {
	counts    [16]int
	durations [16]float64 // milliseconds
	next      int
	sumCounts int
	sumDur    float64
}

func (r *statsRing) record(count int, elapsedMs float64) {
	r.sumCounts -= r.counts[r.next]
	r.sumDur -= r.durations[r.next]
	r.counts[r.next] = count
	r.durations[r.next] = elapsedMs
	r.sumCounts += count
	r.sumDur += elapsedMs
	r.next = (r.next + 1) % len(r.counts)
}

// wait computes the inter-batch pacing delay in milliseconds: a
// tanh-bounded estimate of how much of the recent call time was spent
// waiting on the remote, scaled by the configured balance and capped at
// maxDelayMs.
func (r *statsRing) wait(speedTrafficBalance float64, maxDelayMs int) float64 {
	balance := 100 * speedTrafficBalance / math.Max(1, float64(maxDelayMs))
	denom := math.Max(1, float64(r.sumCounts))
	estimate := balance * r.sumDur / denom
	return float64(maxDelayMs) * math.Tanh(estimate)
}
