package stats

import (
	"math"
	"sync"
)

// CPUTimes is cumulative CPU time accounting summed over all cores, in
// seconds.
type CPUTimes struct {
	Idle  float64
	Total float64
}

// cpuTracker turns consecutive cumulative readings into a utilization
// percentage.
type cpuTracker struct {
	mu   sync.Mutex
	prev CPUTimes
	has  bool
}

// percent returns the busy share of the time elapsed since the previous
// reading. The first reading and a non-advancing clock yield 0; the result
// is always within [0, 100].
func (t *cpuTracker) percent(cur CPUTimes) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, had := t.prev, t.has
	t.prev, t.has = cur, true
	if !had {
		return 0
	}

	total := cur.Total - prev.Total
	idle := cur.Idle - prev.Idle
	if total <= 0 || idle < 0 {
		return 0
	}
	return clampPercent(100 - math.Floor(idle/total*100))
}
