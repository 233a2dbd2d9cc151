package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCPUTracker_FirstReadingIsZero(t *testing.T) {
	var tr cpuTracker
	assert.Equal(t, 0.0, tr.percent(CPUTimes{Idle: 50, Total: 100}))
}

func TestCPUTracker_Delta(t *testing.T) {
	var tr cpuTracker
	tr.percent(CPUTimes{Idle: 100, Total: 200})

	// 30 idle out of 100 elapsed
	assert.Equal(t, 70.0, tr.percent(CPUTimes{Idle: 130, Total: 300}))
	// fully idle
	assert.Equal(t, 0.0, tr.percent(CPUTimes{Idle: 230, Total: 400}))
	// fully busy
	assert.Equal(t, 100.0, tr.percent(CPUTimes{Idle: 230, Total: 500}))
}

func TestCPUTracker_Degenerate(t *testing.T) {
	tests := []struct {
		name string
		prev CPUTimes
		cur  CPUTimes
	}{
		{"no elapsed time", CPUTimes{Idle: 10, Total: 100}, CPUTimes{Idle: 10, Total: 100}},
		{"counter reset", CPUTimes{Idle: 10, Total: 100}, CPUTimes{Idle: 1, Total: 5}},
		{"idle went backwards", CPUTimes{Idle: 50, Total: 100}, CPUTimes{Idle: 40, Total: 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tr cpuTracker
			tr.percent(tt.prev)
			got := tr.percent(tt.cur)
			assert.False(t, math.IsNaN(got))
			assert.Equal(t, 0.0, got)
		})
	}
}

func TestCPUTracker_AlwaysInRange(t *testing.T) {
	var tr cpuTracker
	readings := []CPUTimes{
		{0, 0}, {5, 3}, {5, 10}, {100, 50}, {120, 400}, {119, 401}, {1e9, 1e9 + 1}, {0, 1},
	}
	for _, r := range readings {
		p := tr.percent(r)
		assert.False(t, math.IsNaN(p))
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 100.0)
	}
}

func TestMemoryPercent(t *testing.T) {
	assert.Equal(t, 0.0, memoryPercent(10, 0))
	assert.Equal(t, 50.0, memoryPercent(50, 100))
	assert.Equal(t, 33.0, memoryPercent(1, 3))
	assert.Equal(t, 67.0, memoryPercent(2, 3))
	assert.Equal(t, 100.0, memoryPercent(300, 200))
}
