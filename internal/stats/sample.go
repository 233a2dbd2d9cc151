package stats

import (
	"errors"
	"math"
	"time"
)

// ErrNoSample is returned when no sample has been collected yet.
var ErrNoSample = errors.New("no stats sample collected yet")

// Sample is one host resource reading.
type Sample struct {
	CPUPercent       float64   `json:"cpuPercent"`
	MemoryPercent    float64   `json:"usedMemoryPercent"`
	TotalMemoryBytes uint64    `json:"totalMemoryBytes"`
	FreeMemoryBytes  uint64    `json:"freeMemoryBytes"`
	UsedMemoryBytes  uint64    `json:"usedMemoryBytes"`
	UptimeSeconds    uint64    `json:"uptimeSeconds"`
	Platform         string    `json:"platform,omitempty"`
	Hostname         string    `json:"hostname,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// memoryPercent returns used/total as a whole percentage in [0, 100].
func memoryPercent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return clampPercent(math.Round(float64(used) / float64(total) * 100))
}

func clampPercent(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
