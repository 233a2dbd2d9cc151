package stats

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Reading is the raw host state behind one Sample.
type Reading struct {
	CPU           CPUTimes
	TotalMemory   uint64
	FreeMemory    uint64
	UsedMemory    uint64
	UptimeSeconds uint64
	Platform      string
	Hostname      string
}

// Provider reads raw host statistics.
type Provider interface {
	Read(ctx context.Context) (Reading, error)
}

// HostProvider reads the local host through gopsutil.
type HostProvider struct{}

// NewHostProvider creates a provider for the local host.
func NewHostProvider() *HostProvider {
	return &HostProvider{}
}

// Read implements Provider.
func (p *HostProvider) Read(ctx context.Context) (Reading, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return Reading{}, fmt.Errorf("reading cpu times: %w", err)
	}
	if len(times) == 0 {
		return Reading{}, fmt.Errorf("reading cpu times: no data")
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("reading memory: %w", err)
	}

	r := Reading{
		CPU:         cpuTimes(times[0]),
		TotalMemory: vm.Total,
		FreeMemory:  vm.Available,
		UsedMemory:  vm.Total - vm.Available,
	}

	// Host info is descriptive only
	if info, err := host.InfoWithContext(ctx); err == nil {
		r.UptimeSeconds = info.Uptime
		r.Platform = info.OS
		r.Hostname = info.Hostname
	}
	return r, nil
}

func cpuTimes(t cpu.TimesStat) CPUTimes {
	idle := t.Idle + t.Iowait
	total := t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq +
		t.Softirq + t.Steal
	return CPUTimes{Idle: idle, Total: total}
}
