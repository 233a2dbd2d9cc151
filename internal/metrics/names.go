package metrics

// Instrument names exported by syspulse.
const (
	NameCalls            = "ipc.calls.total"
	NameDuration         = "ipc.duration.ms"
	NameCPUUsage         = "system.cpu.usage"
	NameMemoryUsed       = "system.memory.used_percent"
	NameErrors           = "app.errors.total"
	NameStatsCollections = "stats.collections.total"
)

// Attribute keys used on instrument series.
const (
	AttrOperation = "operation"
	AttrStatus    = "status"
	AttrErrorType = "type"
)

// Status values for AttrStatus.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Units.
const (
	UnitMilliseconds = "ms"
	UnitPercent      = "%"
)
