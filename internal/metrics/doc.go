// Package metrics keeps the named OpenTelemetry instruments used by
// syspulse.
//
// A Registry is bound to one metric.Meter and returns the same instrument
// for repeated requests of the same name, so independently constructed
// components share series. Observable gauges are pull-based: each export
// cycle invokes the gauge's ObserveFuncs, which must return a cached value
// without blocking.
package metrics
