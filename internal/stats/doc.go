// Package stats samples host CPU and memory usage on a fixed period.
//
// Each tick the Sampler turns cumulative CPU times into a utilization
// percentage, stores the sample in a Cache read by the system.cpu.usage
// and system.memory.used_percent gauges, then hands it to live
// subscribers and the persistence Sink. A slow subscriber or a failing
// sink never holds up the other.
package stats
