// Package monitor renders a live terminal dashboard of CPU and memory
// usage, fed either by a local sampler subscription or by polling a
// running syspulse server.
package monitor
