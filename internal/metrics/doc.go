// Package metrics wires Prometheus collectors for the lease coordinator,
// the sync queue, and storage latencies, and serves them over /metrics.
package metrics
