// Package httpserver exposes the admin HTTP API: lease operations, step
// scheduling decisions, sync queue administration, manual worker passes,
// ledger reads, and Prometheus metrics.
package httpserver
