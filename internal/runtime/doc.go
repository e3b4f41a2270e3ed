// Package runtime assembles the single-node keel instance: storage, lease
// registry, sync queue, step ledger, worker, and metrics.
package runtime
