// Package worker implements the sync-queue delivery worker: it dequeues
// batches under lease, hands each envelope to a pluggable Sender, and
// commits ack, retry, or dead-letter outcomes back to the queue.
package worker
