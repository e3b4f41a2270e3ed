// Package syncqueue implements the durable sync-job queue backing the
// work-queue worker.
//
// Rows move through QUEUED -> IN_FLIGHT -> {ACKED | DEAD_LETTER}; a
// dead-lettered row can be returned to QUEUED by an admin Requeue. Delivery
// is at-least-once with lease-based one-of-N exclusion: DequeueBatch stamps
// a lease on each returned row, and a row whose lease expires without an
// ack is picked up again by a later dequeue pass. There is no background
// reclaim thread; expired-lease re-delivery happens inline in DequeueBatch.
//
// All operations take explicit now parameters so tests control time.
package syncqueue
