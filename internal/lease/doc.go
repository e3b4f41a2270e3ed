// Package lease implements keel's lease coordinator: time-bounded,
// token-authenticated exclusive rights for one owner to act on a work order.
//
// The coordinator is a pair of pure functions used together by callers:
// PolicyEvaluate derives boolean facts from a requested operation and the
// current lease snapshot, and DecisionCompute turns those facts into a
// grant or denial. Neither touches a store or a clock; the caller supplies
// the snapshot and its own monotonic "now".
//
// # Invariants
//
//   - At most one unexpired lease exists per work order. An expired row is
//     logically absent but still informative: an Acquire over it is a
//     takeover and the decision carries ResumeFromLedger, telling the new
//     owner to replay the work order's durable ledger before resuming.
//   - Denials are ordinary return values with a reason code; lease
//     contention is an expected outcome of concurrent execution, never an
//     error. Malformed input is rejected with ErrContract before the
//     snapshot is consulted.
//
// Denial reason precedence: TTL_OUT_OF_BOUNDS, then HELD_BY_OTHER, then
// NOT_FOUND, then TOKEN_INVALID.
//
// Registry is optional supporting storage for callers without their own:
// a Pebble-backed row per work order with Snapshot/Apply and an end-to-end
// Evaluate used by the HTTP API and CLI.
package lease
