// Package schedule implements keel's step scheduler: given a step attempt's
// timing, retry budget, and failure history, it decides to retry at a
// future time, wait without progress, or fail permanently.
//
// Like the lease coordinator, the scheduler is a pure decision pair:
// PolicyEvaluate derives facts, DecisionCompute picks exactly one action.
// Wait and Fail are first-class outcomes, not errors. The backoff is a
// fixed, caller-supplied delay per step; the scheduler never owns a clock
// or a loop.
package schedule
