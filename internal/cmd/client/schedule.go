package client

import (
	"github.com/spf13/cobra"
)

// NewScheduleCommand constructs the `schedule` command group.
func NewScheduleCommand(base APIURL) *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Step scheduling decisions",
	}
	evalCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Compute one retry/wait/fail decision for a step attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			startedAt, _ := cmd.Flags().GetInt64("started-at-ns")
			timeoutMs, _ := cmd.Flags().GetInt64("timeout-ms")
			maxRetries, _ := cmd.Flags().GetInt("max-retries")
			backoffMs, _ := cmd.Flags().GetInt64("backoff-ms")
			attempt, _ := cmd.Flags().GetInt("attempt")
			retryable, _ := cmd.Flags().GetIntSlice("retryable")

			body := map[string]any{
				"step_started_at_ns": startedAt,
				"timeout_ms":         timeoutMs,
				"max_retries":        maxRetries,
				"backoff_ms":         backoffMs,
				"attempt_index":      attempt,
				"retryable_reasons":  retryable,
			}
			if cmd.Flags().Changed("failure-reason") {
				reason, _ := cmd.Flags().GetInt("failure-reason")
				body["last_failure_reason"] = reason
			}
			return postJSON(base, "/v1/schedule/evaluate", body)
		},
	}
	evalCmd.Flags().Int64("started-at-ns", 0, "Step start timestamp (ns)")
	evalCmd.Flags().Int64("timeout-ms", 30_000, "Step timeout budget (ms)")
	evalCmd.Flags().Int("max-retries", 3, "Retry budget for the step")
	evalCmd.Flags().Int64("backoff-ms", 5_000, "Fixed backoff between attempts (ms)")
	evalCmd.Flags().Int("attempt", 0, "Zero-based index of the attempt just finished")
	evalCmd.Flags().Int("failure-reason", 0, "Failure reason code of the attempt, if it failed")
	evalCmd.Flags().IntSlice("retryable", nil, "Reason codes considered retryable")
	_ = evalCmd.MarkFlagRequired("started-at-ns")
	scheduleCmd.AddCommand(evalCmd)
	return scheduleCmd
}
