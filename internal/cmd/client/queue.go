package client

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// NewQueueCommand constructs the `queue` command group and subcommands.
func NewQueueCommand(base APIURL) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Sync queue operations (enqueue, stats, dead letters, requeue)",
	}
	queueCmd.AddCommand(
		newQueueEnqueueCommand(base),
		newQueueStatsCommand(base),
		newQueueDeadLettersCommand(base),
		newQueueRequeueCommand(base),
	)
	return queueCmd
}

func newQueueEnqueueCommand(base APIURL) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a sync job",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			receipt, _ := cmd.Flags().GetString("receipt")
			profile, _ := cmd.Flags().GetString("profile")
			session, _ := cmd.Flags().GetString("session")
			tenant, _ := cmd.Flags().GetString("tenant")
			user, _ := cmd.Flags().GetString("user")
			device, _ := cmd.Flags().GetString("device")
			idemKey, _ := cmd.Flags().GetString("idempotency-key")

			return postJSON(base, "/v1/queue/enqueue", map[string]string{
				"sync_kind":             kind,
				"receipt_ref":           receipt,
				"artifact_profile_id":   profile,
				"onboarding_session_id": session,
				"tenant_id":             tenant,
				"user_id":               user,
				"device_id":             device,
				"idempotency_key":       idemKey,
			})
		},
	}
	cmd.Flags().String("kind", "", "Sync kind (e.g. artifact_upload)")
	cmd.Flags().String("receipt", "", "Receipt ref")
	cmd.Flags().String("profile", "", "Artifact profile id")
	cmd.Flags().String("session", "", "Onboarding session id (optional)")
	cmd.Flags().String("tenant", "default", "Tenant id")
	cmd.Flags().String("user", "", "User id (optional)")
	cmd.Flags().String("device", "", "Device id")
	cmd.Flags().String("idempotency-key", "", "Idempotency key (generated when empty)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

func newQueueStatsCommand(base APIURL) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue state counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(base, "/v1/queue/stats")
		},
	}
}

func newQueueDeadLettersCommand(base APIURL) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dlq"},
		Short:   "List dead-lettered jobs, optionally filtered with CEL",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")
			q := url.Values{}
			if filter != "" {
				q.Set("filter", filter)
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprintf("%d", limit))
			}
			path := "/v1/queue/deadletters"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			return getJSON(base, path)
		},
	}
	cmd.Flags().String("filter", "", `CEL filter, e.g. 'kind == "artifact_upload" && attempt_count >= 3'`)
	cmd.Flags().Int("limit", 100, "Maximum rows to list")
	return cmd
}

func newQueueRequeueCommand(base APIURL) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Return a dead-lettered job to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, _ := cmd.Flags().GetString("id")
			return postJSON(base, "/v1/queue/requeue", map[string]string{"sync_job_id": jobID})
		},
	}
	cmd.Flags().String("id", "", "Sync job id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
