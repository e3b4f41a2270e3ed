package client

import (
	"github.com/spf13/cobra"
)

// NewLeaseCommand constructs the `lease` command group and subcommands.
func NewLeaseCommand(base APIURL) *cobra.Command {
	leaseCmd := &cobra.Command{
		Use:   "lease",
		Short: "Lease operations (acquire, renew, release a work order)",
	}
	leaseCmd.AddCommand(
		newLeaseOpCommand(base, "acquire", "Acquire a lease on a work order"),
		newLeaseOpCommand(base, "renew", "Renew a held lease"),
		newLeaseOpCommand(base, "release", "Release a held lease"),
	)
	return leaseCmd
}

func newLeaseOpCommand(base APIURL, op, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   op,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			workOrder, _ := cmd.Flags().GetString("work-order")
			owner, _ := cmd.Flags().GetString("owner")
			ttlMs, _ := cmd.Flags().GetInt64("ttl-ms")
			token, _ := cmd.Flags().GetString("token")

			body := map[string]any{
				"tenant_id":     tenant,
				"work_order_id": workOrder,
				"owner_id":      owner,
			}
			if ttlMs > 0 {
				body["ttl_ms"] = ttlMs
			}
			if token != "" {
				body["token"] = token
			}
			return postJSON(base, "/v1/lease/"+op, body)
		},
	}
	cmd.Flags().String("tenant", "default", "Tenant id")
	cmd.Flags().String("work-order", "", "Work order id")
	cmd.Flags().String("owner", "", "Owner id (scheduler instance identity)")
	cmd.Flags().Int64("ttl-ms", 60_000, "Requested lease TTL in milliseconds")
	cmd.Flags().String("token", "", "Lease token (required for renew/release)")
	_ = cmd.MarkFlagRequired("work-order")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
