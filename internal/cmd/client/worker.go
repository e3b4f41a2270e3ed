package client

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// NewWorkerCommand constructs the `worker` command group.
func NewWorkerCommand(base APIURL) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Worker operations",
	}
	workerCmd.AddCommand(&cobra.Command{
		Use:   "pass",
		Short: "Run one delivery pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(base, "/v1/worker/pass", map[string]string{})
		},
	})
	return workerCmd
}

// NewLedgerCommand constructs the `ledger` command group.
func NewLedgerCommand(base APIURL) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Work-order ledger operations",
	}
	readCmd := &cobra.Command{
		Use:   "read",
		Short: "Read a work order's step-event ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			workOrder, _ := cmd.Flags().GetString("work-order")
			fromSeq, _ := cmd.Flags().GetUint64("from-seq")
			limit, _ := cmd.Flags().GetInt("limit")

			q := url.Values{}
			q.Set("tenant_id", tenant)
			q.Set("work_order_id", workOrder)
			if fromSeq > 0 {
				q.Set("from_seq", fmt.Sprintf("%d", fromSeq))
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprintf("%d", limit))
			}
			return getJSON(base, "/v1/ledger/read?"+q.Encode())
		},
	}
	readCmd.Flags().String("tenant", "default", "Tenant id")
	readCmd.Flags().String("work-order", "", "Work order id")
	readCmd.Flags().Uint64("from-seq", 0, "First sequence to read")
	readCmd.Flags().Int("limit", 0, "Maximum entries to read (0 = all)")
	_ = readCmd.MarkFlagRequired("work-order")
	ledgerCmd.AddCommand(readCmd)
	return ledgerCmd
}
