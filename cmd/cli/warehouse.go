package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/logger"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/warehouse"
)

func newWarehouseSyncCmd(root *rootOptions) *cobra.Command {
	var (
		from, to string
		days     int
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "warehouse-sync",
		Short: "Backfill the BigQuery warehouse from the primary store",
		Long: `Copy a tenant's transactions and alerts from the primary store into BigQuery.

Writes are mirrored as they happen; this repairs gaps left by warehouse
outages. Rows already in the warehouse are skipped.

Examples:
  finji warehouse-sync --tenant shop-1 --days 30 --dry-run
  finji warehouse-sync --tenant shop-1 --from 2025-01-01 --to 2025-04-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := root.requireTenant()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			r, err := root.open(ctx)
			if err != nil {
				return err
			}
			defer r.close()

			if r.app.Warehouse == nil {
				return fmt.Errorf("storage.bigquery is not enabled")
			}

			var window domain.Period
			if from != "" || to != "" {
				window, err = parsePeriod(from, to, r.app.Config.Location)
				if err != nil {
					return err
				}
			} else {
				end := time.Now().In(r.app.Config.Location)
				window = domain.Period{Start: end.AddDate(0, 0, -days), End: end}
			}

			ctx = logger.WithContext(ctx, r.log)
			rep, err := warehouse.Sync(ctx, r.app.Primary, r.app.Warehouse, tenantID, window, dryRun)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
				return err
			}
			if rep.FailedBatches > 0 {
				return fmt.Errorf("%d batches failed", rep.FailedBatches)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "window end, YYYY-MM-DD, exclusive")
	cmd.Flags().IntVar(&days, "days", 7, "window length ending now, when --from/--to are not set")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count what would be copied without writing")
	return cmd
}
