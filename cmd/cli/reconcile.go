package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/tools"
)

const dateLayout = "2006-01-02"

func newReconcileCmd(root *rootOptions) *cobra.Command {
	var (
		ledgerPath string
		from, to   string
		wait       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Match stored transactions against ledger entries for a period",
		Long: `Match stored transactions against ledger entries.

The ledger file is a JSON array of {"id","date","amount","counterparty","description"}.
--to is exclusive.

Example:
  finji reconcile --tenant shop-1 --ledger march.json --from 2025-03-01 --to 2025-04-01`,
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

			period, err := parsePeriod(from, to, r.app.Config.Location)
			if err != nil {
				return err
			}
			entries, err := readLedger(ledgerPath)
			if err != nil {
				return err
			}
			return invokeAndWait(ctx, r, cmd, tools.OpReconcile, tenantID, tools.ReconcileParams{Period: period, Entries: entries}, wait)
		},
	}
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "ledger entries JSON file (required)")
	cmd.Flags().StringVar(&from, "from", "", "period start, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&to, "to", "", "period end, YYYY-MM-DD, exclusive (required)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "when the call is queued, run the job in this process and wait up to this long (not while a worker shares the database)")
	_ = cmd.MarkFlagRequired("ledger")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newDetectCmd(root *rootOptions) *cobra.Command {
	var (
		from, to string
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Scan stored transactions for anomalies",
		Args:  cobra.NoArgs,
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

			params := tools.DetectParams{DryRun: dryRun}
			if from != "" || to != "" {
				period, err := parsePeriod(from, to, r.app.Config.Location)
				if err != nil {
					return err
				}
				params.From, params.To = period.Start, period.End
			}
			_, err = invoke(ctx, r, cmd.OutOrStdout(), tools.OpDetectAnomalies, tenantID, params)
			return err
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start, YYYY-MM-DD (default: the configured look-back)")
	cmd.Flags().StringVar(&to, "to", "", "window end, YYYY-MM-DD, exclusive")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report alerts without storing them")
	return cmd
}

// parsePeriod parses [from, to) dates in loc.
func parsePeriod(from, to string, loc *time.Location) (domain.Period, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(dateLayout, from, loc)
	if err != nil {
		return domain.Period{}, fmt.Errorf("invalid --from %q: %w", from, err)
	}
	end, err := time.ParseInLocation(dateLayout, to, loc)
	if err != nil {
		return domain.Period{}, fmt.Errorf("invalid --to %q: %w", to, err)
	}
	if !end.After(start) {
		return domain.Period{}, fmt.Errorf("--to must be after --from")
	}
	return domain.Period{Start: start, End: end}, nil
}

func readLedger(path string) ([]domain.LedgerEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	var entries []domain.LedgerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse ledger %s: %w", path, err)
	}
	return entries, nil
}
