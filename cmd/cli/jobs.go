package main

import (
	"github.com/spf13/cobra"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/jobs"
)

func newJobsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and cancel queued jobs",
	}

	status := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := root.requireTenant()
			if err != nil {
				return err
			}
			r, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer r.close()

			job, err := r.app.Queue.Status(cmd.Context(), tenantID, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}

	var (
		state  string
		limit  int
		offset int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List the tenant's jobs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := root.requireTenant()
			if err != nil {
				return err
			}
			r, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer r.close()

			found, err := r.app.Queue.List(cmd.Context(), jobs.Filter{
				TenantID: tenantID,
				State:    jobs.State(state),
				Limit:    limit,
				Offset:   offset,
			})
			if err != nil {
				return err
			}
			if found == nil {
				found = []*jobs.QueueJob{}
			}
			return printJSON(cmd.OutOrStdout(), found)
		},
	}
	list.Flags().StringVar(&state, "state", "", "only jobs in this state (queued, processing, completed, failed)")
	list.Flags().IntVar(&limit, "limit", 20, "maximum jobs to show")
	list.Flags().IntVar(&offset, "offset", 0, "jobs to skip")

	cancel := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := root.requireTenant()
			if err != nil {
				return err
			}
			r, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer r.close()

			job, err := r.app.Queue.Cancel(cmd.Context(), tenantID, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}

	cmd.AddCommand(status, list, cancel)
	return cmd
}
