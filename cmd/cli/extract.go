package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/jobs"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/tools"
)

func newExtractCmd(root *rootOptions) *cobra.Command {
	var (
		uri     string
		dryRun  bool
		wait    time.Duration
		mimeTyp string
	)
	cmd := &cobra.Command{
		Use:   "extract [file|-]",
		Short: "Extract transactions from a statement file, stdin or a gs:// object",
		Long: `Extract transactions from statement text or a screenshot.

Examples:
  # Text export
  finji extract --tenant shop-1 statement.txt

  # Screenshot (needs an AI provider for OCR)
  finji extract --tenant shop-1 --mime-type image/png screenshot.png

  # Object already uploaded with "finji upload"; runs as a job
  finji extract --tenant shop-1 --uri gs://statements/march.txt --wait 2m`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := root.requireTenant()
			if err != nil {
				return err
			}
			params := tools.ExtractParams{URI: uri, DryRun: dryRun, MIMEType: mimeTyp}
			if uri == "" {
				if len(args) == 0 {
					return fmt.Errorf("a file, - or --uri is required")
				}
				data, err := readInput(cmd.InOrStdin(), args[0])
				if err != nil {
					return err
				}
				if mimeTyp != "" {
					params.Image = data
				} else {
					params.Text = string(data)
				}
			}

			ctx := cmd.Context()
			r, err := root.open(ctx)
			if err != nil {
				return err
			}
			defer r.close()

			return invokeAndWait(ctx, r, cmd, tools.OpExtract, tenantID, params, wait)
		},
	}
	cmd.Flags().StringVar(&uri, "uri", "", "gs:// URI of an uploaded statement")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "extract without saving")
	cmd.Flags().StringVar(&mimeTyp, "mime-type", "", "treat the input as an image of this type")
	cmd.Flags().DurationVar(&wait, "wait", 0, "when the call is queued, run the job in this process and wait up to this long (not while a worker shares the database)")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// invokeAndWait invokes op and, when it was queued and wait is positive,
// runs the queue in this process until the job finishes.
func invokeAndWait(ctx context.Context, r *runtime, cmd *cobra.Command, op tools.Operation, tenantID string, params any, wait time.Duration) error {
	res, err := invoke(ctx, r, cmd.OutOrStdout(), op, tenantID, params)
	if err != nil {
		return err
	}
	queued, ok := res.Data.(tools.Queued)
	if !ok || wait <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := r.app.Queue.Start(ctx); err != nil {
		return err
	}
	defer r.app.Queue.Stop(context.WithoutCancel(ctx))

	job, err := waitForJob(ctx, r.app.Queue, tenantID, queued.JobID)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), job); err != nil {
		return err
	}
	if job.State == jobs.StateFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	}
	return nil
}

type jobStatuser interface {
	Status(ctx context.Context, tenantID, id string) (*jobs.QueueJob, error)
}

func waitForJob(ctx context.Context, q jobStatuser, tenantID, id string) (*jobs.QueueJob, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		job, err := q.Status(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		if job.State.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("job %s still %s: %w", id, job.State, ctx.Err())
		case <-ticker.C:
		}
	}
}
