package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/gcs"
)

func newUploadCmd(root *rootOptions) *cobra.Command {
	var (
		bucket      string
		object      string
		contentType string
	)
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a statement to Cloud Storage and print its gs:// URI",
		Long: `Upload a statement file so it can be extracted by URI.

Example:
  finji upload --bucket statements march.txt
  finji extract --tenant shop-1 --uri gs://statements/march.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := root.open(ctx)
			if err != nil {
				return err
			}
			defer r.close()

			if bucket == "" {
				bucket = r.app.Config.Storage.GCS.Bucket
			}
			if bucket == "" {
				return fmt.Errorf("--bucket is required when storage.gcs.bucket is not configured")
			}
			if object == "" {
				object = filepath.Base(args[0])
			}

			client := r.app.Objects
			if client == nil {
				client, err = gcs.NewClient(ctx, r.app.Config.Storage.GCS.MaxObjectBytes)
				if err != nil {
					return err
				}
				defer client.Close()
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()

			uri, err := client.Upload(ctx, bucket, object, f, contentType)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "destination bucket (default storage.gcs.bucket)")
	cmd.Flags().StringVar(&object, "object", "", "object name (default the file's base name)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (default guessed from the extension)")
	return cmd
}
