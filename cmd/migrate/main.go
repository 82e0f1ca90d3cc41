package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/infra/bigquery"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/logger"
)

type options struct {
	projectID string
	datasetID string
	appliedBy string
	dryRun    bool
	timeout   time.Duration
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.StringVar(&o.projectID, "project", os.Getenv("FINJI_STORAGE_BIGQUERY_PROJECT"), "GCP project ID (required)")
	fs.StringVar(&o.datasetID, "dataset", "finji", "BigQuery dataset ID")
	fs.StringVar(&o.appliedBy, "applied-by", "migrate-cli", "Name recorded in schema_migrations")
	fs.BoolVar(&o.dryRun, "dry-run", false, "List migrations without applying them")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Minute, "Overall timeout")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.projectID == "" {
		return o, errors.New("-project flag is required")
	}
	if o.datasetID == "" {
		return o, errors.New("-dataset must not be empty")
	}
	return o, nil
}

func main() {
	log := logger.New()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("invalid flags")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if opts.dryRun {
		migrations, err := bigquery.Migrations(opts.projectID, opts.datasetID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read migrations")
		}
		for _, m := range migrations {
			log.Info().Int("version", m.Version).Str("name", m.Name).Str("checksum", m.Checksum[:12]).Msg("migration")
		}
		return
	}

	store, err := bigquery.NewStore(ctx, opts.projectID, opts.datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create BigQuery client")
	}
	defer store.Close()

	log.Info().Str("project", opts.projectID).Str("dataset", opts.datasetID).Msg("connected to BigQuery")

	n, err := store.Migrate(ctx, opts.appliedBy, log)
	if err != nil {
		log.Fatal().Err(err).Int("applied", n).Msg("migration failed")
	}
	if n == 0 {
		log.Info().Msg("no new migrations to apply, dataset is up to date")
		return
	}
	log.Info().Int("applied", n).Msg("migrations applied")
}
