package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/app"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/config"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/logger"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/tools"
)

type rootOptions struct {
	configPath string
	tenantID   string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "finji",
		Short: "Statement extraction, categorization and reconciliation for small businesses",
		Long: `finji runs the tool operations locally against the configured stores.

Point --config at the same file the API server uses (sqlite storage) to work
on the server's data.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML); defaults plus FINJI_* environment when empty")
	cmd.PersistentFlags().StringVar(&opts.tenantID, "tenant", os.Getenv("FINJI_TENANT_ID"), "tenant id (or set FINJI_TENANT_ID)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newExtractCmd(opts),
		newReconcileCmd(opts),
		newDetectCmd(opts),
		newUploadCmd(opts),
		newJobsCmd(opts),
		newWarehouseSyncCmd(opts),
	)
	return cmd
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runtime is an opened application for one command.
type runtime struct {
	app *app.App
	log zerolog.Logger
}

func (o *rootOptions) open(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	log := logger.NewWithLevel(o.logLevel, cfg.Logger.Format)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &runtime{app: a, log: log}, nil
}

func (r *runtime) close() {
	if err := r.app.Close(); err != nil {
		r.log.Warn().Err(err).Msg("close failed")
	}
}

func (o *rootOptions) requireTenant() (string, error) {
	if o.tenantID == "" {
		return "", fmt.Errorf("--tenant is required")
	}
	return o.tenantID, nil
}

// invoke runs one tool operation and prints the envelope. A failed
// envelope is also returned as an error so the exit status reflects it.
func invoke(ctx context.Context, r *runtime, w io.Writer, op tools.Operation, tenantID string, params any) (*tools.Result, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	res := r.app.Dispatcher.Invoke(ctx, tools.Invocation{Operation: op, TenantID: tenantID, Parameters: raw})
	if err := printJSON(w, res); err != nil {
		return nil, err
	}
	if !res.Success {
		return res, fmt.Errorf("%s failed: %s (%s)", op, res.Message, res.ErrorKind)
	}
	return res, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
