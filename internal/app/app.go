// Package app builds the service graph from configuration. The api, worker
// and cli binaries share it so every entry point runs the same components.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/ai"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/anomaly"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/categorizer"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/config"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/gcs"
	bq "github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/infra/bigquery"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/infra/inmemory"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/infra/sqlite"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/jobs"
	jobstore "github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/jobs/inmemory"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/parser"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/pipeline"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/quota"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/reconcile"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/tools"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/warehouse"
)

// App holds the wired components. Optional ones are nil when disabled.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	// Store is the transaction and alert store, mirrored into the
	// warehouse when BigQuery is enabled.
	Store      warehouse.Primary
	Primary    warehouse.Primary
	Warehouse  *bq.Store
	Objects    *gcs.Client
	Queue      *jobs.Queue
	Quota      *quota.Manager
	Dispatcher *tools.Dispatcher

	closers []func() error
}

// New wires every component described by cfg. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	patterns, jobStore, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Storage.BigQuery.Enabled {
		wh, err := bq.NewStore(ctx, cfg.Storage.BigQuery.Project, cfg.Storage.BigQuery.Dataset)
		if err != nil {
			return nil, fmt.Errorf("failed to open warehouse: %w", err)
		}
		a.closers = append(a.closers, wh.Close)
		a.Warehouse = wh
		a.Store = warehouse.NewMirror(a.Primary, wh, log)
	}

	quotaStore, err := a.openQuotaStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Quota = quota.NewManager(quotaStore, cfg.Quota.Policy, log)

	aiCap, ocrCap, err := a.openAI(ctx)
	if err != nil {
		return nil, err
	}

	deps := tools.Deps{
		Quota:        a.Quota,
		Transactions: a.Store,
	}
	if cfg.Storage.GCS.Enabled {
		objects, err := gcs.NewClient(ctx, cfg.Storage.GCS.MaxObjectBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to open object storage: %w", err)
		}
		a.closers = append(a.closers, objects.Close)
		a.Objects = objects
		deps.Objects = objects
	}
	if cfg.Quota.RequestsPerSecond > 0 {
		deps.Limiter = quota.NewRateLimiter(cfg.Quota.RequestsPerSecond, cfg.Quota.Burst)
	}

	extractor := pipeline.NewExtractor(parser.New(cfg.Location), aiCap, ocrCap, a.Quota,
		pipeline.ExtractorConfig{AITimeout: cfg.AI.Timeout, OCRTimeout: cfg.AI.OCRTimeout}, log)
	normalizer := pipeline.NewNormalizer(pipeline.NormalizerConfig{
		MaxAge:           cfg.Pipeline.MaxAge,
		FutureSkew:       cfg.Pipeline.FutureSkew,
		CountryCode:      cfg.Pipeline.CountryCode,
		SubscriberDigits: cfg.Pipeline.SubscriberDigits,
	})
	cat := categorizer.New(patterns, a.Store, cfg.Categorizer, log)
	deps.Categorizer = cat
	deps.Ingestor = pipeline.NewIngestor(extractor, normalizer, cat, a.Store,
		pipeline.ChunkOptions{Size: cfg.Pipeline.ChunkSize, Pause: cfg.Pipeline.ChunkPause}, log)

	detector, err := anomaly.New(cfg.Anomaly, a.Store, a.Store, log)
	if err != nil {
		return nil, fmt.Errorf("invalid anomaly config: %w", err)
	}
	deps.Detector = detector
	deps.Reconciler = reconcile.NewReconciler(a.Store, cfg.Reconcile, log)

	a.Queue = jobs.NewQueue(jobStore, cfg.Jobs, log)
	deps.Jobs = a.Queue

	a.Dispatcher = tools.New(deps, cfg.Tools, log)
	a.Dispatcher.RegisterJobs(a.Queue)

	log.Info().
		Str("storage", cfg.Storage.Driver).
		Bool("warehouse", a.Warehouse != nil).
		Bool("object_storage", a.Objects != nil).
		Bool("redis", cfg.Redis.Addr != "").
		Str("ai_provider", cfg.AI.Provider).
		Msg("application wired")
	return a, nil
}

func (a *App) openStorage(ctx context.Context) (categorizer.PatternStore, jobs.Store, error) {
	switch a.Config.Storage.Driver {
	case "sqlite":
		db, err := sqlite.Open(ctx, a.Config.Storage.SQLitePath, a.Log)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.Primary, a.Store = db, db
		return db, db.Jobs(), nil
	case "memory":
		mem := inmemory.NewStore()
		a.Primary, a.Store = mem, mem
		return categorizer.NewMemoryPatternStore(), jobstore.NewStore(), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", a.Config.Storage.Driver)
	}
}

func (a *App) openQuotaStore(ctx context.Context) (quota.Store, error) {
	rc := a.Config.Redis
	if rc.Addr == "" {
		return quota.NewMemoryStore(), nil
	}
	client, err := quota.NewRedisClient(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return quota.NewRedisStore(client, rc.Prefix), nil
}

// openAI returns nil capabilities for provider "none"; the extractor then
// runs rules only.
func (a *App) openAI(ctx context.Context) (pipeline.AICapability, pipeline.OCRCapability, error) {
	ac := a.Config.AI
	switch ac.Provider {
	case "gemini":
		g, err := ai.NewGemini(ctx, ac.APIKey, ac.Model, a.Config.Location)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		return g, g, nil
	case "openai":
		o := ai.NewOpenAI(ac.APIKey, ac.BaseURL, ac.Model, a.Config.Location)
		return o, o, nil
	default:
		return nil, nil, nil
	}
}

// Close releases every opened resource, last opened first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
