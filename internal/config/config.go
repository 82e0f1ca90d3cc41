// Package config loads service configuration from an optional YAML file and
// FINJI_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/anomaly"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/categorizer"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/jobs"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/quota"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/reconcile"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/tools"
)

// EnvPrefix namespaces environment overrides, e.g. FINJI_SERVER_ADDR.
const EnvPrefix = "FINJI"

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Logger      LoggerConfig       `mapstructure:"logger"`
	Timezone    string             `mapstructure:"timezone"`
	Storage     StorageConfig      `mapstructure:"storage"`
	AI          AIConfig           `mapstructure:"ai"`
	Redis       RedisConfig        `mapstructure:"redis"`
	Quota       QuotaConfig        `mapstructure:"quota"`
	Tools       tools.Config       `mapstructure:"tools"`
	Pipeline    PipelineConfig     `mapstructure:"pipeline"`
	Categorizer categorizer.Config `mapstructure:"categorizer"`
	Anomaly     anomaly.Config     `mapstructure:"anomaly"`
	Reconcile   reconcile.Config   `mapstructure:"reconcile"`
	Jobs        jobs.Config        `mapstructure:"jobs"`

	// Location is Timezone resolved by Load.
	Location *time.Location `mapstructure:"-"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggerConfig holds logger configuration.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects the transactional store and the optional warehouse.
type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver     string         `mapstructure:"driver"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	BigQuery   BigQueryConfig `mapstructure:"bigquery"`
	GCS        GCSConfig      `mapstructure:"gcs"`
}

// BigQueryConfig enables mirroring transactions and alerts into a warehouse.
type BigQueryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Project string `mapstructure:"project"`
	Dataset string `mapstructure:"dataset"`
}

// GCSConfig controls fetching statements referenced by gs:// URIs.
type GCSConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Bucket         string `mapstructure:"bucket"`
	MaxObjectBytes int64  `mapstructure:"max_object_bytes"`
}

// AIConfig selects the optional extraction capability.
type AIConfig struct {
	// Provider is "gemini", "openai" or "none".
	Provider   string        `mapstructure:"provider"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	OCRTimeout time.Duration `mapstructure:"ocr_timeout"`
}

// RedisConfig enables the shared quota store. An empty Addr keeps quotas in memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QuotaConfig holds capability windows and request admission limits.
type QuotaConfig struct {
	Policy            quota.Policy `mapstructure:"policy"`
	RequestsPerSecond float64      `mapstructure:"requests_per_second"`
	Burst             int          `mapstructure:"burst"`
}

// PipelineConfig sizes ingestion batches and normalization bounds.
type PipelineConfig struct {
	ChunkSize        int           `mapstructure:"chunk_size"`
	ChunkPause       time.Duration `mapstructure:"chunk_pause"`
	MaxAge           time.Duration `mapstructure:"max_age"`
	FutureSkew       time.Duration `mapstructure:"future_skew"`
	CountryCode      string        `mapstructure:"country_code"`
	SubscriberDigits int           `mapstructure:"subscriber_digits"`
}

// Load reads configuration from path (optional; "" means defaults and
// environment only), applies FINJI_* overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Quota.Policy.Defaults) == 0 {
		cfg.Quota.Policy.Defaults = DefaultQuotaLimits()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc
	cfg.Anomaly.Location = loc
	cfg.Reconcile.Location = loc

	return &cfg, nil
}

// DefaultQuotaLimits meters the optional capabilities per hour and per day.
func DefaultQuotaLimits() map[string][]quota.Limit {
	return map[string][]quota.Limit{
		domain.CapabilityAI: {
			{Period: time.Hour, Max: 100},
			{Period: 24 * time.Hour, Max: 1000},
		},
		domain.CapabilityOCR: {
			{Period: time.Hour, Max: 30},
			{Period: 24 * time.Hour, Max: 200},
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("timezone", "Africa/Nairobi")

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.sqlite_path", "data/finji.db")
	v.SetDefault("storage.bigquery.enabled", false)
	v.SetDefault("storage.bigquery.project", "")
	v.SetDefault("storage.bigquery.dataset", "finji")
	v.SetDefault("storage.gcs.enabled", false)
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.max_object_bytes", 20<<20)

	v.SetDefault("ai.provider", "none")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.timeout", 15*time.Second)
	v.SetDefault("ai.ocr_timeout", 20*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "finji:quota")

	v.SetDefault("quota.requests_per_second", 5.0)
	v.SetDefault("quota.burst", 10)

	tc := tools.DefaultConfig()
	v.SetDefault("tools.sync_timeout", tc.SyncTimeout)
	v.SetDefault("tools.heavy_text_bytes", tc.HeavyTextBytes)
	v.SetDefault("tools.heavy_lines", tc.HeavyLines)
	v.SetDefault("tools.heavy_transactions", tc.HeavyTransactions)
	v.SetDefault("tools.max_text_bytes", tc.MaxTextBytes)
	v.SetDefault("tools.detection_window", tc.DetectionWindow)
	v.SetDefault("tools.analytics_parallelism", tc.AnalyticsParallelism)
	v.SetDefault("tools.chunk_size", tc.ChunkSize)

	v.SetDefault("pipeline.chunk_size", 100)
	v.SetDefault("pipeline.chunk_pause", 10*time.Millisecond)
	v.SetDefault("pipeline.max_age", 5*365*24*time.Hour)
	v.SetDefault("pipeline.future_skew", 24*time.Hour)
	v.SetDefault("pipeline.country_code", "254")
	v.SetDefault("pipeline.subscriber_digits", 9)

	cat := categorizer.DefaultConfig()
	v.SetDefault("categorizer.min_confidence", cat.MinConfidence)
	v.SetDefault("categorizer.prior", cat.Prior)
	v.SetDefault("categorizer.reinforce_increment", cat.ReinforceIncrement)
	v.SetDefault("categorizer.correction_increment", cat.CorrectionIncrement)
	v.SetDefault("categorizer.seed_weight", cat.SeedWeight)

	an := anomaly.DefaultConfig()
	v.SetDefault("anomaly.outlier_k", an.OutlierK)
	v.SetDefault("anomaly.min_history", an.MinHistory)
	v.SetDefault("anomaly.min_relative_deviation", an.MinRelativeDeviation)
	v.SetDefault("anomaly.absolute_ceiling", an.AbsoluteCeiling)
	v.SetDefault("anomaly.duplicate_window", an.DuplicateWindow)
	v.SetDefault("anomaly.velocity_window", an.VelocityWindow)
	v.SetDefault("anomaly.velocity_max", an.VelocityMax)
	v.SetDefault("anomaly.business_start_hour", an.BusinessStartHour)
	v.SetDefault("anomaly.business_end_hour", an.BusinessEndHour)
	v.SetDefault("anomaly.weights.amount_outlier", an.Weights.AmountOutlier)
	v.SetDefault("anomaly.weights.duplicate", an.Weights.Duplicate)
	v.SetDefault("anomaly.weights.velocity", an.Weights.Velocity)
	v.SetDefault("anomaly.weights.off_hours", an.Weights.OffHours)
	v.SetDefault("anomaly.weights.fraud_pattern", an.Weights.FraudPattern)
	v.SetDefault("anomaly.signatures", an.Signatures)

	rc := reconcile.DefaultConfig()
	v.SetDefault("reconcile.date_tolerance", rc.DateTolerance)
	v.SetDefault("reconcile.amount_weight", rc.AmountWeight)
	v.SetDefault("reconcile.date_weight", rc.DateWeight)
	v.SetDefault("reconcile.counterparty_weight", rc.CounterpartyWeight)

	jc := jobs.DefaultConfig()
	v.SetDefault("jobs.workers", jc.Workers)
	v.SetDefault("jobs.max_pending_per_tenant", jc.MaxPendingPerTenant)
	v.SetDefault("jobs.job_timeout", jc.JobTimeout)
	v.SetDefault("jobs.poll_interval", jc.PollInterval)
}

// bindEnvVars binds credentials that conventionally live under their
// provider's own variable names.
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("ai.api_key", "FINJI_AI_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("storage.bigquery.project", "FINJI_STORAGE_BIGQUERY_PROJECT", "GOOGLE_CLOUD_PROJECT")
	_ = v.BindEnv("redis.addr", "FINJI_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "FINJI_REDIS_PASSWORD", "REDIS_PASSWORD")
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be memory or sqlite, got %q", c.Storage.Driver))
	}
	if c.Storage.BigQuery.Enabled && (c.Storage.BigQuery.Project == "" || c.Storage.BigQuery.Dataset == "") {
		errs = append(errs, errors.New("storage.bigquery.project and storage.bigquery.dataset are required when bigquery is enabled"))
	}

	switch c.AI.Provider {
	case "none":
	case "gemini", "openai":
		if c.AI.APIKey == "" {
			errs = append(errs, fmt.Errorf("ai.api_key is required for provider %s", c.AI.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("ai.provider must be gemini, openai or none, got %q", c.AI.Provider))
	}

	if c.Tools.SyncTimeout <= 0 {
		errs = append(errs, errors.New("tools.sync_timeout must be positive"))
	}
	if c.Jobs.Workers < 1 {
		errs = append(errs, errors.New("jobs.workers must be at least 1"))
	}
	if c.Jobs.MaxPendingPerTenant < 1 {
		errs = append(errs, errors.New("jobs.max_pending_per_tenant must be at least 1"))
	}
	if c.Categorizer.MinConfidence < 0 || c.Categorizer.MinConfidence > 1 {
		errs = append(errs, errors.New("categorizer.min_confidence must be within [0, 1]"))
	}
	if c.Anomaly.BusinessStartHour < 0 || c.Anomaly.BusinessStartHour > 23 ||
		c.Anomaly.BusinessEndHour < 0 || c.Anomaly.BusinessEndHour > 24 {
		errs = append(errs, errors.New("anomaly business hours must be within 0-24"))
	}
	if c.Anomaly.OutlierK <= 0 {
		errs = append(errs, errors.New("anomaly.outlier_k must be positive"))
	}
	if c.Reconcile.DateTolerance < 0 {
		errs = append(errs, errors.New("reconcile.date_tolerance must not be negative"))
	}
	for capability, limits := range c.Quota.Policy.Defaults {
		for _, l := range limits {
			if l.Period <= 0 || l.Max < 1 {
				errs = append(errs, fmt.Errorf("quota.policy.defaults.%s: period and max must be positive", capability))
			}
		}
	}

	return errors.Join(errs...)
}
