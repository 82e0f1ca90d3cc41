package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/quota"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "none", cfg.AI.Provider)
	assert.Equal(t, 25*time.Second, cfg.Tools.SyncTimeout)
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, 10, cfg.Jobs.MaxPendingPerTenant)
	assert.Equal(t, 3.0, cfg.Anomaly.OutlierK)
	assert.Equal(t, 5*time.Minute, cfg.Anomaly.DuplicateWindow)
	assert.Equal(t, 45, cfg.Anomaly.Weights.AmountOutlier)
	assert.NotEmpty(t, cfg.Anomaly.Signatures)
	assert.Equal(t, 24*time.Hour, cfg.Reconcile.DateTolerance)
	assert.Equal(t, 0.4, cfg.Categorizer.MinConfidence)

	require.NotNil(t, cfg.Location)
	assert.Equal(t, "Africa/Nairobi", cfg.Location.String())
	assert.Same(t, cfg.Location, cfg.Anomaly.Location)

	ai := cfg.Quota.Policy.LimitsFor("any-tenant", domain.CapabilityAI)
	require.Len(t, ai, 2)
	assert.Equal(t, time.Hour, ai[0].Period)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finji.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: UTC
storage:
  driver: sqlite
  sqlite_path: /tmp/finji.db
tools:
  sync_timeout: 5s
  heavy_lines: 50
anomaly:
  velocity_max: 3
  weights:
    off_hours: 20
quota:
  policy:
    defaults:
      ai:
        - period: 1m
          max: 2
    tenants:
      vip:
        ai:
          - period: 1h
            max: 1000
jobs:
  workers: 2
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "/tmp/finji.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 5*time.Second, cfg.Tools.SyncTimeout)
	assert.Equal(t, 50, cfg.Tools.HeavyLines)
	assert.Equal(t, 3, cfg.Anomaly.VelocityMax)
	assert.Equal(t, 20, cfg.Anomaly.Weights.OffHours)
	assert.Equal(t, 35, cfg.Anomaly.Weights.Duplicate, "unset keys keep defaults")
	assert.Equal(t, 2, cfg.Jobs.Workers)
	assert.Equal(t, time.UTC, cfg.Location)

	assert.Equal(t, []int{2}, maxes(cfg.Quota.Policy.LimitsFor("someone", domain.CapabilityAI)))
	assert.Equal(t, []int{1000}, maxes(cfg.Quota.Policy.LimitsFor("vip", domain.CapabilityAI)))
	assert.Empty(t, cfg.Quota.Policy.LimitsFor("someone", domain.CapabilityOCR), "file policy replaces the built-in one")
}

func maxes(limits []quota.Limit) []int {
	var out []int
	for _, l := range limits {
		out = append(out, l.Max)
	}
	return out
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FINJI_SERVER_ADDR", ":9999")
	t.Setenv("FINJI_TOOLS_SYNC_TIMEOUT", "3s")
	t.Setenv("FINJI_AI_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("FINJI_JOBS_WORKERS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Tools.SyncTimeout)
	assert.Equal(t, "gemini", cfg.AI.Provider)
	assert.Equal(t, "secret", cfg.AI.APIKey)
	assert.Equal(t, 7, cfg.Jobs.Workers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadBadTimezone(t *testing.T) {
	t.Setenv("FINJI_TIMEZONE", "Mars/Olympus")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, wantErr: "storage.driver"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage.Driver = "sqlite"; c.Storage.SQLitePath = "" }, wantErr: "sqlite_path"},
		{name: "bigquery without project", mutate: func(c *Config) { c.Storage.BigQuery.Enabled = true; c.Storage.BigQuery.Project = "" }, wantErr: "bigquery"},
		{name: "ai without key", mutate: func(c *Config) { c.AI.Provider = "openai"; c.AI.APIKey = "" }, wantErr: "ai.api_key"},
		{name: "unknown ai provider", mutate: func(c *Config) { c.AI.Provider = "claude" }, wantErr: "ai.provider"},
		{name: "zero sync timeout", mutate: func(c *Config) { c.Tools.SyncTimeout = 0 }, wantErr: "sync_timeout"},
		{name: "no workers", mutate: func(c *Config) { c.Jobs.Workers = 0 }, wantErr: "jobs.workers"},
		{name: "threshold above one", mutate: func(c *Config) { c.Categorizer.MinConfidence = 1.5 }, wantErr: "min_confidence"},
		{name: "bad hours", mutate: func(c *Config) { c.Anomaly.BusinessEndHour = 30 }, wantErr: "business hours"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
