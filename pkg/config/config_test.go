package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuskdata/tusk/pkg/types"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tusk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, DefaultScheduler().Validate())
	require.NoError(t, DefaultWorker().Validate())
}

func TestLoadSchedulerLayers(t *testing.T) {
	path := writeFile(t, `
data_dir: /var/lib/tusk
api_addr: 0.0.0.0:7070
max_retries: 5
heartbeat_grace: 45s
log:
  level: debug
`)
	t.Setenv("TUSK_MAX_RETRIES", "7")
	t.Setenv("TUSK_LOG_JSON", "true")

	fs := pflag.NewFlagSet("scheduler", pflag.ContinueOnError)
	RegisterSchedulerFlags(fs)
	require.NoError(t, fs.Parse([]string{"--heartbeat-grace=1m"}))

	cfg, err := LoadScheduler(path, fs)
	require.NoError(t, err)

	// file over defaults
	assert.Equal(t, "/var/lib/tusk", cfg.DataDir)
	assert.Equal(t, "0.0.0.0:7070", cfg.APIAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
	// environment over file
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.True(t, cfg.Log.JSON)
	// explicit flags over environment and file
	assert.Equal(t, time.Minute, cfg.HeartbeatGrace)
	// untouched defaults
	assert.Equal(t, "bolt", cfg.ResultBackend)
	assert.Equal(t, 5*time.Minute, cfg.EvictAfter)
}

func TestUnsetFlagsDoNotOverride(t *testing.T) {
	path := writeFile(t, "api_addr: 10.0.0.5:7070\n")

	fs := pflag.NewFlagSet("scheduler", pflag.ContinueOnError)
	RegisterSchedulerFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := LoadScheduler(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:7070", cfg.APIAddr)
}

func TestLoadWorker(t *testing.T) {
	path := writeFile(t, `
scheduler_addr: scheduler:7070
capacity: 8
engine: synthetic
engine_config:
  batch_size: 50
  datasources:
    sales: file:/data/sales.db
`)
	t.Setenv("TUSK_ENGINE_DSN", "file:/data/default.db")

	fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	RegisterWorkerFlags(fs)
	require.NoError(t, fs.Parse([]string{"--capacity", "4"}))

	cfg, err := LoadWorker(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "scheduler:7070", cfg.SchedulerAddr)
	assert.Equal(t, 4, cfg.Capacity)
	assert.Equal(t, "synthetic", cfg.Engine)
	assert.Equal(t, 50, cfg.EngineConfig.BatchSize)
	assert.Equal(t, "file:/data/default.db", cfg.EngineConfig.DSN)
	assert.Equal(t, map[string]string{"sales": "file:/data/sales.db"}, cfg.EngineConfig.Datasources)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := LoadWorker("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultWorker().Capacity, cfg.Capacity)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadScheduler(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	_, err = LoadScheduler(writeFile(t, "max_retries: [1, 2]\n"), nil)
	assert.Error(t, err)

	_, err = LoadScheduler(writeFile(t, "max_retriez: 3\n"), nil)
	assert.Error(t, err, "unknown keys are rejected")

	t.Setenv("TUSK_CAPACITY", "lots")
	_, err = LoadWorker("", nil)
	assert.Error(t, err)
}

func TestSchedulerValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Scheduler)
	}{
		{"missing data dir", func(c *Scheduler) { c.DataDir = "" }},
		{"bad api addr", func(c *Scheduler) { c.APIAddr = "not an address" }},
		{"bad health addr", func(c *Scheduler) { c.HealthAddr = "nope" }},
		{"negative retries", func(c *Scheduler) { c.MaxRetries = -1 }},
		{"zero schedule interval", func(c *Scheduler) { c.ScheduleInterval = 0 }},
		{"unknown result backend", func(c *Scheduler) { c.ResultBackend = "s3" }},
		{"minio without endpoint", func(c *Scheduler) { c.ResultBackend = "minio" }},
		{"backoff above max", func(c *Scheduler) { c.RescheduleBackoff = time.Hour }},
		{"bad log level", func(c *Scheduler) { c.Log.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultScheduler()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}

	cfg := DefaultScheduler()
	cfg.HealthAddr = ""
	cfg.ResultBackend = "minio"
	cfg.Minio.Endpoint = "localhost:9000"
	assert.NoError(t, cfg.Validate())
}

func TestWorkerValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Worker)
	}{
		{"zero capacity", func(c *Worker) { c.Capacity = 0 }},
		{"no scheduler", func(c *Worker) { c.SchedulerAddr = "" }},
		{"no engine", func(c *Worker) { c.Engine = "" }},
		{"zero heartbeat", func(c *Worker) { c.HeartbeatInterval = 0 }},
		{"negative batch size", func(c *Worker) { c.EngineConfig.BatchSize = -1 }},
		{"bad metrics addr", func(c *Worker) { c.MetricsAddr = "nowhere" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultWorker()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), types.ErrValidation)
		})
	}
}
