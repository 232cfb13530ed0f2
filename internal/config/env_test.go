package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"WORKER_CONCURRENCY", "QUEUE_CAPACITY", "RETENTION_WINDOW", "REGISTRY_BACKEND", "QUEUE_BACKEND", "TASK_TIMEOUT", "S3_BUCKET"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()

	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 100, cfg.Worker.QueueCapacity)
	assert.Equal(t, time.Duration(0), cfg.Worker.TaskTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.Storage.RetentionWindow)
	assert.Equal(t, "redis", cfg.Queue.RegistryBackend)
	assert.Equal(t, "memory", cfg.Queue.QueueBackend)
	assert.Equal(t, 30*time.Minute, cfg.Queue.ClaimIdle)
	assert.False(t, cfg.S3.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "9")
	t.Setenv("TASK_TIMEOUT", "90s")
	t.Setenv("REGISTRY_BACKEND", "Memory")
	t.Setenv("MAX_UPLOAD_MB", "not-a-number")
	t.Setenv("S3_BUCKET", "docs")
	t.Setenv("AXIOM_DATASET", "prod")

	cfg := FromEnv()
	assert.Equal(t, 9, cfg.Worker.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Worker.TaskTimeout)
	assert.Equal(t, "memory", cfg.Queue.RegistryBackend)
	assert.Equal(t, int64(50), cfg.HTTP.MaxUploadMB, "falls back on bad input")
	assert.True(t, cfg.S3.Enabled())
	assert.Equal(t, "prod_pdfdispatcher", cfg.Axiom.Dataset)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "zero workers", mutate: func(c *Config) { c.Worker.Concurrency = 0 }, want: "WORKER_CONCURRENCY"},
		{name: "zero capacity", mutate: func(c *Config) { c.Worker.QueueCapacity = 0 }, want: "QUEUE_CAPACITY"},
		{name: "bad backend", mutate: func(c *Config) { c.Queue.QueueBackend = "kafka" }, want: "QUEUE_BACKEND"},
		{name: "no retention", mutate: func(c *Config) { c.Storage.RetentionWindow = 0 }, want: "RETENTION_WINDOW"},
		{name: "one file", mutate: func(c *Config) { c.HTTP.MaxFiles = 1 }, want: "MAX_FILES"},
		{name: "claim before timeout", mutate: func(c *Config) {
			c.Queue.QueueBackend = "redis"
			c.Worker.TaskTimeout = time.Hour
		}, want: "QUEUE_CLAIM_IDLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromEnv()
			cfg.Queue.RegistryBackend = "memory"
			cfg.Queue.QueueBackend = "memory"
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNeedsRedis(t *testing.T) {
	cfg := Config{Queue: QueueConfig{RegistryBackend: "memory", QueueBackend: "memory"}}
	assert.False(t, cfg.NeedsRedis())
	cfg.Queue.QueueBackend = "redis"
	assert.True(t, cfg.NeedsRedis())
}
