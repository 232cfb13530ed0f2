package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// HTTPConfig covers the API listener and upload limits.
type HTTPConfig struct {
	Port        string
	MaxUploadMB int64
	MaxFiles    int
}

// StorageConfig defines local directories and retention.
type StorageConfig struct {
	UploadDir       string
	OutputDir       string
	FileMaxAge      time.Duration
	RetentionWindow time.Duration
	SweepInterval   time.Duration
}

// WorkerConfig defines worker behavior and limits.
type WorkerConfig struct {
	Concurrency      int
	QueueCapacity    int
	TaskTimeout      time.Duration
	SplitParallelism int
}

// QueueConfig defines Redis connectivity, backends and names.
type QueueConfig struct {
	RedisURL        string
	RegistryBackend string // "redis"|"memory"
	QueueBackend    string // "memory"|"redis"
	Stream          string
	Group           string
	KeyPrefix       string
	// ClaimIdle is how long a Redis queue entry may stay unacked before
	// another worker reclaims it.
	ClaimIdle time.Duration
}

// S3Config enables mirroring of outputs when Bucket is set.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Enabled reports whether outputs should be mirrored.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	HTTP    HTTPConfig
	Storage StorageConfig
	Worker  WorkerConfig
	Queue   QueueConfig
	S3      S3Config
}

// Load reads .env when present and then the environment.
func Load() Config {
	// a missing .env is normal outside development
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	// Logging defaults
	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/pdfdispatcher.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	// Axiom defaults
	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_pdfdispatcher",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.HTTP = HTTPConfig{
		Port:        getEnv("PORT", "8080"),
		MaxUploadMB: int64(parseInt(getEnv("MAX_UPLOAD_MB", "50"), 50)),
		MaxFiles:    parseInt(getEnv("MAX_FILES", "20"), 20),
	}

	cfg.Storage = StorageConfig{
		UploadDir:       getEnv("UPLOAD_DIR", "data/uploads"),
		OutputDir:       getEnv("OUTPUT_DIR", "data/outputs"),
		FileMaxAge:      parseDuration(getEnv("FILE_MAX_AGE", "24h"), 24*time.Hour),
		RetentionWindow: parseDuration(getEnv("RETENTION_WINDOW", "168h"), 7*24*time.Hour),
		SweepInterval:   parseDuration(getEnv("SWEEP_INTERVAL", "1h"), time.Hour),
	}

	// Worker defaults
	cfg.Worker = WorkerConfig{
		Concurrency:      parseInt(getEnv("WORKER_CONCURRENCY", "4"), 4),
		QueueCapacity:    parseInt(getEnv("QUEUE_CAPACITY", "100"), 100),
		TaskTimeout:      parseDuration(getEnv("TASK_TIMEOUT", "0"), 0),
		SplitParallelism: parseInt(getEnv("PDF_SPLIT_PARALLELISM", "1"), 1),
	}

	// Queue defaults
	cfg.Queue = QueueConfig{
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
		RegistryBackend: strings.ToLower(getEnv("REGISTRY_BACKEND", "redis")),
		QueueBackend:    strings.ToLower(getEnv("QUEUE_BACKEND", "memory")),
		Stream:          getEnv("QUEUE_STREAM", "pdf:tasks"),
		Group:           getEnv("QUEUE_GROUP", "pdf:workers"),
		KeyPrefix:       getEnv("KEY_PREFIX", "pdf:"),
		ClaimIdle:       parseDuration(getEnv("QUEUE_CLAIM_IDLE", "30m"), 30*time.Minute),
	}

	cfg.S3 = S3Config{
		Bucket:    getEnv("S3_BUCKET", ""),
		Prefix:    getEnv("S3_PREFIX", "outputs"),
		Region:    getEnv("S3_REGION", ""),
		Endpoint:  getEnv("S3_ENDPOINT", ""),
		AccessKey: getEnv("S3_ACCESS_KEY", ""),
		SecretKey: getEnv("S3_SECRET_KEY", ""),
	}

	return cfg
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency))
	}
	if c.Worker.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("QUEUE_CAPACITY must be at least 1, got %d", c.Worker.QueueCapacity))
	}
	if c.Worker.SplitParallelism < 1 {
		errs = append(errs, fmt.Errorf("PDF_SPLIT_PARALLELISM must be at least 1, got %d", c.Worker.SplitParallelism))
	}
	if c.Worker.TaskTimeout < 0 {
		errs = append(errs, fmt.Errorf("TASK_TIMEOUT must not be negative"))
	}
	if c.HTTP.MaxUploadMB < 1 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_MB must be at least 1, got %d", c.HTTP.MaxUploadMB))
	}
	if c.HTTP.MaxFiles < 2 {
		errs = append(errs, fmt.Errorf("MAX_FILES must be at least 2, got %d", c.HTTP.MaxFiles))
	}
	if c.Storage.UploadDir == "" || c.Storage.OutputDir == "" {
		errs = append(errs, errors.New("UPLOAD_DIR and OUTPUT_DIR are required"))
	}
	if c.Storage.RetentionWindow <= 0 {
		errs = append(errs, errors.New("RETENTION_WINDOW must be positive"))
	}
	if c.Queue.QueueBackend == "redis" && c.Worker.TaskTimeout > 0 && c.Queue.ClaimIdle > 0 && c.Queue.ClaimIdle <= c.Worker.TaskTimeout {
		errs = append(errs, fmt.Errorf("QUEUE_CLAIM_IDLE (%s) must exceed TASK_TIMEOUT (%s)", c.Queue.ClaimIdle, c.Worker.TaskTimeout))
	}
	switch c.Queue.RegistryBackend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("REGISTRY_BACKEND must be redis or memory, got %q", c.Queue.RegistryBackend))
	}
	switch c.Queue.QueueBackend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("QUEUE_BACKEND must be redis or memory, got %q", c.Queue.QueueBackend))
	}
	return errors.Join(errs...)
}

// NeedsRedis reports whether any backend talks to Redis.
func (c Config) NeedsRedis() bool {
	return c.Queue.RegistryBackend == "redis" || c.Queue.QueueBackend == "redis"
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
