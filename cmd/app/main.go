package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	cfgpkg "github.com/local/pdfdispatcher/internal/config"
	"github.com/local/pdfdispatcher/internal/dispatcher"
	"github.com/local/pdfdispatcher/internal/filetype"
	logpkg "github.com/local/pdfdispatcher/internal/logger"
	"github.com/local/pdfdispatcher/internal/metrics"
	"github.com/local/pdfdispatcher/internal/operation"
	"github.com/local/pdfdispatcher/internal/orchestrator"
	"github.com/local/pdfdispatcher/internal/pdf"
	"github.com/local/pdfdispatcher/internal/queue"
	"github.com/local/pdfdispatcher/internal/statuscheck"
	"github.com/local/pdfdispatcher/internal/storage"
	"github.com/local/pdfdispatcher/internal/store"
	"github.com/local/pdfdispatcher/internal/sweeper"
)

func main() {
	cfg := cfgpkg.Load()

	// Init logging
	if err := logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		Service:      "pdfdispatcher",
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
	}
	defer logpkg.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	metrics.Init()

	for _, dir := range []string{cfg.Storage.UploadDir, cfg.Storage.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("cannot create storage directory")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	var rdb *redis.Client
	if cfg.NeedsRedis() {
		c, err := store.Connect(ctx, cfg.Queue.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		rdb = c
		defer rdb.Close()
	}

	// Registry
	var reg operation.Registry
	var redisPing statuscheck.Pinger
	switch cfg.Queue.RegistryBackend {
	case "redis":
		rr := store.NewRedisRegistry(rdb, cfg.Queue.KeyPrefix)
		reg, redisPing = rr, rr
	default:
		reg = store.NewMemoryRegistry()
	}

	// Queue
	var q queue.Queue
	switch cfg.Queue.QueueBackend {
	case "redis":
		rq, err := queue.NewRedisQueue(ctx, rdb, cfg.Queue.Stream, cfg.Queue.Group, consumerName(), cfg.Worker.QueueCapacity)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init redis queue")
		}
		q = rq.WithClaimIdle(cfg.Queue.ClaimIdle)
		if redisPing == nil {
			redisPing = rq
		}
	default:
		q = queue.NewMemory(cfg.Worker.QueueCapacity)
	}
	defer q.Close()

	tr := pdf.NewTransformer(pdf.NewPdfcpuEngine(), cfg.Storage.OutputDir, cfg.Worker.SplitParallelism)

	disp := dispatcher.New(dispatcher.Config{
		Concurrency: cfg.Worker.Concurrency,
		TaskTimeout: cfg.Worker.TaskTimeout,
	}, q, reg, tr)

	// Optional S3 mirror. Interfaces stay nil when it is off.
	var remote sweeper.Remover
	var s3Ping statuscheck.Pinger
	if cfg.S3.Enabled() {
		m, err := storage.NewS3Mirror(ctx, storage.Options{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init s3 mirror")
		}
		disp.WithMirror(m)
		remote, s3Ping = m, m
	}

	sw := sweeper.New(sweeper.Config{
		UploadDir:  cfg.Storage.UploadDir,
		OutputDir:  cfg.Storage.OutputDir,
		FileMaxAge: cfg.Storage.FileMaxAge,
		Retention:  cfg.Storage.RetentionWindow,
		Interval:   cfg.Storage.SweepInterval,
	}, reg, remote)

	health := statuscheck.New(statuscheck.Options{
		Redis: redisPing,
		S3:    s3Ping,
		Queue: q,
		Dirs:  []string{cfg.Storage.UploadDir, cfg.Storage.OutputDir},
	})

	orch := orchestrator.New(orchestrator.Config{
		UploadDir:      cfg.Storage.UploadDir,
		MaxUploadBytes: cfg.HTTP.MaxUploadMB << 20,
		MaxFiles:       cfg.HTTP.MaxFiles,
	}, orchestrator.Dependencies{
		Registry: reg,
		Queue:    q,
		Pages:    tr,
		Detector: filetype.New(),
		Health:   health,
	})
	mux := http.NewServeMux()
	orch.RegisterRoutes(mux)

	disp.Start()
	sw.Start()
	go orchestrator.MonitorQueue(ctx, q, 5*time.Second)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().
			Str("port", cfg.HTTP.Port).
			Str("registry", cfg.Queue.RegistryBackend).
			Str("queue", cfg.Queue.QueueBackend).
			Int("workers", cfg.Worker.Concurrency).
			Bool("s3", cfg.S3.Enabled()).
			Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := disp.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("workers did not drain in time")
	}
	if err := sw.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("sweeper stop")
	}
	cancel()
	log.Info().Msg("shutdown complete")
}

// consumerName identifies this process inside the redis consumer group.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "pdfdispatcher"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
