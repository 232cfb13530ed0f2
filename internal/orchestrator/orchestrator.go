package orchestrator

import (
	"context"
	"net/http"
	"time"

	"github.com/local/pdfdispatcher/internal/filetype"
	"github.com/local/pdfdispatcher/internal/metrics"
	"github.com/local/pdfdispatcher/internal/operation"
	"github.com/local/pdfdispatcher/internal/queue"
	"github.com/local/pdfdispatcher/internal/statuscheck"
)

// PageCounter inspects a stored upload. *pdf.Transformer satisfies it.
type PageCounter interface {
	PageCount(path string) (int, error)
}

// HealthReporter produces the dependency summary served at /api/health.
type HealthReporter interface {
	Summary(ctx context.Context) statuscheck.Summary
}

type Dependencies struct {
	Registry operation.Registry
	Queue    queue.Queue
	Pages    PageCounter
	Detector *filetype.Detector
	Health   HealthReporter
}

// Config bounds what a single request may upload.
type Config struct {
	UploadDir      string
	MaxUploadBytes int64
	MaxFiles       int
}

type Orchestrator struct {
	cfg  Config
	deps Dependencies
	now  func() time.Time
}

func New(cfg Config, deps Dependencies) *Orchestrator {
	if cfg.MaxFiles < 2 {
		cfg.MaxFiles = 20
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if deps.Detector == nil {
		deps.Detector = filetype.New()
	}
	return &Orchestrator{cfg: cfg, deps: deps, now: time.Now}
}

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/health", o.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/api/merge", o.handleMerge)
	mux.HandleFunc("/api/split", o.handleSplit)
	mux.HandleFunc("/api/upload", o.handleUpload)

	mux.HandleFunc("/api/status/", o.handleStatus)
	mux.HandleFunc("/api/download/", o.handleDownload)
	mux.HandleFunc("/api/preview/", o.handlePreview)
	mux.HandleFunc("/api/history", o.handleHistory)
	mux.HandleFunc("/api/stats", o.handleStats)
}

func (o *Orchestrator) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if o.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	sum := o.deps.Health.Summary(ctx)
	status := http.StatusOK
	if !sum.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"success": sum.Healthy(), "services": sum})
}
