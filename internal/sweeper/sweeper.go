// Package sweeper enforces the retention window: stale files in the upload
// and output directories and expired operation records are removed on a timer.
package sweeper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfdispatcher/internal/metrics"
	"github.com/local/pdfdispatcher/internal/operation"
)

// Remover deletes the mirrored copy of an output.
type Remover interface {
	Delete(ctx context.Context, name string) error
}

type Config struct {
	UploadDir  string
	OutputDir  string
	FileMaxAge time.Duration
	Retention  time.Duration
	Interval   time.Duration
}

// SweepReport counts what one pass removed and how many removals failed.
type SweepReport struct {
	Uploads int `json:"uploads"`
	Outputs int `json:"outputs"`
	Records int `json:"records"`
	Remote  int `json:"remote"`
	Errors  int `json:"errors"`
}

type Sweeper struct {
	cfg    Config
	reg    operation.Registry
	remote Remover

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func New(cfg Config, reg operation.Registry, remote Remover) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Sweeper{cfg: cfg, reg: reg, remote: remote, stop: make(chan struct{}), done: make(chan struct{})}
}

// Start runs a sweep immediately and then every Interval until Stop.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			s.runOnce()
			select {
			case <-s.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the timer and waits for a running sweep until ctx is done.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
	defer cancel()
	rep := s.SweepOnce(ctx, time.Now())
	log.Info().
		Int("uploads", rep.Uploads).
		Int("outputs", rep.Outputs).
		Int("records", rep.Records).
		Int("remote", rep.Remote).
		Int("errors", rep.Errors).
		Msg("retention sweep finished")
}

// SweepOnce performs one pass relative to now. Individual failures are logged
// and counted; they never stop the pass.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) SweepReport {
	var rep SweepReport
	if s.cfg.Retention > 0 {
		s.sweepRecords(ctx, now.Add(-s.cfg.Retention), &rep)
	}
	if s.cfg.FileMaxAge > 0 {
		rep.Uploads = s.sweepDir(s.cfg.UploadDir, now, "upload", &rep)
		rep.Outputs = s.sweepDir(s.cfg.OutputDir, now, "output", &rep)
	}
	metrics.AddSwept("record", rep.Records)
	metrics.AddSwept("upload", rep.Uploads)
	metrics.AddSwept("output", rep.Outputs)
	metrics.AddSwept("remote", rep.Remote)
	return rep
}

func (s *Sweeper) sweepDir(dir string, now time.Time, kind string, rep *SweepReport) int {
	if dir == "" {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.fail(rep, kind, err, dir)
		}
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < s.cfg.FileMaxAge {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.fail(rep, kind, err, path)
			continue
		}
		removed++
	}
	return removed
}

func (s *Sweeper) sweepRecords(ctx context.Context, cutoff time.Time, rep *SweepReport) {
	expired, err := s.reg.ListExpired(ctx, cutoff)
	if err != nil {
		s.fail(rep, "record", err, "list")
		return
	}
	for _, rec := range expired {
		if ctx.Err() != nil {
			return
		}
		for _, in := range rec.InputFiles {
			s.removeFile(rep, "upload", in.StoragePath)
		}
		for _, out := range rec.OutputFiles {
			s.removeFile(rep, "output", out.StoragePath)
			if out.RemoteURL != "" && s.remote != nil {
				if err := s.remote.Delete(ctx, out.Filename); err != nil {
					s.fail(rep, "remote", err, out.Filename)
				} else {
					rep.Remote++
				}
			}
		}
		if err := s.reg.Delete(ctx, rec.OperationID); err != nil && !errors.Is(err, operation.ErrNotFound) {
			s.fail(rep, "record", err, rec.OperationID)
			continue
		}
		rep.Records++
		log.Debug().Str("operation_id", rec.OperationID).Str("status", string(rec.Status)).Time("created_at", rec.CreatedAt).Msg("expired operation removed")
	}
}

func (s *Sweeper) removeFile(rep *SweepReport, kind, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.fail(rep, kind, err, path)
	}
}

func (s *Sweeper) fail(rep *SweepReport, kind string, err error, target string) {
	rep.Errors++
	metrics.IncSweepError(kind)
	log.Warn().Err(err).Str("kind", kind).Str("target", target).Msg("retention sweep step failed")
}
