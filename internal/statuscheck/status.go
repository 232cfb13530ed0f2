package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Pinger models the minimal capability we need from Redis and the S3 mirror.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DepthReader reports how many tasks are waiting.
type DepthReader interface {
	Depth(ctx context.Context) (int64, error)
}

// Checker aggregates health checks for the service's dependencies.
type Checker struct {
	redis Pinger
	s3    Pinger
	queue DepthReader
	dirs  []string
}

// Options configures the Checker. Nil dependencies are reported as not used.
type Options struct {
	Redis Pinger
	S3    Pinger
	Queue DepthReader
	Dirs  []string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis   Status `json:"redis"`
	S3      Status `json:"s3"`
	Queue   Status `json:"queue"`
	Storage Status `json:"storage"`
}

// Healthy is true when every subsystem is OK.
func (s Summary) Healthy() bool {
	return s.Redis.OK && s.S3.OK && s.Queue.OK && s.Storage.OK
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	return &Checker{redis: opts.Redis, s3: opts.S3, queue: opts.Queue, dirs: opts.Dirs}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:   ping(ctx, c.redis, 2*time.Second),
		S3:      ping(ctx, c.s3, 5*time.Second),
		Queue:   c.checkQueue(ctx),
		Storage: c.checkStorage(),
	}
}

func ping(ctx context.Context, p Pinger, timeout time.Duration) Status {
	if p == nil {
		return Status{OK: true, Message: "Not used"}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkQueue(ctx context.Context) Status {
	if c.queue == nil {
		return Status{OK: false, Message: "queue unavailable"}
	}
	n, err := c.queue.Depth(ctx)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: fmt.Sprintf("%d queued", n)}
}

func (c *Checker) checkStorage() Status {
	for _, dir := range c.dirs {
		f, err := os.CreateTemp(dir, ".healthcheck-*")
		if err != nil {
			return Status{OK: false, Message: fmt.Sprintf("%s not writable", filepath.Base(dir))}
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
	}
	return Status{OK: true, Message: "Writable"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
