package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfdispatcher/internal/metrics"
	"github.com/local/pdfdispatcher/internal/operation"
	"github.com/local/pdfdispatcher/internal/queue"
)

// Executor produces the outputs of one operation.
type Executor interface {
	Run(ctx context.Context, rec *operation.Record) ([]operation.OutputFile, error)
}

// Mirror copies a finished output somewhere else and returns its location.
type Mirror interface {
	Upload(ctx context.Context, localPath, name string) (string, error)
}

// TaskState is the lifecycle of one dequeued task.
type TaskState string

const (
	// TaskScheduled means the registry could not be reached before the
	// operation started, so the task has to go back on the queue.
	TaskScheduled TaskState = "scheduled"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	// TaskSkipped means the record was not pending, so nothing ran.
	TaskSkipped TaskState = "skipped"
)

type Config struct {
	Concurrency int
	// TaskTimeout bounds a single operation; zero disables it.
	TaskTimeout time.Duration
	PollTimeout time.Duration
}

// Worker is a fixed pool of goroutines draining the task queue.
type Worker struct {
	cfg    Config
	q      queue.Queue
	reg    operation.Registry
	exec   Executor
	mirror Mirror

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

func New(cfg Config, q queue.Queue, reg operation.Registry, exec Executor) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	return &Worker{cfg: cfg, q: q, reg: reg, exec: exec, stop: make(chan struct{}), now: time.Now}
}

// WithMirror enables copying completed outputs. Call before Start.
func (w *Worker) WithMirror(m Mirror) *Worker {
	w.mirror = m
	return w
}

func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
}

// Stop stops taking new tasks and waits for running ones until ctx is done.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stop) })
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()
	log.Info().Int("worker", id).Msg("dispatcher worker started")

	pollCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-pollCtx.Done():
		}
	}()

	for {
		select {
		case <-w.stop:
			log.Info().Int("worker", id).Msg("dispatcher worker stopped")
			return
		default:
		}

		msg, ok, err := w.q.Dequeue(pollCtx, w.cfg.PollTimeout)
		if err != nil {
			if pollCtx.Err() != nil {
				continue
			}
			log.Error().Err(err).Int("worker", id).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if !ok {
			continue
		}

		state := w.Execute(context.Background(), msg.OperationID)
		if err := w.q.Ack(context.Background(), msg.ID); err != nil {
			log.Warn().Err(err).Int("worker", id).Str("operation_id", msg.OperationID).Msg("queue ack failed")
		}
		if state == TaskScheduled {
			w.requeue(id, msg.OperationID)
		}
		if depth, err := w.q.Depth(context.Background()); err == nil {
			metrics.SetQueueDepth(depth)
		}
		log.Debug().Int("worker", id).Str("operation_id", msg.OperationID).Str("task", string(state)).Msg("task finished")
	}
}

// Execute runs one operation to a terminal status. Errors are recorded on the
// operation, never returned.
func (w *Worker) Execute(ctx context.Context, opID string) TaskState {
	rec, err := w.reg.MarkProcessing(ctx, opID, w.now())
	if err != nil {
		if errors.Is(err, operation.ErrInvalidTransition) || errors.Is(err, operation.ErrNotFound) {
			log.Warn().Err(err).Str("operation_id", opID).Msg("operation not pending; skipping")
			return TaskSkipped
		}
		log.Error().Err(err).Str("operation_id", opID).Msg("failed to start operation")
		return TaskScheduled
	}
	logger := log.With().Str("operation_id", opID).Str("operation_type", string(rec.OperationType)).Logger()
	logger.Info().Str("task", string(TaskRunning)).Msg("operation started")

	produced, err := w.run(ctx, rec)
	outputs := produced
	if err == nil {
		outputs, err = w.finalize(ctx, rec, produced)
	}

	// terminal writes must land even when the task deadline already fired
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var done *operation.Record
	if err == nil {
		done, err = w.reg.MarkCompleted(markCtx, opID, outputs, w.now())
		if err != nil {
			err = fmt.Errorf("record completion: %w", err)
		}
	}
	if err != nil {
		w.retract(rec, produced)
		failed, markErr := w.reg.MarkFailed(markCtx, opID, err.Error(), w.now())
		if markErr != nil {
			logger.Error().Err(markErr).AnErr("cause", err).Msg("failed to record operation failure")
			return TaskFailed
		}
		observe(failed, "failed")
		logger.Warn().Err(err).Int64("duration_ms", durationMillis(failed)).Msg("operation failed")
		return TaskFailed
	}
	observe(done, "completed")
	logger.Info().Int("outputs", len(outputs)).Int64("duration_ms", durationMillis(done)).Msg("operation completed")
	return TaskSucceeded
}

func (w *Worker) run(ctx context.Context, rec *operation.Record) (outs []operation.OutputFile, err error) {
	if w.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.TaskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("operation_id", rec.OperationID).Interface("panic", r).Msg("operation panicked")
			outs, err = nil, &PanicError{Value: r}
		}
	}()

	outs, err = w.exec.Run(ctx, rec)
	if err != nil && w.cfg.TaskTimeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &TimeoutError{After: w.cfg.TaskTimeout}
	}
	if err == nil && len(outs) == 0 {
		return nil, fmt.Errorf("operation produced no output files")
	}
	return outs, err
}

// finalize stats every output and mirrors it when a mirror is configured.
func (w *Worker) finalize(ctx context.Context, rec *operation.Record, outs []operation.OutputFile) ([]operation.OutputFile, error) {
	final := make([]operation.OutputFile, len(outs))
	for i, o := range outs {
		st, err := os.Stat(o.StoragePath)
		if err != nil {
			return nil, &OutputError{Filename: o.Filename, Err: err}
		}
		o.SizeBytes = st.Size()
		if w.mirror != nil {
			url, err := w.mirror.Upload(ctx, o.StoragePath, o.Filename)
			if err != nil {
				log.Warn().Err(err).Str("operation_id", rec.OperationID).Str("file", o.Filename).Msg("mirror upload failed")
			} else {
				o.RemoteURL = url
			}
		}
		final[i] = o
	}
	return final, nil
}

// requeue puts back a task whose record could not be read. If the queue has
// no room the operation stays pending until the sweeper removes it.
func (w *Worker) requeue(id int, opID string) {
	if err := w.q.Enqueue(context.Background(), opID); err != nil {
		log.Error().Err(err).Int("worker", id).Str("operation_id", opID).Msg("task lost; operation left pending")
		return
	}
	log.Warn().Int("worker", id).Str("operation_id", opID).Msg("task requeued")
	// the registry is likely down; don't spin on it
	select {
	case <-w.stop:
	case <-time.After(500 * time.Millisecond):
	}
}

// retract removes outputs of an operation that ends up failed. Upload
// outputs are the stored inputs and stay.
func (w *Worker) retract(rec *operation.Record, outs []operation.OutputFile) {
	if rec.OperationType == operation.TypeUpload {
		return
	}
	for _, o := range outs {
		if err := os.Remove(o.StoragePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("operation_id", rec.OperationID).Str("file", o.Filename).Msg("failed to remove output")
		}
	}
}

func observe(rec *operation.Record, result string) {
	metrics.ObserveFinished(string(rec.OperationType), result,
		time.Duration(durationMillis(rec))*time.Millisecond, len(rec.OutputFiles))
}

func durationMillis(rec *operation.Record) int64 {
	if rec.Processing.DurationMillis == nil {
		return 0
	}
	return *rec.Processing.DurationMillis
}
