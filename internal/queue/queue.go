// Package queue carries operation ids from the request handlers to the
// worker pool. Both implementations are bounded: Enqueue never blocks and
// reports ErrQueueFull instead.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrQueueFull = errors.New("task queue is full")
	ErrClosed    = errors.New("task queue is closed")
)

// Message is one delivered task. ID is what Ack expects.
type Message struct {
	ID          string
	OperationID string
}

type Queue interface {
	Enqueue(ctx context.Context, opID string) error
	// Dequeue waits up to timeout for a message; ok is false when none arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (msg Message, ok bool, err error)
	Ack(ctx context.Context, msgID string) error
	Depth(ctx context.Context) (int64, error)
	Close() error
}

// Memory is an in-process queue backed by a buffered channel.
type Memory struct {
	ch     chan Message
	mu     sync.RWMutex
	closed bool
}

func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{ch: make(chan Message, capacity)}
}

func (q *Memory) Enqueue(_ context.Context, opID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- Message{ID: opID, OperationID: opID}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Memory) Dequeue(ctx context.Context, timeout time.Duration) (Message, bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m := <-q.ch:
		return m, true, nil
	case <-t.C:
		return Message{}, false, nil
	case <-ctx.Done():
		return Message{}, false, ctx.Err()
	}
}

func (q *Memory) Ack(context.Context, string) error { return nil }

func (q *Memory) Depth(context.Context) (int64, error) { return int64(len(q.ch)), nil }

// Close rejects further enqueues. Messages already buffered can still be read.
func (q *Memory) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}
