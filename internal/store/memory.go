package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/local/pdfdispatcher/internal/operation"
)

// MemoryRegistry is a process-local registry. Records are cloned on the way
// in and out.
type MemoryRegistry struct {
	mu  sync.RWMutex
	ops map[string]*operation.Record
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{ops: make(map[string]*operation.Record)}
}

func (m *MemoryRegistry) Create(_ context.Context, rec *operation.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.ops[rec.OperationID]; exists {
		return fmt.Errorf("%s: %w", rec.OperationID, operation.ErrDuplicateOperation)
	}
	m.ops[rec.OperationID] = rec.Clone()
	return nil
}

func (m *MemoryRegistry) MarkProcessing(_ context.Context, id string, at time.Time) (*operation.Record, error) {
	return m.apply(id, operation.Start(at))
}

func (m *MemoryRegistry) MarkCompleted(_ context.Context, id string, outputs []operation.OutputFile, at time.Time) (*operation.Record, error) {
	return m.apply(id, operation.Complete(outputs, at))
}

func (m *MemoryRegistry) MarkFailed(_ context.Context, id, message string, at time.Time) (*operation.Record, error) {
	return m.apply(id, operation.Fail(message, at))
}

func (m *MemoryRegistry) apply(id string, ev operation.Event) (*operation.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.ops[id]
	if !exists {
		return nil, fmt.Errorf("%s: %w", id, operation.ErrNotFound)
	}
	next, err := operation.Transition(cur, ev)
	if err != nil {
		return nil, err
	}
	m.ops[id] = next
	return next.Clone(), nil
}

func (m *MemoryRegistry) FindByID(_ context.Context, id string) (*operation.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, exists := m.ops[id]; exists {
		return rec.Clone(), nil
	}
	return nil, fmt.Errorf("%s: %w", id, operation.ErrNotFound)
}

func (m *MemoryRegistry) List(_ context.Context, filter operation.Filter, page, pageSize int) (operation.Page, error) {
	m.mu.RLock()
	matched := make([]*operation.Record, 0, len(m.ops))
	for _, rec := range m.ops {
		if filter.Matches(rec) {
			matched = append(matched, rec.Clone())
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(matched)
	return operation.NewPage(matched, page, pageSize), nil
}

func (m *MemoryRegistry) Stats(_ context.Context) (operation.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := operation.Stats{ByStatus: make(map[operation.Status]int, len(operation.Statuses))}
	for _, status := range operation.Statuses {
		st.ByStatus[status] = 0
	}
	for _, rec := range m.ops {
		st.ByStatus[rec.Status]++
		st.Total++
	}
	return st, nil
}

func (m *MemoryRegistry) ListExpired(_ context.Context, cutoff time.Time) ([]*operation.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*operation.Record
	for _, rec := range m.ops {
		if rec.CreatedAt.Before(cutoff) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRegistry) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.ops[id]; !exists {
		return fmt.Errorf("%s: %w", id, operation.ErrNotFound)
	}
	delete(m.ops, id)
	return nil
}

func sortNewestFirst(recs []*operation.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].OperationID > recs[j].OperationID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
