package store

import (
	"context"
	"sort"
	"sync"

	"github.com/soyeahso/conductor/internal/domain"
)

// MemoryLedger keeps records in process memory. Records are cloned on the way
// in and out so callers never share state with the ledger.
type MemoryLedger struct {
	mu          sync.RWMutex
	invocations map[string]domain.InvocationRecord
	handoffs    []domain.HandoffRecord
	parallel    map[string]domain.ParallelExecutionRecord
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		invocations: make(map[string]domain.InvocationRecord),
		parallel:    make(map[string]domain.ParallelExecutionRecord),
	}
}

func (l *MemoryLedger) Close() error { return nil }

func (l *MemoryLedger) SaveInvocation(_ context.Context, rec domain.InvocationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invocations[rec.InvocationID] = rec.Clone()
	return nil
}

func (l *MemoryLedger) GetInvocation(_ context.Context, id string) (domain.InvocationRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.invocations[id]
	if !ok {
		return domain.InvocationRecord{}, domain.NotFound("invocation", id)
	}
	return rec.Clone(), nil
}

func (l *MemoryLedger) ListInvocations(_ context.Context, status domain.InvocationStatus) ([]domain.InvocationRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.InvocationRecord
	for _, rec := range l.invocations {
		if status == "" || rec.Status == status {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].InvocationID < out[j].InvocationID
	})
	return out, nil
}

func (l *MemoryLedger) SaveHandoff(_ context.Context, rec domain.HandoffRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handoffs = append(l.handoffs, rec.Clone())
	return nil
}

func (l *MemoryLedger) GetHandoff(_ context.Context, id string) (domain.HandoffRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, rec := range l.handoffs {
		if rec.HandoffID == id {
			return rec.Clone(), nil
		}
	}
	return domain.HandoffRecord{}, domain.NotFound("handoff", id)
}

func (l *MemoryLedger) ListHandoffs(_ context.Context, filter domain.HandoffFilter) ([]domain.HandoffRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []domain.HandoffRecord{}
	for _, rec := range l.handoffs {
		if filter.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (l *MemoryLedger) SaveParallel(_ context.Context, rec domain.ParallelExecutionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.parallel[rec.ParallelID] = rec.Clone()
	return nil
}

func (l *MemoryLedger) GetParallel(_ context.Context, id string) (domain.ParallelExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.parallel[id]
	if !ok {
		return domain.ParallelExecutionRecord{}, domain.NotFound("parallel execution", id)
	}
	return rec.Clone(), nil
}

func (l *MemoryLedger) ListParallel(_ context.Context) ([]domain.ParallelExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.ParallelExecutionRecord, 0, len(l.parallel))
	for _, rec := range l.parallel {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ParallelID < out[j].ParallelID
	})
	return out, nil
}
