// Package invocation owns the lifecycle of single agent invocations: it
// validates a request against the catalog, records it, hands the work to an
// Executor and applies the one terminal transition when the work returns.
package invocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/conductor/internal/catalog"
	"github.com/soyeahso/conductor/internal/domain"
	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/soyeahso/conductor/internal/logging"
)

// CatalogProvider returns the catalog snapshot to validate against.
type CatalogProvider interface {
	Current() *catalog.Catalog
}

// Store persists invocation records.
type Store interface {
	SaveInvocation(ctx context.Context, rec domain.InvocationRecord) error
	GetInvocation(ctx context.Context, id string) (domain.InvocationRecord, error)
	ListInvocations(ctx context.Context, status domain.InvocationStatus) ([]domain.InvocationRecord, error)
}

// Config wires a Manager.
type Config struct {
	Catalogs CatalogProvider
	Executor Executor
	Store    Store          // optional
	Hooks    *hooks.Manager // optional
	Logger   *logging.Logger
	Timeout  time.Duration // per-invocation executor deadline, 0 for none
}

// DoneFunc observes an invocation after its terminal transition.
type DoneFunc func(rec domain.InvocationRecord)

type entry struct {
	rec    domain.InvocationRecord
	done   chan struct{}
	onDone DoneFunc
}

// Manager tracks invocations and runs them on its Executor.
type Manager struct {
	catalogs CatalogProvider
	executor Executor
	store    Store
	hooks    *hooks.Manager
	log      *logging.Logger
	timeout  time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup

	now func() time.Time
}

// NewManager creates an invocation manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		catalogs: cfg.Catalogs,
		executor: cfg.Executor,
		store:    cfg.Store,
		hooks:    cfg.Hooks,
		log:      cfg.Logger.Sub("invocation"),
		timeout:  cfg.Timeout,
		entries:  make(map[string]*entry),
		now:      time.Now,
	}
}

// InvokeAgent starts an invocation and returns its record in the started
// state. The result arrives later; use Wait or Get to observe it.
func (m *Manager) InvokeAgent(ctx context.Context, params domain.InvokeAgentParams) (domain.InvocationRecord, error) {
	return m.Submit(ctx, params, nil)
}

// Submit is InvokeAgent with a callback that runs once, after the terminal
// transition has been recorded and before waiters are released. Finished
// invocations are dropped from memory once their record is stored.
func (m *Manager) Submit(ctx context.Context, params domain.InvokeAgentParams, onDone DoneFunc) (domain.InvocationRecord, error) {
	var issues []string
	if params.Agent == "" {
		issues = append(issues, "agent is required")
	}
	if params.Prompt == "" {
		issues = append(issues, "prompt is required")
	}
	if len(issues) > 0 {
		return domain.InvocationRecord{}, domain.NewValidationError(issues...)
	}

	agent, err := m.catalogs.Current().Agent(params.Agent)
	if err != nil {
		return domain.InvocationRecord{}, err
	}

	model := params.ModelOverride
	if model == "" {
		model = agent.DefaultModel
	}

	rec := domain.InvocationRecord{
		InvocationID: uuid.NewString(),
		Agent:        agent.Name,
		Model:        model,
		Status:       domain.InvocationStarted,
		Prompt:       params.Prompt,
		Context:      params.Context,
		ParallelID:   params.ParallelID,
		StartedAt:    m.now().UTC(),
	}
	rec = rec.Clone()

	if m.store != nil {
		if err := m.store.SaveInvocation(ctx, rec); err != nil {
			return domain.InvocationRecord{}, fmt.Errorf("recording invocation: %w", err)
		}
	}

	e := &entry{rec: rec, done: make(chan struct{}), onDone: onDone}
	m.mu.Lock()
	m.entries[rec.InvocationID] = e
	m.mu.Unlock()

	m.log.Info().
		Str("invocation", rec.InvocationID).
		Str("agent", rec.Agent).
		Str("model", rec.Model).
		Str("parallel", rec.ParallelID).
		Msg("invocation started")
	m.hooks.Emit(ctx, hooks.EventInvocationStarted, recordData(rec))

	req := ExecutionRequest{
		InvocationID: rec.InvocationID,
		Agent:        agent,
		Model:        model,
		Prompt:       params.Prompt,
		Context:      rec.Clone().Context,
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		res, err := m.execute(context.WithoutCancel(ctx), req)
		m.finish(rec.InvocationID, res, err)
	}()

	return rec.Clone(), nil
}

func (m *Manager) execute(ctx context.Context, req ExecutionRequest) (res *ExecutionResult, err error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: executor panic: %v", domain.ErrExecutionFailure, r)
		}
	}()

	res, err = m.executor.Execute(ctx, req)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: agent %s exceeded %s: %v", domain.ErrTimeout, req.Agent.Name, m.timeout, err)
	}
	if err == nil && res == nil {
		res = &ExecutionResult{}
	}
	return res, err
}

// finish applies the terminal transition. Calls after the first are ignored.
func (m *Manager) finish(id string, res *ExecutionResult, execErr error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok || e.rec.Status.Terminal() {
		m.mu.Unlock()
		m.log.Warn().Str("invocation", id).Msg("ignoring duplicate completion")
		return
	}
	finished := m.now().UTC()
	e.rec.FinishedAt = &finished
	if execErr != nil {
		e.rec.Status = domain.InvocationFailed
		e.rec.Error = execErr.Error()
	} else {
		e.rec.Status = domain.InvocationCompleted
		e.rec.Output = res.Output
		e.rec.ArtifactsCreated = append([]string(nil), res.ArtifactsCreated...)
		e.rec.SuggestedNext = append([]string(nil), res.SuggestedNext...)
		if res.HandoffContext != nil {
			hc := res.HandoffContext.Clone()
			e.rec.HandoffContext = &hc
		}
	}
	rec := e.rec.Clone()
	m.mu.Unlock()

	ctx := context.Background()
	persisted := false
	if m.store != nil {
		if err := m.store.SaveInvocation(ctx, rec); err != nil {
			m.log.Error().Err(err).Str("invocation", id).Msg("failed to persist invocation result")
		} else {
			persisted = true
		}
	}

	event := hooks.EventInvocationCompleted
	logEvent := m.log.Info()
	if rec.Status == domain.InvocationFailed {
		event = hooks.EventInvocationFailed
		logEvent = m.log.Warn().Str("error", rec.Error)
	}
	logEvent.
		Str("invocation", id).
		Str("agent", rec.Agent).
		Str("status", string(rec.Status)).
		Dur("duration", finished.Sub(rec.StartedAt)).
		Msg("invocation finished")

	if e.onDone != nil {
		e.onDone(rec.Clone())
	}
	close(e.done)

	// The stored terminal record now answers Get and Wait.
	if persisted {
		m.mu.Lock()
		delete(m.entries, id)
		m.mu.Unlock()
	}

	// Waiters are already released; a slow handler only delays Drain.
	m.hooks.Emit(ctx, event, recordData(rec))
}

// Live returns the number of invocations held in memory.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Get returns the current record for an invocation.
func (m *Manager) Get(ctx context.Context, id string) (domain.InvocationRecord, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	var rec domain.InvocationRecord
	if ok {
		rec = e.rec.Clone()
	}
	m.mu.Unlock()
	if ok {
		return rec, nil
	}
	if m.store != nil {
		return m.store.GetInvocation(ctx, id)
	}
	return domain.InvocationRecord{}, domain.NotFound("invocation", id)
}

// Wait blocks until the invocation is terminal or ctx ends. On ctx expiry it
// returns the current record with an error wrapping domain.ErrTimeout.
func (m *Manager) Wait(ctx context.Context, id string) (domain.InvocationRecord, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return m.Get(ctx, id)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		rec, _ := m.Get(context.Background(), id)
		return rec, fmt.Errorf("%w: waiting for invocation %s: %v", domain.ErrTimeout, id, ctx.Err())
	}
	return m.Get(ctx, id)
}

// RecoverInterrupted fails every stored invocation still in the started
// state. Those were in flight when a previous process exited and will never
// receive a result. It returns the number of records updated.
func (m *Manager) RecoverInterrupted(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	stale, err := m.store.ListInvocations(ctx, domain.InvocationStarted)
	if err != nil {
		return 0, fmt.Errorf("listing interrupted invocations: %w", err)
	}

	n := 0
	for _, rec := range stale {
		m.mu.Lock()
		_, live := m.entries[rec.InvocationID]
		m.mu.Unlock()
		if live {
			continue
		}
		finished := m.now().UTC()
		rec.Status = domain.InvocationFailed
		rec.Error = "interrupted"
		rec.FinishedAt = &finished
		if err := m.store.SaveInvocation(ctx, rec); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		m.log.Warn().Int("count", n).Msg("marked interrupted invocations as failed")
	}
	return n, nil
}

// Drain waits for in-flight executions to return or ctx to end.
func (m *Manager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recordData(rec domain.InvocationRecord) map[string]any {
	data := map[string]any{
		"invocation_id": rec.InvocationID,
		"agent":         rec.Agent,
		"model":         rec.Model,
		"status":        string(rec.Status),
	}
	if rec.ParallelID != "" {
		data["parallel_id"] = rec.ParallelID
	}
	if rec.Error != "" {
		data["error"] = rec.Error
	}
	if rec.FinishedAt != nil {
		data["duration_ms"] = rec.FinishedAt.Sub(rec.StartedAt).Milliseconds()
	}
	return data
}
