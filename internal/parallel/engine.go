// Package parallel runs several agents under one parallel execution,
// aggregates their results and resolves conflicts between them.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/conductor/internal/catalog"
	"github.com/soyeahso/conductor/internal/domain"
	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/soyeahso/conductor/internal/invocation"
	"github.com/soyeahso/conductor/internal/logging"
)

const (
	defaultAggregateTimeout    = 2 * time.Minute
	defaultEscalateTimeout     = 5 * time.Minute
	defaultEstimatedCompletion = 5 * time.Minute
)

// CatalogProvider returns the catalog snapshot used for validation.
type CatalogProvider interface {
	Current() *catalog.Catalog
}

// Invoker starts agent invocations. *invocation.Manager satisfies it.
type Invoker interface {
	Submit(ctx context.Context, params domain.InvokeAgentParams, onDone invocation.DoneFunc) (domain.InvocationRecord, error)
	Wait(ctx context.Context, id string) (domain.InvocationRecord, error)
}

// Store persists parallel execution records.
type Store interface {
	SaveParallel(ctx context.Context, rec domain.ParallelExecutionRecord) error
	GetParallel(ctx context.Context, id string) (domain.ParallelExecutionRecord, error)
	ListParallel(ctx context.Context) ([]domain.ParallelExecutionRecord, error)
}

// Config wires an Engine. Zero durations select the package defaults.
type Config struct {
	Catalogs            CatalogProvider
	Invoker             Invoker
	Store               Store          // optional
	Hooks               *hooks.Manager // optional
	Logger              *logging.Logger
	Equivalence         Equivalence
	AggregateTimeout    time.Duration
	EscalateTimeout     time.Duration
	EstimatedCompletion time.Duration
	VoteWeights         map[string]float64
}

type execution struct {
	rec domain.ParallelExecutionRecord
	// changed is closed and replaced whenever rec changes.
	changed chan struct{}
}

// Engine owns every parallel execution of the process.
type Engine struct {
	cfg Config
	log *logging.Logger
	now func() time.Time

	mu    sync.Mutex
	execs map[string]*execution
}

// NewEngine creates a parallel execution engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Equivalence == nil {
		cfg.Equivalence = Normalized
	}
	if cfg.AggregateTimeout <= 0 {
		cfg.AggregateTimeout = defaultAggregateTimeout
	}
	if cfg.EscalateTimeout <= 0 {
		cfg.EscalateTimeout = defaultEscalateTimeout
	}
	if cfg.EstimatedCompletion <= 0 {
		cfg.EstimatedCompletion = defaultEstimatedCompletion
	}
	return &Engine{
		cfg:   cfg,
		log:   cfg.Logger.Sub("parallel"),
		now:   time.Now,
		execs: make(map[string]*execution),
	}
}

func (e *Engine) validate(params domain.StartParallelParams) error {
	cat := e.cfg.Catalogs.Current()

	var issues []string
	if len(params.Agents) == 0 {
		issues = append(issues, "agents must not be empty")
	}
	if !params.AggregationStrategy.Valid() {
		issues = append(issues, fmt.Sprintf("aggregation_strategy must be merge, vote or escalate, got %q", params.AggregationStrategy))
	}
	for i, a := range params.Agents {
		if a.Agent == "" {
			issues = append(issues, fmt.Sprintf("agents[%d].agent is required", i))
		}
		if a.Prompt == "" {
			issues = append(issues, fmt.Sprintf("agents[%d].prompt is required", i))
		}
	}
	if len(issues) > 0 {
		return domain.NewValidationError(issues...)
	}

	for _, a := range params.Agents {
		if !cat.HasAgent(a.Agent) {
			return domain.NotFound("agent", a.Agent)
		}
	}
	if params.AggregationStrategy.NeedsHandler() {
		if params.ConflictHandler == "" {
			return fmt.Errorf("%w: strategy %s requires conflict_handler", domain.ErrMissingConflictHandler, params.AggregationStrategy)
		}
	}
	if params.ConflictHandler != "" && !cat.HasAgent(params.ConflictHandler) {
		return domain.NotFound("agent", params.ConflictHandler)
	}
	return nil
}

// StartParallelExecution validates the request as a whole, then starts one
// invocation per agent. Nothing is started when validation fails.
func (e *Engine) StartParallelExecution(ctx context.Context, params domain.StartParallelParams) (domain.StartParallelResult, error) {
	if err := e.validate(params); err != nil {
		return domain.StartParallelResult{}, err
	}

	now := e.now().UTC()
	rec := domain.ParallelExecutionRecord{
		ParallelID:          uuid.NewString(),
		Agents:              make([]domain.ParallelAgent, len(params.Agents)),
		AggregationStrategy: params.AggregationStrategy,
		ConflictHandler:     params.ConflictHandler,
		Slots:               make([]domain.ParallelResult, len(params.Agents)),
		Status:              domain.ExecutionRunning,
		StartedAt:           now,
		EstimatedCompletion: now.Add(e.cfg.EstimatedCompletion),
	}
	started := make([]string, len(params.Agents))
	for i, a := range params.Agents {
		rec.Agents[i] = a
		rec.Slots[i] = domain.ParallelResult{Agent: a.Agent, Status: domain.SlotPending}
		started[i] = a.Agent
	}
	rec = rec.Clone()

	if e.cfg.Store != nil {
		if err := e.cfg.Store.SaveParallel(ctx, rec); err != nil {
			return domain.StartParallelResult{}, fmt.Errorf("recording parallel execution: %w", err)
		}
	}
	e.mu.Lock()
	e.execs[rec.ParallelID] = &execution{rec: rec, changed: make(chan struct{})}
	e.mu.Unlock()

	e.log.Info().
		Str("parallelId", rec.ParallelID).
		Str("strategy", string(rec.AggregationStrategy)).
		Strs("agents", started).
		Msg("parallel execution started")
	e.cfg.Hooks.Emit(ctx, hooks.EventParallelStarted, map[string]any{
		"parallel_id": rec.ParallelID,
		"strategy":    string(rec.AggregationStrategy),
		"agents":      started,
	})

	for i, a := range params.Agents {
		slot := i
		inv, err := e.cfg.Invoker.Submit(ctx, domain.InvokeAgentParams{
			Agent:      a.Agent,
			Prompt:     a.Prompt,
			Context:    a.Context,
			ParallelID: rec.ParallelID,
		}, func(done domain.InvocationRecord) {
			e.completeSlot(rec.ParallelID, slot, done)
		})
		if err != nil {
			e.log.Error().Err(err).Str("parallelId", rec.ParallelID).Str("agent", a.Agent).Msg("failed to start agent")
			e.completeSlot(rec.ParallelID, slot, domain.InvocationRecord{
				Agent:  a.Agent,
				Status: domain.InvocationFailed,
				Error:  err.Error(),
			})
			continue
		}
		e.setInvocationID(rec.ParallelID, slot, inv.InvocationID)
	}

	return domain.StartParallelResult{
		ParallelID:          rec.ParallelID,
		AgentsStarted:       started,
		Status:              domain.ExecutionRunning,
		EstimatedCompletion: rec.EstimatedCompletion,
	}, nil
}

func (e *Engine) setInvocationID(parallelID string, slot int, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ex, ok := e.execs[parallelID]; ok && ex.rec.Slots[slot].InvocationID == "" {
		ex.rec.Slots[slot].InvocationID = id
	}
}

// completeSlot writes an invocation's terminal result into its slot. A slot
// is written at most once.
func (e *Engine) completeSlot(parallelID string, slot int, inv domain.InvocationRecord) {
	e.mu.Lock()
	ex, ok := e.execs[parallelID]
	if !ok || ex.rec.Slots[slot].Status != domain.SlotPending {
		e.mu.Unlock()
		e.log.Warn().Str("parallelId", parallelID).Int("slot", slot).Msg("ignoring duplicate slot completion")
		return
	}

	s := &ex.rec.Slots[slot]
	if inv.InvocationID != "" {
		s.InvocationID = inv.InvocationID
	}
	if inv.Status == domain.InvocationCompleted {
		s.Status = domain.SlotCompleted
		s.Output = inv.Output
		s.Artifacts = append([]string(nil), inv.ArtifactsCreated...)
	} else {
		s.Status = domain.SlotFailed
		s.Error = inv.Error
	}

	raised := detectConflicts(&ex.rec, e.cfg.Equivalence)
	ex.rec.Status = deriveStatus(ex.rec)
	snapshot := e.commitLocked(ex)
	e.mu.Unlock()

	e.log.Debug().
		Str("parallelId", parallelID).
		Str("agent", snapshot.Slots[slot].Agent).
		Str("slotStatus", string(snapshot.Slots[slot].Status)).
		Str("status", string(snapshot.Status)).
		Msg("slot completed")
	if raised != nil {
		e.log.Info().
			Str("parallelId", parallelID).
			Str("conflictId", raised.ConflictID).
			Strs("agents", raised.Agents).
			Int("positions", len(raised.Positions)).
			Msg("conflict detected")
		e.cfg.Hooks.Emit(context.Background(), hooks.EventConflictDetected, map[string]any{
			"parallel_id": parallelID,
			"conflict_id": raised.ConflictID,
			"agents":      raised.Agents,
			"issue":       raised.Issue,
		})
	}
}

// commitLocked persists the record and wakes waiters. e.mu must be held so
// that saves reach the store in mutation order. A stored execution that can
// no longer change is dropped from memory.
func (e *Engine) commitLocked(ex *execution) domain.ParallelExecutionRecord {
	snapshot := ex.rec.Clone()
	persisted := false
	if e.cfg.Store != nil {
		if err := e.cfg.Store.SaveParallel(context.Background(), snapshot); err != nil {
			e.log.Error().Err(err).Str("parallelId", snapshot.ParallelID).Msg("failed to persist parallel execution")
		} else {
			persisted = true
		}
	}
	close(ex.changed)
	ex.changed = make(chan struct{})
	if persisted && settled(snapshot) {
		delete(e.execs, snapshot.ParallelID)
		e.log.Debug().Str("parallelId", snapshot.ParallelID).Msg("parallel execution settled")
	}
	return snapshot
}

// settled reports whether every slot is terminal and every conflict resolved.
func settled(rec domain.ParallelExecutionRecord) bool {
	return rec.Status == domain.ExecutionCompleted
}

// lookup finds a live execution, or loads a settled one from the store.
func (e *Engine) lookup(ctx context.Context, id string) (*execution, error) {
	e.mu.Lock()
	ex, ok := e.execs[id]
	e.mu.Unlock()
	if ok {
		return ex, nil
	}
	if e.cfg.Store == nil {
		return nil, domain.NotFound("parallel execution", id)
	}
	rec, err := e.cfg.Store.GetParallel(ctx, id)
	if err != nil {
		return nil, err
	}
	return &execution{rec: rec, changed: make(chan struct{})}, nil
}

// Live returns the number of executions held in memory.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.execs)
}

// Get returns a snapshot of a parallel execution record.
func (e *Engine) Get(ctx context.Context, id string) (domain.ParallelExecutionRecord, error) {
	ex, err := e.lookup(ctx, id)
	if err != nil {
		return domain.ParallelExecutionRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return ex.rec.Clone(), nil
}

// AggregateParallelResults reports the current state of an execution. With
// WaitForAll it first waits, bounded by TimeoutMs or the configured default,
// for every slot to finish. Running out of time yields a partial result, not
// an error.
func (e *Engine) AggregateParallelResults(ctx context.Context, params domain.AggregateParams) (domain.AggregateResult, error) {
	ex, err := e.lookup(ctx, params.ParallelID)
	if err != nil {
		return domain.AggregateResult{}, err
	}

	if params.WaitForAll {
		timeout := e.cfg.AggregateTimeout
		if params.TimeoutMs > 0 {
			timeout = time.Duration(params.TimeoutMs) * time.Millisecond
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()

	wait:
		for {
			e.mu.Lock()
			done := allTerminal(ex.rec.Slots)
			changed := ex.changed
			e.mu.Unlock()
			if done {
				break
			}
			select {
			case <-changed:
			case <-timer.C:
				e.log.Debug().Str("parallelId", params.ParallelID).Dur("timeout", timeout).Msg("aggregate wait timed out")
				break wait
			case <-ctx.Done():
				break wait
			}
		}
	}

	e.mu.Lock()
	snapshot := ex.rec.Clone()
	e.mu.Unlock()
	return aggregate(snapshot, e.cfg.Equivalence), nil
}

// ResolveConflict settles a conflict by weighted vote, a manual decision, or
// by asking the execution's conflict handler. Only a successful resolution
// changes the conflict; a resolved conflict never changes again.
func (e *Engine) ResolveConflict(ctx context.Context, params domain.ResolveConflictParams) (domain.ResolveConflictResult, error) {
	ex, err := e.lookup(ctx, params.ParallelID)
	if err != nil {
		return domain.ResolveConflictResult{}, err
	}

	e.mu.Lock()
	rec := ex.rec.Clone()
	e.mu.Unlock()

	idx := -1
	for i, c := range rec.Conflicts {
		if c.ConflictID == params.ConflictID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.ResolveConflictResult{}, domain.NotFound("conflict", params.ConflictID)
	}
	conflict := rec.Conflicts[idx]
	if conflict.Resolved {
		return domain.ResolveConflictResult{}, alreadyResolved(conflict)
	}

	var out domain.ResolveConflictResult
	switch params.ResolutionStrategy {
	case domain.ResolveVote:
		out = e.resolveByVote(conflict)
	case domain.ResolveManual:
		if strings.TrimSpace(params.ManualResolution) == "" {
			return domain.ResolveConflictResult{}, domain.NewValidationError("manual_resolution is required for manual resolution")
		}
		out = domain.ResolveConflictResult{
			Resolved:   true,
			Resolution: params.ManualResolution,
			ResolvedBy: domain.ResolvedByManual,
			Rationale:  "resolved manually",
		}
	case domain.ResolveEscalate:
		if rec.ConflictHandler == "" {
			return domain.ResolveConflictResult{}, fmt.Errorf("%w: parallel execution %s has no conflict_handler",
				domain.ErrMissingConflictHandler, rec.ParallelID)
		}
		out = e.resolveByHandler(ctx, rec, conflict)
	default:
		return domain.ResolveConflictResult{}, domain.NewValidationError(
			fmt.Sprintf("resolution_strategy must be vote, escalate or manual, got %q", params.ResolutionStrategy))
	}
	out.ConflictID = conflict.ConflictID

	if !out.Resolved {
		e.log.Info().
			Str("parallelId", rec.ParallelID).
			Str("conflictId", conflict.ConflictID).
			Str("strategy", string(params.ResolutionStrategy)).
			Str("rationale", out.Rationale).
			Msg("conflict left unresolved")
		return out, nil
	}

	e.mu.Lock()
	c := &ex.rec.Conflicts[idx]
	if c.Resolved {
		current := c.Clone()
		e.mu.Unlock()
		return domain.ResolveConflictResult{}, alreadyResolved(current)
	}
	c.Resolved = true
	c.Resolution = out.Resolution
	c.ResolvedBy = out.ResolvedBy
	c.Rationale = out.Rationale
	c.ResolvedAt = timestamp(e.now())
	ex.rec.Status = deriveStatus(ex.rec)
	e.commitLocked(ex)
	e.mu.Unlock()

	e.log.Info().
		Str("parallelId", rec.ParallelID).
		Str("conflictId", conflict.ConflictID).
		Str("resolvedBy", out.ResolvedBy).
		Msg("conflict resolved")
	e.cfg.Hooks.Emit(ctx, hooks.EventConflictResolved, map[string]any{
		"parallel_id": rec.ParallelID,
		"conflict_id": conflict.ConflictID,
		"resolved_by": out.ResolvedBy,
		"strategy":    string(params.ResolutionStrategy),
	})
	return out, nil
}

func alreadyResolved(c domain.ConflictRecord) error {
	return fmt.Errorf("%w: conflict %s was resolved by %s", domain.ErrAlreadyResolved, c.ConflictID, c.ResolvedBy)
}

func (e *Engine) resolveByVote(c domain.ConflictRecord) domain.ResolveConflictResult {
	winner, score, total := tallyVotes(c.Positions, e.cfg.VoteWeights)
	if winner < 0 {
		return domain.ResolveConflictResult{
			Resolved:  false,
			Rationale: fmt.Sprintf("vote tied at %g of %g; retry with escalate or manual", score, total),
		}
	}
	p := c.Positions[winner]
	return domain.ResolveConflictResult{
		Resolved:   true,
		Resolution: p.Position,
		ResolvedBy: "vote",
		Rationale:  fmt.Sprintf("position of %s won the vote with %g of %g", strings.Join(p.Agents, ", "), score, total),
	}
}

// resolveByHandler asks the conflict handler agent to settle the conflict
// and waits for its answer, bounded by the escalate timeout.
func (e *Engine) resolveByHandler(ctx context.Context, rec domain.ParallelExecutionRecord, c domain.ConflictRecord) domain.ResolveConflictResult {
	handler := rec.ConflictHandler
	inv, err := e.cfg.Invoker.Submit(ctx, domain.InvokeAgentParams{
		Agent:      handler,
		Prompt:     escalationPrompt(c),
		ParallelID: rec.ParallelID,
	}, nil)
	if err != nil {
		return domain.ResolveConflictResult{
			Rationale: fmt.Sprintf("could not start conflict handler %s: %v", handler, err),
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.EscalateTimeout)
	defer cancel()
	final, err := e.cfg.Invoker.Wait(waitCtx, inv.InvocationID)
	switch {
	case err != nil && errors.Is(err, domain.ErrTimeout):
		return domain.ResolveConflictResult{
			Rationale: fmt.Sprintf("conflict handler %s did not finish within %s (invocation %s)", handler, e.cfg.EscalateTimeout, inv.InvocationID),
		}
	case err != nil:
		return domain.ResolveConflictResult{
			Rationale: fmt.Sprintf("conflict handler %s: %v", handler, err),
		}
	case final.Status != domain.InvocationCompleted:
		return domain.ResolveConflictResult{
			Rationale: fmt.Sprintf("conflict handler %s failed: %s", handler, final.Error),
		}
	}

	return domain.ResolveConflictResult{
		Resolved:   true,
		Resolution: final.Output,
		ResolvedBy: handler,
		Rationale:  fmt.Sprintf("escalated to %s (invocation %s)", handler, final.InvocationID),
	}
}

func escalationPrompt(c domain.ConflictRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agents %s disagree: %s.\n\n", strings.Join(c.Agents, ", "), c.Issue)
	for i, p := range c.Positions {
		fmt.Fprintf(&b, "Position %d, held by %s:\n%s\n", i+1, strings.Join(p.Agents, ", "), strings.TrimSpace(p.Position))
		if len(p.Evidence) > 0 {
			fmt.Fprintf(&b, "Evidence: %s\n", strings.Join(p.Evidence, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("Decide which position is correct, or combine them, and reply with the resolution only.")
	return b.String()
}

// Rehydrate loads stored executions that are not yet settled. Slots still
// pending belonged to invocations of a previous process and are marked
// failed. It returns the number of executions recovered.
func (e *Engine) Rehydrate(ctx context.Context) (int, error) {
	if e.cfg.Store == nil {
		return 0, nil
	}
	records, err := e.cfg.Store.ListParallel(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing parallel executions: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	loaded := 0
	for _, rec := range records {
		if _, ok := e.execs[rec.ParallelID]; ok || settled(rec) {
			continue
		}
		interrupted := 0
		for i := range rec.Slots {
			if rec.Slots[i].Status == domain.SlotPending {
				rec.Slots[i].Status = domain.SlotFailed
				rec.Slots[i].Error = "interrupted"
				interrupted++
			}
		}
		ex := &execution{rec: rec, changed: make(chan struct{})}
		e.execs[rec.ParallelID] = ex
		if interrupted > 0 {
			detectConflicts(&ex.rec, e.cfg.Equivalence)
			ex.rec.Status = deriveStatus(ex.rec)
			e.commitLocked(ex)
			e.log.Warn().Str("parallelId", rec.ParallelID).Int("slots", interrupted).Msg("marked interrupted slots as failed")
		}
		loaded++
	}
	return loaded, nil
}
