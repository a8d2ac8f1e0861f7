// Package handoff records context transfers between agents.
package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/conductor/internal/catalog"
	"github.com/soyeahso/conductor/internal/domain"
	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/soyeahso/conductor/internal/logging"
)

// CatalogProvider returns the catalog snapshot used for authorization.
type CatalogProvider interface {
	Current() *catalog.Catalog
}

// Store persists handoff records.
type Store interface {
	SaveHandoff(ctx context.Context, rec domain.HandoffRecord) error
	GetHandoff(ctx context.Context, id string) (domain.HandoffRecord, error)
	ListHandoffs(ctx context.Context, filter domain.HandoffFilter) ([]domain.HandoffRecord, error)
}

// InvocationSource looks up the invocation a handoff continues from.
type InvocationSource interface {
	Get(ctx context.Context, id string) (domain.InvocationRecord, error)
}

// Tracker validates and records handoffs.
type Tracker struct {
	catalogs    CatalogProvider
	store       Store
	invocations InvocationSource
	hooks       *hooks.Manager
	log         *logging.Logger
	now         func() time.Time
}

// NewTracker creates a handoff tracker. hm may be nil.
func NewTracker(catalogs CatalogProvider, store Store, hm *hooks.Manager, log *logging.Logger) *Tracker {
	return &Tracker{
		catalogs: catalogs,
		store:    store,
		hooks:    hm,
		log:      log.Sub("handoff"),
		now:      time.Now,
	}
}

// SetInvocations enables linking handoffs to the invocation they continue.
func (t *Tracker) SetInvocations(src InvocationSource) {
	t.invocations = src
}

// TrackHandoff records a handoff from one agent to another. The delegation
// must be declared in the catalog by either side.
func (t *Tracker) TrackHandoff(ctx context.Context, params domain.TrackHandoffParams) (domain.HandoffRecord, error) {
	var issues []string
	if params.FromAgent == "" {
		issues = append(issues, "from_agent is required")
	}
	if params.ToAgent == "" {
		issues = append(issues, "to_agent is required")
	}
	if len(issues) > 0 {
		return domain.HandoffRecord{}, domain.NewValidationError(issues...)
	}

	cat := t.catalogs.Current()
	for _, name := range []string{params.FromAgent, params.ToAgent} {
		if !cat.HasAgent(name) {
			return domain.HandoffRecord{}, domain.NotFound("agent", name)
		}
	}
	if !cat.CanDelegate(params.FromAgent, params.ToAgent) {
		t.log.Warn().
			Str("from", params.FromAgent).
			Str("to", params.ToAgent).
			Msg("rejected unauthorized handoff")
		return domain.HandoffRecord{}, fmt.Errorf("%w: %s may not hand off to %s",
			domain.ErrUnauthorizedHandoff, params.FromAgent, params.ToAgent)
	}

	if params.InvocationID != "" {
		linked, err := t.linkInvocation(ctx, params)
		if err != nil {
			return domain.HandoffRecord{}, err
		}
		params = linked
	}

	rec := domain.HandoffRecord{
		HandoffID:        uuid.NewString(),
		Timestamp:        t.now().UTC(),
		From:             params.FromAgent,
		To:               params.ToAgent,
		ContextPreserved: params.Context.Preserved(),
		ParallelID:       params.ParallelID,
		InvocationID:     params.InvocationID,
		Context:          params.Context.Clone(),
	}
	if params.OriginContext != nil {
		rec.SessionID = params.OriginContext.SessionID
	}

	if err := t.store.SaveHandoff(ctx, rec); err != nil {
		return domain.HandoffRecord{}, fmt.Errorf("recording handoff: %w", err)
	}

	t.log.Info().
		Str("handoffId", rec.HandoffID).
		Str("from", rec.From).
		Str("to", rec.To).
		Bool("contextPreserved", rec.ContextPreserved).
		Str("session", rec.SessionID).
		Msg("handoff tracked")
	t.hooks.Emit(ctx, hooks.EventHandoffTracked, map[string]any{
		"handoff_id":        rec.HandoffID,
		"from":              rec.From,
		"to":                rec.To,
		"context_preserved": rec.ContextPreserved,
		"session_id":        rec.SessionID,
		"invocation_id":     rec.InvocationID,
	})

	return rec.Clone(), nil
}

// linkInvocation fills the gaps in params from the invocation the handoff
// continues. The invocation must belong to from_agent and be completed.
func (t *Tracker) linkInvocation(ctx context.Context, params domain.TrackHandoffParams) (domain.TrackHandoffParams, error) {
	if t.invocations == nil {
		return params, domain.NewValidationError("invocation_id given but invocations are not tracked")
	}
	inv, err := t.invocations.Get(ctx, params.InvocationID)
	if err != nil {
		return params, err
	}
	if inv.Agent != params.FromAgent {
		return params, domain.NewValidationError(fmt.Sprintf(
			"invocation %s was run by %s, not %s", inv.InvocationID, inv.Agent, params.FromAgent))
	}
	if inv.Status != domain.InvocationCompleted {
		return params, domain.NewValidationError(fmt.Sprintf(
			"invocation %s is %s, not completed", inv.InvocationID, inv.Status))
	}

	if params.Context.Empty() && inv.HandoffContext != nil {
		params.Context = inv.HandoffContext.Clone()
	}
	if params.ParallelID == "" {
		params.ParallelID = inv.ParallelID
	}
	if params.OriginContext == nil && inv.Context != nil {
		params.OriginContext = inv.Context
	}
	return params, nil
}

// Get returns a recorded handoff.
func (t *Tracker) Get(ctx context.Context, id string) (domain.HandoffRecord, error) {
	return t.store.GetHandoff(ctx, id)
}

// List returns handoffs matching filter in the order they were tracked.
func (t *Tracker) List(ctx context.Context, filter domain.HandoffFilter) ([]domain.HandoffRecord, error) {
	return t.store.ListHandoffs(ctx, filter)
}
