package handoff

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/conductor/internal/catalog"
	"github.com/soyeahso/conductor/internal/domain"
	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/soyeahso/conductor/internal/logging"
	"github.com/soyeahso/conductor/internal/store"
)

func newTestTracker(t *testing.T, hm *hooks.Manager) *Tracker {
	t.Helper()
	c, err := catalog.Build(&catalog.Definitions{
		Agents: []domain.AgentDefinition{
			{Name: "analyst", DefaultModel: "sonnet", DelegatesTo: []string{"implementer"}},
			{Name: "implementer", DefaultModel: "sonnet", CalledBy: []string{"analyst"}},
			{Name: "critic", DefaultModel: "opus"},
		},
	})
	require.NoError(t, err)
	return NewTracker(catalog.NewHolder(c), store.NewMemoryLedger(), hm, logging.New(nil, "silent"))
}

func fullContext() domain.HandoffContext {
	return domain.HandoffContext{
		Summary:   "requirements settled",
		Artifacts: []string{"docs/analysis.md"},
		Decisions: []domain.Decision{{Decision: "use sqlite", Rationale: "single node"}},
	}
}

func TestTrackHandoff(t *testing.T) {
	tr := newTestTracker(t, nil)
	ctx := context.Background()

	rec, err := tr.TrackHandoff(ctx, domain.TrackHandoffParams{
		FromAgent:     "analyst",
		ToAgent:       "implementer",
		Context:       fullContext(),
		OriginContext: &domain.AgentContext{SessionID: "sess-1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.HandoffID)
	assert.False(t, rec.Timestamp.IsZero())
	assert.True(t, rec.ContextPreserved)
	assert.Equal(t, "sess-1", rec.SessionID)

	got, err := tr.Get(ctx, rec.HandoffID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	again, err := tr.TrackHandoff(ctx, domain.TrackHandoffParams{FromAgent: "analyst", ToAgent: "implementer", Context: fullContext()})
	require.NoError(t, err)
	assert.NotEqual(t, rec.HandoffID, again.HandoffID)
	assert.Empty(t, again.SessionID)
}

func TestTrackHandoff_ContextPreserved(t *testing.T) {
	tr := newTestTracker(t, nil)
	strip := []func(*domain.HandoffContext){
		func(c *domain.HandoffContext) { c.Summary = "" },
		func(c *domain.HandoffContext) { c.Artifacts = nil },
		func(c *domain.HandoffContext) { c.Decisions = []domain.Decision{} },
	}
	for i, s := range strip {
		hc := fullContext()
		s(&hc)
		rec, err := tr.TrackHandoff(context.Background(), domain.TrackHandoffParams{FromAgent: "analyst", ToAgent: "implementer", Context: hc})
		require.NoError(t, err)
		assert.False(t, rec.ContextPreserved, "case %d", i)
	}

	hc := fullContext()
	hc.OpenQuestions = nil
	hc.Recommendations = nil
	rec, err := tr.TrackHandoff(context.Background(), domain.TrackHandoffParams{FromAgent: "analyst", ToAgent: "implementer", Context: hc})
	require.NoError(t, err)
	assert.True(t, rec.ContextPreserved)
}

func TestTrackHandoff_Errors(t *testing.T) {
	tr := newTestTracker(t, nil)
	ctx := context.Background()

	_, err := tr.TrackHandoff(ctx, domain.TrackHandoffParams{FromAgent: "analyst", ToAgent: "critic"})
	assert.ErrorIs(t, err, domain.ErrUnauthorizedHandoff)

	_, err = tr.TrackHandoff(ctx, domain.TrackHandoffParams{FromAgent: "implementer", ToAgent: "analyst"})
	assert.ErrorIs(t, err, domain.ErrUnauthorizedHandoff)

	_, err = tr.TrackHandoff(ctx, domain.TrackHandoffParams{FromAgent: "ghost", ToAgent: "implementer"})
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.ID)

	_, err = tr.TrackHandoff(ctx, domain.TrackHandoffParams{ToAgent: "implementer"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	list, err := tr.List(ctx, domain.HandoffFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestList_Filters(t *testing.T) {
	tr := newTestTracker(t, nil)
	ctx := context.Background()
	for _, p := range []domain.TrackHandoffParams{
		{FromAgent: "analyst", ToAgent: "implementer", OriginContext: &domain.AgentContext{SessionID: "a"}},
		{FromAgent: "analyst", ToAgent: "implementer", OriginContext: &domain.AgentContext{SessionID: "b"}, ParallelID: "p1"},
		{FromAgent: "analyst", ToAgent: "implementer", OriginContext: &domain.AgentContext{SessionID: "a"}},
	} {
		_, err := tr.TrackHandoff(ctx, p)
		require.NoError(t, err)
	}

	sessA, err := tr.List(ctx, domain.HandoffFilter{SessionID: "a"})
	require.NoError(t, err)
	assert.Len(t, sessA, 2)

	par, err := tr.List(ctx, domain.HandoffFilter{ParallelID: "p1"})
	require.NoError(t, err)
	require.Len(t, par, 1)
	assert.Equal(t, "b", par[0].SessionID)
}

func TestTrackHandoff_EmitsHook(t *testing.T) {
	hm := hooks.NewManager(logging.New(nil, "silent"))
	var mu sync.Mutex
	var got []hooks.Payload
	hm.On(hooks.EventHandoffTracked, "test", func(_ context.Context, p hooks.Payload) error {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
		return nil
	})

	tr := newTestTracker(t, hm)
	rec, err := tr.TrackHandoff(context.Background(), domain.TrackHandoffParams{FromAgent: "analyst", ToAgent: "implementer", Context: fullContext()})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, rec.HandoffID, got[0].Data["handoff_id"])
	assert.Equal(t, true, got[0].Data["context_preserved"])
}

type invocationMap map[string]domain.InvocationRecord

func (m invocationMap) Get(_ context.Context, id string) (domain.InvocationRecord, error) {
	rec, ok := m[id]
	if !ok {
		return domain.InvocationRecord{}, domain.NotFound("invocation", id)
	}
	return rec, nil
}

func TestTrackHandoff_LinksInvocation(t *testing.T) {
	tr := newTestTracker(t, nil)
	ctx := context.Background()

	hc := fullContext()
	tr.SetInvocations(invocationMap{
		"inv-1": {
			InvocationID:   "inv-1",
			Agent:          "analyst",
			Status:         domain.InvocationCompleted,
			ParallelID:     "par-1",
			Context:        &domain.AgentContext{SessionID: "sess-9"},
			HandoffContext: &hc,
		},
		"inv-2": {InvocationID: "inv-2", Agent: "analyst", Status: domain.InvocationStarted},
		"inv-3": {InvocationID: "inv-3", Agent: "critic", Status: domain.InvocationCompleted},
	})

	rec, err := tr.TrackHandoff(ctx, domain.TrackHandoffParams{
		FromAgent:    "analyst",
		ToAgent:      "implementer",
		InvocationID: "inv-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "inv-1", rec.InvocationID)
	assert.Equal(t, hc, rec.Context)
	assert.True(t, rec.ContextPreserved)
	assert.Equal(t, "par-1", rec.ParallelID)
	assert.Equal(t, "sess-9", rec.SessionID)

	// An explicit context wins over the invocation's.
	rec, err = tr.TrackHandoff(ctx, domain.TrackHandoffParams{
		FromAgent:    "analyst",
		ToAgent:      "implementer",
		InvocationID: "inv-1",
		Context:      domain.HandoffContext{Summary: "override"},
	})
	require.NoError(t, err)
	assert.Equal(t, "override", rec.Context.Summary)
	assert.False(t, rec.ContextPreserved)

	_, err = tr.TrackHandoff(ctx, domain.TrackHandoffParams{FromAgent: "analyst", ToAgent: "implementer", InvocationID: "inv-2"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = tr.TrackHandoff(ctx, domain.TrackHandoffParams{FromAgent: "analyst", ToAgent: "implementer", InvocationID: "inv-3"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = tr.TrackHandoff(ctx, domain.TrackHandoffParams{FromAgent: "analyst", ToAgent: "implementer", InvocationID: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := tr.List(ctx, domain.HandoffFilter{SessionID: "sess-9"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestTrackHandoff_InvocationIDWithoutSource(t *testing.T) {
	tr := newTestTracker(t, nil)
	_, err := tr.TrackHandoff(context.Background(), domain.TrackHandoffParams{
		FromAgent:    "analyst",
		ToAgent:      "implementer",
		InvocationID: "inv-1",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
