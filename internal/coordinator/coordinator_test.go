package coordinator

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/conductor/internal/catalog"
	"github.com/soyeahso/conductor/internal/config"
	"github.com/soyeahso/conductor/internal/domain"
	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/soyeahso/conductor/internal/invocation"
	"github.com/soyeahso/conductor/internal/logging"
)

func def(name string, delegatesTo, calledBy []string) domain.AgentDefinition {
	return domain.AgentDefinition{
		Name:         name,
		Role:         name,
		DefaultModel: "sonnet",
		Inputs:       []domain.InputSpec{{Name: "task", Type: "string", Required: true}},
		Outputs:      []domain.OutputSpec{{Name: "report", Type: "markdown"}},
		DelegatesTo:  delegatesTo,
		CalledBy:     calledBy,
	}
}

func testDefinitions() *catalog.Definitions {
	return &catalog.Definitions{
		Agents: []domain.AgentDefinition{
			def("analyst", []string{"implementer"}, nil),
			def("implementer", nil, []string{"analyst"}),
			def("architect", nil, nil),
			def("security", nil, nil),
			def("critic", nil, nil),
		},
		Workflows: []domain.WorkflowDefinition{
			{Name: "feature", Trigger: "new feature", Agents: []string{"analyst", "implementer"}},
		},
		RoutingRules: []domain.RoutingRule{
			{Pattern: `(?i)implement|feature`, Primary: "analyst", Fallback: "implementer", Confidence: 0.9, Workflow: "feature"},
		},
	}
}

// scripted answers by agent name.
var scripted = map[string]string{
	"analyst":     "Requirements: users log in with email.",
	"implementer": "Store sessions in SQLite",
	"architect":   "Store sessions in Postgres",
	"security":    "store sessions in   postgres",
	"critic":      "Postgres in production, SQLite in tests.",
}

func scriptedExecutor() invocation.ExecutorFunc {
	return func(_ context.Context, req invocation.ExecutionRequest) (*invocation.ExecutionResult, error) {
		res := &invocation.ExecutionResult{Output: scripted[req.Agent.Name]}
		if req.Agent.Name == "analyst" {
			res.ArtifactsCreated = []string{"docs/requirements.md"}
			res.SuggestedNext = []string{"implementer"}
		}
		return res, nil
	}
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Store.Driver = "memory"
	cfg.Parallel.AggregateTimeoutSeconds = 5
	cfg.Parallel.EscalateTimeoutSeconds = 5
	return cfg
}

func newTestCoordinator(t *testing.T, cfg config.Config, opts Options) *Coordinator {
	t.Helper()
	if opts.Source == nil {
		opts.Source = testDefinitions()
	}
	if opts.Executor == nil {
		opts.Executor = scriptedExecutor()
	}
	c, err := New(context.Background(), cfg, logging.New(nil, "silent"), opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func TestCoordinator_EndToEnd(t *testing.T) {
	c := newTestCoordinator(t, testConfig(), Options{})
	ctx := context.Background()

	rec := c.GetRoutingRecommendation(domain.RoutingRequest{Task: "implement login feature"})
	assert.Equal(t, "feature", rec.RecommendedWorkflow)
	assert.Equal(t, []string{"analyst", "implementer"}, rec.RecommendedAgents)
	assert.Equal(t, 90, rec.Confidence)

	started, err := c.InvokeAgent(ctx, domain.InvokeAgentParams{
		Agent:   "analyst",
		Prompt:  "gather requirements for login",
		Context: &domain.AgentContext{SessionID: "s-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InvocationStarted, started.Status)
	assert.Equal(t, "sonnet", started.Model)

	done, err := c.WaitInvocation(ctx, started.InvocationID)
	require.NoError(t, err)
	require.Equal(t, domain.InvocationCompleted, done.Status)
	assert.Equal(t, []string{"docs/requirements.md"}, done.ArtifactsCreated)

	h, err := c.TrackHandoff(ctx, domain.TrackHandoffParams{
		FromAgent: "analyst",
		ToAgent:   "implementer",
		Context: domain.HandoffContext{
			Summary:   done.Output,
			Artifacts: done.ArtifactsCreated,
			Decisions: []domain.Decision{{Decision: "email login", Rationale: "simplest"}},
		},
		OriginContext: started.Context,
	})
	require.NoError(t, err)
	assert.True(t, h.ContextPreserved)
	assert.Equal(t, "s-1", h.SessionID)

	_, err = c.TrackHandoff(ctx, domain.TrackHandoffParams{FromAgent: "implementer", ToAgent: "analyst"})
	require.ErrorIs(t, err, domain.ErrUnauthorizedHandoff)

	listed, err := c.ListHandoffs(ctx, domain.HandoffFilter{SessionID: "s-1"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, h.HandoffID, listed[0].HandoffID)

	par, err := c.StartParallelExecution(ctx, domain.StartParallelParams{
		Agents: []domain.ParallelAgent{
			{Agent: "architect", Prompt: "where do sessions live?"},
			{Agent: "security", Prompt: "where do sessions live?"},
			{Agent: "implementer", Prompt: "where do sessions live?"},
		},
		AggregationStrategy: domain.StrategyVote,
		ConflictHandler:     "critic",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionRunning, par.Status)
	assert.Equal(t, []string{"architect", "security", "implementer"}, par.AgentsStarted)

	agg, err := c.AggregateParallelResults(ctx, domain.AggregateParams{ParallelID: par.ParallelID, WaitForAll: true, TimeoutMs: 5000})
	require.NoError(t, err)
	require.Equal(t, domain.AggregateConflict, agg.Status)
	assert.True(t, agg.ResolutionNeeded)
	require.Len(t, agg.Conflicts, 1)
	conflict := agg.Conflicts[0]
	assert.Len(t, conflict.Positions, 2)

	res, err := c.ResolveConflict(ctx, domain.ResolveConflictParams{
		ParallelID:         par.ParallelID,
		ConflictID:         conflict.ConflictID,
		ResolutionStrategy: domain.ResolveEscalate,
	})
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Equal(t, "critic", res.ResolvedBy)
	assert.Equal(t, scripted["critic"], res.Resolution)

	agg, err = c.AggregateParallelResults(ctx, domain.AggregateParams{ParallelID: par.ParallelID})
	require.NoError(t, err)
	assert.Equal(t, domain.AggregateComplete, agg.Status)
	assert.False(t, agg.ResolutionNeeded)
	assert.Equal(t, scripted["critic"], agg.AggregatedOutput)

	_, err = c.ResolveConflict(ctx, domain.ResolveConflictParams{
		ParallelID:         par.ParallelID,
		ConflictID:         conflict.ConflictID,
		ResolutionStrategy: domain.ResolveManual,
		ManualResolution:   "Postgres",
	})
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)

	n, err := testutil.GatherAndCount(c.Metrics().Registry(), "conductor_conflicts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCoordinator_HandoffFromInvocation(t *testing.T) {
	exec := invocation.ExecutorFunc(func(_ context.Context, req invocation.ExecutionRequest) (*invocation.ExecutionResult, error) {
		return &invocation.ExecutionResult{
			Output: scripted[req.Agent.Name],
			HandoffContext: &domain.HandoffContext{
				Summary:   "login requirements",
				Artifacts: []string{"docs/requirements.md"},
				Decisions: []domain.Decision{{Decision: "email login", Rationale: "simplest"}},
			},
		}, nil
	})
	c := newTestCoordinator(t, testConfig(), Options{Executor: exec})
	ctx := context.Background()

	started, err := c.InvokeAgent(ctx, domain.InvokeAgentParams{
		Agent:   "analyst",
		Prompt:  "gather requirements",
		Context: &domain.AgentContext{SessionID: "s-2"},
	})
	require.NoError(t, err)
	done, err := c.WaitInvocation(ctx, started.InvocationID)
	require.NoError(t, err)
	require.NotNil(t, done.HandoffContext)

	h, err := c.TrackHandoff(ctx, domain.TrackHandoffParams{
		FromAgent:    "analyst",
		ToAgent:      "implementer",
		InvocationID: done.InvocationID,
	})
	require.NoError(t, err)
	assert.Equal(t, done.InvocationID, h.InvocationID)
	assert.Equal(t, "login requirements", h.Context.Summary)
	assert.True(t, h.ContextPreserved)
	assert.Equal(t, "s-2", h.SessionID)
}

func TestCoordinator_UnknownAgent(t *testing.T) {
	c := newTestCoordinator(t, testConfig(), Options{})

	_, err := c.GetAgent("nobody")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.InvokeAgent(context.Background(), domain.InvokeAgentParams{Agent: "nobody", Prompt: "x"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.GetInvocation(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCoordinator_InvalidCatalog(t *testing.T) {
	defs := testDefinitions()
	defs.Agents[0].DelegatesTo = []string{"ghost"}

	_, err := New(context.Background(), testConfig(), logging.New(nil, "silent"), Options{
		Source:   defs,
		Executor: scriptedExecutor(),
	})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "ghost")
}

func TestCoordinator_Reload(t *testing.T) {
	defs := testDefinitions()
	hm := hooks.NewManager(logging.New(nil, "silent"))
	var reloads atomic.Int32
	hm.On(hooks.EventCatalogReloaded, "test", func(context.Context, hooks.Payload) error {
		reloads.Add(1)
		return nil
	})
	c := newTestCoordinator(t, testConfig(), Options{Source: defs, Hooks: hm})
	old := c.Catalog()

	defs.Agents = append(defs.Agents, def("tester", nil, nil))
	require.NoError(t, c.Reload(context.Background()))

	_, err := c.GetAgent("tester")
	require.NoError(t, err)
	assert.False(t, old.HasAgent("tester"))
	assert.Equal(t, int32(1), reloads.Load())

	defs.Agents = append(defs.Agents, def("tester", nil, nil))
	require.ErrorIs(t, c.Reload(context.Background()), domain.ErrValidation)
	assert.True(t, c.Catalog().HasAgent("tester"))
	assert.Equal(t, int32(1), reloads.Load())
}

func TestCoordinator_DurableAcrossRestart(t *testing.T) {
	cfg := testConfig()
	cfg.Store = config.StoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "conductor.db")}
	ctx := context.Background()
	log := logging.New(nil, "silent")

	first, err := New(ctx, cfg, log, Options{Source: testDefinitions(), Executor: scriptedExecutor()})
	require.NoError(t, err)

	par, err := first.StartParallelExecution(ctx, domain.StartParallelParams{
		Agents: []domain.ParallelAgent{
			{Agent: "architect", Prompt: "review"},
			{Agent: "security", Prompt: "review"},
		},
		AggregationStrategy: domain.StrategyMerge,
	})
	require.NoError(t, err)
	agg, err := first.AggregateParallelResults(ctx, domain.AggregateParams{ParallelID: par.ParallelID, WaitForAll: true, TimeoutMs: 5000})
	require.NoError(t, err)
	require.Equal(t, domain.AggregateComplete, agg.Status)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, first.Close(closeCtx))

	second := newTestCoordinator(t, cfg, Options{})
	rec, err := second.GetParallelExecution(ctx, par.ParallelID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, rec.Status)

	again, err := second.AggregateParallelResults(ctx, domain.AggregateParams{ParallelID: par.ParallelID})
	require.NoError(t, err)
	assert.Equal(t, agg.AggregatedOutput, again.AggregatedOutput)
	assert.True(t, strings.Contains(again.AggregatedOutput, "## architect"))

	inv, err := second.GetInvocation(ctx, rec.Slots[0].InvocationID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvocationCompleted, inv.Status)
}
