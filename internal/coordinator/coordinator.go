// Package coordinator assembles the catalog, router, invocation manager,
// handoff tracker and parallel engine into one operation surface.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/conductor/internal/agent"
	"github.com/soyeahso/conductor/internal/catalog"
	"github.com/soyeahso/conductor/internal/config"
	"github.com/soyeahso/conductor/internal/domain"
	"github.com/soyeahso/conductor/internal/handoff"
	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/soyeahso/conductor/internal/invocation"
	"github.com/soyeahso/conductor/internal/llm"
	"github.com/soyeahso/conductor/internal/logging"
	"github.com/soyeahso/conductor/internal/metrics"
	"github.com/soyeahso/conductor/internal/parallel"
	"github.com/soyeahso/conductor/internal/routing"
	"github.com/soyeahso/conductor/internal/store"
)

// Options override the collaborators New would otherwise build from config.
type Options struct {
	Source   catalog.Source      // default: FileSource over cfg.Catalog
	Executor invocation.Executor // default: LLM-backed agent.Runner
	Ledger   store.Ledger        // default: store.OpenLedger(cfg.Store)
	Hooks    *hooks.Manager
}

// Coordinator is the agent orchestration coordinator.
type Coordinator struct {
	cfg     config.Config
	log     *logging.Logger
	source  catalog.Source
	catOpts []catalog.Option

	holder      *catalog.Holder
	watcher     *catalog.Watcher
	router      *routing.Router
	ledger      store.Ledger
	invocations *invocation.Manager
	handoffs    *handoff.Tracker
	parallel    *parallel.Engine
	hooks       *hooks.Manager
	metrics     *metrics.Collector
}

// New loads and freezes the catalog, opens the ledger and recovers records
// left unfinished by a previous process.
func New(ctx context.Context, cfg config.Config, log *logging.Logger, opts Options) (*Coordinator, error) {
	c := &Coordinator{
		cfg:     cfg,
		log:     log.Sub("coordinator"),
		source:  opts.Source,
		catOpts: []catalog.Option{catalog.WithAllowedModels(cfg.Catalog.AllowedModels...)},
		hooks:   opts.Hooks,
	}
	if len(cfg.Catalog.AllowedModels) == 0 {
		c.catOpts = nil
	}
	if c.source == nil {
		c.source = &catalog.FileSource{CatalogPath: cfg.Catalog.Path, AgentsDir: cfg.Catalog.AgentsDir}
	}
	if c.hooks == nil {
		c.hooks = hooks.NewManager(log)
	}
	if n := hooks.RegisterConfig(c.hooks, cfg.Hooks); n > 0 {
		c.log.Info().Int("count", n).Msg("command hooks registered")
	}
	c.metrics = metrics.NewCollector(log)
	c.metrics.Attach(c.hooks)

	cat, err := LoadCatalog(ctx, c.source, c.catOpts...)
	if err != nil {
		return nil, err
	}
	c.holder = catalog.NewHolder(cat)
	c.log.Info().Int("agents", len(cat.Agents())).Int("rules", len(cat.RoutingRules())).Msg("catalog loaded")

	c.ledger = opts.Ledger
	if c.ledger == nil {
		c.ledger, err = store.OpenLedger(cfg.Store, log)
		if err != nil {
			return nil, fmt.Errorf("opening ledger: %w", err)
		}
	}

	executor := opts.Executor
	if executor == nil {
		reg, err := llm.NewRegistryFromConfig(cfg.Executor, cfg.Catalog.AllowedModels, log)
		if err != nil {
			c.ledger.Close()
			return nil, fmt.Errorf("executor: %w", err)
		}
		executor = agent.NewRunner(agent.RunnerConfig{
			Fallbacks:     cfg.Executor.Fallbacks,
			MaxTokens:     cfg.Executor.MaxTokens,
			MaxConcurrent: cfg.Executor.MaxConcurrent,
		}, reg, log)
	}

	eq, err := parallel.EquivalenceByName(cfg.Parallel.Equivalence)
	if err != nil {
		c.ledger.Close()
		return nil, err
	}

	c.router = routing.NewRouter(c.holder, cfg.Routing.MaxAlternatives, log)
	c.invocations = invocation.NewManager(invocation.Config{
		Catalogs: c.holder,
		Executor: executor,
		Store:    c.ledger,
		Hooks:    c.hooks,
		Logger:   log,
		Timeout:  cfg.Invocation.Timeout(),
	})
	c.handoffs = handoff.NewTracker(c.holder, c.ledger, c.hooks, log)
	c.handoffs.SetInvocations(c.invocations)
	c.parallel = parallel.NewEngine(parallel.Config{
		Catalogs:            c.holder,
		Invoker:             c.invocations,
		Store:               c.ledger,
		Hooks:               c.hooks,
		Logger:              log,
		Equivalence:         eq,
		AggregateTimeout:    cfg.Parallel.AggregateTimeout(),
		EscalateTimeout:     cfg.Parallel.EscalateTimeout(),
		EstimatedCompletion: cfg.Parallel.EstimatedCompletion(),
		VoteWeights:         cfg.Parallel.VoteWeights,
	})

	if err := c.recover(ctx); err != nil {
		c.ledger.Close()
		return nil, err
	}

	if fs, ok := c.source.(*catalog.FileSource); ok && cfg.Catalog.Watch {
		c.watcher, err = catalog.NewWatcher(catalog.WatcherConfig{
			Source:   fs,
			Holder:   c.holder,
			Options:  c.catOpts,
			Logger:   log.Sub("catalog"),
			OnReload: c.onReload,
		})
		if err != nil {
			c.ledger.Close()
			return nil, fmt.Errorf("watching catalog: %w", err)
		}
	}
	return c, nil
}

// LoadCatalog reads definitions from src and freezes them into a catalog.
func LoadCatalog(ctx context.Context, src catalog.Source, opts ...catalog.Option) (*catalog.Catalog, error) {
	defs, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	return catalog.Build(defs, opts...)
}

func (c *Coordinator) recover(ctx context.Context) error {
	n, err := c.invocations.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recovering invocations: %w", err)
	}
	m, err := c.parallel.Rehydrate(ctx)
	if err != nil {
		return fmt.Errorf("rehydrating parallel executions: %w", err)
	}
	if n > 0 || m > 0 {
		c.log.Warn().Int("invocations", n).Int("parallel", m).Msg("recovered records interrupted by restart")
	}
	return nil
}

func (c *Coordinator) onReload(cat *catalog.Catalog, err error) {
	if err != nil {
		return
	}
	c.hooks.Emit(context.Background(), hooks.EventCatalogReloaded, map[string]any{
		"agents": len(cat.Agents()),
		"rules":  len(cat.RoutingRules()),
	})
}

// Reload rebuilds the catalog from its source and publishes it. A failed
// rebuild keeps the current snapshot.
func (c *Coordinator) Reload(ctx context.Context) error {
	if c.watcher != nil {
		_, err := c.watcher.Reload(ctx)
		return err
	}
	cat, err := LoadCatalog(ctx, c.source, c.catOpts...)
	if err != nil {
		c.log.Error().Err(err).Msg("catalog reload failed, keeping previous snapshot")
		return err
	}
	c.holder.Swap(cat)
	c.onReload(cat, nil)
	return nil
}

// Close stops the watcher, waits for in-flight invocations and closes the ledger.
func (c *Coordinator) Close(ctx context.Context) error {
	var errs []error
	if c.watcher != nil {
		errs = append(errs, c.watcher.Close())
	}
	errs = append(errs, c.invocations.Drain(ctx))
	errs = append(errs, c.ledger.Close())
	return errors.Join(errs...)
}

// Hooks returns the event bus.
func (c *Coordinator) Hooks() *hooks.Manager { return c.hooks }

// Metrics returns the Prometheus collector.
func (c *Coordinator) Metrics() *metrics.Collector { return c.metrics }

// Catalog returns the current catalog snapshot.
func (c *Coordinator) Catalog() *catalog.Catalog { return c.holder.Current() }

// GetAgentCatalog returns a snapshot of the current catalog.
func (c *Coordinator) GetAgentCatalog() catalog.Snapshot {
	return c.holder.Current().Snapshot()
}

// GetAgent returns one agent definition, or a not-found error.
func (c *Coordinator) GetAgent(name string) (domain.AgentDefinition, error) {
	return c.holder.Current().Agent(name)
}

// GetRoutingRecommendation ranks the workflows whose rules match the task.
func (c *Coordinator) GetRoutingRecommendation(req domain.RoutingRequest) domain.RoutingRecommendation {
	return c.router.Recommend(req)
}

// InvokeAgent validates the request and starts the agent in the background.
func (c *Coordinator) InvokeAgent(ctx context.Context, params domain.InvokeAgentParams) (domain.InvocationRecord, error) {
	return c.invocations.InvokeAgent(ctx, params)
}

// GetInvocation returns an invocation record by id.
func (c *Coordinator) GetInvocation(ctx context.Context, id string) (domain.InvocationRecord, error) {
	return c.invocations.Get(ctx, id)
}

// WaitInvocation blocks until the invocation is terminal or ctx ends.
func (c *Coordinator) WaitInvocation(ctx context.Context, id string) (domain.InvocationRecord, error) {
	return c.invocations.Wait(ctx, id)
}

// TrackHandoff records a transfer of work between two agents.
func (c *Coordinator) TrackHandoff(ctx context.Context, params domain.TrackHandoffParams) (domain.HandoffRecord, error) {
	return c.handoffs.TrackHandoff(ctx, params)
}

// ListHandoffs returns recorded handoffs matching filter, oldest first.
func (c *Coordinator) ListHandoffs(ctx context.Context, filter domain.HandoffFilter) ([]domain.HandoffRecord, error) {
	return c.handoffs.List(ctx, filter)
}

// StartParallelExecution launches the agents concurrently under one execution id.
func (c *Coordinator) StartParallelExecution(ctx context.Context, params domain.StartParallelParams) (domain.StartParallelResult, error) {
	return c.parallel.StartParallelExecution(ctx, params)
}

// AggregateParallelResults combines the agent outputs using the requested strategy.
func (c *Coordinator) AggregateParallelResults(ctx context.Context, params domain.AggregateParams) (domain.AggregateResult, error) {
	return c.parallel.AggregateParallelResults(ctx, params)
}

// ResolveConflict settles a conflict left by vote or escalate aggregation.
func (c *Coordinator) ResolveConflict(ctx context.Context, params domain.ResolveConflictParams) (domain.ResolveConflictResult, error) {
	return c.parallel.ResolveConflict(ctx, params)
}

// GetParallelExecution returns the shared record of a parallel execution.
func (c *Coordinator) GetParallelExecution(ctx context.Context, id string) (domain.ParallelExecutionRecord, error) {
	return c.parallel.Get(ctx, id)
}
