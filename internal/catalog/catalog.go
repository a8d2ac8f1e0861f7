package catalog

import (
	"slices"
	"sync/atomic"
	"time"

	"github.com/soyeahso/conductor/internal/domain"
)

// Catalog is an immutable snapshot of registered definitions. Accessors
// return copies, so readers need no synchronization.
type Catalog struct {
	agents       []domain.AgentDefinition
	agentIndex   map[string]int
	workflows    []domain.WorkflowDefinition
	wfIndex      map[string]int
	rules        []domain.RoutingRule
	defaultRoute string
	loadedAt     time.Time
}

// Snapshot is the serializable view returned by GetAgentCatalog.
type Snapshot struct {
	Agents            []domain.AgentDefinition    `json:"agents" yaml:"agents"`
	Workflows         []domain.WorkflowDefinition `json:"workflows" yaml:"workflows"`
	RoutingHeuristics []domain.RoutingRule        `json:"routing_heuristics" yaml:"routing_heuristics"`
	DefaultRoute      string                      `json:"default_route,omitempty" yaml:"default_route,omitempty"`
	LoadedAt          time.Time                   `json:"loaded_at" yaml:"loaded_at"`
}

func newCatalog(agents []domain.AgentDefinition, workflows []domain.WorkflowDefinition, rules []domain.RoutingRule, defaultRoute string, loadedAt time.Time) *Catalog {
	c := &Catalog{
		agents:       make([]domain.AgentDefinition, len(agents)),
		agentIndex:   make(map[string]int, len(agents)),
		workflows:    make([]domain.WorkflowDefinition, len(workflows)),
		wfIndex:      make(map[string]int, len(workflows)),
		rules:        make([]domain.RoutingRule, len(rules)),
		defaultRoute: defaultRoute,
		loadedAt:     loadedAt,
	}
	for i, a := range agents {
		c.agents[i] = a.Clone()
		c.agentIndex[a.Name] = i
	}
	for i, wf := range workflows {
		c.workflows[i] = wf.Clone()
		c.wfIndex[wf.Name] = i
	}
	for i, rule := range rules {
		c.rules[i] = rule.Clone()
	}
	return c
}

// Agent returns the named agent or a NotFoundError.
func (c *Catalog) Agent(name string) (domain.AgentDefinition, error) {
	i, ok := c.agentIndex[name]
	if !ok {
		return domain.AgentDefinition{}, domain.NotFound("agent", name)
	}
	return c.agents[i].Clone(), nil
}

// HasAgent reports whether name is registered.
func (c *Catalog) HasAgent(name string) bool {
	_, ok := c.agentIndex[name]
	return ok
}

// Agents returns every agent in registration order.
func (c *Catalog) Agents() []domain.AgentDefinition {
	out := make([]domain.AgentDefinition, len(c.agents))
	for i, a := range c.agents {
		out[i] = a.Clone()
	}
	return out
}

// Workflow returns the named workflow.
func (c *Catalog) Workflow(name string) (domain.WorkflowDefinition, bool) {
	i, ok := c.wfIndex[name]
	if !ok {
		return domain.WorkflowDefinition{}, false
	}
	return c.workflows[i].Clone(), true
}

// Workflows returns every workflow in registration order.
func (c *Catalog) Workflows() []domain.WorkflowDefinition {
	out := make([]domain.WorkflowDefinition, len(c.workflows))
	for i, wf := range c.workflows {
		out[i] = wf.Clone()
	}
	return out
}

// RoutingRules returns every rule in registration order.
func (c *Catalog) RoutingRules() []domain.RoutingRule {
	out := make([]domain.RoutingRule, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.Clone()
	}
	return out
}

// DefaultRoute returns the agent used when no rule matches, if any.
func (c *Catalog) DefaultRoute() string { return c.defaultRoute }

// LoadedAt returns when the snapshot was frozen.
func (c *Catalog) LoadedAt() time.Time { return c.loadedAt }

// CanDelegate reports whether a handoff from one agent to another is
// permitted by either side's delegation relation.
func (c *Catalog) CanDelegate(from, to string) bool {
	fi, ok := c.agentIndex[from]
	if !ok {
		return false
	}
	ti, ok := c.agentIndex[to]
	if !ok {
		return false
	}
	return slices.Contains(c.agents[fi].DelegatesTo, to) || slices.Contains(c.agents[ti].CalledBy, from)
}

// Snapshot returns the serializable view of the catalog.
func (c *Catalog) Snapshot() Snapshot {
	return Snapshot{
		Agents:            c.Agents(),
		Workflows:         c.Workflows(),
		RoutingHeuristics: c.RoutingRules(),
		DefaultRoute:      c.defaultRoute,
		LoadedAt:          c.loadedAt,
	}
}

// Holder publishes the current catalog. Swap replaces the whole snapshot;
// readers holding an older *Catalog keep seeing it unchanged.
type Holder struct {
	current atomic.Pointer[Catalog]
}

// NewHolder creates a holder publishing c.
func NewHolder(c *Catalog) *Holder {
	h := &Holder{}
	h.current.Store(c)
	return h
}

// Current returns the latest snapshot.
func (h *Holder) Current() *Catalog { return h.current.Load() }

// Swap publishes a new snapshot and returns the previous one.
func (h *Holder) Swap(c *Catalog) *Catalog { return h.current.Swap(c) }
