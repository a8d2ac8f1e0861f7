// Package catalog holds the agent registry: validated agent, workflow and
// routing rule definitions that become an immutable snapshot once frozen.
package catalog

import (
	"fmt"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/soyeahso/conductor/internal/domain"
)

var agentNamePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// Registry accumulates definitions during a bulk load. Forward references
// between agents are allowed until Freeze resolves the whole graph.
type Registry struct {
	mu            sync.Mutex
	allowedModels []string

	agents     []domain.AgentDefinition
	agentIndex map[string]int
	workflows  []domain.WorkflowDefinition
	wfIndex    map[string]int
	rules      []domain.RoutingRule

	defaultRoute string
	frozen       *Catalog
}

// Option configures a Registry.
type Option func(*Registry)

// WithAllowedModels restricts default_model to the given names.
func WithAllowedModels(models ...string) Option {
	return func(r *Registry) {
		if len(models) > 0 {
			r.allowedModels = slices.Clone(models)
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		allowedModels: []string{"opus", "sonnet", "haiku"},
		agentIndex:    make(map[string]int),
		wfIndex:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterAgent validates and records an agent definition.
func (r *Registry) RegisterAgent(def domain.AgentDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOpen(); err != nil {
		return err
	}

	var issues []string
	if !agentNamePattern.MatchString(def.Name) {
		issues = append(issues, fmt.Sprintf("agent name %q must be non-empty kebab-case", def.Name))
	} else if _, dup := r.agentIndex[def.Name]; dup {
		issues = append(issues, fmt.Sprintf("agent %q already registered", def.Name))
	}
	if def.DefaultModel == "" {
		issues = append(issues, fmt.Sprintf("agent %q: default_model is required", def.Name))
	} else if !slices.Contains(r.allowedModels, def.DefaultModel) {
		issues = append(issues, fmt.Sprintf("agent %q: default_model %q not in %v", def.Name, def.DefaultModel, r.allowedModels))
	}

	seen := make(map[string]bool)
	for i, in := range def.Inputs {
		issues = append(issues, checkSpec(def.Name, "inputs", i, in.Name, in.Type, seen)...)
	}
	seen = make(map[string]bool)
	for i, out := range def.Outputs {
		issues = append(issues, checkSpec(def.Name, "outputs", i, out.Name, out.Type, seen)...)
	}
	for _, ref := range append(slices.Clone(def.DelegatesTo), def.CalledBy...) {
		if ref == def.Name {
			issues = append(issues, fmt.Sprintf("agent %q: cannot reference itself in delegation relations", def.Name))
			break
		}
	}

	if len(issues) > 0 {
		return domain.NewValidationError(issues...)
	}

	r.agentIndex[def.Name] = len(r.agents)
	r.agents = append(r.agents, def.Clone())
	return nil
}

func checkSpec(agent, field string, i int, name, typ string, seen map[string]bool) []string {
	var issues []string
	if name == "" {
		issues = append(issues, fmt.Sprintf("agent %q: %s[%d] name is required", agent, field, i))
	} else if seen[name] {
		issues = append(issues, fmt.Sprintf("agent %q: duplicate %s name %q", agent, field, name))
	}
	seen[name] = true
	if typ == "" {
		issues = append(issues, fmt.Sprintf("agent %q: %s[%d] type is required", agent, field, i))
	}
	return issues
}

// RegisterWorkflow records a named agent sequence.
func (r *Registry) RegisterWorkflow(wf domain.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOpen(); err != nil {
		return err
	}

	var issues []string
	if wf.Name == "" {
		issues = append(issues, "workflow name is required")
	} else if _, dup := r.wfIndex[wf.Name]; dup {
		issues = append(issues, fmt.Sprintf("workflow %q already registered", wf.Name))
	}
	if len(wf.Agents) == 0 {
		issues = append(issues, fmt.Sprintf("workflow %q: agents must not be empty", wf.Name))
	}
	if len(issues) > 0 {
		return domain.NewValidationError(issues...)
	}

	r.wfIndex[wf.Name] = len(r.workflows)
	r.workflows = append(r.workflows, wf.Clone())
	return nil
}

// RegisterRoutingRule records a routing rule. Rules keep registration order,
// which is the final routing tie-break.
func (r *Registry) RegisterRoutingRule(rule domain.RoutingRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOpen(); err != nil {
		return err
	}

	var issues []string
	switch rule.Match {
	case "", domain.MatchRegex:
		if rule.Pattern == "" {
			issues = append(issues, "routing rule pattern is required")
		} else if _, err := regexp.Compile(rule.Pattern); err != nil {
			issues = append(issues, fmt.Sprintf("routing rule %q: invalid regex: %v", rule.Pattern, err))
		}
	case domain.MatchLiteral:
		if rule.Pattern == "" {
			issues = append(issues, "routing rule pattern is required")
		}
	default:
		issues = append(issues, fmt.Sprintf("routing rule %q: unknown match kind %q", rule.Pattern, rule.Match))
	}
	if rule.Primary == "" {
		issues = append(issues, fmt.Sprintf("routing rule %q: primary is required", rule.Pattern))
	}
	if rule.Confidence < 0 || rule.Confidence > 1 {
		issues = append(issues, fmt.Sprintf("routing rule %q: confidence must be in [0,1], got %g", rule.Pattern, rule.Confidence))
	}
	if len(issues) > 0 {
		return domain.NewValidationError(issues...)
	}

	r.rules = append(r.rules, rule.Clone())
	return nil
}

// SetDefaultRoute names the agent recommended when no routing rule matches.
func (r *Registry) SetDefaultRoute(agent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOpen(); err != nil {
		return err
	}
	r.defaultRoute = agent
	return nil
}

func (r *Registry) checkOpen() error {
	if r.frozen != nil {
		return domain.NewValidationError("registry is frozen")
	}
	return nil
}

// Freeze resolves every reference and returns the immutable catalog. On
// failure the registry stays open and nothing becomes visible; the returned
// ValidationError lists every problem found.
func (r *Registry) Freeze() (*Catalog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen != nil {
		return r.frozen, nil
	}

	if issues := r.resolve(); len(issues) > 0 {
		return nil, domain.NewValidationError(issues...)
	}

	c := newCatalog(r.agents, r.workflows, r.rules, r.defaultRoute, time.Now())
	r.frozen = c
	return c, nil
}

func (r *Registry) resolve() []string {
	var issues []string
	lookup := func(name string) (domain.AgentDefinition, bool) {
		i, ok := r.agentIndex[name]
		if !ok {
			return domain.AgentDefinition{}, false
		}
		return r.agents[i], true
	}

	for _, a := range r.agents {
		for _, to := range a.DelegatesTo {
			target, ok := lookup(to)
			switch {
			case !ok:
				issues = append(issues, fmt.Sprintf("agent %q: delegates_to unknown agent %q", a.Name, to))
			case !slices.Contains(target.CalledBy, a.Name):
				issues = append(issues, fmt.Sprintf("agent %q delegates_to %q but %q.called_by does not list %q", a.Name, to, to, a.Name))
			}
		}
		for _, from := range a.CalledBy {
			caller, ok := lookup(from)
			switch {
			case !ok:
				issues = append(issues, fmt.Sprintf("agent %q: called_by unknown agent %q", a.Name, from))
			case !slices.Contains(caller.DelegatesTo, a.Name):
				issues = append(issues, fmt.Sprintf("agent %q called_by %q but %q.delegates_to does not list %q", a.Name, from, from, a.Name))
			}
		}
	}

	for _, wf := range r.workflows {
		for _, name := range wf.Agents {
			if _, ok := lookup(name); !ok {
				issues = append(issues, fmt.Sprintf("workflow %q: unknown agent %q", wf.Name, name))
			}
		}
	}

	for _, rule := range r.rules {
		if _, ok := lookup(rule.Primary); !ok {
			issues = append(issues, fmt.Sprintf("routing rule %q: unknown primary %q", rule.Pattern, rule.Primary))
		}
		if rule.Fallback != "" {
			if _, ok := lookup(rule.Fallback); !ok {
				issues = append(issues, fmt.Sprintf("routing rule %q: unknown fallback %q", rule.Pattern, rule.Fallback))
			}
		}
		if rule.Workflow != "" {
			if _, ok := r.wfIndex[rule.Workflow]; !ok {
				issues = append(issues, fmt.Sprintf("routing rule %q: unknown workflow %q", rule.Pattern, rule.Workflow))
			}
		}
	}

	if r.defaultRoute != "" {
		if _, ok := lookup(r.defaultRoute); !ok {
			issues = append(issues, fmt.Sprintf("default route: unknown agent %q", r.defaultRoute))
		}
	}
	return issues
}
