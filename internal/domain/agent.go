package domain

// InputSpec declares one named input an agent accepts.
type InputSpec struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required" yaml:"required"`
}

// OutputSpec declares one named output an agent produces.
type OutputSpec struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// AgentDefinition is the static capability record of a single agent.
type AgentDefinition struct {
	Name              string       `json:"name" yaml:"name"`
	File              string       `json:"file,omitempty" yaml:"file,omitempty"`
	Role              string       `json:"role,omitempty" yaml:"role,omitempty"`
	Specialization    string       `json:"specialization,omitempty" yaml:"specialization,omitempty"`
	DefaultModel      string       `json:"default_model" yaml:"default_model"`
	Inputs            []InputSpec  `json:"inputs" yaml:"inputs"`
	Outputs           []OutputSpec `json:"outputs" yaml:"outputs"`
	DelegatesTo       []string     `json:"delegates_to" yaml:"delegates_to"`
	CalledBy          []string     `json:"called_by" yaml:"called_by"`
	ArtifactDirectory string       `json:"artifact_directory,omitempty" yaml:"artifact_directory,omitempty"`
	Capabilities      []string     `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate catalog state.
func (d AgentDefinition) Clone() AgentDefinition {
	d.Inputs = cloneSlice(d.Inputs)
	d.Outputs = cloneSlice(d.Outputs)
	d.DelegatesTo = cloneSlice(d.DelegatesTo)
	d.CalledBy = cloneSlice(d.CalledBy)
	d.Capabilities = cloneSlice(d.Capabilities)
	return d
}

// WorkflowDefinition is a named, ordered agent sequence.
type WorkflowDefinition struct {
	Name    string   `json:"name" yaml:"name"`
	Trigger string   `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Agents  []string `json:"agents" yaml:"agents"`
	Gates   []string `json:"gates,omitempty" yaml:"gates,omitempty"`
}

// Clone returns a deep copy of the workflow.
func (w WorkflowDefinition) Clone() WorkflowDefinition {
	w.Agents = cloneSlice(w.Agents)
	w.Gates = cloneSlice(w.Gates)
	return w
}

// Match kinds for routing rules.
const (
	MatchRegex   = "regex"
	MatchLiteral = "literal"
)

// RoutingRule maps a task pattern to a primary/fallback agent pair.
type RoutingRule struct {
	Pattern    string   `json:"pattern" yaml:"pattern"`
	Match      string   `json:"match,omitempty" yaml:"match,omitempty"` // "regex" (default) | "literal"
	Primary    string   `json:"primary" yaml:"primary"`
	Fallback   string   `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	Confidence float64  `json:"confidence" yaml:"confidence"`
	Workflow   string   `json:"workflow,omitempty" yaml:"workflow,omitempty"`
	States     []string `json:"states,omitempty" yaml:"states,omitempty"`
}

// Clone returns a deep copy of the rule.
func (r RoutingRule) Clone() RoutingRule {
	r.States = cloneSlice(r.States)
	return r
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
