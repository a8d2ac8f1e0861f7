package domain

import "time"

// InvocationStatus is the lifecycle state of a single agent invocation.
type InvocationStatus string

const (
	InvocationStarted   InvocationStatus = "started"
	InvocationCompleted InvocationStatus = "completed"
	InvocationFailed    InvocationStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s InvocationStatus) Terminal() bool {
	return s == InvocationCompleted || s == InvocationFailed
}

// AgentContext is optional context passed along with a prompt.
type AgentContext struct {
	PriorAgent  string   `json:"prior_agent,omitempty"`
	PriorOutput string   `json:"prior_output,omitempty"`
	Artifacts   []string `json:"artifacts,omitempty"`
	Steering    []string `json:"steering,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
}

// InvokeAgentParams are the inputs of InvokeAgent.
type InvokeAgentParams struct {
	Agent         string        `json:"agent"`
	Prompt        string        `json:"prompt"`
	Context       *AgentContext `json:"context,omitempty"`
	ModelOverride string        `json:"model_override,omitempty"`
	ParallelID    string        `json:"parallel_id,omitempty"`
}

// InvocationRecord tracks one agent invocation from start to its terminal state.
type InvocationRecord struct {
	InvocationID     string           `json:"invocation_id"`
	Agent            string           `json:"agent"`
	Model            string           `json:"model"`
	Status           InvocationStatus `json:"status"`
	Prompt           string           `json:"prompt,omitempty"`
	Context          *AgentContext    `json:"context,omitempty"`
	ParallelID       string           `json:"parallel_id,omitempty"`
	Output           string           `json:"output,omitempty"`
	ArtifactsCreated []string         `json:"artifacts_created,omitempty"`
	SuggestedNext    []string         `json:"suggested_next,omitempty"`
	HandoffContext   *HandoffContext  `json:"handoff_context,omitempty"` // for the next agent
	Error            string           `json:"error,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       *time.Time       `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of the record.
func (r InvocationRecord) Clone() InvocationRecord {
	if r.Context != nil {
		c := *r.Context
		c.Artifacts = cloneSlice(c.Artifacts)
		c.Steering = cloneSlice(c.Steering)
		r.Context = &c
	}
	r.ArtifactsCreated = cloneSlice(r.ArtifactsCreated)
	r.SuggestedNext = cloneSlice(r.SuggestedNext)
	if r.HandoffContext != nil {
		hc := r.HandoffContext.Clone()
		r.HandoffContext = &hc
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		r.FinishedAt = &t
	}
	return r
}
