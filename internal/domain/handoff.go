package domain

import "time"

// Decision is one recorded decision carried across a handoff.
type Decision struct {
	Decision               string   `json:"decision"`
	Rationale              string   `json:"rationale"`
	AlternativesConsidered []string `json:"alternatives_considered,omitempty"`
}

// HandoffContext is the context transferred from one agent to another.
type HandoffContext struct {
	Summary         string     `json:"summary"`
	Artifacts       []string   `json:"artifacts"`
	Decisions       []Decision `json:"decisions"`
	OpenQuestions   []string   `json:"open_questions"`
	Recommendations []string   `json:"recommendations"`
}

// Empty reports whether no field is set.
func (c HandoffContext) Empty() bool {
	return c.Summary == "" && len(c.Artifacts) == 0 && len(c.Decisions) == 0 &&
		len(c.OpenQuestions) == 0 && len(c.Recommendations) == 0
}

// Preserved reports whether the summary, artifacts and decisions are all present.
func (c HandoffContext) Preserved() bool {
	return c.Summary != "" && len(c.Artifacts) > 0 && len(c.Decisions) > 0
}

// TrackHandoffParams are the inputs of TrackHandoff. InvocationID names the
// from_agent invocation being handed on; an empty Context then defaults to
// that invocation's handoff context.
type TrackHandoffParams struct {
	FromAgent     string         `json:"from_agent"`
	ToAgent       string         `json:"to_agent"`
	Context       HandoffContext `json:"context"`
	ParallelID    string         `json:"parallel_id,omitempty"`
	InvocationID  string         `json:"invocation_id,omitempty"`
	OriginContext *AgentContext  `json:"origin_context,omitempty"`
}

// HandoffRecord is an immutable entry in the handoff ledger.
type HandoffRecord struct {
	HandoffID        string         `json:"handoff_id"`
	Timestamp        time.Time      `json:"timestamp"`
	From             string         `json:"from"`
	To               string         `json:"to"`
	ContextPreserved bool           `json:"context_preserved"`
	SessionID        string         `json:"session_id,omitempty"`
	ParallelID       string         `json:"parallel_id,omitempty"`
	InvocationID     string         `json:"invocation_id,omitempty"`
	Context          HandoffContext `json:"context"`
}

// HandoffFilter narrows a handoff listing. Empty fields match everything.
type HandoffFilter struct {
	SessionID  string `json:"session_id,omitempty"`
	ParallelID string `json:"parallel_id,omitempty"`
	Agent      string `json:"agent,omitempty"`
}

// Matches reports whether the record passes the filter.
func (f HandoffFilter) Matches(r HandoffRecord) bool {
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.ParallelID != "" && r.ParallelID != f.ParallelID {
		return false
	}
	if f.Agent != "" && r.From != f.Agent && r.To != f.Agent {
		return false
	}
	return true
}

// Clone returns a deep copy of the context.
func (c HandoffContext) Clone() HandoffContext {
	c.Artifacts = cloneSlice(c.Artifacts)
	c.OpenQuestions = cloneSlice(c.OpenQuestions)
	c.Recommendations = cloneSlice(c.Recommendations)
	if c.Decisions != nil {
		decisions := make([]Decision, len(c.Decisions))
		for i, d := range c.Decisions {
			d.AlternativesConsidered = cloneSlice(d.AlternativesConsidered)
			decisions[i] = d
		}
		c.Decisions = decisions
	}
	return c
}

// Clone returns a deep copy of the record.
func (r HandoffRecord) Clone() HandoffRecord {
	r.Context = r.Context.Clone()
	return r
}
