package domain

import "time"

// AggregationStrategy selects how parallel results are combined.
type AggregationStrategy string

const (
	StrategyMerge    AggregationStrategy = "merge"
	StrategyVote     AggregationStrategy = "vote"
	StrategyEscalate AggregationStrategy = "escalate"
)

// Valid reports whether s is a known strategy.
func (s AggregationStrategy) Valid() bool {
	switch s {
	case StrategyMerge, StrategyVote, StrategyEscalate:
		return true
	}
	return false
}

// NeedsHandler reports whether a conflict handler must be configured.
func (s AggregationStrategy) NeedsHandler() bool {
	return s == StrategyVote || s == StrategyEscalate
}

// SlotStatus is the state of one agent's slot in a parallel execution.
type SlotStatus string

const (
	SlotPending   SlotStatus = "pending"
	SlotCompleted SlotStatus = "completed"
	SlotFailed    SlotStatus = "failed"
)

// ExecutionStatus is the derived state of a parallel execution record.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionConflict  ExecutionStatus = "conflict"
)

// AggregateStatus is the status returned by aggregation.
type AggregateStatus string

const (
	AggregateComplete AggregateStatus = "complete"
	AggregatePartial  AggregateStatus = "partial"
	AggregateConflict AggregateStatus = "conflict"
)

// ResolutionStrategy selects how a conflict is resolved.
type ResolutionStrategy string

const (
	ResolveVote     ResolutionStrategy = "vote"
	ResolveEscalate ResolutionStrategy = "escalate"
	ResolveManual   ResolutionStrategy = "manual"
)

// ResolvedByManual is the resolved_by value for manual resolutions.
const ResolvedByManual = "manual"

// ParallelAgent is one agent's assignment in a parallel execution.
type ParallelAgent struct {
	Agent   string        `json:"agent"`
	Prompt  string        `json:"prompt"`
	Context *AgentContext `json:"context,omitempty"`
}

// StartParallelParams are the inputs of StartParallelExecution.
type StartParallelParams struct {
	Agents              []ParallelAgent     `json:"agents"`
	AggregationStrategy AggregationStrategy `json:"aggregation_strategy"`
	ConflictHandler     string              `json:"conflict_handler,omitempty"`
}

// StartParallelResult is returned by StartParallelExecution.
type StartParallelResult struct {
	ParallelID          string          `json:"parallel_id"`
	AgentsStarted       []string        `json:"agents_started"`
	Status              ExecutionStatus `json:"status"`
	EstimatedCompletion time.Time       `json:"estimated_completion"`
}

// ParallelResult is the content of one agent slot.
type ParallelResult struct {
	Agent        string     `json:"agent"`
	InvocationID string     `json:"invocation_id,omitempty"`
	Status       SlotStatus `json:"status"`
	Output       string     `json:"output,omitempty"`
	Artifacts    []string   `json:"artifacts,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Position is one distinct view within a conflict.
type Position struct {
	Agents   []string `json:"agents"`
	Position string   `json:"position"`
	Evidence []string `json:"evidence,omitempty"`
}

// ConflictRecord is a disagreement among parallel results.
type ConflictRecord struct {
	ConflictID string     `json:"conflict_id"`
	Agents     []string   `json:"agents"`
	Issue      string     `json:"issue"`
	Positions  []Position `json:"positions"`
	Resolved   bool       `json:"resolved"`
	Resolution string     `json:"resolution,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	Rationale  string     `json:"rationale,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Clone returns a deep copy of the conflict.
func (c ConflictRecord) Clone() ConflictRecord {
	c.Agents = cloneSlice(c.Agents)
	positions := make([]Position, len(c.Positions))
	for i, p := range c.Positions {
		p.Agents = cloneSlice(p.Agents)
		p.Evidence = cloneSlice(p.Evidence)
		positions[i] = p
	}
	c.Positions = positions
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

// ParallelExecutionRecord is the shared record of one parallel execution.
type ParallelExecutionRecord struct {
	ParallelID          string              `json:"parallel_id"`
	Agents              []ParallelAgent     `json:"agents"`
	AggregationStrategy AggregationStrategy `json:"aggregation_strategy"`
	ConflictHandler     string              `json:"conflict_handler,omitempty"`
	Slots               []ParallelResult    `json:"slots"`
	Conflicts           []ConflictRecord    `json:"conflicts,omitempty"`
	Status              ExecutionStatus     `json:"status"`
	StartedAt           time.Time           `json:"started_at"`
	EstimatedCompletion time.Time           `json:"estimated_completion"`
}

// Clone returns a deep copy of the record.
func (r ParallelExecutionRecord) Clone() ParallelExecutionRecord {
	r.Agents = cloneSlice(r.Agents)
	slots := make([]ParallelResult, len(r.Slots))
	for i, s := range r.Slots {
		s.Artifacts = cloneSlice(s.Artifacts)
		slots[i] = s
	}
	r.Slots = slots
	if r.Conflicts != nil {
		conflicts := make([]ConflictRecord, len(r.Conflicts))
		for i, c := range r.Conflicts {
			conflicts[i] = c.Clone()
		}
		r.Conflicts = conflicts
	}
	return r
}

// AggregateParams are the inputs of AggregateParallelResults.
type AggregateParams struct {
	ParallelID string `json:"parallel_id"`
	WaitForAll bool   `json:"wait_for_all,omitempty"`
	TimeoutMs  int    `json:"timeout_ms,omitempty"`
}

// AggregateResult is returned by AggregateParallelResults.
type AggregateResult struct {
	ParallelID       string           `json:"parallel_id"`
	Status           AggregateStatus  `json:"status"`
	Results          []ParallelResult `json:"results"`
	AggregatedOutput string           `json:"aggregated_output,omitempty"`
	Conflicts        []ConflictRecord `json:"conflicts,omitempty"`
	ResolutionNeeded bool             `json:"resolution_needed"`
}

// ResolveConflictParams are the inputs of ResolveConflict.
type ResolveConflictParams struct {
	ParallelID         string             `json:"parallel_id"`
	ConflictID         string             `json:"conflict_id"`
	ResolutionStrategy ResolutionStrategy `json:"resolution_strategy"`
	ManualResolution   string             `json:"manual_resolution,omitempty"`
}

// ResolveConflictResult is returned by ResolveConflict.
type ResolveConflictResult struct {
	ConflictID string `json:"conflict_id"`
	Resolved   bool   `json:"resolved"`
	Resolution string `json:"resolution"`
	ResolvedBy string `json:"resolved_by"`
	Rationale  string `json:"rationale"`
}
