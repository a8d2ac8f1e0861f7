package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- HandoffContext tests ---

func TestHandoffContextPreserved(t *testing.T) {
	full := HandoffContext{
		Summary:   "analysis done",
		Artifacts: []string{".agents/analysis/001.md"},
		Decisions: []Decision{{Decision: "use sqlite", Rationale: "single node"}},
	}

	tests := []struct {
		name string
		ctx  HandoffContext
		want bool
	}{
		{name: "full", ctx: full, want: true},
		{name: "missing summary", ctx: HandoffContext{Artifacts: full.Artifacts, Decisions: full.Decisions}, want: false},
		{name: "missing artifacts", ctx: HandoffContext{Summary: full.Summary, Decisions: full.Decisions}, want: false},
		{name: "missing decisions", ctx: HandoffContext{Summary: full.Summary, Artifacts: full.Artifacts}, want: false},
		{name: "empty", ctx: HandoffContext{}, want: false},
		{
			name: "open questions not required",
			ctx: HandoffContext{
				Summary: full.Summary, Artifacts: full.Artifacts, Decisions: full.Decisions,
				OpenQuestions: nil, Recommendations: nil,
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ctx.Preserved())
		})
	}
}

func TestHandoffFilterMatches(t *testing.T) {
	rec := HandoffRecord{From: "analyst", To: "implementer", SessionID: "s1", ParallelID: "p1"}

	assert.True(t, HandoffFilter{}.Matches(rec))
	assert.True(t, HandoffFilter{SessionID: "s1"}.Matches(rec))
	assert.False(t, HandoffFilter{SessionID: "s2"}.Matches(rec))
	assert.True(t, HandoffFilter{ParallelID: "p1", Agent: "implementer"}.Matches(rec))
	assert.True(t, HandoffFilter{Agent: "analyst"}.Matches(rec))
	assert.False(t, HandoffFilter{Agent: "critic"}.Matches(rec))
}

// --- Strategy tests ---

func TestAggregationStrategy(t *testing.T) {
	assert.True(t, StrategyMerge.Valid())
	assert.True(t, StrategyVote.Valid())
	assert.True(t, StrategyEscalate.Valid())
	assert.False(t, AggregationStrategy("consensus").Valid())

	assert.False(t, StrategyMerge.NeedsHandler())
	assert.True(t, StrategyVote.NeedsHandler())
	assert.True(t, StrategyEscalate.NeedsHandler())
}

func TestInvocationStatusTerminal(t *testing.T) {
	assert.False(t, InvocationStarted.Terminal())
	assert.True(t, InvocationCompleted.Terminal())
	assert.True(t, InvocationFailed.Terminal())
}

// --- Clone tests ---

func TestAgentDefinitionCloneIsDeep(t *testing.T) {
	def := AgentDefinition{
		Name:        "analyst",
		DelegatesTo: []string{"implementer"},
		Inputs:      []InputSpec{{Name: "topic", Type: "string"}},
	}
	c := def.Clone()
	c.DelegatesTo[0] = "critic"
	c.Inputs[0].Name = "changed"

	assert.Equal(t, "implementer", def.DelegatesTo[0])
	assert.Equal(t, "topic", def.Inputs[0].Name)
}

func TestParallelRecordCloneIsDeep(t *testing.T) {
	now := time.Now()
	rec := ParallelExecutionRecord{
		Slots: []ParallelResult{{Agent: "a", Artifacts: []string{"x"}}},
		Conflicts: []ConflictRecord{{
			ConflictID: "c1",
			Positions:  []Position{{Agents: []string{"a"}, Position: "yes"}},
			ResolvedAt: &now,
		}},
	}
	c := rec.Clone()
	c.Slots[0].Artifacts[0] = "y"
	c.Conflicts[0].Positions[0].Agents[0] = "b"
	c.Conflicts[0].Resolved = true

	assert.Equal(t, "x", rec.Slots[0].Artifacts[0])
	assert.Equal(t, "a", rec.Conflicts[0].Positions[0].Agents[0])
	assert.False(t, rec.Conflicts[0].Resolved)
}

// --- JSON tests ---

func TestInvocationRecordJSON(t *testing.T) {
	rec := InvocationRecord{
		InvocationID: "inv-1",
		Agent:        "analyst",
		Model:        "sonnet",
		Status:       InvocationStarted,
		StartedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"invocation_id":"inv-1"`)
	assert.Contains(t, s, `"status":"started"`)
	assert.NotContains(t, s, "finished_at")
	assert.NotContains(t, s, "output")
}

// --- Error taxonomy tests ---

func TestValidationError(t *testing.T) {
	err := NewValidationError("agent \"a\": delegates_to unknown agent \"b\"", "agent \"b\": missing default_model")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "2 issues")

	single := NewValidationError("name is required")
	assert.Equal(t, "validation error: name is required", single.Error())

	var ve *ValidationError
	wrapped := fmt.Errorf("freeze: %w", err)
	require.True(t, errors.As(wrapped, &ve))
	assert.Len(t, ve.Issues, 2)
}

func TestNotFoundError(t *testing.T) {
	err := NotFound("agent", "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, `agent "ghost" not found`, err.Error())
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{NewValidationError("x"), "validation_error"},
		{NotFound("conflict", "c1"), "not_found"},
		{fmt.Errorf("handoff: %w", ErrUnauthorizedHandoff), "unauthorized_handoff"},
		{ErrMissingConflictHandler, "missing_conflict_handler"},
		{ErrAlreadyResolved, "already_resolved"},
		{ErrExecutionFailure, "execution_failure"},
		{ErrTimeout, "timeout"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err))
	}
}
