package invocation

import (
	"context"

	"github.com/soyeahso/conductor/internal/domain"
)

// ExecutionRequest is what the manager hands to an Executor.
type ExecutionRequest struct {
	InvocationID string
	Agent        domain.AgentDefinition
	Model        string
	Prompt       string
	Context      *domain.AgentContext
}

// ExecutionResult is a successful agent run.
type ExecutionResult struct {
	Output           string
	ArtifactsCreated []string
	SuggestedNext    []string
	HandoffContext   *domain.HandoffContext // nil when the agent reported none
}

// Executor runs one agent invocation to completion. It is called at most once
// per invocation and must return exactly once.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	return f(ctx, req)
}
