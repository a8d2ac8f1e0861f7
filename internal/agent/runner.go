// Package agent executes agent invocations against an LLM provider.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/soyeahso/conductor/internal/catalog"
	"github.com/soyeahso/conductor/internal/domain"
	"github.com/soyeahso/conductor/internal/invocation"
	"github.com/soyeahso/conductor/internal/llm"
	"github.com/soyeahso/conductor/internal/logging"
)

// RunnerConfig configures the agent runner.
type RunnerConfig struct {
	Fallbacks     []string
	MaxTokens     int
	MaxConcurrent int // 0 means unbounded
}

// Runner turns an invocation into one LLM completion. It satisfies
// invocation.Executor.
type Runner struct {
	cfg    RunnerConfig
	client *FailoverClient
	sem    *semaphore.Weighted
	log    *logging.Logger

	// instructions loads an agent file body; replaced in tests.
	instructions func(path string) (string, error)
}

// NewRunner creates an agent runner.
func NewRunner(cfg RunnerConfig, registry *llm.Registry, log *logging.Logger) *Runner {
	r := &Runner{
		cfg:          cfg,
		client:       NewFailoverClient(registry, cfg.Fallbacks, log),
		log:          log.Sub("agent"),
		instructions: catalog.AgentInstructions,
	}
	if cfg.MaxConcurrent > 0 {
		r.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return r
}

var _ invocation.Executor = (*Runner)(nil)

// Execute runs the agent and extracts its handoff report.
func (r *Runner) Execute(ctx context.Context, req invocation.ExecutionRequest) (*invocation.ExecutionResult, error) {
	log := r.log.With("invocation", req.InvocationID)

	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer r.sem.Release(1)
	}

	var instructions string
	if req.Agent.File != "" {
		body, err := r.instructions(req.Agent.File)
		if err != nil {
			log.Warn().Err(err).Str("file", req.Agent.File).Msg("could not read agent instructions")
		} else {
			instructions = body
		}
	}

	system := BuildSystemPrompt(PromptConfig{Agent: req.Agent, Instructions: instructions})
	creq := llm.CompletionRequest{
		System: system,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: BuildUserPrompt(req.Prompt, req.Context)},
		},
		MaxTokens: r.cfg.MaxTokens,
	}

	start := time.Now()
	log.Debug().Str("agent", req.Agent.Name).Str("model", req.Model).Msg("calling provider")

	resp, err := r.client.Complete(ctx, req.Model, creq)
	if err != nil {
		return nil, fmt.Errorf("%w: agent %s: %w", domain.ErrExecutionFailure, req.Agent.Name, err)
	}

	report, output := extractHandoff(resp.Content)
	log.Info().
		Str("agent", req.Agent.Name).
		Str("model", resp.Model).
		Str("provider", resp.Provider).
		Int("inputTokens", resp.Usage.InputTokens).
		Int("outputTokens", resp.Usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Int("artifacts", len(report.ArtifactsCreated)).
		Msg("agent run complete")

	return &invocation.ExecutionResult{
		Output:           output,
		ArtifactsCreated: report.ArtifactsCreated,
		SuggestedNext:    report.SuggestedNext,
		HandoffContext:   report.handoffContext(),
	}, nil
}

// handoffReport is the structured tail an agent appends to its answer.
type handoffReport struct {
	Summary          string            `json:"summary"`
	ArtifactsCreated []string          `json:"artifacts_created"`
	SuggestedNext    []string          `json:"suggested_next"`
	Decisions        []domain.Decision `json:"decisions"`
	OpenQuestions    []string          `json:"open_questions"`
}

// handoffContext is the context for the next agent, or nil if the report
// carries nothing beyond suggestions.
func (r handoffReport) handoffContext() *domain.HandoffContext {
	if r.Summary == "" && len(r.ArtifactsCreated) == 0 && len(r.Decisions) == 0 && len(r.OpenQuestions) == 0 {
		return nil
	}
	return &domain.HandoffContext{
		Summary:         r.Summary,
		Artifacts:       slices.Clone(r.ArtifactsCreated),
		Decisions:       slices.Clone(r.Decisions),
		OpenQuestions:   slices.Clone(r.OpenQuestions),
		Recommendations: slices.Clone(r.SuggestedNext),
	}
}

// handoffRe matches ```handoff\n{...}\n``` blocks in LLM output.
var handoffRe = regexp.MustCompile("(?s)```handoff\\s*\n(\\{.*?\\})\n\\s*```")

// whitespaceLineRe matches lines containing only spaces/tabs.
var whitespaceLineRe = regexp.MustCompile(`(?m)^[ \t]+$`)

// blankLineCollapseRe collapses 3+ consecutive newlines to a single blank line.
var blankLineCollapseRe = regexp.MustCompile(`\n{3,}`)

// extractHandoff merges every parseable handoff block and returns the text
// with the blocks removed. Malformed blocks are stripped and ignored.
func extractHandoff(text string) (handoffReport, string) {
	var report handoffReport
	for _, match := range handoffRe.FindAllStringSubmatch(text, -1) {
		var part handoffReport
		if err := json.Unmarshal([]byte(match[1]), &part); err != nil {
			continue
		}
		report.ArtifactsCreated = appendUnique(report.ArtifactsCreated, part.ArtifactsCreated)
		report.SuggestedNext = appendUnique(report.SuggestedNext, part.SuggestedNext)
		report.OpenQuestions = appendUnique(report.OpenQuestions, part.OpenQuestions)
		report.Decisions = append(report.Decisions, part.Decisions...)
		if s := strings.TrimSpace(part.Summary); s != "" {
			report.Summary = s
		}
	}

	cleaned := handoffRe.ReplaceAllString(text, "\n\n")
	cleaned = whitespaceLineRe.ReplaceAllString(cleaned, "")
	cleaned = blankLineCollapseRe.ReplaceAllString(cleaned, "\n\n")
	return report, strings.TrimSpace(cleaned)
}

func appendUnique(dst, src []string) []string {
	for _, s := range src {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}
