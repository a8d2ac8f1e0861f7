package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/conductor/internal/domain"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	Agent        domain.AgentDefinition
	Instructions string // body of the agent's markdown file
	Now          time.Time
}

// BuildSystemPrompt constructs the system prompt for an agent invocation.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder
	a := cfg.Agent

	fmt.Fprintf(&b, "You are the %s agent", a.Name)
	if a.Role != "" {
		fmt.Fprintf(&b, ", acting as %s", a.Role)
	}
	b.WriteString(".\n")
	if a.Specialization != "" {
		fmt.Fprintf(&b, "Specialization: %s\n", a.Specialization)
	}
	if len(a.Capabilities) > 0 {
		fmt.Fprintf(&b, "Capabilities: %s\n", strings.Join(a.Capabilities, ", "))
	}

	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	fmt.Fprintf(&b, "Current date: %s\n", now.Format("2006-01-02"))

	if len(a.Inputs) > 0 {
		b.WriteString("\n## Inputs\n")
		for _, in := range a.Inputs {
			writeSpec(&b, in.Name, in.Type, in.Description, in.Required)
		}
	}
	if len(a.Outputs) > 0 {
		b.WriteString("\n## Expected outputs\n")
		for _, out := range a.Outputs {
			writeSpec(&b, out.Name, out.Type, out.Description, false)
		}
	}
	if a.ArtifactDirectory != "" {
		fmt.Fprintf(&b, "\nWrite artifacts under %s.\n", a.ArtifactDirectory)
	}

	if cfg.Instructions != "" {
		b.WriteString("\n")
		b.WriteString(cfg.Instructions)
		b.WriteString("\n")
	}

	b.WriteString("\n## Handoff\n\n")
	b.WriteString("When you finish, end your answer with a fenced code block tagged `handoff`:\n\n")
	b.WriteString("```handoff\n{\"summary\": \"what you did\", \"artifacts_created\": [\"path\"], " +
		"\"decisions\": [{\"decision\": \"...\", \"rationale\": \"...\"}], " +
		"\"open_questions\": [\"...\"], \"suggested_next\": [\"agent\"]}\n```\n\n")
	if len(a.DelegatesTo) > 0 {
		fmt.Fprintf(&b, "You may suggest: %s.\n", strings.Join(a.DelegatesTo, ", "))
	} else {
		b.WriteString("Leave suggested_next empty; you do not delegate.\n")
	}

	return b.String()
}

func writeSpec(b *strings.Builder, name, typ, desc string, required bool) {
	fmt.Fprintf(b, "- %s (%s)", name, typ)
	if required {
		b.WriteString(" required")
	}
	if desc != "" {
		fmt.Fprintf(b, ": %s", desc)
	}
	b.WriteString("\n")
}

// BuildUserPrompt renders the task prompt together with any carried context.
func BuildUserPrompt(prompt string, ac *domain.AgentContext) string {
	if ac == nil {
		return prompt
	}

	var b strings.Builder
	if ac.PriorAgent != "" && ac.PriorOutput != "" {
		fmt.Fprintf(&b, "Output from %s:\n\n%s\n\n", ac.PriorAgent, ac.PriorOutput)
	} else if ac.PriorOutput != "" {
		fmt.Fprintf(&b, "Prior output:\n\n%s\n\n", ac.PriorOutput)
	}
	if len(ac.Artifacts) > 0 {
		b.WriteString("Artifacts:\n")
		for _, a := range ac.Artifacts {
			fmt.Fprintf(&b, "- %s\n", a)
		}
		b.WriteString("\n")
	}
	if len(ac.Steering) > 0 {
		b.WriteString("Steering:\n")
		for _, s := range ac.Steering {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return prompt
	}
	b.WriteString("Task:\n")
	b.WriteString(prompt)
	return b.String()
}
