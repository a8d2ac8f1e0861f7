package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/conductor/internal/logging"
)

// maxStderr bounds how much of a failed process's stderr ends up in errors.
const maxStderr = 2048

// CLIConfig describes a local command that answers completions.
type CLIConfig struct {
	Command       string
	ProviderName  string
	BuildArgs     func(req CompletionRequest) []string
	ParseResponse func(data []byte) (*CompletionResponse, error)
	// PromptViaStdin writes the final user message to the process's stdin
	// instead of leaving it to BuildArgs.
	PromptViaStdin bool
	// Env is appended to the inherited environment.
	Env []string
}

// CLIClient runs one process per completion.
type CLIClient struct {
	cfg CLIConfig
	log *logging.Logger
}

func NewCLIClient(cfg CLIConfig, log *logging.Logger) *CLIClient {
	return &CLIClient{cfg: cfg, log: log.Sub("llm").With("provider", cfg.ProviderName)}
}

func (c *CLIClient) Name() string { return c.cfg.ProviderName }

// Complete runs the command to completion. A context deadline is reported as
// a retryable 408 so the executor can fail over.
func (c *CLIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	args := c.cfg.BuildArgs(req)
	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	if len(c.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.cfg.Env...)
	}
	if c.cfg.PromptViaStdin {
		cmd.Stdin = strings.NewReader(req.LastUserMessage())
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	c.log.Debug().Str("cmd", c.cfg.Command).Int("args", len(args)).Str("model", req.Model).Msg("starting completion process")

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &ProviderError{Provider: c.cfg.ProviderName, Code: 408, Message: "deadline exceeded"}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ProviderError{
				Provider: c.cfg.ProviderName,
				Message:  fmt.Sprintf("%s exited %d: %s", c.cfg.Command, exitErr.ExitCode(), tail(stderr.String(), maxStderr)),
			}
		}
		return nil, fmt.Errorf("run %s: %w", c.cfg.Command, err)
	}

	resp, err := c.cfg.ParseResponse(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%s output: %w", c.cfg.Command, err)
	}
	resp.Provider = c.cfg.ProviderName
	resp.Duration = time.Since(start)
	if resp.Model == "" {
		resp.Model = req.Model
	}

	c.log.Debug().
		Str("model", resp.Model).
		Int("outputTokens", resp.Usage.OutputTokens).
		Dur("duration", resp.Duration).
		Msg("completion process finished")
	return resp, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}

// CLIExists reports whether command resolves on PATH.
func CLIExists(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}

// parseCLIJSONField returns the string value of a top-level field, or "".
func parseCLIJSONField(data []byte, field string) string {
	var fields map[string]any
	if json.Unmarshal(data, &fields) != nil {
		return ""
	}
	s, _ := fields[field].(string)
	return s
}
