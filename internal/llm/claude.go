package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/soyeahso/conductor/internal/logging"
)

// claudeJSONResult is the JSON output from `claude -p --output-format json`.
type claudeJSONResult struct {
	Type       string  `json:"type"`
	Subtype    string  `json:"subtype"`
	IsError    bool    `json:"is_error"`
	Result     string  `json:"result"`
	StopReason *string `json:"stop_reason"`
	SessionID  string  `json:"session_id"`
	DurationMs int     `json:"duration_ms"`
	CostUSD    float64 `json:"total_cost_usd"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewClaudeClient creates a Client that wraps the `claude` CLI. An empty
// command means "claude" on PATH.
func NewClaudeClient(command string, log *logging.Logger) *CLIClient {
	if command == "" {
		command = "claude"
	}
	return NewCLIClient(CLIConfig{
		Command:        command,
		ProviderName:   "claude-cli",
		BuildArgs:      buildClaudeArgs,
		ParseResponse:  parseClaudeResponse,
		PromptViaStdin: true,
	}, log)
}

func buildClaudeArgs(req CompletionRequest) []string {
	// --dangerously-skip-permissions is required for headless (piped stdin)
	// mode. Tools are disabled below with --tools "", so the agent cannot touch
	// the filesystem or shell. Keep the two flags together.
	args := []string{"-p", "--dangerously-skip-permissions", "--output-format", "json"}

	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.System != "" {
		args = append(args, "--system-prompt", req.System)
	}

	args = append(args, "--tools", "")
	return args
}

func parseClaudeResponse(data []byte) (*CompletionResponse, error) {
	result, err := decodeClaudeJSON(data)
	if result == nil {
		// Output may interleave diagnostics with JSON lines.
		result = decodeClaudeJSONLines(data)
	}

	if result == nil {
		if msg := parseCLIJSONField(data, "error"); msg != "" {
			return nil, &ProviderError{Provider: "claude-cli", Message: msg}
		}
		preview := string(data)
		if len(preview) > 500 {
			preview = preview[:500] + "..."
		}
		if err != nil {
			return nil, fmt.Errorf("no valid JSON object in claude output (%d bytes): %v | raw prefix: %s", len(data), err, preview)
		}
		return nil, fmt.Errorf("no valid JSON object in claude output (%d bytes) | raw prefix: %s", len(data), preview)
	}

	if result.IsError {
		return nil, &ProviderError{Provider: "claude-cli", Message: result.Result}
	}

	resp := &CompletionResponse{
		Content: result.Result,
		CostUSD: result.CostUSD,
		Usage: Usage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
		},
	}
	if result.StopReason != nil {
		resp.StopReason = *result.StopReason
	}
	return resp, nil
}

// decodeClaudeJSON parses concatenated JSON objects and returns the best
// "result" object, or the last valid object if none has a result.
func decodeClaudeJSON(data []byte) (*claudeJSONResult, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var best, last *claudeJSONResult

	for dec.More() {
		var raw claudeJSONResult
		if err := dec.Decode(&raw); err != nil {
			if best != nil {
				return best, nil
			}
			return last, err
		}
		last = &raw
		if raw.Type == "result" || raw.Result != "" {
			best = &raw
		}
	}

	if best != nil {
		return best, nil
	}
	return last, nil
}

func decodeClaudeJSONLines(data []byte) *claudeJSONResult {
	var best, last *claudeJSONResult

	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var raw claudeJSONResult
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		last = &raw
		if raw.Type == "result" || raw.Result != "" {
			best = &raw
		}
	}

	if best != nil {
		return best
	}
	return last
}
