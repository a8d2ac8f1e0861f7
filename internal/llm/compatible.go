package llm

import (
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/soyeahso/conductor/internal/logging"
)

const (
	// DefaultOllamaBaseURL is the OpenAI-compatible endpoint of a local Ollama.
	DefaultOllamaBaseURL = "http://localhost:11434/v1/"
	// DefaultGeminiBaseURL is Gemini's OpenAI-compatible endpoint.
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

// NewOllamaClient talks to an Ollama server through its OpenAI-compatible
// API. Ollama ignores the API key, so none is required.
func NewOllamaClient(baseURL string, log *logging.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	return newCompatibleClient("ollama", "ollama", baseURL, log)
}

// NewGeminiClient talks to Gemini through its OpenAI-compatible API.
func NewGeminiClient(apiKey, baseURL string, log *logging.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key is not set (executor.apiKey or GEMINI_API_KEY)")
	}
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	return newCompatibleClient("gemini", apiKey, baseURL, log), nil
}

func newCompatibleClient(name, apiKey, baseURL string, log *logging.Logger) *OpenAIClient {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &OpenAIClient{
		name: name,
		inner: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL),
		),
		log: log.Sub("llm." + name),
	}
}
