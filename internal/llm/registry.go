package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"github.com/soyeahso/conductor/internal/config"
	"github.com/soyeahso/conductor/internal/logging"
)

// Registry manages LLM provider clients and resolves model references to
// clients and provider model ids.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // model alias → provider name
	modelIDs map[string]string // model alias → provider model id
	fallback string            // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients:  make(map[string]Client),
		aliases:  make(map[string]string),
		modelIDs: make(map[string]string),
		log:      log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// Alias maps a model alias to a provider and the id that provider knows it by.
// An empty modelID passes the alias through unchanged.
func (r *Registry) Alias(model, provider, modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
	if modelID != "" {
		r.modelIDs[model] = modelID
	}
}

// SetFallback sets the default provider used when no model/provider match is found.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client for the given model reference.
// Resolution order: exact provider name → alias → fallback.
func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[model]; ok {
		return c, nil
	}

	if provider, ok := r.aliases[model]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}

	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}

	return nil, fmt.Errorf("no LLM provider for model %q", model)
}

// ModelID returns the provider model id for an alias, or the alias itself.
func (r *Registry) ModelID(model string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.modelIDs[model]; ok {
		return id
	}
	return model
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// defaultModelIDs maps catalog model aliases to provider model ids.
var defaultModelIDs = map[string]map[string]string{
	"anthropic": {
		"opus":   string(anthropic.ModelClaudeOpus4_1_20250805),
		"sonnet": string(anthropic.ModelClaudeSonnet4_5_20250929),
		"haiku":  string(anthropic.ModelClaudeHaiku4_5_20251001),
	},
	"openai": {
		"opus":   "gpt-4.1",
		"sonnet": openai.ChatModelGPT4o,
		"haiku":  openai.ChatModelGPT4oMini,
	},
	"ollama": {
		"opus":   "llama3.3:70b",
		"sonnet": "qwen2.5:32b",
		"haiku":  "llama3.2",
	},
	"gemini": {
		"opus":   "gemini-2.5-pro",
		"sonnet": "gemini-2.5-flash",
		"haiku":  "gemini-2.5-flash-lite",
	},
}

// NewRegistryFromConfig builds a Registry for the configured provider. Every
// allowed model alias resolves to that provider; cfg.Models overrides the
// provider model id per alias.
func NewRegistryFromConfig(cfg config.ExecutorConfig, aliases []string, log *logging.Logger) (*Registry, error) {
	reg := NewRegistry(log)

	var client Client
	switch cfg.Provider {
	case "anthropic":
		c, err := NewAnthropicClient(cfg.APIKey, cfg.BaseURL, log)
		if err != nil {
			return nil, err
		}
		client = c
	case "openai":
		c, err := NewOpenAIClient(cfg.APIKey, cfg.BaseURL, log)
		if err != nil {
			return nil, err
		}
		client = c
	case "ollama":
		client = NewOllamaClient(cfg.BaseURL, log)
	case "gemini":
		c, err := NewGeminiClient(cfg.APIKey, cfg.BaseURL, log)
		if err != nil {
			return nil, err
		}
		client = c
	case "claude-cli":
		if !CLIExists("claude") {
			return nil, fmt.Errorf("claude-cli: %q not found in PATH", "claude")
		}
		client = NewClaudeClient("claude", log)
	case "mock":
		client = &MockClient{ProviderName: "mock"}
	default:
		return nil, fmt.Errorf("unknown executor provider %q", cfg.Provider)
	}

	reg.Register(client.Name(), client)
	reg.SetFallback(client.Name())

	ids := defaultModelIDs[cfg.Provider]
	for _, alias := range aliases {
		id := ids[alias]
		if override, ok := cfg.Models[alias]; ok && override != "" {
			id = override
		}
		reg.Alias(alias, client.Name(), id)
	}
	for alias, id := range cfg.Models {
		if _, ok := reg.aliases[alias]; !ok {
			reg.Alias(alias, client.Name(), id)
		}
	}
	return reg, nil
}
