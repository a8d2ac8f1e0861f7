package config

// Config is the root configuration for conductor.
type Config struct {
	Catalog    CatalogConfig    `yaml:"catalog,omitempty"`
	Routing    RoutingConfig    `yaml:"routing,omitempty"`
	Invocation InvocationConfig `yaml:"invocation,omitempty"`
	Parallel   ParallelConfig   `yaml:"parallel,omitempty"`
	Executor   ExecutorConfig   `yaml:"executor,omitempty"`
	Store      StoreConfig      `yaml:"store,omitempty"`
	Gateway    GatewayConfig    `yaml:"gateway,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
	Hooks      HooksConfig      `yaml:"hooks,omitempty"`
}

// CatalogConfig locates the agent catalog.
type CatalogConfig struct {
	Path          string   `yaml:"path,omitempty"`      // YAML file with agents, workflows and routing rules
	AgentsDir     string   `yaml:"agentsDir,omitempty"` // directory of *.md agent files with YAML frontmatter
	Watch         bool     `yaml:"watch,omitempty"`     // reload the catalog when files change
	AllowedModels []string `yaml:"allowedModels,omitempty"`
}

// RoutingConfig tunes routing recommendations.
type RoutingConfig struct {
	MaxAlternatives int `yaml:"maxAlternatives,omitempty"`
}

// InvocationConfig tunes single-agent invocations.
type InvocationConfig struct {
	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty"` // 0 disables the executor deadline
}

// ParallelConfig tunes parallel execution and conflict handling.
type ParallelConfig struct {
	Equivalence                string             `yaml:"equivalence,omitempty"` // "normalized" | "exact"
	AggregateTimeoutSeconds    int                `yaml:"aggregateTimeoutSeconds,omitempty"`
	EstimatedCompletionSeconds int                `yaml:"estimatedCompletionSeconds,omitempty"`
	EscalateTimeoutSeconds     int                `yaml:"escalateTimeoutSeconds,omitempty"`
	VoteWeights                map[string]float64 `yaml:"voteWeights,omitempty"`
}

// ExecutorConfig selects and configures the LLM-backed agent executor.
type ExecutorConfig struct {
	Provider      string            `yaml:"provider,omitempty"` // "anthropic" | "openai" | "ollama" | "gemini" | "claude-cli" | "mock"
	APIKey        string            `yaml:"apiKey,omitempty"`
	BaseURL       string            `yaml:"baseUrl,omitempty"`
	MaxConcurrent int               `yaml:"maxConcurrent,omitempty"`
	MaxTokens     int               `yaml:"maxTokens,omitempty"`
	Models        map[string]string `yaml:"models,omitempty"` // alias (sonnet, opus, haiku) -> provider model id
	Fallbacks     []string          `yaml:"fallbacks,omitempty"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int              `yaml:"port,omitempty"`
	Bind           string           `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string           `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth      `yaml:"auth,omitempty"`
	TLS            GatewayTLS       `yaml:"tls,omitempty"`
	ControlUI      GatewayControlUI `yaml:"controlUi,omitempty"`
	RateLimit      GatewayRateLimit `yaml:"rateLimit,omitempty"`
	Metrics        bool             `yaml:"metrics,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// GatewayControlUI configures browser access to the gateway.
type GatewayControlUI struct {
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// GatewayRateLimit bounds RPC requests per connection.
type GatewayRateLimit struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// HooksConfig defines shell command hooks per coordinator event.
type HooksConfig struct {
	InvocationStarted   []HookEntry `yaml:"invocationStarted,omitempty"`
	InvocationCompleted []HookEntry `yaml:"invocationCompleted,omitempty"`
	InvocationFailed    []HookEntry `yaml:"invocationFailed,omitempty"`
	HandoffTracked      []HookEntry `yaml:"handoffTracked,omitempty"`
	ParallelStarted     []HookEntry `yaml:"parallelStarted,omitempty"`
	ConflictDetected    []HookEntry `yaml:"conflictDetected,omitempty"`
	ConflictResolved    []HookEntry `yaml:"conflictResolved,omitempty"`
	CatalogReloaded     []HookEntry `yaml:"catalogReloaded,omitempty"`
	GatewayStart        []HookEntry `yaml:"gatewayStart,omitempty"`
	GatewayStop         []HookEntry `yaml:"gatewayStop,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}
