package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"courtside/internal/logging"
	"courtside/internal/types"

	"gopkg.in/yaml.v3"
)

// Config holds all courtside configuration.
type Config struct {
	Name string `yaml:"name"`

	// HTTP server (server side)
	Server ServerConfig `yaml:"server"`

	// Hosted generative model
	Model ModelConfig `yaml:"model"`

	// Keyed store
	Store StoreConfig `yaml:"store"`

	// Live snapshot freshness gate
	Live LiveConfig `yaml:"live"`

	// Auxiliary injury/status feed
	Injuries InjuriesConfig `yaml:"injuries"`

	// Instruction payload section caps
	Assembler AssemblerConfig `yaml:"assembler"`

	// Degrading retry ladder, richest step first
	Ladder []types.RetryStep `yaml:"ladder"`

	// Persistence sink
	Persistence PersistenceConfig `yaml:"persistence"`

	// Resilient client
	Client ClientConfig `yaml:"client"`

	// Logging
	Logging logging.Config `yaml:"logging"`
}

// ServerConfig configures the streaming HTTP endpoint.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	RequestTimeout string `yaml:"request_timeout"`
	// StepBackoff is the pause before the server walks to the next ladder step.
	StepBackoff string `yaml:"step_backoff"`
}

// ModelConfig configures the generation adapter.
type ModelConfig struct {
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	EnableThinking bool    `yaml:"enable_thinking"`
	Temperature    float32 `yaml:"temperature"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LiveConfig configures the live truth fetcher.
type LiveConfig struct {
	FreshnessWindow string `yaml:"freshness_window"`
}

// InjuriesConfig configures the auxiliary signal fetcher.
type InjuriesConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
	TTL     string `yaml:"ttl"`
}

// AssemblerConfig caps each instruction section independently.
type AssemblerConfig struct {
	PhaseChars  int    `yaml:"phase_chars"`
	LiveChars   int    `yaml:"live_chars"`
	AuxChars    int    `yaml:"aux_chars"`
	PriorsChars int    `yaml:"priors_chars"`
	TotalChars  int    `yaml:"total_chars"`
	Timezone    string `yaml:"timezone"`
}

// PersistenceConfig configures the persistence sink.
type PersistenceConfig struct {
	MaxTurns int `yaml:"max_turns"`
}

// ClientConfig configures the resilient fetch client and local state.
type ClientConfig struct {
	BaseURL           string  `yaml:"base_url"`
	MaxRetries        int     `yaml:"max_retries"`
	BaseDelay         string  `yaml:"base_delay"`
	MaxDelay          string  `yaml:"max_delay"`
	Jitter            float64 `yaml:"jitter"`
	RedrawInterval    string  `yaml:"redraw_interval"`
	CitationCacheSize int     `yaml:"citation_cache_size"`
	StatePath         string  `yaml:"state_path"`
}

// DefaultLadder returns the default three-step ladder. The last step is the
// fail-closed configuration: one evidence turn, a small budget, no search.
func DefaultLadder() []types.RetryStep {
	return []types.RetryStep{
		{AttemptNumber: 1, MaxEvidenceTurns: 12, MaxInstructionChars: 24000, UseSearchTool: true},
		{AttemptNumber: 2, MaxEvidenceTurns: 6, MaxInstructionChars: 12000, UseSearchTool: true},
		{AttemptNumber: 3, MaxEvidenceTurns: 1, MaxInstructionChars: 4000, UseSearchTool: false},
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "courtside",

		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: "5m",
			StepBackoff:    "250ms",
		},

		Model: ModelConfig{
			Model:          "gemini-2.5-flash",
			EnableThinking: true,
			Temperature:    0.7,
		},

		Store: StoreConfig{
			DatabasePath: "data/courtside.db",
		},

		Live: LiveConfig{
			FreshnessWindow: "5m",
		},

		Injuries: InjuriesConfig{
			BaseURL: "https://site.api.espn.com/apis/site/v2/sports",
			Timeout: "3s",
			TTL:     "5m",
		},

		Assembler: AssemblerConfig{
			PhaseChars:  1200,
			LiveChars:   2000,
			AuxChars:    2400,
			PriorsChars: 800,
			TotalChars:  24000,
			Timezone:    "America/New_York",
		},

		Ladder: DefaultLadder(),

		Persistence: PersistenceConfig{
			MaxTurns: 40,
		},

		Client: ClientConfig{
			BaseURL:           "http://localhost:8080",
			MaxRetries:        3,
			BaseDelay:         "500ms",
			MaxDelay:          "8s",
			Jitter:            0.2,
			RedrawInterval:    "16ms",
			CitationCacheSize: 128,
			StatePath:         "data/client.bolt",
		},

		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.numberLadder()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.Model.APIKey = key
	}
	// GEMINI_API_KEY wins when both are set
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Model.APIKey = key
	}
	if path := os.Getenv("COURTSIDE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if addr := os.Getenv("COURTSIDE_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if url := os.Getenv("COURTSIDE_URL"); url != "" {
		c.Client.BaseURL = url
	}
}

// numberLadder assigns 1-based attempt numbers in file order.
func (c *Config) numberLadder() {
	for i := range c.Ladder {
		c.Ladder[i].AttemptNumber = i + 1
	}
}

// Validate validates the configuration for the server.
func (c *Config) Validate() error {
	if c.Model.APIKey == "" {
		return fmt.Errorf("model API key not configured (set GEMINI_API_KEY or GOOGLE_API_KEY)")
	}
	if len(c.Ladder) == 0 {
		return fmt.Errorf("retry ladder must have at least one step")
	}
	if last := c.Ladder[len(c.Ladder)-1]; last.UseSearchTool {
		return fmt.Errorf("last ladder step must disable the search tool")
	}
	for i, step := range c.Ladder {
		if step.MaxInstructionChars <= 0 {
			return fmt.Errorf("ladder step %d: max_instruction_chars must be positive", i+1)
		}
		if step.MaxEvidenceTurns < 1 {
			return fmt.Errorf("ladder step %d: max_evidence_turns must be at least 1", i+1)
		}
	}
	if c.Persistence.MaxTurns <= 0 {
		return fmt.Errorf("persistence.max_turns must be positive")
	}
	return nil
}

// parseDuration parses s and falls back to def when s is empty or invalid.
func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetRequestTimeout returns the per-request server timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDuration(c.Server.RequestTimeout, 5*time.Minute)
}

// GetStepBackoff returns the base pause between server-side ladder steps.
func (c *Config) GetStepBackoff() time.Duration {
	return parseDuration(c.Server.StepBackoff, 250*time.Millisecond)
}

// GetFreshnessWindow returns the live snapshot freshness window.
func (c *Config) GetFreshnessWindow() time.Duration {
	return parseDuration(c.Live.FreshnessWindow, 5*time.Minute)
}

// GetInjuryTimeout returns the per-side auxiliary fetch timeout.
func (c *Config) GetInjuryTimeout() time.Duration {
	return parseDuration(c.Injuries.Timeout, 3*time.Second)
}

// GetInjuryTTL returns the auxiliary cache time-to-live.
func (c *Config) GetInjuryTTL() time.Duration {
	return parseDuration(c.Injuries.TTL, 5*time.Minute)
}

// GetLocation returns the configured timezone, UTC if unknown.
func (c *Config) GetLocation() *time.Location {
	loc, err := time.LoadLocation(c.Assembler.Timezone)
	if err != nil || c.Assembler.Timezone == "" {
		return time.UTC
	}
	return loc
}
