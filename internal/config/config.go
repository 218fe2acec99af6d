// Package config loads the aria configuration from a YAML file.
// Every section has working defaults so the zero-config path boots
// against a local Ollama and on-disk stores.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings
// like "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all aria configuration.
type Config struct {
	// Inference configures the LLM backend.
	Inference InferenceConfig `yaml:"inference"`

	// Storage configures the conversation store and caches.
	Storage StorageConfig `yaml:"storage"`

	// Window configures the conversation window manager.
	Window WindowConfig `yaml:"window"`

	// Persona configures the assistant identity used by the guard path.
	Persona PersonaConfig `yaml:"persona"`

	// Pipeline configures the request pipeline.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Capabilities lists the tools exposed to the model.
	Capabilities []CapabilityConfig `yaml:"capabilities"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`
}

// InferenceConfig configures the Ollama client.
type InferenceConfig struct {
	OllamaURL   string        `yaml:"ollama_url"`
	Model       string        `yaml:"model"`
	ContextSize int           `yaml:"context_size"`
	Temperature float64       `yaml:"temperature"`
	Timeout     Duration `yaml:"timeout"`
}

// StorageConfig configures SQLite, Redis, Badger and Dgraph endpoints.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`

	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	BadgerPath string `yaml:"badger_path"`

	DgraphAlphaURL string `yaml:"dgraph_alpha_url"`
	TopicGraph     bool   `yaml:"topic_graph"`
}

// WindowConfig configures context windowing and compaction.
type WindowConfig struct {
	// Interval is the number of messages between compact boundaries.
	Interval int `yaml:"interval"`

	// LockTTL bounds how long a compaction lock may be held.
	LockTTL Duration `yaml:"lock_ttl"`

	// QueueSize and Workers size the background compaction queue.
	QueueSize int `yaml:"queue_size"`
	Workers   int `yaml:"workers"`
}

// PersonaConfig is the assistant's fixed identity, used by the
// capability-guard formatting path and the quality gate.
type PersonaConfig struct {
	Name                 string   `yaml:"name"`
	ClosingPhrase        string   `yaml:"closing_phrase"`
	Location             string   `yaml:"location"`
	StandingInstructions []string `yaml:"standing_instructions"`
}

// PipelineConfig configures pipeline-level limits.
type PipelineConfig struct {
	// RequestTimeout bounds the total wall clock of one request,
	// regardless of per-call timeouts inside the phases.
	RequestTimeout Duration `yaml:"request_timeout"`

	// AssessmentCacheTTL controls the guard-assessment cache.
	AssessmentCacheTTL Duration `yaml:"assessment_cache_ttl"`
}

// CapabilityConfig declares one tool in the startup catalog.
type CapabilityConfig struct {
	Name            string            `yaml:"name"`
	Category        string            `yaml:"category"`
	Description     string            `yaml:"description"`
	UsageHint       string            `yaml:"usage_hint"`
	Parameters      map[string]string `yaml:"parameters"` // name -> description
	UserScoped      bool              `yaml:"user_scoped"`
	Enabled         bool              `yaml:"enabled"`
	RequestsPerHour int               `yaml:"requests_per_hour"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Pretty bool   `yaml:"pretty"` // console writer for development
}

// DefaultConfig returns a configuration that works against local services.
func DefaultConfig() *Config {
	return &Config{
		Inference: InferenceConfig{
			OllamaURL:   "http://localhost:11434",
			Model:       "qwen2.5:7b",
			ContextSize: 32768,
			Temperature: 0.7,
			Timeout:     Duration(2 * time.Minute),
		},
		Storage: StorageConfig{
			SQLitePath:     "~/.aria/conversations.db",
			RedisURL:       "localhost:6379",
			RedisDB:        0,
			BadgerPath:     "~/.aria/personal",
			DgraphAlphaURL: "localhost:9080",
			TopicGraph:     false,
		},
		Window: WindowConfig{
			Interval:  50,
			LockTTL:   Duration(30 * time.Second),
			QueueSize: 128,
			Workers:   2,
		},
		Persona: PersonaConfig{
			Name:          "Aria",
			ClosingPhrase: "Anything else I can help with?",
			StandingInstructions: []string{
				"You are Aria, a personal assistant.",
				"You answer questions about yourself plainly and by name.",
				"You never reveal implementation details of the system you run on.",
				"You keep answers short, warm, and concrete.",
			},
		},
		Pipeline: PipelineConfig{
			RequestTimeout:     Duration(2 * time.Minute),
			AssessmentCacheTTL: Duration(10 * time.Minute),
		},
		Capabilities: DefaultCapabilities(),
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// DefaultCapabilities is the builtin tool catalog.
func DefaultCapabilities() []CapabilityConfig {
	return []CapabilityConfig{
		{
			Name:        "get_weather",
			Category:    "information",
			Description: "Current weather conditions for a named location",
			UsageHint:   "Use when the user asks about weather, temperature, or rain.",
			Parameters: map[string]string{
				"location": "City or place name",
			},
			Enabled:         true,
			RequestsPerHour: 120,
		},
		{
			Name:        "web_search",
			Category:    "information",
			Description: "Search the web and return top result snippets",
			UsageHint:   "Use for current events or facts likely outside training data.",
			Parameters: map[string]string{
				"query": "Search query text",
			},
			Enabled:         true,
			RequestsPerHour: 60,
		},
		{
			Name:            "current_datetime",
			Category:        "utility",
			Description:     "The current date and time in the user's timezone",
			UsageHint:       "Use when an answer depends on the exact current time.",
			Parameters:      map[string]string{},
			Enabled:         true,
			RequestsPerHour: 0,
		},
		{
			Name:        "personal_var",
			Category:    "personal",
			Description: "Look up or store a personal variable for the current user",
			UsageHint:   "Use for remembered user facts like 'my car', 'my doctor'.",
			Parameters: map[string]string{
				"key":   "Variable name",
				"value": "Optional value to store; omit to read",
			},
			UserScoped:      true,
			Enabled:         true,
			RequestsPerHour: 0,
		},
	}
}

// Load reads a YAML config file, applying defaults for absent fields.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Window.Interval <= 0 {
		return fmt.Errorf("window.interval must be positive, got %d", c.Window.Interval)
	}
	if c.Window.Workers <= 0 {
		return fmt.Errorf("window.workers must be positive, got %d", c.Window.Workers)
	}
	if c.Pipeline.RequestTimeout <= 0 {
		return fmt.Errorf("pipeline.request_timeout must be positive")
	}
	if c.Persona.Name == "" {
		return fmt.Errorf("persona.name must not be empty")
	}
	seen := make(map[string]bool, len(c.Capabilities))
	for _, cc := range c.Capabilities {
		if cc.Name == "" {
			return fmt.Errorf("capability with empty name")
		}
		if seen[cc.Name] {
			return fmt.Errorf("duplicate capability %q", cc.Name)
		}
		seen[cc.Name] = true
	}
	return nil
}
