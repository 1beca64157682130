// Package config handles chatmind configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Server
	Server ServerConfig `json:"server"`

	// Services
	Ollama OllamaConfig `json:"ollama"`
	Claude ClaudeConfig `json:"claude"`

	// Pipeline tuning
	Pipeline PipelineConfig `json:"pipeline"`
}

// ServerConfig for the HTTP server
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// OllamaConfig for local LLM fallback
type OllamaConfig struct {
	URL   string `json:"url"`
	Model string `json:"model"`
}

// ClaudeConfig for the Claude API
type ClaudeConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

// PipelineConfig tunes the notification pipeline
type PipelineConfig struct {
	// Retention caps for the conversation store
	MaxMessagesTotal   int `json:"max_messages_total"`
	MaxPerConversation int `json:"max_per_conversation"`

	// Reminder timing. LeadTime is the single authoritative lead between
	// notify-at and the event itself.
	LeadTime       Duration `json:"lead_time"`
	SnoozeDuration Duration `json:"snooze_duration"`
	ConflictWindow Duration `json:"conflict_window"`

	// Hard bound on the structured-extraction LLM call
	DetectTimeout Duration `json:"detect_timeout"`

	// How many prior messages to feed the LLM as context
	ContextLines int `json:"context_lines"`
}

// Duration wraps time.Duration so it round-trips through JSON as a string
// like "5m" instead of nanoseconds.
type Duration time.Duration

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".chatmind"),
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Ollama: OllamaConfig{
			URL:   "http://localhost:11434",
			Model: "llama3.2",
		},
		Claude: ClaudeConfig{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
			Model:  "claude-sonnet-4-20250514",
		},
		Pipeline: PipelineConfig{
			MaxMessagesTotal:   500,
			MaxPerConversation: 50,
			LeadTime:           Duration(5 * time.Minute),
			SnoozeDuration:     Duration(10 * time.Minute),
			ConflictWindow:     Duration(60 * time.Minute),
			DetectTimeout:      Duration(20 * time.Second),
			ContextLines:       5,
		},
	}
}

// Load loads config from file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Override API key from env if set
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.Claude.APIKey = apiKey
	}

	return cfg, nil
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Don't save API key to file
	safeCfg := *c
	safeCfg.Claude.APIKey = ""

	data, err := json.MarshalIndent(safeCfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
