// Package config loads the runtime configuration file. Decoding is strict
// in both formats: unknown keys and trailing documents are errors, so a
// typo never silently falls back to a default. Secrets stay out of the
// file; the config names the environment variable that holds them.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Version int `json:"version" yaml:"version"`

	Paths struct {
		Artifacts string `json:"artifacts" yaml:"artifacts"`
		Runs      string `json:"runs" yaml:"runs"`
		Store     string `json:"store" yaml:"store"`
	} `json:"paths" yaml:"paths"`

	Engine struct {
		MaxParallel   int `json:"max_parallel" yaml:"max_parallel"`
		NodeTimeoutMS int `json:"node_timeout_ms,omitempty" yaml:"node_timeout_ms,omitempty"`
	} `json:"engine" yaml:"engine"`

	LLM struct {
		Provider   string `json:"provider" yaml:"provider"`
		Endpoint   string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
		Model      string `json:"model,omitempty" yaml:"model,omitempty"`
		APIKeyEnv  string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
		MaxRetries *int   `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	} `json:"llm" yaml:"llm"`

	Python struct {
		Binary    string `json:"binary" yaml:"binary"`
		TimeoutMS int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	} `json:"python" yaml:"python"`

	Media struct {
		SpeechURL string `json:"speech_url,omitempty" yaml:"speech_url,omitempty"`
		ImageURL  string `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	} `json:"media,omitempty" yaml:"media,omitempty"`

	Server struct {
		Addr string `json:"addr" yaml:"addr"`
	} `json:"server" yaml:"server"`

	Scheduler struct {
		TickMS int `json:"tick_ms" yaml:"tick_ms"`
	} `json:"scheduler" yaml:"scheduler"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads, decodes, defaults, and validates a config file. The format
// follows the extension: .json is JSON, everything else is YAML.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := decodeJSONStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	default:
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// APIKey resolves the LLM credential from the configured environment
// variable. Empty when the variable is unset.
func (c *Config) APIKey() string {
	if c == nil || strings.TrimSpace(c.LLM.APIKeyEnv) == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}

func decodeJSONStrict(b []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if strings.TrimSpace(cfg.Paths.Artifacts) == "" {
		cfg.Paths.Artifacts = "artifacts"
	}
	if strings.TrimSpace(cfg.Paths.Runs) == "" {
		cfg.Paths.Runs = "runs"
	}
	if strings.TrimSpace(cfg.Paths.Store) == "" {
		cfg.Paths.Store = "workflow.json"
	}
	if cfg.Engine.MaxParallel == 0 {
		cfg.Engine.MaxParallel = 4
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if strings.TrimSpace(cfg.LLM.APIKeyEnv) == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
		default:
			cfg.LLM.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	}
	if cfg.LLM.MaxRetries == nil {
		v := 3
		cfg.LLM.MaxRetries = &v
	}
	if strings.TrimSpace(cfg.Python.Binary) == "" {
		cfg.Python.Binary = "python3"
	}
	if cfg.Python.TimeoutMS == 0 {
		cfg.Python.TimeoutMS = 30000
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = "127.0.0.1:8844"
	}
	if cfg.Scheduler.TickMS == 0 {
		cfg.Scheduler.TickMS = 2000
	}
}

func validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	if cfg.Engine.MaxParallel < 1 {
		return fmt.Errorf("engine.max_parallel must be >= 1")
	}
	if cfg.Engine.NodeTimeoutMS < 0 {
		return fmt.Errorf("engine.node_timeout_ms must be >= 0")
	}
	switch cfg.LLM.Provider {
	case "anthropic", "openai":
		// ok
	default:
		return fmt.Errorf("invalid llm.provider: %q (want anthropic|openai)", cfg.LLM.Provider)
	}
	if cfg.LLM.MaxRetries != nil && *cfg.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must be >= 0")
	}
	if cfg.Python.TimeoutMS < 0 {
		return fmt.Errorf("python.timeout_ms must be >= 0")
	}
	if cfg.Scheduler.TickMS < 0 {
		return fmt.Errorf("scheduler.tick_ms must be >= 0")
	}
	return nil
}
