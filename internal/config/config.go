package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"lockerline/internal/domain"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config models lockerline.yml.
type Config struct {
	Store struct {
		Backend string `yaml:"backend"`
		Log     string `yaml:"log"`
	} `yaml:"store"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one push subscriber for accepted events.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("store.backend must be %q or %q", BackendFile, BackendSQLite)
	}
	if c.Store.Backend == BackendFile && strings.TrimSpace(c.Store.Log) == "" {
		return fmt.Errorf("store.log is required for the file backend")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		for _, evt := range hook.Events {
			if !domain.EventType(evt).Known() {
				return fmt.Errorf("webhooks[%d] references unknown event type %s", i, evt)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "lockerline.yml")
}

// Load reads and validates config from the workspace, falling back to the
// defaults when no file exists.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `store:
  backend: file
  log: events.jsonl

server:
  addr: 127.0.0.1:8080
  base_path: /v0

# Push accepted events to external subscribers:
# webhooks:
#   - url: https://example.com/hooks/lockerline
#     events: [FaultReported, FaultCleared]
#     secret: ""
#     timeout_seconds: 5
`
