package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models trackway.yml.
type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Token   string `yaml:"token"`
	} `yaml:"server"`
	Session struct {
		OutboundBuffer   int           `yaml:"outbound_buffer"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	} `yaml:"session"`
	Evaluator struct {
		Timeout        time.Duration `yaml:"timeout"`
		MaxOutputBytes int           `yaml:"max_output_bytes"`
	} `yaml:"evaluator"`
	Compiler struct {
		Collision           string `yaml:"collision"`
		CacheSize           int    `yaml:"cache_size"`
		MinDescriptionWords int    `yaml:"min_description_words"`
		MinHintWords        int    `yaml:"min_hint_words"`
	} `yaml:"compiler"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Peer struct {
		Listen    string `yaml:"listen"`
		Path      string `yaml:"path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"peer"`
	API struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"api"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// Webhook forwards matching session events to URL.
type Webhook struct {
	URL     string   `yaml:"url"`
	Events  []string `yaml:"events"`
	Secret  string   `yaml:"secret"`
	Enabled bool     `yaml:"enabled"`
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Address != "" && !strings.Contains(c.Server.Address, "://") {
		return fmt.Errorf("config.server.address must include a scheme (ws://, wss://, tcp://, unix://)")
	}
	if c.Session.OutboundBuffer < 0 {
		return fmt.Errorf("config.session.outbound_buffer must not be negative")
	}
	if c.Session.HandshakeTimeout < 0 {
		return fmt.Errorf("config.session.handshake_timeout must not be negative")
	}
	if c.Evaluator.Timeout < 0 {
		return fmt.Errorf("config.evaluator.timeout must not be negative")
	}
	if c.Evaluator.MaxOutputBytes < 0 {
		return fmt.Errorf("config.evaluator.max_output_bytes must not be negative")
	}
	switch c.Compiler.Collision {
	case "", "error", "replace":
	default:
		return fmt.Errorf("config.compiler.collision must be 'error' or 'replace'")
	}
	if c.Compiler.CacheSize < 0 {
		return fmt.Errorf("config.compiler.cache_size must not be negative")
	}
	if c.Compiler.MinDescriptionWords < 0 || c.Compiler.MinHintWords < 0 {
		return fmt.Errorf("config.compiler word thresholds must not be negative")
	}
	if c.Log.Level != "" && !validLevels[c.Log.Level] {
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be 'json' or 'console'")
	}
	if c.Peer.Path != "" && !strings.HasPrefix(c.Peer.Path, "/") {
		return fmt.Errorf("config.peer.path must start with /")
	}
	if c.API.BasePath != "" && !strings.HasPrefix(c.API.BasePath, "/") {
		return fmt.Errorf("config.api.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, ev := range hook.Events {
			if ev == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event kind", i)
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
	return filepath.Join(workspace, "trackway.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns Default() if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  address: ""
  token: ""

session:
  outbound_buffer: 64
  handshake_timeout: 10s

evaluator:
  timeout: 30s
  max_output_bytes: 1048576

compiler:
  collision: error
  cache_size: 128
  min_description_words: 12
  min_hint_words: 12

log:
  level: info
  format: console

peer:
  listen: 127.0.0.1:7420
  path: /agent
  jwt_secret: ""

api:
  addr: 127.0.0.1:7421
  base_path: /v0
  jwt_secret: ""

webhooks: []
`
