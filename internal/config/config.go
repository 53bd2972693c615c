package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"coordline/internal/domain"
)

const FileName = "coordline.yml"

// Config models coordline.yml.
type Config struct {
	Lock struct {
		Mode    string          `yaml:"mode" json:"mode"`
		Timeout domain.Duration `yaml:"timeout" json:"timeout"`
		Retries int             `yaml:"retries" json:"retries"`
		Backoff domain.Duration `yaml:"backoff" json:"backoff"`
	} `yaml:"lock" json:"lock"`
	Agents struct {
		AutoRegister    bool            `yaml:"auto_register" json:"auto_register"`
		DefaultCapacity int             `yaml:"default_capacity" json:"default_capacity"`
		EnforceCapacity bool            `yaml:"enforce_capacity" json:"enforce_capacity"`
		StaleAfter      domain.Duration `yaml:"stale_after" json:"stale_after"`
	} `yaml:"agents" json:"agents"`
	Telemetry struct {
		Enabled bool   `yaml:"enabled" json:"enabled"`
		Service string `yaml:"service" json:"service"`
	} `yaml:"telemetry" json:"telemetry"`
	Advisor struct {
		Command string          `yaml:"command" json:"command"`
		Args    []string        `yaml:"args" json:"args"`
		Timeout domain.Duration `yaml:"timeout" json:"timeout"`
	} `yaml:"advisor" json:"advisor"`
	Server struct {
		Addr      string `yaml:"addr" json:"addr"`
		BasePath  string `yaml:"base_path" json:"base_path"`
		JWTSecret string `yaml:"jwt_secret" json:"-"`
	} `yaml:"server" json:"server"`
	Log struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"log" json:"log"`
}

const (
	MaxLockRetries = 5
	MaxBackoff     = 2 * time.Second
)

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	switch c.Lock.Mode {
	case "auto", "enforcing", "best-effort":
	default:
		return fmt.Errorf("config.lock.mode must be auto, enforcing or best-effort")
	}
	if c.Lock.Timeout.Std() <= 0 {
		return fmt.Errorf("config.lock.timeout must be positive")
	}
	if c.Lock.Retries < 0 || c.Lock.Retries > MaxLockRetries {
		return fmt.Errorf("config.lock.retries must be between 0 and %d", MaxLockRetries)
	}
	if c.Lock.Backoff.Std() < 0 || c.Lock.Backoff.Std() > MaxBackoff {
		return fmt.Errorf("config.lock.backoff must be between 0 and %s", MaxBackoff)
	}
	if c.Agents.DefaultCapacity < 0 || c.Agents.DefaultCapacity > 100 {
		return fmt.Errorf("config.agents.default_capacity must be between 0 and 100")
	}
	if c.Agents.StaleAfter.Std() < 0 {
		return fmt.Errorf("config.agents.stale_after must not be negative")
	}
	if c.Advisor.Command != "" && c.Advisor.Timeout.Std() <= 0 {
		return fmt.Errorf("config.advisor.timeout is required when advisor.command is set")
	}
	if c.Server.BasePath != "" && c.Server.BasePath[0] != '/' {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
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
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
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

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config yaml: %w", err)
		}
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

const defaultTemplate = `lock:
  # auto | enforcing | best-effort
  mode: auto
  timeout: 10s
  retries: 2
  backoff: 50ms

agents:
  auto_register: true
  default_capacity: 100
  enforce_capacity: false
  stale_after: 5m

telemetry:
  enabled: true
  service: coordline

advisor:
  # command receives the active work items as JSON on stdin
  command: ""
  args: []
  timeout: 30s

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret: ""

log:
  level: info
  format: text
`
