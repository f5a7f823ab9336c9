package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const FileName = "casework.yml"

// Config models casework.yml.
type Config struct {
	Store struct {
		Driver  string `yaml:"driver" json:"driver"`
		DataDir string `yaml:"data_dir" json:"data_dir"`
		Files   Files  `yaml:"files" json:"files"`
	} `yaml:"store" json:"store"`
	Seeding  Seeding   `yaml:"seeding" json:"seeding"`
	Demo     Demo      `yaml:"demo" json:"demo"`
	Logging  Logging   `yaml:"logging" json:"logging"`
	Server   Server    `yaml:"server" json:"server"`
	Webhooks []Webhook `yaml:"webhooks" json:"webhooks,omitempty"`
}

// Files names the JSON "database" files inside the data directory.
type Files struct {
	Organisations  string `yaml:"organisations" json:"organisations"`
	Cases          string `yaml:"cases" json:"cases"`
	TaskConfig     string `yaml:"task_config" json:"task_config"`
	SeededTaskData string `yaml:"seeded_task_data" json:"seeded_task_data"`
	Messages       string `yaml:"messages" json:"messages"`
}

type Seeding struct {
	Seed            int64   `yaml:"seed" json:"seed"`
	StartSecondTask float64 `yaml:"start_second_task" json:"start_second_task"`
	InProgressData  float64 `yaml:"in_progress_data" json:"in_progress_data"`
}

type DemoOrganisation struct {
	Name     string `yaml:"name" json:"name"`
	RNNumber string `yaml:"rn_number" json:"rn_number"`
}

type Demo struct {
	Organisation DemoOrganisation `yaml:"organisation" json:"organisation"`
	Quotas       map[string]int   `yaml:"quotas" json:"quotas"`
}

type Logging struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type Server struct {
	Addr     string `yaml:"addr" json:"addr"`
	BasePath string `yaml:"base_path" json:"base_path"`
}

type Webhook struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cw config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the default config if the file does not exist.
func LoadOrDefault(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "json", "sqlite":
	default:
		return fmt.Errorf("config.store.driver must be 'json' or 'sqlite', got %q", c.Store.Driver)
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("config.store.data_dir is required")
	}
	f := c.Store.Files
	for name, v := range map[string]string{
		"organisations":    f.Organisations,
		"cases":            f.Cases,
		"task_config":      f.TaskConfig,
		"seeded_task_data": f.SeededTaskData,
		"messages":         f.Messages,
	} {
		if v == "" {
			return fmt.Errorf("config.store.files.%s is required", name)
		}
	}
	if p := c.Seeding.StartSecondTask; p < 0 || p > 1 {
		return fmt.Errorf("config.seeding.start_second_task must be within [0,1]")
	}
	if p := c.Seeding.InProgressData; p < 0 || p > 1 {
		return fmt.Errorf("config.seeding.in_progress_data must be within [0,1]")
	}
	if len(c.Demo.Quotas) > 0 {
		if c.Demo.Organisation.Name == "" || c.Demo.Organisation.RNNumber == "" {
			return fmt.Errorf("config.demo.organisation name and rn_number are required when quotas are set")
		}
	}
	for caseType, n := range c.Demo.Quotas {
		if caseType == "" {
			return fmt.Errorf("config.demo.quotas has empty case type")
		}
		if n < 0 {
			return fmt.Errorf("demo quota for %s is negative", caseType)
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.logging.level %q is not a level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.logging.format must be 'json' or 'console'")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds is negative", i)
		}
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

// DataPath resolves a store file against the data directory, which is
// itself relative to the workspace unless absolute.
func (c *Config) DataPath(workspace, file string) string {
	dir := c.Store.DataDir
	if !filepath.IsAbs(dir) {
		if workspace == "" {
			workspace = "."
		}
		dir = filepath.Join(workspace, dir)
	}
	return filepath.Join(dir, file)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	// quotas replace the defaults rather than merging with them
	defaultQuotas := cfg.Demo.Quotas
	cfg.Demo.Quotas = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Demo.Quotas == nil {
		cfg.Demo.Quotas = defaultQuotas
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

const defaultTemplate = `store:
  driver: json
  data_dir: data
  files:
    organisations: organisations.json
    cases: cases.json
    task_config: taskConfig.json
    seeded_task_data: seededTaskData.json
    messages: messages.json

seeding:
  # 0 seeds from the clock on every run
  seed: 0
  start_second_task: 0.5
  in_progress_data: 0.7

demo:
  organisation:
    name: Assessment Partners UK
    rn_number: RN5123
  quotas:
    event notification: 4
    complaint: 3
    registration: 3

logging:
  level: info
  format: console

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
