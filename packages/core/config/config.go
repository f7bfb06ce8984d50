package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Introspection wait modes
const (
	WaitPoll  = "poll"
	WaitSleep = "sleep"
	WaitNone  = "none"
)

// Config represents the aidb-smoke configuration
type Config struct {
	BaseURL         string            `yaml:"baseUrl,omitempty"`
	Timeout         time.Duration     `yaml:"timeout,omitempty"`
	FollowRedirects *bool             `yaml:"followRedirects,omitempty"`
	ValidateSSL     *bool             `yaml:"validateSSL,omitempty"`
	Proxy           string            `yaml:"proxy,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty"`

	DataSource    DataSourceConfig    `yaml:"dataSource"`
	Session       SessionConfig       `yaml:"session"`
	Introspection IntrospectionConfig `yaml:"introspection"`
	Export        ExportConfig        `yaml:"export"`

	Output  string `yaml:"output,omitempty"`
	NoColor *bool  `yaml:"noColor,omitempty"`
	History string `yaml:"history,omitempty"`

	Notify NotifyConfig `yaml:"notify,omitempty"`
}

// DataSourceConfig describes the data source created in the first step
type DataSourceConfig struct {
	Name          string `yaml:"name"`
	DBType        string `yaml:"dbType"`
	ConnectionRef string `yaml:"connectionRef"`
	IDPath        string `yaml:"idPath,omitempty"`
}

// SessionConfig describes the query session and its run
type SessionConfig struct {
	Question  string `yaml:"question"`
	IDPath    string `yaml:"idPath,omitempty"`
	MaxRows   int    `yaml:"maxRows"`
	TimeoutMs int    `yaml:"timeoutMs,omitempty"`
	Provider  string `yaml:"provider,omitempty"`
	Model     string `yaml:"model,omitempty"`
}

// IntrospectionConfig controls how the runner waits for schema introspection
type IntrospectionConfig struct {
	Wait            string        `yaml:"wait"`
	Delay           time.Duration `yaml:"delay,omitempty"`
	PollInterval    time.Duration `yaml:"pollInterval,omitempty"`
	PollMaxInterval time.Duration `yaml:"pollMaxInterval,omitempty"`
	PollTimeout     time.Duration `yaml:"pollTimeout,omitempty"`
	PollMaxAttempts int           `yaml:"pollMaxAttempts,omitempty"`
}

// ExportConfig controls the export steps
type ExportConfig struct {
	PreviewChars int   `yaml:"previewChars,omitempty"`
	Validate     *bool `yaml:"validate,omitempty"`
	// Schema is a JSON Schema document for the JSON export. Empty means an
	// array of objects.
	Schema string `yaml:"schema,omitempty"`
}

// NotifyConfig configures run notifications
type NotifyConfig struct {
	Services     []string `yaml:"services,omitempty"`
	On           string   `yaml:"on,omitempty"`
	SlackWebhook string   `yaml:"slackWebhook,omitempty"`
	SlackChannel string   `yaml:"slackChannel,omitempty"`
	TeamsWebhook string   `yaml:"teamsWebhook,omitempty"`
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool {
	return &b
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetFollowRedirects returns the follow redirects setting, defaulting to true
func (c *Config) GetFollowRedirects() bool {
	return getBool(c.FollowRedirects, true)
}

// GetValidateSSL returns the validate SSL setting, defaulting to true
func (c *Config) GetValidateSSL() bool {
	return getBool(c.ValidateSSL, true)
}

// GetNoColor returns the no color setting, defaulting to false
func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// GetValidate returns the export validation setting, defaulting to true
func (c *ExportConfig) GetValidate() bool {
	return getBool(c.Validate, true)
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         "http://localhost:8080",
		Timeout:         30 * time.Second,
		FollowRedirects: BoolPtr(true),
		ValidateSSL:     BoolPtr(true),
		DataSource: DataSourceConfig{
			Name:          "test_ds",
			DBType:        "postgres",
			ConnectionRef: "postgresql://aidb:aidb@db:5432/aidb",
			IDPath:        "id",
		},
		Session: SessionConfig{
			Question: "SELECT 1 as test_col",
			IDPath:   "session_id",
			MaxRows:  10,
		},
		Introspection: IntrospectionConfig{
			Wait:            WaitPoll,
			Delay:           2 * time.Second,
			PollInterval:    2 * time.Second,
			PollMaxInterval: 15 * time.Second,
			PollTimeout:     180 * time.Second,
		},
		Export: ExportConfig{
			PreviewChars: 200,
			Validate:     BoolPtr(true),
		},
		Output:  "console",
		NoColor: BoolPtr(false),
		Notify: NotifyConfig{
			On: "failure",
		},
	}
}

// ConfigFilenames contains the possible config file names
var ConfigFilenames = []string{
	"aidb-smoke.yaml",
	"aidb-smoke.yml",
	".aidb-smoke.yaml",
	"aidb-smoke.json",
}

// LoadConfig loads configuration from the specified path or searches for config files
func LoadConfig(path string) (*Config, string, error) {
	if path != "" {
		cfg, err := loadConfigFromFile(path)
		return cfg, path, err
	}

	return FindAndLoadConfig(".")
}

// FindAndLoadConfig searches for a config file in the given directory. It
// returns the defaults and an empty path when none exists.
func FindAndLoadConfig(dir string) (*Config, string, error) {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := loadConfigFromFile(configPath)
			return cfg, configPath, err
		}
	}

	return DefaultConfig(), "", nil
}

// loadConfigFromFile reads a YAML or JSON file over the defaults. JSON is
// accepted by the YAML decoder as-is.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return config, nil
}

// Validate checks values that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("baseUrl is required")
	}
	switch c.Introspection.Wait {
	case WaitPoll, WaitSleep, WaitNone:
	default:
		return fmt.Errorf("introspection.wait must be one of %s, %s, %s (got %q)", WaitPoll, WaitSleep, WaitNone, c.Introspection.Wait)
	}
	if c.Session.MaxRows < 0 {
		return fmt.Errorf("session.maxRows must not be negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	switch strings.ToLower(c.Output) {
	case "", "console", "json", "junit", "tap":
	default:
		return fmt.Errorf("output must be one of console, json, junit, tap (got %q)", c.Output)
	}
	if c.Export.Schema != "" && !json.Valid([]byte(c.Export.Schema)) {
		return fmt.Errorf("export.schema is not a JSON document")
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
