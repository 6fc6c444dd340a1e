package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/parley/errors"
	"gopkg.in/yaml.v3"
)

// DirName is the per-user and per-project configuration directory.
const DirName = ".parley"

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

type Personality struct {
	Name   string   `yaml:"name"`
	Prompt string   `yaml:"prompt"`
	Traits []string `yaml:"traits"`
}

// Fallback lists extra providers tried in order when the primary one fails.
type Fallback struct {
	Providers  []ProviderRef `yaml:"providers"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type ProviderRef struct {
	LLM   string `yaml:"llm"`
	Model string `yaml:"model"`
}

type Config struct {
	LLMClient string            `yaml:"llm"`
	Model     string            `yaml:"model"`
	Models    map[string]string `yaml:"models"`
	Fallback  Fallback          `yaml:"fallback"`

	Temperature      float64       `yaml:"temperature"`
	MaxTokens        int           `yaml:"max_tokens"`
	SystemPrompt     string        `yaml:"system_prompt"`
	Archetype        string        `yaml:"archetype"`
	Personality      *Personality  `yaml:"personality"`
	FunctionCalling  *bool         `yaml:"function_calling"`
	MaxFunctionCalls int           `yaml:"max_function_calls"`
	HistoryWindow    int           `yaml:"history_window"`
	RoundTimeout     time.Duration `yaml:"round_timeout"`
	ExtensionTimeout time.Duration `yaml:"extension_timeout"`
	SessionDir       string        `yaml:"session_dir"`

	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
}

// Default returns the configuration used before any file is applied.
func Default() *Config {
	cfg := &Config{
		Temperature:      0.7,
		MaxTokens:        4096,
		Archetype:        "assistant",
		MaxFunctionCalls: 5,
		HistoryWindow:    -1,
		RoundTimeout:     2 * time.Minute,
		ExtensionTimeout: time.Minute,
		SessionDir:       filepath.Join(DirName, "sessions"),
	}
	// The configuration directory is never exposed to filesystem functions.
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, DirName, DirName+"/**")
	return cfg
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := Default()

	// Load user-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, DirName, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Load project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, DirName, "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile applies a single YAML file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "error loading config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites only the fields present in the YAML, so a later
	// file replaces the values of an earlier one field by field.
	return yaml.Unmarshal(data, cfg)
}

// Validate rejects values no agent could run with.
func (c *Config) Validate() error {
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.Wrapf(errors.ErrInvalidConfig, "temperature %.2f out of range [0, 2]", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "max_tokens must not be negative")
	}
	if c.MaxFunctionCalls < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "max_function_calls must not be negative")
	}
	return nil
}

// FunctionCallingEnabled reports the function_calling setting, defaulting to true.
func (c *Config) FunctionCallingEnabled() bool {
	return c.FunctionCalling == nil || *c.FunctionCalling
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	// Fallback to default if a specific toolset was requested but not found
	return c.GetToolset("default")
}
