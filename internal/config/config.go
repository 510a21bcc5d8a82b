// Package config provides the unified configuration for the uDOS wizard
// engine. The single source of truth is <config>/wizard.json (one JSON
// object); environment variables override individual fields at load time.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the full wizard engine configuration.
type Config struct {
	Name string `json:"name"`

	// AdminAPIKeyID is the secret-store entry id holding the admin token.
	AdminAPIKeyID string `json:"admin_api_key_id"`

	// Bind is the wizard server listen address. Wildcard hosts are
	// normalized to loopback at serve time.
	Bind string `json:"bind"`

	// EnvFile is the path to the plain KEY=VALUE environment file.
	EnvFile string `json:"env_file"`

	LocalModel LocalModelConfig `json:"local_model"`
	Vibe       VibeConfig       `json:"vibe"`
	Shell      ShellConfig      `json:"shell"`
	Logging    LoggingConfig    `json:"logging"`

	// EnforceModeBoundaries gates destructive catalog commands behind the
	// confirmation flow.
	EnforceModeBoundaries bool `json:"enforce_mode_boundaries"`

	// configDir/stateDir are resolved at load time, not persisted.
	configDir string
	stateDir  string
}

// LocalModelConfig configures the local model service checked by the
// self-heal probe.
type LocalModelConfig struct {
	Endpoint     string `json:"endpoint"`
	DefaultModel string `json:"default_model"`
	Tier         string `json:"tier"` // tier2 or tier3
}

// VibeConfig configures the stage-3 cloud provider chain.
type VibeConfig struct {
	Chain     []string `json:"chain,omitempty"`
	Primary   string   `json:"primary,omitempty"`
	Secondary string   `json:"secondary,omitempty"`
	MaxTokens int      `json:"max_tokens"`
}

// ShellConfig configures stage-2 shell validation.
type ShellConfig struct {
	// Allowlist restricts shell heads to this set when non-empty.
	Allowlist []string `json:"allowlist,omitempty"`
	// LogRawInput opts in to storing raw prompt text in the session log.
	LogRawInput bool `json:"log_raw_input"`
}

// LoggingConfig mirrors logging.loggingConfig.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories,omitempty"`
	Level      string          `json:"level"`
	JSONFormat bool            `json:"json_format"`
}

// DefaultAdminAPIKeyID is the secret-store entry id used when the config
// does not name one.
const DefaultAdminAPIKeyID = "wizard-admin-token"

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:          "uDOS",
		AdminAPIKeyID: DefaultAdminAPIKeyID,
		Bind:          "127.0.0.1:8787",
		LocalModel: LocalModelConfig{
			Endpoint:     "http://127.0.0.1:11434",
			DefaultModel: "llama3.2:3b",
			Tier:         "tier2",
		},
		Vibe: VibeConfig{
			MaxTokens: 1024,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		EnforceModeBoundaries: true,
		configDir:             DefaultConfigDir(),
		stateDir:              DefaultStateDir(),
	}
}

// DefaultConfigDir resolves the config directory: $UDOS_CONFIG_DIR or
// ~/.udos.
func DefaultConfigDir() string {
	if dir := os.Getenv("UDOS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".udos"
	}
	return filepath.Join(home, ".udos")
}

// DefaultStateDir resolves the state directory: $UDOS_STATE_DIR or
// <config>/state.
func DefaultStateDir() string {
	if dir := os.Getenv("UDOS_STATE_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(DefaultConfigDir(), "state")
}

// DefaultWizardPath returns the default wizard.json path.
func DefaultWizardPath() string {
	return filepath.Join(DefaultConfigDir(), "wizard.json")
}

// Load reads wizard.json from path and applies env overrides. A missing
// file yields defaults (with overrides applied), not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.configDir = filepath.Dir(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config as a single JSON object.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VIBE_CLOUD_PROVIDER_CHAIN"); v != "" {
		var chain []string
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				chain = append(chain, id)
			}
		}
		c.Vibe.Chain = chain
	}
	if v := os.Getenv("VIBE_PRIMARY_CLOUD_PROVIDER"); v != "" {
		c.Vibe.Primary = v
	}
	if v := os.Getenv("VIBE_SECONDARY_CLOUD_PROVIDER"); v != "" {
		c.Vibe.Secondary = v
	}
	if v := os.Getenv("WIZARD_LOCAL_ENDPOINT"); v != "" {
		c.LocalModel.Endpoint = v
	}
	if v := os.Getenv("WIZARD_LOCAL_MODEL"); v != "" {
		c.LocalModel.DefaultModel = v
	}
	if v := os.Getenv("UDOS_ENFORCE_MODE_BOUNDARIES"); v != "" {
		c.EnforceModeBoundaries = v != "0"
	}
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if c.AdminAPIKeyID == "" {
		return fmt.Errorf("admin_api_key_id must not be empty")
	}
	switch c.LocalModel.Tier {
	case "", "tier2", "tier3":
	default:
		return fmt.Errorf("invalid local model tier: %s (valid: tier2, tier3)", c.LocalModel.Tier)
	}
	return nil
}

// ConfigDir returns the resolved config directory.
func (c *Config) ConfigDir() string {
	if c.configDir == "" {
		return DefaultConfigDir()
	}
	return c.configDir
}

// StateDir returns the resolved state directory.
func (c *Config) StateDir() string {
	if c.stateDir == "" {
		return DefaultStateDir()
	}
	return c.stateDir
}

// SetStateDir overrides the state directory (used by tests and the CLI).
func (c *Config) SetStateDir(dir string) { c.stateDir = dir }

// SetConfigDir overrides the config directory.
func (c *Config) SetConfigDir(dir string) { c.configDir = dir }

// WizardPath returns the wizard.json path under the config dir.
func (c *Config) WizardPath() string {
	return filepath.Join(c.ConfigDir(), "wizard.json")
}

// SecretStorePath returns the encrypted secret store path.
func (c *Config) SecretStorePath() string {
	return filepath.Join(c.ConfigDir(), "secrets.tomb")
}

// SessionLogPath returns the session log path under the state dir.
func (c *Config) SessionLogPath() string {
	return filepath.Join(c.StateDir(), "session.log.jsonl")
}

// EnvFilePath returns the env file path, defaulting to <config>/.env.
func (c *Config) EnvFilePath() string {
	if c.EnvFile != "" {
		return c.EnvFile
	}
	return filepath.Join(c.ConfigDir(), ".env")
}
