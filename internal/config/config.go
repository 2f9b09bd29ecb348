package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const currentVersion = 1

// Config represents the complete codemap configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
	Derivation DerivationConfig `json:"derivation" mapstructure:"derivation"`
	Trees      TreesConfig      `json:"trees" mapstructure:"trees"`
	Metrics    MetricsConfig    `json:"metrics" mapstructure:"metrics"`
}

// LoggingConfig contains logging configuration.
// Subsystem levels override Level when set.
type LoggingConfig struct {
	Format     string `json:"format" mapstructure:"format"`
	Level      string `json:"level" mapstructure:"level"`
	CLI        string `json:"cli,omitempty" mapstructure:"cli"`
	Derivation string `json:"derivation,omitempty" mapstructure:"derivation"`
	Storage    string `json:"storage,omitempty" mapstructure:"storage"`
}

// DerivationConfig controls when and how code mappings are derived
type DerivationConfig struct {
	SupportedPlatforms   []string `json:"supportedPlatforms" mapstructure:"supportedPlatforms"`
	ModulePlatforms      []string `json:"modulePlatforms" mapstructure:"modulePlatforms"`
	ProjectWindowSeconds int      `json:"projectWindowSeconds" mapstructure:"projectWindowSeconds"`
	IssueWindowSeconds   int      `json:"issueWindowSeconds" mapstructure:"issueWindowSeconds"`
	OnlyInAppFrames      bool     `json:"onlyInAppFrames" mapstructure:"onlyInAppFrames"`
}

// TreesConfig controls repository tree retrieval
type TreesConfig struct {
	ManifestDir        string `json:"manifestDir" mapstructure:"manifestDir"`
	CacheTTLSeconds    int    `json:"cacheTtlSeconds" mapstructure:"cacheTtlSeconds"`
	FetchLockSeconds   int    `json:"fetchLockSeconds" mapstructure:"fetchLockSeconds"`
	GitTimeoutMs       int    `json:"gitTimeoutMs" mapstructure:"gitTimeoutMs"`
	MaxConcurrentRepos int    `json:"maxConcurrentRepos" mapstructure:"maxConcurrentRepos"`
}

// MetricsConfig contains prometheus settings
type MetricsConfig struct {
	Namespace string `json:"namespace" mapstructure:"namespace"`
	Textfile  string `json:"textfile,omitempty" mapstructure:"textfile"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: currentVersion,
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
		Derivation: DerivationConfig{
			SupportedPlatforms: []string{
				"python", "javascript", "node", "ruby", "php", "go",
				"csharp", "java", "kotlin", "scala", "groovy",
			},
			ModulePlatforms:      []string{"java", "kotlin", "scala", "groovy"},
			ProjectWindowSeconds: 3600,
			IssueWindowSeconds:   86400,
			OnlyInAppFrames:      true,
		},
		Trees: TreesConfig{
			CacheTTLSeconds:    3600,
			FetchLockSeconds:   600,
			GitTimeoutMs:       5000,
			MaxConcurrentRepos: 4,
		},
		Metrics: MetricsConfig{
			Namespace: "codemap",
		},
	}
}

// setDefaults mirrors DefaultConfig so partial files are filled in.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("derivation.supportedPlatforms", d.Derivation.SupportedPlatforms)
	v.SetDefault("derivation.modulePlatforms", d.Derivation.ModulePlatforms)
	v.SetDefault("derivation.projectWindowSeconds", d.Derivation.ProjectWindowSeconds)
	v.SetDefault("derivation.issueWindowSeconds", d.Derivation.IssueWindowSeconds)
	v.SetDefault("derivation.onlyInAppFrames", d.Derivation.OnlyInAppFrames)
	v.SetDefault("trees.cacheTtlSeconds", d.Trees.CacheTTLSeconds)
	v.SetDefault("trees.fetchLockSeconds", d.Trees.FetchLockSeconds)
	v.SetDefault("trees.gitTimeoutMs", d.Trees.GitTimeoutMs)
	v.SetDefault("trees.maxConcurrentRepos", d.Trees.MaxConcurrentRepos)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
}

// LoadConfig loads <home>/config.json, returning defaults when it is absent.
func LoadConfig(home string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(home)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return unmarshal(v)
}

// LoadConfigFile loads an explicit config file. The format follows the
// extension (json, yaml, toml).
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return unmarshal(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("CODEMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("logging.level", "CODEMAP_LOG_LEVEL")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to <home>/config.json
func (c *Config) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(home, "config.json"), data, 0o644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != currentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Derivation.ProjectWindowSeconds < 0 {
		return &ConfigError{Field: "derivation.projectWindowSeconds", Message: "must not be negative"}
	}
	if c.Derivation.IssueWindowSeconds < 0 {
		return &ConfigError{Field: "derivation.issueWindowSeconds", Message: "must not be negative"}
	}
	if c.Trees.FetchLockSeconds <= 0 {
		return &ConfigError{Field: "trees.fetchLockSeconds", Message: "must be positive"}
	}
	if c.Trees.MaxConcurrentRepos <= 0 {
		return &ConfigError{Field: "trees.maxConcurrentRepos", Message: "must be positive"}
	}
	if c.Metrics.Namespace == "" {
		return &ConfigError{Field: "metrics.namespace", Message: "must not be empty"}
	}
	return nil
}

// IsSupportedPlatform reports whether derivation runs for platform.
// An empty supported list allows every platform.
func (c *Config) IsSupportedPlatform(platform string) bool {
	if len(c.Derivation.SupportedPlatforms) == 0 {
		return true
	}
	for _, p := range c.Derivation.SupportedPlatforms {
		if strings.EqualFold(p, platform) {
			return true
		}
	}
	return false
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
