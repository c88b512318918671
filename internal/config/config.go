// Package config loads concierge settings from defaults, an optional YAML
// file, CONCIERGE_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"concierge/internal/persona"
	"concierge/internal/transport"
)

const (
	envPrefix  = "CONCIERGE"
	configName = "concierge"
	appDir     = "concierge"
)

// Config holds the configuration for the application.
type Config struct {
	API struct {
		BaseURL          string        `mapstructure:"base_url"`
		Workflow         string        `mapstructure:"workflow"`
		RunPath          string        `mapstructure:"run_path"`
		Timeout          time.Duration `mapstructure:"timeout"`
		BreakerThreshold int           `mapstructure:"breaker_threshold"`
		BreakerRecovery  time.Duration `mapstructure:"breaker_recovery"`
	} `mapstructure:"api"`
	Store struct {
		Path      string `mapstructure:"path"`
		Scope     string `mapstructure:"scope"`
		Ephemeral bool   `mapstructure:"ephemeral"`
	} `mapstructure:"store"`
	User struct {
		Email string `mapstructure:"email"`
		Role  string `mapstructure:"role"`
	} `mapstructure:"user"`
	Log struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"log"`
	UI struct {
		AltScreen bool `mapstructure:"alt_screen"`
		Markdown  bool `mapstructure:"markdown"`
	} `mapstructure:"ui"`
	Personas    []persona.Persona `mapstructure:"personas"`
	Suggestions []string          `mapstructure:"suggestions"`
}

// Transport returns the workflow client settings.
func (c *Config) Transport() transport.Config {
	return transport.Config{
		BaseURL:          c.API.BaseURL,
		Workflow:         c.API.Workflow,
		RunPath:          c.API.RunPath,
		Timeout:          c.API.Timeout,
		BreakerThreshold: c.API.BreakerThreshold,
		BreakerRecovery:  c.API.BreakerRecovery,
	}
}

// Directory returns the persona directory for this configuration.
func (c *Config) Directory() *persona.Directory {
	return persona.NewDirectory(c.Personas)
}

// DefaultSuggestions are the example queries offered on an empty thread.
var DefaultSuggestions = []string{
	"Get salary for employee_id 101 (Alice Chen)",
	"Show performance review for employee_id 102 (Bob Martinez)",
	"Get performance_summary for employee_id 107 (Grace Patel)",
	"Show directory information for all employees",
	"What salary information can I access?",
	"Show me all HR policies",
}

// DataDir is where the store and log live by default.
func DataDir() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); dir != "" {
		return filepath.Join(dir, appDir)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "share", appDir)
	}
	return "." + appDir
}

// New returns a viper instance with every key defaulted, so environment
// variables are honoured for all of them.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("api.base_url", transport.DefaultBaseURL)
	v.SetDefault("api.workflow", transport.DefaultWorkflow)
	v.SetDefault("api.run_path", transport.DefaultRunPath)
	v.SetDefault("api.timeout", transport.DefaultTimeout)
	v.SetDefault("api.breaker_threshold", 3)
	v.SetDefault("api.breaker_recovery", 15*time.Second)
	v.SetDefault("store.path", "")
	v.SetDefault("store.scope", "concierge")
	v.SetDefault("store.ephemeral", false)
	v.SetDefault("user.email", "")
	v.SetDefault("user.role", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("ui.alt_screen", true)
	v.SetDefault("ui.markdown", true)
	v.SetDefault("personas", []map[string]any{})
	v.SetDefault("suggestions", DefaultSuggestions)
	return v
}

// RegisterFlags adds the persistent flags to cmd and binds them to v.
func RegisterFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Config file (default: ./concierge.yaml or $XDG_CONFIG_HOME/concierge/concierge.yaml)")
	flags.String("api-url", transport.DefaultBaseURL, "Workflow server base URL")
	flags.String("workflow", transport.DefaultWorkflow, "Workflow name")
	flags.Duration("timeout", transport.DefaultTimeout, "Workflow call timeout")
	flags.String("store", "", "SQLite store path (default: data dir)")
	flags.Bool("ephemeral", false, "Keep threads in memory only")
	flags.String("email", "", "Email to ask as")
	flags.String("role", "", "Role to ask as (default: persona role)")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-file", "", "Log file (default: data dir)")

	bindings := map[string]string{
		"api.base_url":    "api-url",
		"api.workflow":    "workflow",
		"api.timeout":     "timeout",
		"store.path":      "store",
		"store.ephemeral": "ephemeral",
		"user.email":      "email",
		"user.role":       "role",
		"log.level":       "log-level",
		"log.file":        "log-file",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the config file (explicit path, or the first concierge.yaml on
// the search path) and the environment into a Config.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, appDir))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	c.API.Timeout = clampDuration(c.API.Timeout, time.Second, 10*time.Minute)
	c.API.BreakerThreshold = clampInt(c.API.BreakerThreshold, 0, 20)
	c.API.BreakerRecovery = clampDuration(c.API.BreakerRecovery, time.Second, 10*time.Minute)

	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = filepath.Join(DataDir(), "concierge.db")
	}
	if strings.TrimSpace(c.Log.File) == "" {
		c.Log.File = filepath.Join(DataDir(), "concierge.log")
	}

	dir := c.Directory()
	c.User.Email = strings.TrimSpace(c.User.Email)
	if c.User.Email == "" {
		c.User.Email = dir.Default().Email
	}
	c.User.Role = strings.TrimSpace(c.User.Role)
	if c.User.Role == "" {
		c.User.Role = dir.RoleFor(c.User.Email, "HR")
	}

	suggestions := make([]string, 0, len(c.Suggestions))
	for _, s := range c.Suggestions {
		if s = strings.TrimSpace(s); s != "" {
			suggestions = append(suggestions, s)
		}
	}
	c.Suggestions = suggestions
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func clampDuration(value, min, max time.Duration) time.Duration {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
