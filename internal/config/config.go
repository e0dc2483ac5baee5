package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides of any config key,
// e.g. JAMF_AGENT_SERVER_PORT for server.port. viper only unmarshals keys
// it knows of, so every key needs a default in SetDefaults, even an empty
// one.
const EnvPrefix = "JAMF_AGENT"

// DefaultToolServerURL is where the remote tool provider is expected in
// production.
const DefaultToolServerURL = "http://localhost:3000"

// Config represents the jamf-agent configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Slack    SlackConfig    `mapstructure:"slack" yaml:"slack"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Tools    ToolsConfig    `mapstructure:"tools" yaml:"tools"`
	Sessions SessionsConfig `mapstructure:"sessions" yaml:"sessions"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SlackConfig holds Slack credentials and delivery settings
type SlackConfig struct {
	BotToken        string        `mapstructure:"bot_token" yaml:"bot_token,omitempty"`
	SigningSecret   string        `mapstructure:"signing_secret" yaml:"signing_secret,omitempty"`
	Command         string        `mapstructure:"command" yaml:"command"`
	StreamBatchSize int           `mapstructure:"stream_batch_size" yaml:"stream_batch_size"`
	MaxClockSkew    time.Duration `mapstructure:"max_clock_skew" yaml:"max_clock_skew"`
	UpdatesPerSec   float64       `mapstructure:"updates_per_second" yaml:"updates_per_second"`
	MaxRetries      uint          `mapstructure:"max_retries" yaml:"max_retries"`
	APIURL          string        `mapstructure:"api_url" yaml:"api_url,omitempty"`
}

// AgentConfig holds the agent runtime configuration
type AgentConfig struct {
	Provider       string        `mapstructure:"provider" yaml:"provider"`
	Model          string        `mapstructure:"model" yaml:"model"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Instruction    string        `mapstructure:"instruction" yaml:"instruction,omitempty"`
	MaxIterations  int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxTokens      int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	HistoryTurns   int           `mapstructure:"history_turns" yaml:"history_turns"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// ToolsConfig holds the MCP tool provider configuration
type ToolsConfig struct {
	Environment string        `mapstructure:"environment" yaml:"environment"`
	Command     string        `mapstructure:"command" yaml:"command"`
	Args        []string      `mapstructure:"args" yaml:"args"`
	ForwardEnv  []string      `mapstructure:"forward_env" yaml:"forward_env"`
	ServerURL   string        `mapstructure:"server_url" yaml:"server_url,omitempty"`
	InitTimeout time.Duration `mapstructure:"init_timeout" yaml:"init_timeout"`
}

// SessionsConfig holds session store configuration
type SessionsConfig struct {
	Driver        string        `mapstructure:"driver" yaml:"driver"`
	DSN           string        `mapstructure:"dsn" yaml:"dsn"`
	Table         string        `mapstructure:"table" yaml:"table"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	PruneInterval time.Duration `mapstructure:"prune_interval" yaml:"prune_interval"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// Production reports whether the tool bridge must use the remote transport.
func (c ToolsConfig) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// envBindings maps config keys to the unprefixed variable names used by
// existing deployments.
var envBindings = map[string][]string{
	"slack.bot_token":      {"SLACK_BOT_TOKEN"},
	"slack.signing_secret": {"SLACK_SIGNING_SECRET"},
	"sessions.table":       {"SESSIONS_TABLE_NAME"},
	"sessions.dsn":         {"SESSIONS_DSN", "DATABASE_URL"},
	"tools.environment":    {"ENVIRONMENT"},
	"tools.server_url":     {"MCP_SERVER_URL"},
	"log.level":            {"LOG_LEVEL"},
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 3*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("slack.command", "/jamf")
	v.SetDefault("slack.stream_batch_size", 5)
	v.SetDefault("slack.max_clock_skew", 5*time.Minute)
	v.SetDefault("slack.updates_per_second", 1.0)
	v.SetDefault("slack.max_retries", 3)
	v.SetDefault("slack.bot_token", "")
	v.SetDefault("slack.signing_secret", "")
	v.SetDefault("slack.api_url", "")

	v.SetDefault("agent.provider", "anthropic")
	v.SetDefault("agent.model", "claude-3-5-sonnet-20240620")
	v.SetDefault("agent.max_iterations", 10)
	v.SetDefault("agent.max_tokens", 4096)
	v.SetDefault("agent.history_turns", 10)
	v.SetDefault("agent.request_timeout", 2*time.Minute)
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.base_url", "")
	v.SetDefault("agent.instruction", "")

	v.SetDefault("tools.environment", "development")
	v.SetDefault("tools.command", "npm")
	v.SetDefault("tools.args", []string{"--prefix", "jamf-mcp-server", "run", "serve"})
	v.SetDefault("tools.forward_env", []string{"JAMF_URL", "JAMF_CLIENT_ID", "JAMF_CLIENT_SECRET"})
	v.SetDefault("tools.init_timeout", 30*time.Second)
	v.SetDefault("tools.server_url", DefaultToolServerURL)

	v.SetDefault("sessions.driver", "sqlite")
	v.SetDefault("sessions.dsn", "jamf-agent.db")
	v.SetDefault("sessions.table", "jamf-agent-sessions")
	v.SetDefault("sessions.ttl", 30*24*time.Hour)
	v.SetDefault("sessions.prune_interval", time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.file", "")
}

// Load reads configuration from the optional YAML file at path, the
// environment and the defaults, in decreasing order of precedence after
// the environment.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Agent.APIKey == "" {
		cfg.Agent.APIKey = apiKeyFromEnv(cfg.Agent.Provider)
	}

	return &cfg, nil
}

func apiKeyFromEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// Validate validates the agent, tool and session settings
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Agent.Provider) {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("agent.provider %q is not supported", c.Agent.Provider))
	}
	if c.Agent.Model == "" {
		errs = append(errs, errors.New("agent.model is required"))
	}
	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, errors.New("agent.max_iterations must be positive"))
	}
	if c.Tools.Production() {
		if c.Tools.ServerURL == "" {
			errs = append(errs, errors.New("tools.server_url is required in production"))
		}
	} else if c.Tools.Command == "" {
		errs = append(errs, errors.New("tools.command is required"))
	}
	switch c.Sessions.Driver {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("sessions.driver %q is not supported", c.Sessions.Driver))
	}
	if c.Sessions.Table == "" {
		errs = append(errs, errors.New("sessions.table is required"))
	}

	return errors.Join(errs...)
}

// ValidateSlack validates the settings required to serve Slack traffic
func (c *Config) ValidateSlack() error {
	var errs []error
	if c.Slack.SigningSecret == "" {
		errs = append(errs, errors.New("slack.signing_secret (SLACK_SIGNING_SECRET) is required"))
	}
	if c.Slack.BotToken == "" {
		errs = append(errs, errors.New("slack.bot_token (SLACK_BOT_TOKEN) is required"))
	}
	if c.Slack.StreamBatchSize <= 0 {
		errs = append(errs, errors.New("slack.stream_batch_size must be positive"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy with credentials removed, safe to print or log
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Slack.BotToken = mask(c.Slack.BotToken)
	c.Slack.SigningSecret = mask(c.Slack.SigningSecret)
	c.Agent.APIKey = mask(c.Agent.APIKey)
	if c.Sessions.Driver == "postgres" {
		c.Sessions.DSN = mask(c.Sessions.DSN)
	}
	return c
}

// Marshal renders the redacted configuration as YAML
func (c Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
