package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/jamf", cfg.Slack.Command)
	assert.Equal(t, 5, cfg.Slack.StreamBatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Slack.MaxClockSkew)
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, 2*time.Minute, cfg.Agent.RequestTimeout)
	assert.Equal(t, "jamf-agent-sessions", cfg.Sessions.Table)
	assert.Equal(t, []string{"JAMF_URL", "JAMF_CLIENT_ID", "JAMF_CLIENT_SECRET"}, cfg.Tools.ForwardEnv)
	assert.False(t, cfg.Tools.Production())
}

func TestLoad_EnvironmentNames(t *testing.T) {
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	t.Setenv("SLACK_SIGNING_SECRET", "shh")
	t.Setenv("SESSIONS_TABLE_NAME", "custom-sessions")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("MCP_SERVER_URL", "https://mcp.example.com")
	t.Setenv("JAMF_AGENT_SERVER_PORT", "9090")
	t.Setenv("JAMF_AGENT_AGENT_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "xoxb-test", cfg.Slack.BotToken)
	assert.Equal(t, "shh", cfg.Slack.SigningSecret)
	assert.Equal(t, "custom-sessions", cfg.Sessions.Table)
	assert.True(t, cfg.Tools.Production())
	assert.Equal(t, "https://mcp.example.com", cfg.Tools.ServerURL)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.Agent.Provider)
	assert.Equal(t, "sk-test", cfg.Agent.APIKey)
}

func TestLoad_PrefixedOverridesForKeysWithoutValues(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-provider-env")
	t.Setenv("JAMF_AGENT_AGENT_API_KEY", "sk-prefixed")
	t.Setenv("JAMF_AGENT_AGENT_BASE_URL", "https://llm.internal")
	t.Setenv("JAMF_AGENT_AGENT_INSTRUCTION", "Answer briefly.")
	t.Setenv("JAMF_AGENT_LOG_FILE", "/var/log/jamf-agent.log")
	t.Setenv("JAMF_AGENT_SLACK_API_URL", "https://slack.internal/api/")
	t.Setenv("JAMF_AGENT_TOOLS_SERVER_URL", "https://mcp.internal")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "sk-prefixed", cfg.Agent.APIKey)
	assert.Equal(t, "https://llm.internal", cfg.Agent.BaseURL)
	assert.Equal(t, "Answer briefly.", cfg.Agent.Instruction)
	assert.Equal(t, "/var/log/jamf-agent.log", cfg.Log.File)
	assert.Equal(t, "https://slack.internal/api/", cfg.Slack.APIURL)
	assert.Equal(t, "https://mcp.internal", cfg.Tools.ServerURL)
}

func TestLoad_ProviderKeyFallback(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-provider-env")
	t.Setenv("JAMF_AGENT_AGENT_API_KEY", "")
	t.Setenv("JAMF_AGENT_TOOLS_SERVER_URL", "")
	t.Setenv("MCP_SERVER_URL", "")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-provider-env", cfg.Agent.APIKey)
	assert.Equal(t, DefaultToolServerURL, cfg.Tools.ServerURL)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jamf-agent.yaml")
	content := `
server:
  port: 7070
agent:
  model: claude-test
  max_iterations: 4
sessions:
  driver: memory
  ttl: 1h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "claude-test", cfg.Agent.Model)
	assert.Equal(t, 4, cfg.Agent.MaxIterations)
	assert.Equal(t, "memory", cfg.Sessions.Driver)
	assert.Equal(t, time.Hour, cfg.Sessions.TTL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"unknown provider", func(c *Config) { c.Agent.Provider = "gemini" }, "agent.provider"},
		{"missing model", func(c *Config) { c.Agent.Model = "" }, "agent.model"},
		{"production with default url", func(c *Config) { c.Tools.Environment = "production" }, ""},
		{"production without url", func(c *Config) {
			c.Tools.Environment = "production"
			c.Tools.ServerURL = ""
		}, "tools.server_url"},
		{"unknown driver", func(c *Config) { c.Sessions.Driver = "dynamodb" }, "sessions.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(viper.New(), "")
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSlack(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	err = cfg.ValidateSlack()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SLACK_SIGNING_SECRET")
	assert.Contains(t, err.Error(), "SLACK_BOT_TOKEN")

	cfg.Slack.SigningSecret = "secret"
	cfg.Slack.BotToken = "xoxb"
	assert.NoError(t, cfg.ValidateSlack())
}

func TestRedacted(t *testing.T) {
	cfg := Config{}
	cfg.Slack.BotToken = "xoxb-secret"
	cfg.Slack.SigningSecret = "signing-secret"
	cfg.Agent.APIKey = "sk-secret"

	data, err := cfg.Marshal()
	require.NoError(t, err)

	out := string(data)
	assert.NotContains(t, out, "xoxb-secret")
	assert.NotContains(t, out, "signing-secret")
	assert.NotContains(t, out, "sk-secret")
	assert.Equal(t, "xoxb-secret", cfg.Slack.BotToken, "receiver must not be modified")
}
