package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      ModelConfig
		wantName string
		wantErr  bool
	}{
		{"anthropic", ModelConfig{Provider: "anthropic", Model: "claude-3-5-sonnet-20240620", APIKey: "k"}, "anthropic", false},
		{"openai mixed case", ModelConfig{Provider: "OpenAI", Model: "gpt-4o", APIKey: "k"}, "openai", false},
		{"missing model", ModelConfig{Provider: "anthropic"}, "", true},
		{"unknown provider", ModelConfig{Provider: "gemini", Model: "gemini-pro"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAgentConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}
