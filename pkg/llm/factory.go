package llm

import (
	"fmt"
	"strings"

	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
)

// NewProvider creates a chat provider from model configuration
func NewProvider(cfg ModelConfig) (Provider, error) {
	if cfg.Model == "" {
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "model is required", nil)
	}

	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	case "openai":
		return NewOpenAIProvider(cfg), nil
	default:
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig,
			fmt.Sprintf("unsupported model provider: %s", cfg.Provider), nil)
	}
}
