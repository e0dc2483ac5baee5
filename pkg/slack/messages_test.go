package slack

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
	"github.com/kagent-dev/jamf-agent/pkg/llm"
)

func TestResponseBlocks(t *testing.T) {
	t.Run("without tools", func(t *testing.T) {
		blocks := ResponseBlocks("42 devices", nil)
		require.Len(t, blocks, 1)
	})

	t.Run("tools listed once in order", func(t *testing.T) {
		blocks := ResponseBlocks("done", []llm.ToolInvocation{
			{Name: "searchDevices"},
			{Name: "getDeviceDetails"},
			{Name: "searchDevices"},
		})
		require.Len(t, blocks, 2)

		raw, err := json.Marshal(blocks[1])
		require.NoError(t, err)
		assert.Contains(t, string(raw), "_Tools used: • searchDevices, • getDeviceDetails_")
	})
}

func TestErrorText(t *testing.T) {
	err := apperrors.New(apperrors.ErrCodeAgentRuntime, "The assistant could not complete the request",
		errors.New("dial tcp 10.0.0.5:443: connection refused"))

	text := ErrorText("Sorry, I encountered an error", err)
	assert.Equal(t, "❌ Sorry, I encountered an error: The assistant could not complete the request", text)
	assert.NotContains(t, text, "10.0.0.5")
}

func TestCommandReplyOmitsEmptyBlocks(t *testing.T) {
	raw, err := json.Marshal(CommandReply{ResponseType: ResponseEphemeral, Text: "Unknown command"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"response_type":"ephemeral","text":"Unknown command"}`, string(raw))
}

func TestHelpTextUsesCommand(t *testing.T) {
	assert.Contains(t, HelpText("/mdm"), "`/mdm find MacBooks in engineering`")
	assert.Contains(t, WelcomeText("/mdm"), "`/mdm help`")
}
