package slack

import (
	"strings"

	slackgo "github.com/slack-go/slack"

	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
	"github.com/kagent-dev/jamf-agent/pkg/llm"
)

// Slash command response types.
const (
	ResponseInChannel = "in_channel"
	ResponseEphemeral = "ephemeral"
)

const (
	thinkingText = "🤔 Thinking..."
	errorPrefix  = "❌ "
)

// WelcomeText is returned for the bare slash command.
func WelcomeText(command string) string {
	return "👋 Hi! I'm your Jamf assistant. Here's how to use me:\n\n" +
		"• `" + command + " find devices in conference room` - Search for devices\n" +
		"• `" + command + " show device ABC123` - Get device details\n" +
		"• `" + command + " update inventory for device 42` - Force inventory update\n" +
		"• `" + command + " help` - Show this help message\n\n" +
		"I can help you manage Apple devices through natural language!"
}

// HelpText lists what the assistant can do.
func HelpText(command string) string {
	return "🔧 *Jamf Assistant Commands*\n\n" +
		"*Device Search:*\n" +
		"• Find devices by name, serial, user, or location\n" +
		"• Example: `" + command + " find MacBooks in engineering`\n\n" +
		"*Device Details:*\n" +
		"• Get detailed information about a device\n" +
		"• Example: `" + command + " show details for serial ABC123`\n\n" +
		"*Device Management:*\n" +
		"• Update inventory: `" + command + " update inventory for device 42`\n" +
		"• Execute policies: `" + command + " run policy \"Update Software\" on device 42`\n\n" +
		"*Reports:*\n" +
		"• Storage: `" + command + " show devices with low storage`\n" +
		"• Compliance: `" + command + " check compliance status`\n" +
		"• OS versions: `" + command + " show OS version distribution`"
}

func processingText(text string) string {
	return "🤔 Processing: _" + text + "_"
}

// ErrorText renders a failure for users without internal detail.
func ErrorText(prefix string, err error) string {
	return errorPrefix + prefix + ": " + apperrors.UserMessage(err)
}

// ResponseBlocks renders the answer plus a context block naming the tools
// that were used, in order, without repeats.
func ResponseBlocks(output string, trace []llm.ToolInvocation) []slackgo.Block {
	blocks := []slackgo.Block{
		slackgo.NewSectionBlock(slackgo.NewTextBlockObject(slackgo.MarkdownType, output, false, false), nil, nil),
	}

	seen := make(map[string]bool, len(trace))
	var names []string
	for _, inv := range trace {
		if inv.Name == "" || seen[inv.Name] {
			continue
		}
		seen[inv.Name] = true
		names = append(names, "• "+inv.Name)
	}
	if len(names) > 0 {
		blocks = append(blocks, slackgo.NewContextBlock("",
			slackgo.NewTextBlockObject(slackgo.MarkdownType, "_Tools used: "+strings.Join(names, ", ")+"_", false, false),
		))
	}
	return blocks
}

// CommandReply is the inline JSON answer to a slash command.
type CommandReply struct {
	ResponseType string          `json:"response_type"`
	Text         string          `json:"text"`
	Blocks       []slackgo.Block `json:"blocks,omitempty"`
}
