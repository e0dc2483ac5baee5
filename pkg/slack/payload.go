package slack

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
)

// Envelope types of the Events API.
const (
	TypeURLVerification = "url_verification"
	TypeEventCallback   = "event_callback"
	TypeAppRateLimited  = "app_rate_limited"
)

// Inner event types handled by the gateway.
const (
	EventAppMention = "app_mention"
	EventMessage    = "message"
	ChannelTypeIM   = "im"
)

// Envelope is the outer JSON body of an Events API delivery
type Envelope struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	Challenge string `json:"challenge,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	EventTime int64  `json:"event_time,omitempty"`
	Event     Event  `json:"event"`

	Authorizations []Authorization `json:"authorizations,omitempty"`
}

// Authorization names an installation the event is visible to
type Authorization struct {
	TeamID string `json:"team_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	IsBot  bool   `json:"is_bot,omitempty"`
}

// BotUserID returns the user id of the app receiving the event, if known.
func (e *Envelope) BotUserID() string {
	if len(e.Authorizations) == 0 {
		return ""
	}
	return e.Authorizations[0].UserID
}

// Event is the inner event of an event_callback
type Event struct {
	Type        string `json:"type"`
	Subtype     string `json:"subtype,omitempty"`
	User        string `json:"user,omitempty"`
	Text        string `json:"text,omitempty"`
	Channel     string `json:"channel,omitempty"`
	ChannelType string `json:"channel_type,omitempty"`
	TS          string `json:"ts,omitempty"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	BotID       string `json:"bot_id,omitempty"`
}

// Validate reports the required fields the event lacks. Only events the
// gateway acts on need a user; bot and edited messages are let through so
// they can be acknowledged and ignored.
func (e Event) Validate() error {
	var missing []string
	if e.Type == "" {
		missing = append(missing, "type")
	}
	if e.Channel == "" {
		missing = append(missing, "channel")
	}
	if e.User == "" && e.BotID == "" && e.Subtype == "" {
		missing = append(missing, "user")
	}
	return missingFields("event", missing)
}

func missingFields(kind string, missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return apperrors.New(apperrors.ErrCodeMalformedRequest,
		fmt.Sprintf("%s is missing required fields: %s", kind, strings.Join(missing, ", ")), nil)
}

// SlashCommand is a form-encoded slash command invocation
type SlashCommand struct {
	Command     string
	Text        string
	UserID      string
	UserName    string
	ChannelID   string
	TeamID      string
	ResponseURL string
	TriggerID   string
}

// ParseEnvelope decodes an Events API body.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeMalformedRequest, "invalid event payload", err)
	}
	return &env, nil
}

// ParseSlashCommand decodes a form-encoded slash command body. The command,
// user_id and channel_id fields are required.
func ParseSlashCommand(body []byte) (*SlashCommand, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeMalformedRequest, "invalid slash command payload", err)
	}

	var missing []string
	for _, field := range []string{"command", "user_id", "channel_id"} {
		if form.Get(field) == "" {
			missing = append(missing, field)
		}
	}
	if err := missingFields("slash command", missing); err != nil {
		return nil, err
	}

	return &SlashCommand{
		Command:     form.Get("command"),
		Text:        strings.TrimSpace(form.Get("text")),
		UserID:      form.Get("user_id"),
		UserName:    form.Get("user_name"),
		ChannelID:   form.Get("channel_id"),
		TeamID:      form.Get("team_id"),
		ResponseURL: form.Get("response_url"),
		TriggerID:   form.Get("trigger_id"),
	}, nil
}

var mentionPattern = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]+)?>`)

// StripMentions removes mentions of botUserID from text. With an unknown
// bot id every mention is removed.
func StripMentions(text, botUserID string) string {
	out := mentionPattern.ReplaceAllStringFunc(text, func(m string) string {
		if botUserID == "" || mentionPattern.FindStringSubmatch(m)[1] == botUserID {
			return ""
		}
		return m
	})
	return strings.TrimSpace(out)
}

// mediaType returns the lower-cased media type without parameters.
func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
