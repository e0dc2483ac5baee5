package slack

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/kagent-dev/jamf-agent/internal/logging"
	"github.com/kagent-dev/jamf-agent/internal/metrics"
	"github.com/kagent-dev/jamf-agent/pkg/executor"
	"github.com/kagent-dev/jamf-agent/pkg/llm"
)

const (
	// maxBodySize bounds inbound payloads; Slack's are a few kilobytes.
	maxBodySize = 1 << 20

	// deduplicationWindow is how long event ids are remembered. Slack
	// retries a delivery for up to about an hour.
	deduplicationWindow = time.Hour

	headerTimestamp = "X-Slack-Request-Timestamp"
	headerSignature = "X-Slack-Signature"
	headerRetryNum  = "X-Slack-Retry-Num"
)

// Dispatcher answers a request in one piece
type Dispatcher interface {
	Process(ctx context.Context, text, sessionID string) (*executor.AgentResponse, error)
}

// StreamRelay answers a request as a stream of chunks
type StreamRelay interface {
	ProcessStreaming(ctx context.Context, text, sessionID string) iter.Seq2[llm.Chunk, error]
}

// SessionResolver maps a user in a channel to a session id
type SessionResolver interface {
	ResolveOrCreate(ctx context.Context, userID, channelID string) string
}

// Config holds gateway behaviour settings
type Config struct {
	// Command is the slash command this app owns, e.g. "/jamf".
	Command string
	// StreamBatchSize is the number of content chunks between message updates.
	StreamBatchSize int
	// AsyncTimeout bounds background processing of one event.
	AsyncTimeout time.Duration
	Metrics      *metrics.Metrics
}

// Gateway is the HTTP entry point for Slack Events API deliveries and
// slash commands.
type Gateway struct {
	cfg        Config
	verifier   *Verifier
	sessions   SessionResolver
	dispatcher Dispatcher
	relay      StreamRelay
	poster     Poster
	now        func() time.Time

	inflight sync.WaitGroup

	mu     sync.Mutex
	events map[string]time.Time
}

// NewGateway creates a gateway. Panics if a collaborator is nil.
func NewGateway(cfg Config, verifier *Verifier, sessions SessionResolver, dispatcher Dispatcher, relay StreamRelay, poster Poster) *Gateway {
	if verifier == nil || sessions == nil || dispatcher == nil || relay == nil || poster == nil {
		panic("slack.NewGateway: all collaborators are required")
	}
	if cfg.Command == "" {
		cfg.Command = "/jamf"
	}
	if cfg.StreamBatchSize <= 0 {
		cfg.StreamBatchSize = DefaultStreamBatchSize
	}
	if cfg.AsyncTimeout <= 0 {
		cfg.AsyncTimeout = executor.DefaultRequestTimeout
	}
	return &Gateway{
		cfg:        cfg,
		verifier:   verifier,
		sessions:   sessions,
		dispatcher: dispatcher,
		relay:      relay,
		poster:     poster,
		now:        time.Now,
		events:     make(map[string]time.Time),
	}
}

// Wait blocks until background event processing has finished.
func (g *Gateway) Wait() {
	g.inflight.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gateway) reply(w http.ResponseWriter, route string, status int, v any) {
	g.cfg.Metrics.WebhookRequest(route, status)
	writeJSON(w, status, v)
}

func (g *Gateway) badRequest(w http.ResponseWriter, route string) {
	g.reply(w, route, http.StatusBadRequest, map[string]string{"error": "Bad request"})
}

// ServeHTTP handles a single Slack request.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logr.FromContextOrDiscard(r.Context()).WithName(logging.CompGateway)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		log.Error(err, "Failed to read request body")
		g.badRequest(w, "unknown")
		return
	}
	if len(body) > maxBodySize {
		g.reply(w, "unknown", http.StatusRequestEntityTooLarge, map[string]string{"error": "Request too large"})
		return
	}

	if err := g.verifier.Verify(r.Header.Get(headerTimestamp), r.Header.Get(headerSignature), body); err != nil {
		log.Info("Rejected unsigned or stale request", "reason", err.Error(), "remoteAddr", r.RemoteAddr)
		g.reply(w, "unauthorized", http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	switch mediaType(r.Header.Get("Content-Type")) {
	case "application/json":
		g.handleEvent(w, r, body)
	case "application/x-www-form-urlencoded":
		g.handleSlashCommand(w, r, body)
	default:
		g.badRequest(w, "unknown")
	}
}

func (g *Gateway) handleEvent(w http.ResponseWriter, r *http.Request, body []byte) {
	log := logr.FromContextOrDiscard(r.Context()).WithName(logging.CompGateway)

	env, err := ParseEnvelope(body)
	if err != nil {
		log.Info("Malformed event payload", "error", err.Error())
		g.badRequest(w, "event")
		return
	}

	switch env.Type {
	case TypeURLVerification:
		g.reply(w, "challenge", http.StatusOK, map[string]string{"challenge": env.Challenge})

	case TypeEventCallback:
		if err := env.Event.Validate(); err != nil {
			log.Info("Malformed event callback", "error", err.Error(), "eventID", env.EventID)
			g.badRequest(w, "event_callback")
			return
		}
		if env.EventID != "" && g.isDuplicate(env.EventID) {
			log.V(1).Info("Duplicate event delivery, ignoring", "eventID", env.EventID, "retry", r.Header.Get(headerRetryNum))
			g.reply(w, "event_callback", http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		g.spawn(r.Context(), func(ctx context.Context) { g.processEvent(ctx, env) })
		g.reply(w, "event_callback", http.StatusOK, map[string]string{"status": "ok"})

	case TypeAppRateLimited:
		log.Info("Slack is rate limiting event deliveries to this app", "teamID", env.TeamID)
		g.reply(w, "app_rate_limited", http.StatusOK, map[string]string{"status": "ok"})

	default:
		g.badRequest(w, "event")
	}
}

// spawn runs fn in the background under a context detached from the HTTP
// request but bounded by the async timeout.
func (g *Gateway) spawn(parent context.Context, fn func(ctx context.Context)) {
	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), g.cfg.AsyncTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (g *Gateway) isDuplicate(eventID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for id, seen := range g.events {
		if now.Sub(seen) > deduplicationWindow {
			delete(g.events, id)
		}
	}
	if _, exists := g.events[eventID]; exists {
		return true
	}
	g.events[eventID] = now
	return false
}

func (g *Gateway) processEvent(ctx context.Context, env *Envelope) {
	ev := env.Event
	switch {
	case ev.Type == EventAppMention:
		g.handleMention(ctx, ev, StripMentions(ev.Text, env.BotUserID()))
	case ev.Type == EventMessage && ev.ChannelType == ChannelTypeIM && ev.BotID == "" && ev.Subtype == "" && ev.User != "":
		g.handleDirectMessage(ctx, ev)
	}
}

func (g *Gateway) handleMention(ctx context.Context, ev Event, text string) {
	if text == "" {
		return
	}
	log := logr.FromContextOrDiscard(ctx).WithName(logging.CompGateway).WithValues("userID", ev.User, "channelID", ev.Channel)
	sessionID := g.sessions.ResolveOrCreate(ctx, ev.User, ev.Channel)

	if _, err := g.poster.PostMessage(ctx, ev.Channel, thinkingText, nil); err != nil {
		log.Error(err, "Failed to post thinking indicator")
	}

	resp, err := g.dispatcher.Process(ctx, text, sessionID)
	if err != nil {
		log.Error(err, "Failed to process mention", "text", text)
		g.postError(ctx, log, ev.Channel, err)
		return
	}

	if _, err := g.poster.PostMessage(ctx, ev.Channel, resp.Output, ResponseBlocks(resp.Output, resp.Trace)); err != nil {
		log.Error(err, "Failed to post response")
	}
}

func (g *Gateway) handleDirectMessage(ctx context.Context, ev Event) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	log := logr.FromContextOrDiscard(ctx).WithName(logging.CompGateway).WithValues("userID", ev.User, "channelID", ev.Channel)
	sessionID := g.sessions.ResolveOrCreate(ctx, ev.User, ev.Channel)

	chunks := g.relay.ProcessStreaming(ctx, text, sessionID)
	if err := streamToChannel(ctx, g.poster, ev.Channel, g.cfg.StreamBatchSize, chunks); err != nil {
		log.Error(err, "Failed to process direct message", "text", text)
		g.postError(ctx, log, ev.Channel, err)
	}
}

func (g *Gateway) postError(ctx context.Context, log logr.Logger, channel string, err error) {
	if _, postErr := g.poster.PostMessage(ctx, channel, ErrorText("Sorry, I encountered an error", err), nil); postErr != nil {
		log.Error(postErr, "Failed to post error message")
	}
}

func (g *Gateway) handleSlashCommand(w http.ResponseWriter, r *http.Request, body []byte) {
	ctx := r.Context()
	log := logr.FromContextOrDiscard(ctx).WithName(logging.CompGateway)

	cmd, err := ParseSlashCommand(body)
	if err != nil {
		log.Info("Malformed slash command", "error", err.Error())
		g.badRequest(w, "slash_command")
		return
	}
	log = log.WithValues("userID", cmd.UserID, "channelID", cmd.ChannelID)

	if cmd.Command != g.cfg.Command {
		g.reply(w, "slash_command", http.StatusOK, CommandReply{ResponseType: ResponseEphemeral, Text: "Unknown command"})
		return
	}

	switch {
	case cmd.Text == "":
		g.reply(w, "slash_command", http.StatusOK, CommandReply{ResponseType: ResponseEphemeral, Text: WelcomeText(g.cfg.Command)})
		return
	case strings.EqualFold(cmd.Text, "help"):
		g.reply(w, "slash_command", http.StatusOK, CommandReply{ResponseType: ResponseEphemeral, Text: HelpText(g.cfg.Command)})
		return
	}

	sessionID := g.sessions.ResolveOrCreate(ctx, cmd.UserID, cmd.ChannelID)

	// The acknowledgement is best effort and must not delay the answer.
	g.spawn(ctx, func(ctx context.Context) {
		if _, err := g.poster.PostMessage(ctx, cmd.ChannelID, processingText(cmd.Text), nil); err != nil {
			log.Error(err, "Failed to post acknowledgement")
		}
	})

	resp, err := g.dispatcher.Process(ctx, cmd.Text, sessionID)
	if err != nil {
		log.Error(err, "Failed to process slash command", "text", cmd.Text)
		g.reply(w, "slash_command", http.StatusOK, CommandReply{ResponseType: ResponseEphemeral, Text: ErrorText("Error processing request", err)})
		return
	}

	g.reply(w, "slash_command", http.StatusOK, CommandReply{
		ResponseType: ResponseInChannel,
		Text:         resp.Output,
		Blocks:       ResponseBlocks(resp.Output, resp.Trace),
	})
}
