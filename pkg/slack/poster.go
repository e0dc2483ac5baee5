package slack

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	slackgo "github.com/slack-go/slack"
	"golang.org/x/time/rate"

	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
)

// Poster delivers messages to Slack channels
type Poster interface {
	// PostMessage posts a new message and returns its timestamp id.
	PostMessage(ctx context.Context, channel, text string, blocks []slackgo.Block) (string, error)
	UpdateMessage(ctx context.Context, channel, ts, text string, blocks []slackgo.Block) error
}

// messageAPI is the subset of *slackgo.Client the poster calls.
type messageAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackgo.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slackgo.MsgOption) (string, string, string, error)
}

// APIPoster posts through the Slack Web API. Rate-limited calls are retried
// with exponential backoff; updates are paced by a token bucket.
type APIPoster struct {
	api        messageAPI
	updates    *rate.Limiter
	maxRetries uint
	newBackOff func() backoff.BackOff
}

// PosterOption configures an APIPoster
type PosterOption func(*APIPoster)

// WithUpdateRate limits chat.update calls per second; zero or less disables pacing.
func WithUpdateRate(perSecond float64) PosterOption {
	return func(p *APIPoster) {
		if perSecond <= 0 {
			p.updates = rate.NewLimiter(rate.Inf, 1)
			return
		}
		p.updates = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithMaxRetries sets the maximum number of attempts per call.
func WithMaxRetries(n uint) PosterOption {
	return func(p *APIPoster) {
		if n > 0 {
			p.maxRetries = n
		}
	}
}

// NewAPIPoster creates a poster for the bot token. apiURL may be empty.
func NewAPIPoster(botToken, apiURL string, opts ...PosterOption) *APIPoster {
	var clientOpts []slackgo.Option
	if apiURL != "" {
		clientOpts = append(clientOpts, slackgo.OptionAPIURL(apiURL))
	}
	return newAPIPoster(slackgo.New(botToken, clientOpts...), opts...)
}

func newAPIPoster(api messageAPI, opts ...PosterOption) *APIPoster {
	p := &APIPoster{
		api:        api,
		updates:    rate.NewLimiter(rate.Limit(1), 1),
		maxRetries: 3,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func msgOptions(text string, blocks []slackgo.Block) []slackgo.MsgOption {
	opts := []slackgo.MsgOption{slackgo.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, slackgo.MsgOptionBlocks(blocks...))
	}
	return opts
}

func (p *APIPoster) PostMessage(ctx context.Context, channel, text string, blocks []slackgo.Block) (string, error) {
	ts, err := p.retry(ctx, func() (string, error) {
		_, ts, err := p.api.PostMessageContext(ctx, channel, msgOptions(text, blocks)...)
		return ts, err
	})
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeChatDelivery, "failed to post message", err)
	}
	return ts, nil
}

func (p *APIPoster) UpdateMessage(ctx context.Context, channel, ts, text string, blocks []slackgo.Block) error {
	if err := p.updates.Wait(ctx); err != nil {
		return apperrors.New(apperrors.ErrCodeChatDelivery, "update cancelled", err)
	}
	_, err := p.retry(ctx, func() (string, error) {
		_, _, _, err := p.api.UpdateMessageContext(ctx, channel, ts, msgOptions(text, blocks)...)
		return "", err
	})
	if err != nil {
		return apperrors.New(apperrors.ErrCodeChatDelivery, "failed to update message", err)
	}
	return nil
}

// retry repeats op while Slack answers with a rate limit; other errors are
// permanent.
func (p *APIPoster) retry(ctx context.Context, op func() (string, error)) (string, error) {
	return backoff.Retry(ctx, func() (string, error) {
		out, err := op()
		if err == nil {
			return out, nil
		}
		var limited *slackgo.RateLimitedError
		if errors.As(err, &limited) {
			return "", backoff.RetryAfter(int(math.Ceil(limited.RetryAfter.Seconds())))
		}
		return "", backoff.Permanent(err)
	}, backoff.WithBackOff(p.newBackOff()), backoff.WithMaxTries(p.maxRetries), backoff.WithMaxElapsedTime(time.Minute))
}
