package slack

import (
	"context"
	"errors"
	"testing"

	slackgo "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
)

type fakeMessageAPI struct {
	failures []error
	posts    int
	updates  int
}

func (f *fakeMessageAPI) next() error {
	if len(f.failures) == 0 {
		return nil
	}
	err := f.failures[0]
	f.failures = f.failures[1:]
	return err
}

func (f *fakeMessageAPI) PostMessageContext(ctx context.Context, channelID string, options ...slackgo.MsgOption) (string, string, error) {
	f.posts++
	if err := f.next(); err != nil {
		return "", "", err
	}
	return channelID, "1700000000.000100", nil
}

func (f *fakeMessageAPI) UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slackgo.MsgOption) (string, string, string, error) {
	f.updates++
	if err := f.next(); err != nil {
		return "", "", "", err
	}
	return channelID, timestamp, "", nil
}

func TestAPIPoster_PostMessage(t *testing.T) {
	api := &fakeMessageAPI{}
	p := newAPIPoster(api, WithUpdateRate(0))

	ts, err := p.PostMessage(context.Background(), "C1", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "1700000000.000100", ts)
	assert.Equal(t, 1, api.posts)
}

func TestAPIPoster_RetriesRateLimited(t *testing.T) {
	api := &fakeMessageAPI{failures: []error{&slackgo.RateLimitedError{RetryAfter: 0}}}
	p := newAPIPoster(api, WithUpdateRate(0))

	require.NoError(t, p.UpdateMessage(context.Background(), "C1", "1.2", "partial", nil))
	assert.Equal(t, 2, api.updates)
}

func TestAPIPoster_OtherErrorsArePermanent(t *testing.T) {
	api := &fakeMessageAPI{failures: []error{errors.New("channel_not_found")}}
	p := newAPIPoster(api, WithUpdateRate(0))

	_, err := p.PostMessage(context.Background(), "C404", "hello", nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeChatDelivery))
	assert.Equal(t, 1, api.posts)
}

func TestAPIPoster_GivesUpAfterMaxRetries(t *testing.T) {
	limited := &slackgo.RateLimitedError{RetryAfter: 0}
	api := &fakeMessageAPI{failures: []error{limited, limited, limited}}
	p := newAPIPoster(api, WithUpdateRate(0), WithMaxRetries(2))

	_, err := p.PostMessage(context.Background(), "C1", "hello", nil)
	require.Error(t, err)
	assert.Equal(t, 2, api.posts)
}
