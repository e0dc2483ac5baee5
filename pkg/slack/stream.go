package slack

import (
	"context"
	"iter"
	"strings"

	"github.com/kagent-dev/jamf-agent/pkg/llm"
)

const DefaultStreamBatchSize = 5

// streamToChannel delivers a streamed answer as one growing message: it is
// posted once batch content chunks have arrived, updated after every
// further batch, and updated a last time with the full text. Nothing is
// posted when the stream carries no content.
func streamToChannel(ctx context.Context, poster Poster, channel string, batch int, chunks iter.Seq2[llm.Chunk, error]) error {
	if batch <= 0 {
		batch = DefaultStreamBatchSize
	}

	var (
		text  strings.Builder
		count int
		ts    string
	)
	publish := func() error {
		if ts == "" {
			posted, err := poster.PostMessage(ctx, channel, text.String(), nil)
			if err != nil {
				return err
			}
			ts = posted
			return nil
		}
		return poster.UpdateMessage(ctx, channel, ts, text.String(), nil)
	}

	for chunk, err := range chunks {
		if err != nil {
			return err
		}
		if chunk.Type != llm.ChunkContent {
			continue
		}
		text.WriteString(chunk.Text)
		count++
		if count%batch == 0 {
			if err := publish(); err != nil {
				return err
			}
		}
	}

	if count == 0 {
		return nil
	}
	return publish()
}
