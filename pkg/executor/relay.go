package executor

import (
	"context"
	"iter"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/kagent-dev/jamf-agent/internal/logging"
	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
	"github.com/kagent-dev/jamf-agent/pkg/llm"
)

// Relay exposes the agent runtime's streamed answer
type Relay struct {
	system *System
}

func NewRelay(system *System) *Relay {
	return &Relay{system: system}
}

// ProcessStreaming returns a one-shot sequence of chunks in the order the
// runtime produces them. Nothing runs until the caller ranges over it, and
// stopping early releases the runtime stream. Ranging a second time yields
// a single error without contacting the runtime.
func (r *Relay) ProcessStreaming(ctx context.Context, text, sessionID string) iter.Seq2[llm.Chunk, error] {
	var used atomic.Bool
	return func(yield func(llm.Chunk, error) bool) {
		if used.Swap(true) {
			yield(llm.Chunk{}, apperrors.New(apperrors.ErrCodeInvalidInput, "stream has already been consumed", nil))
			return
		}

		start := time.Now()
		defer r.system.metrics.ObserveRequest("stream", start)

		ctx, cancel := context.WithTimeout(ctx, r.system.timeout)
		defer cancel()

		sessionID, ephemeral := r.system.sessionID(sessionID)
		log := logr.FromContextOrDiscard(ctx).WithName(logging.CompExecutor).WithValues("sessionID", sessionID)

		rt, err := r.system.Ready(ctx)
		if err != nil {
			log.Error(err, "Agent system unavailable")
			yield(llm.Chunk{}, consolidate(err))
			return
		}

		for chunk, err := range rt.InvokeStream(ctx, llm.Request{Prompt: text, SessionID: sessionID, EnableTrace: true, Stateless: ephemeral}) {
			if err != nil {
				log.Error(err, "Agent stream failed")
				yield(llm.Chunk{}, consolidate(err))
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}
