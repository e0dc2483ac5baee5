package executor

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/kagent-dev/jamf-agent/internal/logging"
	"github.com/kagent-dev/jamf-agent/pkg/llm"
)

// AgentResponse is the outcome of one dispatched request
type AgentResponse struct {
	Output    string               `json:"output"`
	Trace     []llm.ToolInvocation `json:"trace,omitempty"`
	SessionID string               `json:"session_id"`
}

// Dispatcher runs one request to completion
type Dispatcher struct {
	system *System
}

func NewDispatcher(system *System) *Dispatcher {
	return &Dispatcher{system: system}
}

// Process sends text to the agent runtime with tracing enabled and returns
// the complete answer, or one consolidated error.
func (d *Dispatcher) Process(ctx context.Context, text, sessionID string) (*AgentResponse, error) {
	start := time.Now()
	defer d.system.metrics.ObserveRequest("dispatch", start)

	ctx, cancel := context.WithTimeout(ctx, d.system.timeout)
	defer cancel()

	sessionID, ephemeral := d.system.sessionID(sessionID)
	log := logr.FromContextOrDiscard(ctx).WithName(logging.CompExecutor).WithValues("sessionID", sessionID)

	rt, err := d.system.Ready(ctx)
	if err != nil {
		log.Error(err, "Agent system unavailable")
		return nil, consolidate(err)
	}

	resp, err := rt.Invoke(ctx, llm.Request{Prompt: text, SessionID: sessionID, EnableTrace: true, Stateless: ephemeral})
	if err != nil {
		log.Error(err, "Agent invocation failed")
		return nil, consolidate(err)
	}

	log.V(1).Info("Request completed", "tools", len(resp.Trace), "duration", time.Since(start).String())
	return &AgentResponse{
		Output:    resp.Output,
		Trace:     resp.Trace,
		SessionID: sessionID,
	}, nil
}
