package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/go-logr/logr"

	"github.com/kagent-dev/jamf-agent/internal/logging"
	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
	"github.com/kagent-dev/jamf-agent/pkg/tools"
)

const DefaultMaxIterations = 10 // Maximum model turns per request

// ChunkType tags a streamed Chunk
type ChunkType string

const (
	ChunkContent ChunkType = "content"
	ChunkToolUse ChunkType = "tool_use"
)

// Chunk is one element of a streamed agent answer
type Chunk struct {
	Type ChunkType       `json:"type"`
	Text string          `json:"text,omitempty"`
	Tool *ToolInvocation `json:"tool,omitempty"`
}

// ToolInvocation records a tool the agent called
type ToolInvocation struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Request is one prompt for the agent
type Request struct {
	Prompt      string
	SessionID   string
	EnableTrace bool
	// Stateless requests neither replay nor extend the session history.
	Stateless bool
}

// Response is the agent's final answer
type Response struct {
	Output    string           `json:"output"`
	Trace     []ToolInvocation `json:"trace,omitempty"`
	SessionID string           `json:"session_id"`
}

// Runtime answers prompts, calling tools as needed
type Runtime interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
	InvokeStream(ctx context.Context, req Request) iter.Seq2[Chunk, error]
}

// AgentConfig configures an Agent
type AgentConfig struct {
	Model         string
	Instruction   string
	MaxIterations int
	MaxTokens     int
	// HistoryTurns is the number of past exchanges replayed per session.
	HistoryTurns int
	// HistoryTTL forgets a session's exchanges once it has been idle this
	// long. Zero keeps them for the life of the process.
	HistoryTTL time.Duration
	Operations   []tools.Operation
}

// Agent runs a bounded tool-calling loop against a Provider
type Agent struct {
	provider Provider
	cfg      AgentConfig
	ops      map[string]tools.Operation
	defs     []ToolDefinition
	history  *history
}

var _ Runtime = (*Agent)(nil)

// NewAgent creates an agent bound to the given operations
func NewAgent(provider Provider, cfg AgentConfig) (*Agent, error) {
	if provider == nil {
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "provider is required", nil)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Instruction == "" {
		cfg.Instruction = DefaultInstruction
	}

	a := &Agent{
		provider: provider,
		cfg:      cfg,
		ops:      make(map[string]tools.Operation, len(cfg.Operations)),
		history:  newHistory(cfg.HistoryTurns, cfg.HistoryTTL),
	}
	for _, op := range cfg.Operations {
		a.ops[op.Descriptor.Name] = op
		a.defs = append(a.defs, ToolDefinition{
			Name:        op.Descriptor.Name,
			Description: op.Descriptor.Description,
			Parameters:  op.Descriptor.Parameters,
			Required:    op.Descriptor.Required,
		})
	}
	return a, nil
}

func (a *Agent) chatRequest(messages []Message) ChatRequest {
	return ChatRequest{
		Model:     a.cfg.Model,
		System:    a.cfg.Instruction,
		Messages:  messages,
		Tools:     a.defs,
		MaxTokens: a.cfg.MaxTokens,
	}
}

func historyKey(req Request) string {
	if req.Stateless {
		return ""
	}
	return req.SessionID
}

func (a *Agent) startMessages(req Request) []Message {
	return append(a.history.get(historyKey(req)), Message{Role: RoleUser, Content: req.Prompt})
}

// Invoke runs the loop to completion and returns the final answer.
func (a *Agent) Invoke(ctx context.Context, req Request) (*Response, error) {
	log := logr.FromContextOrDiscard(ctx).WithName(logging.CompLLM)
	messages := a.startMessages(req)
	resp := &Response{SessionID: req.SessionID}

	for iteration := 0; iteration < a.cfg.MaxIterations; iteration++ {
		out, err := a.provider.Chat(ctx, a.chatRequest(messages))
		if err != nil {
			return nil, fmt.Errorf("LLM generation failed: %w", err)
		}
		log.V(1).Info("Model turn", "iteration", iteration, "toolCalls", len(out.ToolCalls), "stopReason", out.StopReason)

		messages = append(messages, Message{Role: RoleAssistant, Content: out.Content, ToolCalls: out.ToolCalls})
		if len(out.ToolCalls) == 0 {
			resp.Output = out.Content
			a.history.add(historyKey(req), req.Prompt, resp.Output)
			return resp, nil
		}

		results, err := a.executeToolCalls(ctx, out.ToolCalls, func(inv ToolInvocation) {
			if req.EnableTrace {
				resp.Trace = append(resp.Trace, inv)
			}
		})
		if err != nil {
			return nil, err
		}
		messages = append(messages, results...)
	}

	return nil, fmt.Errorf("max iterations (%d) reached", a.cfg.MaxIterations)
}

// InvokeStream runs the loop, yielding text as the model produces it and a
// tool_use chunk before each tool call.
func (a *Agent) InvokeStream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		messages := a.startMessages(req)
		var output string

		for iteration := 0; iteration < a.cfg.MaxIterations; iteration++ {
			var final *ChatResponse
			for ev, err := range a.provider.ChatStream(ctx, a.chatRequest(messages)) {
				if err != nil {
					yield(Chunk{}, fmt.Errorf("LLM generation failed: %w", err))
					return
				}
				if ev.Text != "" {
					output += ev.Text
					if !yield(Chunk{Type: ChunkContent, Text: ev.Text}, nil) {
						return
					}
				}
				if ev.Response != nil {
					final = ev.Response
				}
			}
			if final == nil {
				yield(Chunk{}, errors.New("LLM stream ended without a response"))
				return
			}

			messages = append(messages, Message{Role: RoleAssistant, Content: final.Content, ToolCalls: final.ToolCalls})
			if len(final.ToolCalls) == 0 {
				a.history.add(historyKey(req), req.Prompt, output)
				return
			}

			stopped := false
			results, err := a.executeToolCalls(ctx, final.ToolCalls, func(inv ToolInvocation) {
				if !stopped && !yield(Chunk{Type: ChunkToolUse, Tool: &inv}, nil) {
					stopped = true
				}
			})
			if stopped {
				return
			}
			if err != nil {
				yield(Chunk{}, err)
				return
			}
			messages = append(messages, results...)
		}

		yield(Chunk{}, fmt.Errorf("max iterations (%d) reached", a.cfg.MaxIterations))
	}
}

// executeToolCalls runs each call in order. Errors a tool reports about
// itself go back to the model; any other bridge error aborts the run.
func (a *Agent) executeToolCalls(ctx context.Context, calls []ToolCall, onCall func(ToolInvocation)) ([]Message, error) {
	log := logr.FromContextOrDiscard(ctx).WithName(logging.CompLLM)
	results := make([]Message, 0, len(calls))

	for _, tc := range calls {
		onCall(ToolInvocation{Name: tc.Name, Arguments: tc.Arguments})

		op, ok := a.ops[tc.Name]
		if !ok {
			return nil, apperrors.New(apperrors.ErrCodeToolNotFound, fmt.Sprintf("tool not found: %s", tc.Name), nil)
		}

		out, err := op.Invoke(ctx, tc.Arguments)
		isError := false
		if err != nil {
			if !apperrors.HasCode(err, apperrors.ErrCodeToolExecution) {
				return nil, err
			}
			log.Info("Tool reported an error", "tool", tc.Name)
			isError = true
			if out == "" {
				out = fmt.Sprintf("Error executing tool %s", tc.Name)
			}
		}
		results = append(results, Message{Role: RoleTool, Content: out, ToolCallID: tc.ID, IsError: isError})
	}
	return results, nil
}
