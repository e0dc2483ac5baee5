package llm

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
	"github.com/kagent-dev/jamf-agent/pkg/tools"
)

// scriptedProvider replays canned turns in order and records requests.
type scriptedProvider struct {
	mu       sync.Mutex
	turns    []*ChatResponse
	chunks   [][]string
	requests []ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) next(req ChatRequest) (*ChatResponse, []string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	i := len(p.requests) - 1
	if i >= len(p.turns) {
		return nil, nil, errors.New("no more turns")
	}
	var chunks []string
	if i < len(p.chunks) {
		chunks = p.chunks[i]
	}
	return p.turns[i], chunks, nil
}

func (p *scriptedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, _, err := p.next(req)
	return resp, err
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req ChatRequest) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		resp, chunks, err := p.next(req)
		if err != nil {
			yield(StreamEvent{}, err)
			return
		}
		for _, c := range chunks {
			if !yield(StreamEvent{Text: c}, nil) {
				return
			}
		}
		yield(StreamEvent{Response: resp}, nil)
	}
}

func searchOperation(calls *[]map[string]any, result string, err error) tools.Operation {
	return tools.Operation{
		Descriptor: tools.Descriptor{Name: "searchDevices", Description: "Search devices", Required: []string{"query"}},
		Invoke: func(ctx context.Context, args map[string]any) (string, error) {
			*calls = append(*calls, args)
			return result, err
		},
	}
}

func TestAgent_InvokeWithToolCall(t *testing.T) {
	var calls []map[string]any
	provider := &scriptedProvider{turns: []*ChatResponse{
		{ToolCalls: []ToolCall{{ID: "call_1", Name: "searchDevices", Arguments: map[string]any{"query": "conference"}}}},
		{Content: "Found 2 devices in the conference room."},
	}}
	agent, err := NewAgent(provider, AgentConfig{Model: "test-model", Operations: []tools.Operation{searchOperation(&calls, `[{"id":1},{"id":2}]`, nil)}})
	require.NoError(t, err)

	resp, err := agent.Invoke(context.Background(), Request{Prompt: "find devices in conference room", SessionID: "U1_C1", EnableTrace: true})
	require.NoError(t, err)

	assert.Equal(t, "Found 2 devices in the conference room.", resp.Output)
	assert.Equal(t, "U1_C1", resp.SessionID)
	require.Len(t, resp.Trace, 1)
	assert.Equal(t, "searchDevices", resp.Trace[0].Name)
	assert.Equal(t, []map[string]any{{"query": "conference"}}, calls)

	require.Len(t, provider.requests, 2)
	assert.Equal(t, DefaultInstruction, provider.requests[0].System)
	require.Len(t, provider.requests[0].Tools, 1)
	second := provider.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, RoleTool, second[2].Role)
	assert.Equal(t, "call_1", second[2].ToolCallID)
	assert.Equal(t, `[{"id":1},{"id":2}]`, second[2].Content)
}

func TestAgent_TraceDisabled(t *testing.T) {
	var calls []map[string]any
	provider := &scriptedProvider{turns: []*ChatResponse{
		{ToolCalls: []ToolCall{{ID: "call_1", Name: "searchDevices"}}},
		{Content: "done"},
	}}
	agent, err := NewAgent(provider, AgentConfig{Model: "m", Operations: []tools.Operation{searchOperation(&calls, "[]", nil)}})
	require.NoError(t, err)

	resp, err := agent.Invoke(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Empty(t, resp.Trace)
}

func TestAgent_UnknownToolAborts(t *testing.T) {
	provider := &scriptedProvider{turns: []*ChatResponse{
		{ToolCalls: []ToolCall{{ID: "call_1", Name: "eraseDevice"}}},
	}}
	agent, err := NewAgent(provider, AgentConfig{Model: "m"})
	require.NoError(t, err)

	_, err = agent.Invoke(context.Background(), Request{Prompt: "erase it"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeToolNotFound))
}

func TestAgent_ToolReportedErrorGoesBackToModel(t *testing.T) {
	var calls []map[string]any
	toolErr := apperrors.New(apperrors.ErrCodeToolExecution, "tool reported an error", nil)
	provider := &scriptedProvider{turns: []*ChatResponse{
		{ToolCalls: []ToolCall{{ID: "call_1", Name: "searchDevices"}}},
		{Content: "Jamf rejected the credentials."},
	}}
	agent, err := NewAgent(provider, AgentConfig{Model: "m", Operations: []tools.Operation{searchOperation(&calls, "401 Unauthorized", toolErr)}})
	require.NoError(t, err)

	resp, err := agent.Invoke(context.Background(), Request{Prompt: "search"})
	require.NoError(t, err)
	assert.Equal(t, "Jamf rejected the credentials.", resp.Output)

	toolMsg := provider.requests[1].Messages[2]
	assert.True(t, toolMsg.IsError)
	assert.Equal(t, "401 Unauthorized", toolMsg.Content)
}

func TestAgent_TransportErrorAborts(t *testing.T) {
	var calls []map[string]any
	transportErr := apperrors.New(apperrors.ErrCodeToolTransport, "call failed", errors.New("EOF"))
	provider := &scriptedProvider{turns: []*ChatResponse{
		{ToolCalls: []ToolCall{{ID: "call_1", Name: "searchDevices"}}},
	}}
	agent, err := NewAgent(provider, AgentConfig{Model: "m", Operations: []tools.Operation{searchOperation(&calls, "", transportErr)}})
	require.NoError(t, err)

	_, err = agent.Invoke(context.Background(), Request{Prompt: "search"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeToolTransport))
}

func TestAgent_MaxIterations(t *testing.T) {
	var calls []map[string]any
	loop := &ChatResponse{ToolCalls: []ToolCall{{ID: "c", Name: "searchDevices"}}}
	provider := &scriptedProvider{turns: []*ChatResponse{loop, loop, loop}}
	agent, err := NewAgent(provider, AgentConfig{Model: "m", MaxIterations: 2, Operations: []tools.Operation{searchOperation(&calls, "[]", nil)}})
	require.NoError(t, err)

	_, err = agent.Invoke(context.Background(), Request{Prompt: "loop"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max iterations (2) reached")
	assert.Len(t, provider.requests, 2)
}

func TestAgent_HistoryReplayedPerSession(t *testing.T) {
	provider := &scriptedProvider{turns: []*ChatResponse{{Content: "first"}, {Content: "second"}, {Content: "other"}}}
	agent, err := NewAgent(provider, AgentConfig{Model: "m", HistoryTurns: 1})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = agent.Invoke(ctx, Request{Prompt: "one", SessionID: "S1"})
	require.NoError(t, err)
	_, err = agent.Invoke(ctx, Request{Prompt: "two", SessionID: "S1"})
	require.NoError(t, err)
	_, err = agent.Invoke(ctx, Request{Prompt: "three", SessionID: "S2"})
	require.NoError(t, err)

	assert.Len(t, provider.requests[0].Messages, 1)
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "one"},
		{Role: RoleAssistant, Content: "first"},
		{Role: RoleUser, Content: "two"},
	}, provider.requests[1].Messages)
	assert.Len(t, provider.requests[2].Messages, 1)
}

func TestAgent_HistoryExpiresAfterIdleTTL(t *testing.T) {
	provider := &scriptedProvider{turns: []*ChatResponse{{Content: "first"}, {Content: "second"}, {Content: "third"}}}
	agent, err := NewAgent(provider, AgentConfig{Model: "m", HistoryTurns: 2, HistoryTTL: time.Hour})
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	agent.history.now = func() time.Time { return now }

	ctx := context.Background()
	_, err = agent.Invoke(ctx, Request{Prompt: "one", SessionID: "S1"})
	require.NoError(t, err)
	_, err = agent.Invoke(ctx, Request{Prompt: "stale", SessionID: "S2"})
	require.NoError(t, err)
	assert.Equal(t, 2, agent.history.len())

	now = now.Add(2 * time.Hour)
	_, err = agent.Invoke(ctx, Request{Prompt: "two", SessionID: "S1"})
	require.NoError(t, err)

	assert.Len(t, provider.requests[2].Messages, 1, "idle history is not replayed")
	assert.Equal(t, 1, agent.history.len(), "idle sessions are swept")
}

func TestAgent_StatelessRequestsKeepNoHistory(t *testing.T) {
	provider := &scriptedProvider{turns: []*ChatResponse{{Content: "first"}, {Content: "second"}}}
	agent, err := NewAgent(provider, AgentConfig{Model: "m", HistoryTurns: 1})
	require.NoError(t, err)

	ctx := context.Background()
	for _, prompt := range []string{"one", "two"} {
		_, err = agent.Invoke(ctx, Request{Prompt: prompt, SessionID: "session_x", Stateless: true})
		require.NoError(t, err)
	}

	assert.Len(t, provider.requests[1].Messages, 1)
	assert.Zero(t, agent.history.len())
}

func TestAgent_InvokeStream(t *testing.T) {
	var calls []map[string]any
	provider := &scriptedProvider{
		turns: []*ChatResponse{
			{Content: "Searching", ToolCalls: []ToolCall{{ID: "c1", Name: "searchDevices", Arguments: map[string]any{"query": "ABC123"}}}},
			{Content: "Device ABC123 is a MacBook."},
		},
		chunks: [][]string{
			{"Search", "ing"},
			{"Device ", "ABC123 ", "is a MacBook."},
		},
	}
	agent, err := NewAgent(provider, AgentConfig{Model: "m", Operations: []tools.Operation{searchOperation(&calls, "{}", nil)}})
	require.NoError(t, err)

	var texts []string
	var toolUses []string
	for chunk, err := range agent.InvokeStream(context.Background(), Request{Prompt: "show device ABC123"}) {
		require.NoError(t, err)
		switch chunk.Type {
		case ChunkContent:
			texts = append(texts, chunk.Text)
		case ChunkToolUse:
			toolUses = append(toolUses, chunk.Tool.Name)
		}
	}

	assert.Equal(t, []string{"Search", "ing", "Device ", "ABC123 ", "is a MacBook."}, texts)
	assert.Equal(t, []string{"searchDevices"}, toolUses)
	assert.Len(t, calls, 1)
}

func TestAgent_InvokeStreamEarlyBreak(t *testing.T) {
	provider := &scriptedProvider{
		turns:  []*ChatResponse{{Content: "abc"}},
		chunks: [][]string{{"a", "b", "c"}},
	}
	agent, err := NewAgent(provider, AgentConfig{Model: "m"})
	require.NoError(t, err)

	var got []string
	for chunk, err := range agent.InvokeStream(context.Background(), Request{Prompt: "x"}) {
		require.NoError(t, err)
		got = append(got, chunk.Text)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestAgent_InvokeStreamError(t *testing.T) {
	provider := &scriptedProvider{}
	agent, err := NewAgent(provider, AgentConfig{Model: "m"})
	require.NoError(t, err)

	var errs []error
	for _, err := range agent.InvokeStream(context.Background(), Request{Prompt: "x"}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no more turns")
}

func TestNewAgent_RequiresProvider(t *testing.T) {
	_, err := NewAgent(nil, AgentConfig{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAgentConfig))
}
