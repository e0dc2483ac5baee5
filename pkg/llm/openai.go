package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider over the OpenAI Chat Completions API
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a provider; an empty API key defers to the
// SDK's OPENAI_API_KEY lookup.
func NewOpenAIProvider(cfg ModelConfig, opts ...option.RequestOption) *OpenAIProvider {
	var reqOpts []option.RequestOption
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)
	return &OpenAIProvider{client: openai.NewClient(reqOpts...)}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("openai API error: %w", err)
	}
	return openAIResponse(completion)
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(req))
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !yield(StreamEvent{Text: chunk.Choices[0].Delta.Content}, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(StreamEvent{}, fmt.Errorf("openai stream error: %w", err))
			return
		}

		resp, err := openAIResponse(&acc.ChatCompletion)
		if err != nil {
			yield(StreamEvent{}, err)
			return
		}
		yield(StreamEvent{Response: resp}, nil)
	}
}

func (p *OpenAIProvider) params(req ChatRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: openAIMessages(req.System, req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.User != "" {
		params.User = openai.String(req.User)
	}
	for _, t := range req.Tools {
		schema := openai.FunctionParameters{
			"type":       "object",
			"properties": t.Parameters,
		}
		if t.Parameters == nil {
			schema["properties"] = map[string]any{}
		}
		if len(t.Required) > 0 {
			schema["required"] = t.Required
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  schema,
			},
		})
	}
	return params
}

func openAIMessages(system string, msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func openAIResponse(completion *openai.ChatCompletion) (*ChatResponse, error) {
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}
	choice := completion.Choices[0]
	resp := &ChatResponse{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("invalid tool arguments for %s: %w", tc.Function.Name, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return resp, nil
}
