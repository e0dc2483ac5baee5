package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
)

const clientName = "jamf-agent"

// ClientVersion is reported to the provider during the handshake.
var ClientVersion = "dev"

// MCPProvider speaks the Model Context Protocol through mcp-go
type MCPProvider struct {
	client *client.Client
}

var _ Provider = (*MCPProvider)(nil)

// NewMCPProvider wraps an mcp-go client that has not been started yet.
func NewMCPProvider(c *client.Client) *MCPProvider {
	return &MCPProvider{client: c}
}

// NewProvider builds the provider for t. The remote variant is declared
// but not implemented and fails immediately.
func NewProvider(t Transport) (Provider, error) {
	switch tr := t.(type) {
	case LocalTransport:
		if tr.Command == "" {
			return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "local tool transport requires a command", nil)
		}
		stdio := transport.NewStdio(tr.Command, tr.Env, tr.Args...)
		return NewMCPProvider(client.NewClient(stdio)), nil
	case RemoteTransport:
		return nil, apperrors.New(apperrors.ErrCodeUnsupportedTransport,
			fmt.Sprintf("remote tool transport (%s) is not supported", tr.URL), nil)
	default:
		return nil, apperrors.New(apperrors.ErrCodeUnsupportedTransport, fmt.Sprintf("unknown tool transport %T", t), nil)
	}
}

// ForwardedEnv returns KEY=VALUE pairs for the named variables that are set
// in the current environment.
func ForwardedEnv(names []string) []string {
	env := make([]string, 0, len(names))
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

func (p *MCPProvider) Connect(ctx context.Context) error {
	// The subprocess lives until Close, not until ctx is done.
	if err := p.client.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start tool provider: %w", err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: ClientVersion}
	req.Params.Capabilities = mcp.ClientCapabilities{}

	if _, err := p.client.Initialize(ctx, req); err != nil {
		return fmt.Errorf("tool provider handshake failed: %w", err)
	}
	return nil
}

func (p *MCPProvider) ListTools(ctx context.Context) ([]Descriptor, error) {
	var out []Descriptor
	req := mcp.ListToolsRequest{}
	for {
		res, err := p.client.ListTools(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("tool discovery failed: %w", err)
		}
		for _, t := range res.Tools {
			out = append(out, Descriptor{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema.Properties,
				Required:    t.InputSchema.Required,
			})
		}
		if res.NextCursor == "" {
			return out, nil
		}
		req.Params.Cursor = res.NextCursor
	}
}

func (p *MCPProvider) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := p.client.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &CallResult{IsError: res.IsError}
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			out.Content = append(out.Content, tc.Text)
		case *mcp.TextContent:
			out.Content = append(out.Content, tc.Text)
		default:
			out.Content = append(out.Content, "")
		}
	}
	return out, nil
}

func (p *MCPProvider) Close() error {
	return p.client.Close()
}
