package tools

import (
	"context"
)

// Descriptor describes a tool discovered from the provider
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Required    []string       `json:"required,omitempty"`
}

// CallResult is a provider's answer to a tool call
type CallResult struct {
	// Content holds the text of each content element, in order.
	Content []string
	IsError bool
}

// Invoker runs one bound tool with model-produced arguments
type Invoker func(ctx context.Context, args map[string]any) (string, error)

// Operation pairs a descriptor with the invoker bound to its name
type Operation struct {
	Descriptor Descriptor
	Invoke     Invoker
}

// Provider is a connection to a tool-provider process
type Provider interface {
	// Connect performs the protocol handshake.
	Connect(ctx context.Context) error
	ListTools(ctx context.Context) ([]Descriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error)
	Close() error
}

// Transport selects how the bridge reaches the tool provider. It is one of
// LocalTransport or RemoteTransport.
type Transport interface {
	transportMode() string
}

// LocalTransport runs the provider as a subprocess speaking over stdio.
type LocalTransport struct {
	Command string
	Args    []string
	// Env entries are KEY=VALUE pairs added to the subprocess environment.
	Env []string
}

// RemoteTransport reaches a provider over the network.
type RemoteTransport struct {
	URL string
}

func (LocalTransport) transportMode() string  { return "local" }
func (RemoteTransport) transportMode() string { return "remote" }

// Mode names the transport variant for logs.
func Mode(t Transport) string {
	if t == nil {
		return "none"
	}
	return t.transportMode()
}
