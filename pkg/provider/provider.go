// Package provider implements the Tool Provider component (C4) and its
// Internal Tools specialization (C5): the three concrete sources of tools
// the MCP Router aggregates — MCP servers, REST endpoints, and Cubicler's
// own introspection tools.
package provider

import (
	"context"

	"github.com/cubicler/cubicler/pkg/agentmodel"
)

// Provider is one source of tools the MCP Router can aggregate and
// dispatch tool calls to.
type Provider interface {
	// Identifier is the configured server identifier this provider was
	// built from ("" for the internal provider, which has no server
	// identity of its own).
	Identifier() string

	// Initialize prepares the provider (e.g. sends the MCP initialize
	// handshake) and must be called once before ToolsList/ToolsCall.
	Initialize(ctx context.Context) error

	// ToolsList returns the provider's tools, in their local (not yet
	// externally-renamed) form. Implementations may cache this.
	ToolsList(ctx context.Context) ([]agentmodel.ToolDefinition, error)

	// CanHandle reports whether externalName (the hashed wire name) is
	// one this provider's ToolsList would produce.
	CanHandle(externalName string) bool

	// ToolsCall invokes localName (NOT the external/hashed name) with
	// args and returns the raw tool result.
	ToolsCall(ctx context.Context, localName string, args map[string]any) (any, error)
}
