package agenttransport

import (
	"context"
	"time"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/httpclient"
	"github.com/cubicler/cubicler/pkg/jwtauth"
)

// Deps bundles the collaborators every transport variant needs.
type Deps struct {
	HTTPClient     *httpclient.Client
	TokenSource    TokenSource
	DispatchTimeout time.Duration
	ToolInvoker    ToolInvoker
}

// TokenSource mints the bearer token for a JwtAuthConfig.
type TokenSource interface {
	Token(ctx context.Context, cfg config.JwtAuthConfig) (string, error)
}

var _ TokenSource = (*jwtauth.TokenProvider)(nil)

// ToolInvoker is the direct transport's view of the MCP Router + Restriction
// Filter: callTool(name, args), gated by the agent's restriction config.
// Defined here (rather than importing pkg/router) to avoid a cycle, since
// pkg/dispatch wires both the MCP Router and this transport together.
type ToolInvoker interface {
	CallTool(ctx context.Context, agentID string, toolName string, args map[string]any) (any, error)
}

func (d Deps) dispatchTimeout() time.Duration {
	if d.DispatchTimeout > 0 {
		return d.DispatchTimeout
	}
	return DefaultDispatchTimeout
}

// DefaultDispatchTimeout is AGENT_CALL_TIMEOUT's default (3x the default
// call timeout).
const DefaultDispatchTimeout = 90 * time.Second
