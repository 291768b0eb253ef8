// Package agenttransport implements the Agent Transport component (C2):
// delivering an AgentRequest to an agent process and returning its
// AgentResponse, over HTTP, server-push SSE, stdio, or direct in-process
// invocation.
package agenttransport

import (
	"context"
	"fmt"

	"github.com/cubicler/cubicler/pkg/agentmodel"
	"github.com/cubicler/cubicler/pkg/config"
)

// Transport is the contract every Agent Transport variant satisfies.
type Transport interface {
	Dispatch(ctx context.Context, req *agentmodel.AgentRequest) (*agentmodel.AgentResponse, error)
	Close() error
}

// New builds the Transport variant named by cfg.Transport. SSE transports
// are registry-backed (see NewSSERegistry) and must be looked up there
// rather than constructed directly, since Cubicler is the SSE server and
// the connection is established by the agent, not by Cubicler.
func New(agentID string, cfg config.AgentConfig, deps Deps) (Transport, error) {
	switch cfg.Transport {
	case config.TransportHTTP:
		return newHTTPTransport(agentID, cfg, deps), nil
	case config.TransportStdio:
		return newStdioTransport(agentID, cfg, deps), nil
	case config.TransportDirect:
		return newDirectTransport(agentID, deps), nil
	default:
		return nil, fmt.Errorf("agenttransport: agent %s: transport %q is not constructed via New (use NewSSERegistry for sse)", agentID, cfg.Transport)
	}
}
