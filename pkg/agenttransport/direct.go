package agenttransport

import (
	"context"
	"fmt"
	"time"

	"github.com/cubicler/cubicler/pkg/agentmodel"
)

// directTransport embeds an agent in-process. Its "dispatch" surface is
// unused for in-process agents (the embedding code calls CallTool
// directly); Dispatch exists only so directTransport satisfies Transport
// for uniform wiring, and simply reports that no transport-level response
// was produced.
type directTransport struct {
	agentID string
	deps    Deps
}

func newDirectTransport(agentID string, deps Deps) *directTransport {
	return &directTransport{agentID: agentID, deps: deps}
}

// CallTool implements the direct transport's client surface: delegate to
// the MCP Router after restriction validation (performed by the invoker).
func (t *directTransport) CallTool(ctx context.Context, toolName string, args map[string]any) (any, error) {
	if t.deps.ToolInvoker == nil {
		return nil, fmt.Errorf("agenttransport: agent %s: no tool invoker configured", t.agentID)
	}
	return t.deps.ToolInvoker.CallTool(ctx, t.agentID, toolName, args)
}

// Dispatch is the server surface's start/stop-equivalent: a no-op, per
// spec.md §4.2's "(b) server start/stop are no-ops" — there is no
// transport-level message exchange for a directly-embedded agent.
func (t *directTransport) Dispatch(ctx context.Context, req *agentmodel.AgentRequest) (*agentmodel.AgentResponse, error) {
	return &agentmodel.AgentResponse{
		Timestamp: time.Now().UTC(),
		Type:      "text",
		Content:   "",
		Metadata:  map[string]any{},
	}, nil
}

func (t *directTransport) Close() error { return nil }
