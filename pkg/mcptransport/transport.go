// Package mcptransport implements the MCP Transport component: carrying one
// JSON-RPC 2.0 request/response pair to a tool provider over HTTP, SSE,
// stdio, or an auto-selecting composite of SSE and HTTP.
package mcptransport

import (
	"context"
	"fmt"
	"time"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
)

// DefaultRequestTimeout is the per-request deadline applied when none is
// configured (PROVIDER_CALL_TIMEOUT / DEFAULT_CALL_TIMEOUT).
const DefaultRequestTimeout = 30 * time.Second

// Transport is the contract every MCP transport variant satisfies.
type Transport interface {
	Initialize(ctx context.Context) error
	Send(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)
	Close() error
	IsConnected() bool
	ServerID() string
}

// New builds the Transport variant named by cfg.Transport, defaulting to
// Auto (SSE with HTTP fallback) for URL-based servers with no explicit
// transport and to Stdio when a command is configured.
func New(serverID string, cfg config.ServerConfig, deps Deps) (Transport, error) {
	switch cfg.Transport {
	case config.TransportHTTP:
		return newHTTPTransport(serverID, cfg, deps), nil
	case config.TransportSSE:
		return newSSETransport(serverID, cfg, deps), nil
	case config.TransportStdio:
		return newStdioTransport(serverID, cfg, deps), nil
	case config.TransportAuto, "":
		if cfg.Command != "" {
			return newStdioTransport(serverID, cfg, deps), nil
		}
		return newAutoTransport(serverID, cfg, deps), nil
	default:
		return nil, fmt.Errorf("mcptransport: unknown transport %q for server %s", cfg.Transport, serverID)
	}
}
