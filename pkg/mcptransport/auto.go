package mcptransport

import (
	"context"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
)

// autoTransport tries SSE first and falls back to HTTP when SSE fails to
// initialize. Whichever variant succeeds is retained for the transport's
// lifetime; Send/Close/IsConnected delegate to it.
type autoTransport struct {
	serverID string
	cfg      config.ServerConfig
	deps     Deps
	chosen   Transport
}

func newAutoTransport(serverID string, cfg config.ServerConfig, deps Deps) *autoTransport {
	return &autoTransport{serverID: serverID, cfg: cfg, deps: deps}
}

func (t *autoTransport) ServerID() string { return t.serverID }

func (t *autoTransport) Initialize(ctx context.Context) error {
	sse := newSSETransport(t.serverID, t.cfg, t.deps)
	if err := sse.Initialize(ctx); err == nil {
		t.chosen = sse
		return nil
	}

	http := newHTTPTransport(t.serverID, t.cfg, t.deps)
	if err := http.Initialize(ctx); err != nil {
		return err
	}
	t.chosen = http
	return nil
}

func (t *autoTransport) Send(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	return t.chosen.Send(ctx, req)
}

func (t *autoTransport) Close() error {
	if t.chosen == nil {
		return nil
	}
	return t.chosen.Close()
}

func (t *autoTransport) IsConnected() bool {
	return t.chosen != nil && t.chosen.IsConnected()
}
