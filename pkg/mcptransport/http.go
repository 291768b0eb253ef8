package mcptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
)

// httpTransport is stateless per call: every Send issues one POST and parses
// its body as an MCPResponse. Network, timeout, and non-2xx errors never
// propagate as Go errors from Send; they are wrapped into an MCPResponse
// carrying the original request id, per the HTTP variant's contract.
type httpTransport struct {
	serverID string
	cfg      config.ServerConfig
	deps     Deps
}

func newHTTPTransport(serverID string, cfg config.ServerConfig, deps Deps) *httpTransport {
	return &httpTransport{serverID: serverID, cfg: cfg, deps: deps}
}

func (t *httpTransport) ServerID() string  { return t.serverID }
func (t *httpTransport) IsConnected() bool { return true }

func (t *httpTransport) Initialize(ctx context.Context) error {
	parsed, err := url.Parse(t.cfg.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("mcptransport: server %s: url %q is not a valid absolute http(s) URL", t.serverID, t.cfg.URL)
	}
	req, err := jsonrpc.NewRequest(1, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "cubicler", "version": "1.0.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return err
	}
	resp, err := t.Send(ctx, req)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("mcptransport: server %s: initialize failed: %s", t.serverID, resp.Error.Message)
	}
	return nil
}

func (t *httpTransport) Send(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return wrapTransportError(req.ID, err), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if authz, err := t.deps.authHeader(ctx, t.cfg.Auth); err != nil {
		return wrapTransportError(req.ID, err), nil
	} else if authz != "" {
		httpReq.Header.Set("Authorization", authz)
	}

	resp, err := t.deps.HTTPClient.Do(httpReq)
	if err != nil {
		return wrapTransportError(req.ID, err), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapTransportError(req.ID, err), nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return wrapTransportError(req.ID, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))), nil
	}

	var rpcResp jsonrpc.Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return wrapTransportError(req.ID, err), nil
	}
	return &rpcResp, nil
}

func (t *httpTransport) Close() error { return nil }

// wrapTransportError builds the uniform -32603 response the HTTP and SSE
// variants return in place of a Go error for network/timeout/status causes.
func wrapTransportError(id any, cause error) *jsonrpc.Response {
	return jsonrpc.ErrorResponse(id, jsonrpc.CodeInternalError, fmt.Sprintf("HTTP request failed: %s", cause))
}
