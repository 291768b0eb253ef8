package mcptransport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
)

// sseTransport opens a long-lived event stream for responses and delivers
// requests over an auxiliary POST to the same server's "/mcp" endpoint.
type sseTransport struct {
	serverID string
	cfg      config.ServerConfig
	deps     Deps
	postURL  string

	pending *pendingTable

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
}

func newSSETransport(serverID string, cfg config.ServerConfig, deps Deps) *sseTransport {
	return &sseTransport{serverID: serverID, cfg: cfg, deps: deps, pending: newPendingTable()}
}

func (t *sseTransport) ServerID() string { return t.serverID }

func (t *sseTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// ssePostURL derives the auxiliary request endpoint from the SSE stream URL
// by replacing its final path segment with "mcp".
func ssePostURL(sseURL string) (string, error) {
	parsed, err := url.Parse(sseURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("not an absolute http(s) URL")
	}
	dir := parsed.Path
	if idx := strings.LastIndex(dir, "/"); idx >= 0 {
		dir = dir[:idx]
	} else {
		dir = ""
	}
	parsed.Path = dir + "/mcp"
	return parsed.String(), nil
}

func (t *sseTransport) Initialize(ctx context.Context) error {
	postURL, err := ssePostURL(t.cfg.URL)
	if err != nil {
		return fmt.Errorf("mcptransport: server %s: %w", t.serverID, err)
	}
	t.postURL = postURL

	streamCtx, cancel := context.WithCancel(context.Background())
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		cancel()
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if authz, err := t.deps.authHeader(ctx, t.cfg.Auth); err != nil {
		cancel()
		return err
	} else if authz != "" {
		httpReq.Header.Set("Authorization", authz)
	}

	resp, err := t.deps.HTTPClient.Do(httpReq)
	if err != nil {
		cancel()
		return fmt.Errorf("mcptransport: server %s: sse connect failed: %w", t.serverID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mcptransport: server %s: sse connect status %d", t.serverID, resp.StatusCode)
	}

	t.mu.Lock()
	t.connected = true
	t.cancel = cancel
	t.mu.Unlock()

	go t.readLoop(resp.Body)

	req, err := jsonrpc.NewRequest(1, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "cubicler", "version": "1.0.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return err
	}
	initResp, err := t.Send(ctx, req)
	if err != nil {
		return err
	}
	if initResp.Error != nil {
		return fmt.Errorf("mcptransport: server %s: initialize failed: %s", t.serverID, initResp.Error.Message)
	}
	return nil
}

// readLoop parses the SSE stream's "event:"/"data:" lines. Each completed
// event's data is decoded as an MCPResponse and routed by id; malformed or
// unmatched events are logged and dropped.
func (t *sseTransport) readLoop(body io.ReadCloser) {
	defer body.Close()
	reader := bufio.NewReader(body)
	var event strings.Builder
	var data strings.Builder

	flush := func() {
		if data.Len() == 0 {
			return
		}
		var resp jsonrpc.Response
		if err := json.Unmarshal([]byte(data.String()), &resp); err != nil {
			slog.Warn("mcptransport: sse event not a valid MCPResponse", "server", t.serverID, "error", err)
		} else if !t.pending.resolve(&resp) {
			slog.Warn("mcptransport: sse event id has no awaiter", "server", t.serverID, "id", resp.ID)
		}
		event.Reset()
		data.Reset()
	}

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "event:"):
			event.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, "event:")))
		case strings.HasPrefix(trimmed, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		}
		if err != nil {
			flush()
			break
		}
	}

	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.pending.rejectAll("connection closed")
}

func (t *sseTransport) Send(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	ch, err := t.pending.register(req.ID)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		t.pending.remove(req.ID)
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.postURL, bytes.NewReader(body))
	if err != nil {
		t.pending.remove(req.ID)
		return wrapTransportError(req.ID, err), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if authz, err := t.deps.authHeader(ctx, t.cfg.Auth); err != nil {
		t.pending.remove(req.ID)
		return wrapTransportError(req.ID, err), nil
	} else if authz != "" {
		httpReq.Header.Set("Authorization", authz)
	}

	resp, err := t.deps.HTTPClient.Do(httpReq)
	if err != nil {
		t.pending.remove(req.ID)
		return wrapTransportError(req.ID, err), nil
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.pending.remove(req.ID)
		return wrapTransportError(req.ID, fmt.Errorf("status %d", resp.StatusCode)), nil
	}

	select {
	case rpcResp := <-ch:
		return rpcResp, nil
	case <-ctx.Done():
		t.pending.remove(req.ID)
		return nil, ctx.Err()
	}
}

func (t *sseTransport) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	t.connected = false
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.pending.rejectAll("connection closed")
	return nil
}
