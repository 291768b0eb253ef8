package agenttransport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cubicler/cubicler/pkg/agentmodel"
)

// SSERegistry tracks the one active server-push connection per agent
// identifier (spec.md §4.2 "SSE (server-push)"). Cubicler is the SSE
// *server* here: the agent process opens the long-lived stream, and
// Dispatch writes an "agent_request" event over it, then waits for the
// matching reply delivered through HandleReply.
type SSERegistry struct {
	mu    sync.Mutex
	conns map[string]*sseConnection
}

// NewSSERegistry constructs an empty registry.
func NewSSERegistry() *SSERegistry {
	return &SSERegistry{conns: make(map[string]*sseConnection)}
}

type sseConnection struct {
	agentID string
	w       http.ResponseWriter
	flusher http.Flusher
	pending *pendingTableSSE
}

// pendingTableSSE correlates server-push requests to agent replies by a
// registry-generated uuid (distinct from jsonrpc.Response since SSE
// agent-request/reply pairs are not JSON-RPC framed).
type pendingTableSSE struct {
	mu      sync.Mutex
	entries map[string]chan agentmodel.AgentResponse
}

func newPendingTableSSE() *pendingTableSSE {
	return &pendingTableSSE{entries: make(map[string]chan agentmodel.AgentResponse)}
}

func (p *pendingTableSSE) register(id string) chan agentmodel.AgentResponse {
	ch := make(chan agentmodel.AgentResponse, 1)
	p.mu.Lock()
	p.entries[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingTableSSE) resolve(id string, resp agentmodel.AgentResponse) bool {
	p.mu.Lock()
	ch, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

func (p *pendingTableSSE) remove(id string) {
	p.mu.Lock()
	delete(p.entries, id)
	p.mu.Unlock()
}

func (p *pendingTableSSE) rejectAll() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]chan agentmodel.AgentResponse)
	p.mu.Unlock()
	for _, ch := range entries {
		close(ch)
	}
}

// Connect registers w as agentID's active stream, writes the initial
// "connected" event, and blocks until ctx is cancelled (the HTTP handler's
// request context, which ends when the client disconnects). Any previous
// connection for agentID is rejected-and-replaced.
func (r *SSERegistry) Connect(ctx context.Context, agentID string, w http.ResponseWriter) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("agenttransport: response writer for agent %s does not support flushing", agentID)
	}

	conn := &sseConnection{agentID: agentID, w: w, flusher: flusher, pending: newPendingTableSSE()}

	r.mu.Lock()
	if old, exists := r.conns[agentID]; exists {
		old.pending.rejectAll()
	}
	r.conns[agentID] = conn
	r.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	payload, _ := json.Marshal(map[string]string{"message": "Connected to Cubicler", "agentId": agentID})
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", payload)
	flusher.Flush()

	<-ctx.Done()

	r.mu.Lock()
	if r.conns[agentID] == conn {
		delete(r.conns, agentID)
	}
	r.mu.Unlock()
	conn.pending.rejectAll()
	return nil
}

// HandleReply delivers an agent's {id, response} reply to the matching
// Dispatch waiter. It reports whether a waiter was found.
func (r *SSERegistry) HandleReply(agentID, id string, resp agentmodel.AgentResponse) bool {
	r.mu.Lock()
	conn, ok := r.conns[agentID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return conn.pending.resolve(id, resp)
}

// Transport returns a Transport bound to agentID that dispatches over
// whatever connection is currently registered, re-resolving the connection
// on every call (the agent may reconnect between dispatches).
func (r *SSERegistry) Transport(agentID string, deps Deps) Transport {
	return &sseTransport{registry: r, agentID: agentID, deps: deps}
}

type sseTransport struct {
	registry *SSERegistry
	agentID  string
	deps     Deps
}

func (t *sseTransport) Dispatch(ctx context.Context, req *agentmodel.AgentRequest) (*agentmodel.AgentResponse, error) {
	t.registry.mu.Lock()
	conn, ok := t.registry.conns[t.agentID]
	t.registry.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("agenttransport: agent %s: no active sse connection", t.agentID)
	}

	id := uuid.NewString()
	ch := conn.pending.register(id)

	event := map[string]any{"id": id, "type": "agent_request", "data": req}
	data, err := json.Marshal(event)
	if err != nil {
		conn.pending.remove(id)
		return nil, err
	}
	fmt.Fprintf(conn.w, "event: agent_request\ndata: %s\n\n", data)
	conn.flusher.Flush()

	timeout := t.deps.dispatchTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, open := <-ch:
		if !open {
			return nil, fmt.Errorf("agenttransport: agent %s: transport disconnected", t.agentID)
		}
		if err := resp.Validate(); err != nil {
			return nil, fmt.Errorf("agenttransport: agent %s: %w", t.agentID, err)
		}
		return &resp, nil
	case <-timer.C:
		conn.pending.remove(id)
		return nil, fmt.Errorf("agenttransport: agent %s: timed out after %dms", t.agentID, timeout.Milliseconds())
	case <-ctx.Done():
		conn.pending.remove(id)
		return nil, ctx.Err()
	}
}

func (t *sseTransport) Close() error { return nil }
