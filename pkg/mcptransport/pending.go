package mcptransport

import (
	"fmt"
	"sync"

	"github.com/cubicler/cubicler/pkg/jsonrpc"
)

// pendingTable correlates in-flight requests to their eventual response by
// id. At most one entry exists per id at any time (invariant 2); a second
// registration for the same id is a programming error and is rejected.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]chan *jsonrpc.Response
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]chan *jsonrpc.Response)}
}

func idKey(id any) string { return fmt.Sprintf("%v", id) }

// register creates the awaiter channel for id. The caller must eventually
// call remove, whether or not resolve/reject fires.
func (p *pendingTable) register(id any) (<-chan *jsonrpc.Response, error) {
	key := idKey(id)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[key]; exists {
		return nil, fmt.Errorf("mcptransport: duplicate pending request for id %v", id)
	}
	ch := make(chan *jsonrpc.Response, 1)
	p.entries[key] = ch
	return ch, nil
}

// resolve delivers resp to the awaiter registered for resp.ID, if any. It
// reports whether a matching awaiter was found; an unmatched response is
// logged and dropped by the caller.
func (p *pendingTable) resolve(resp *jsonrpc.Response) bool {
	key := idKey(resp.ID)
	p.mu.Lock()
	ch, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

// remove discards the awaiter for id without delivering a response (used
// after a timeout or explicit cancellation).
func (p *pendingTable) remove(id any) {
	key := idKey(id)
	p.mu.Lock()
	delete(p.entries, key)
	p.mu.Unlock()
}

// rejectAll delivers an error response to every outstanding awaiter and
// clears the table (used on connection loss and on Close).
func (p *pendingTable) rejectAll(message string) {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]chan *jsonrpc.Response)
	p.mu.Unlock()

	for key, ch := range entries {
		ch <- jsonrpc.ErrorResponse(key, jsonrpc.CodeInternalError, message)
	}
}
