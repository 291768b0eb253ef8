package stdiopool

import (
	"fmt"
	"sync"

	"github.com/cubicler/cubicler/pkg/jsonrpc"
)

// pendingTable correlates in-flight dispatch requests to their eventual
// response by id, duplicated from pkg/mcptransport/pending.go's identical
// type since Go has no way to share an unexported generic-free type across
// package boundaries without exporting it.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]chan *jsonrpc.Response
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]chan *jsonrpc.Response)}
}

func idKey(id any) string { return fmt.Sprintf("%v", id) }

func (p *pendingTable) register(id any) (<-chan *jsonrpc.Response, error) {
	key := idKey(id)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[key]; exists {
		return nil, fmt.Errorf("stdiopool: duplicate pending request for id %v", id)
	}
	ch := make(chan *jsonrpc.Response, 1)
	p.entries[key] = ch
	return ch, nil
}

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

func (p *pendingTable) remove(id any) {
	key := idKey(id)
	p.mu.Lock()
	delete(p.entries, key)
	p.mu.Unlock()
}

func (p *pendingTable) rejectAll(message string) {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]chan *jsonrpc.Response)
	p.mu.Unlock()

	for key, ch := range entries {
		ch <- jsonrpc.ErrorResponse(key, jsonrpc.CodeInternalError, message)
	}
}
