// Package router implements the MCP Router component (C6): the single
// entry point that turns an inbound JSON-RPC request into a call against
// whichever Tool Provider owns the named tool, after rewriting names to
// their external (hashed) form.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cubicler/cubicler/pkg/jsonrpc"
	"github.com/cubicler/cubicler/pkg/jsonvalue"
	"github.com/cubicler/cubicler/pkg/provider"
	"github.com/cubicler/cubicler/pkg/toolname"
)

const protocolVersion = "2024-11-05"

// Router aggregates providers in a fixed order — internal first, then
// MCP, then REST — and routes initialize/tools/list/tools/call against
// them (spec.md §4.5).
type Router struct {
	serverName    string
	serverVersion string

	mu        sync.RWMutex
	providers []entry
}

type entry struct {
	id       string // "" for the internal provider
	provider provider.Provider
}

// New builds an empty Router. Providers are registered with Register, in
// aggregation order.
func New(serverName, serverVersion string) *Router {
	return &Router{serverName: serverName, serverVersion: serverVersion}
}

// Register appends p to the aggregation order. Callers are responsible
// for registering in the order spec.md §4.5 requires: internal, then
// MCP, then REST.
func (r *Router) Register(id string, p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, entry{id: id, provider: p})
}

// Handle dispatches one JSON-RPC request and always returns a response
// (never a transport-level error), matching spec.md §4.5's error
// taxonomy.
func (r *Router) Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	switch req.Method {
	case "initialize":
		return r.handleInitialize(ctx, req)
	case "tools/list":
		return r.handleToolsList(ctx, req)
	case "tools/call":
		return r.handleToolsCall(ctx, req)
	default:
		return jsonrpc.ErrorResponse(req.ID, jsonrpc.CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

func (r *Router) handleInitialize(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	r.mu.RLock()
	providers := append([]entry(nil), r.providers...)
	r.mu.RUnlock()

	for _, e := range providers {
		if err := e.provider.Initialize(ctx); err != nil {
			return jsonrpc.ErrorResponse(req.ID, jsonrpc.CodeInternalError, fmt.Sprintf("Internal error: %s", err))
		}
	}

	return jsonrpc.ResultResponse(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{"listChanged": true}},
		"serverInfo":      map[string]any{"name": r.serverName, "version": r.serverVersion},
	})
}

// handleToolsList concatenates every provider's ToolsList, rewriting
// each tool's name to its external (hashed) form. Duplicate external
// names: first-writer wins, later duplicates are dropped with a warning.
func (r *Router) handleToolsList(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	r.mu.RLock()
	providers := append([]entry(nil), r.providers...)
	r.mu.RUnlock()

	seen := make(map[string]bool)
	tools := make([]map[string]any, 0)

	for _, e := range providers {
		defs, err := e.provider.ToolsList(ctx)
		if err != nil {
			slog.Warn("router: provider tools/list failed, skipping", "provider", e.id, "error", err)
			continue
		}
		for _, def := range defs {
			external := externalName(e.id, def.Name)
			if seen[external] {
				slog.Warn("router: duplicate external tool name dropped", "name", external, "provider", e.id)
				continue
			}
			seen[external] = true
			tools = append(tools, map[string]any{
				"name":        external,
				"description": def.Description,
				"inputSchema": def.Parameters,
			})
		}
	}

	return jsonrpc.ResultResponse(req.ID, map[string]any{"tools": tools})
}

// externalName applies the hash scheme to every provider except the
// internal one, whose tools keep their bare "cubicler_*" name (spec.md
// §4.8 treats them as already external).
func externalName(providerID, localName string) string {
	if providerID == "" {
		return localName
	}
	return toolname.External(providerID, localName)
}

func (r *Router) handleToolsCall(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	params, err := req.ParamsValue()
	if err != nil {
		return jsonrpc.ErrorResponse(req.ID, jsonrpc.CodeInvalidParams, fmt.Sprintf("Invalid params: %s", err))
	}
	nameVal, ok := params.Get("name")
	name, isStr := nameVal.String()
	if !ok || !isStr || name == "" {
		return jsonrpc.ErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "Missing required parameter: name")
	}

	args := map[string]any{}
	if argsVal, ok := params.Get("arguments"); ok {
		if m, ok := argsVal.ToAny().(map[string]any); ok {
			args = m
		}
	}

	r.mu.RLock()
	providers := append([]entry(nil), r.providers...)
	r.mu.RUnlock()

	for _, e := range providers {
		if !e.provider.CanHandle(name) {
			continue
		}
		local := localName(e.id, name)
		result, err := e.provider.ToolsCall(ctx, local, args)
		if err != nil {
			return jsonrpc.ErrorResponse(req.ID, jsonrpc.CodeInternalError, fmt.Sprintf("Internal error: %s", err))
		}
		return jsonrpc.ResultResponse(req.ID, map[string]any{
			"content": []map[string]any{{"type": "text", "text": stringify(result)}},
		})
	}

	return jsonrpc.ErrorResponse(req.ID, jsonrpc.CodeInternalError, fmt.Sprintf("No provider found for tool: %s", name))
}

// localName strips the hash prefix for hashed (non-internal) tools; the
// internal provider's tools are already bare.
func localName(providerID, externalName string) string {
	if providerID == "" {
		return externalName
	}
	_, local, ok := toolname.Decode(externalName)
	if !ok {
		return externalName
	}
	return local
}

func stringify(v any) string {
	val := jsonvalue.FromAny(v)
	b, err := val.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
