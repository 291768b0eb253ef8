package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cubicler/cubicler/pkg/agentmodel"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
	"github.com/cubicler/cubicler/pkg/mcptransport"
	"github.com/cubicler/cubicler/pkg/toolname"
)

// mcpProvider wraps one mcptransport.Transport per configured MCP server
// (spec.md §4.4 "MCP Provider").
type mcpProvider struct {
	identifier string
	hash       string
	transport  mcptransport.Transport

	mu       sync.RWMutex
	toolsets map[string]agentmodel.ToolDefinition // local name -> definition, from last ToolsList
}

// NewMCPProvider builds a Provider backed by an already-constructed
// transport (the caller selects http/sse/stdio/auto via
// mcptransport.New).
func NewMCPProvider(identifier string, transport mcptransport.Transport) Provider {
	return &mcpProvider{identifier: identifier, hash: toolname.Hash(identifier), transport: transport}
}

func (p *mcpProvider) Identifier() string { return p.identifier }

func (p *mcpProvider) Initialize(ctx context.Context) error {
	return p.transport.Initialize(ctx)
}

type mcpToolsListResult struct {
	Tools []struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"inputSchema"`
	} `json:"tools"`
}

func (p *mcpProvider) ToolsList(ctx context.Context) ([]agentmodel.ToolDefinition, error) {
	req, err := jsonrpc.NewRequest(fmt.Sprintf("%s-tools-list", p.identifier), "tools/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("provider %s: tools/list failed: %s", p.identifier, resp.Error.Message)
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, err
	}
	var parsed mcpToolsListResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("provider %s: invalid tools/list result: %w", p.identifier, err)
	}

	defs := make([]agentmodel.ToolDefinition, 0, len(parsed.Tools))
	cache := make(map[string]agentmodel.ToolDefinition, len(parsed.Tools))
	for _, t := range parsed.Tools {
		def := agentmodel.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.InputSchema}
		defs = append(defs, def)
		cache[t.Name] = def
	}

	p.mu.Lock()
	p.toolsets = cache
	p.mu.Unlock()

	return defs, nil
}

func (p *mcpProvider) CanHandle(externalName string) bool {
	hash, local, ok := toolname.Decode(externalName)
	if !ok || hash != p.hash {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.toolsets[local]
	return exists
}

type mcpCallResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// ToolsCall invokes localName (the un-hashed MCP tool name) via
// tools/call and returns result.content[0].text, parsed as JSON when it
// looks like a JSON value, otherwise returned as a plain string.
func (p *mcpProvider) ToolsCall(ctx context.Context, localName string, args map[string]any) (any, error) {
	params := map[string]any{"name": localName, "arguments": args}
	req, err := jsonrpc.NewRequest(fmt.Sprintf("%s-tools-call-%s", p.identifier, localName), "tools/call", params)
	if err != nil {
		return nil, err
	}
	resp, err := p.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("provider %s: tools/call %s failed: %s", p.identifier, localName, resp.Error.Message)
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, err
	}
	var parsed mcpCallResult
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Content) == 0 {
		// Some servers answer bare results rather than the content
		// envelope; fall back to returning the raw result.
		return resp.Result, nil
	}

	text := parsed.Content[0].Text
	var asJSON any
	if json.Unmarshal([]byte(text), &asJSON) == nil {
		return asJSON, nil
	}
	return text, nil
}
