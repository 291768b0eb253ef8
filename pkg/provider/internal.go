package provider

import (
	"context"
	"fmt"

	"github.com/cubicler/cubicler/pkg/agentmodel"
)

// Fixed internal tool names (spec.md §4.4), exported so callers that need
// to recognize them by name — e.g. RestrictedToolInvoker's extra
// serverIdentifier check on ToolFetchServerTools — don't duplicate the
// literal.
const (
	ToolAvailableServers = "cubicler_available_servers"
	ToolFetchServerTools = "cubicler_fetch_server_tools"
)

// Backend is the subset of Provider the internal provider needs from
// every other configured provider, plus the server metadata it cannot
// derive on its own.
type Backend struct {
	Identifier  string
	Name        string
	Description string
	Provider    Provider
}

// internalProvider implements the two fixed introspection tools (spec.md
// §4.4 "Internal Tools Provider", C5). It is constructed with the full
// list of backend providers so it can answer available_servers / fetch
// without importing pkg/router (which owns provider aggregation order).
type internalProvider struct {
	backends []Backend
}

// NewInternalProvider builds the Internal Tools Provider over backends —
// every other Tool Provider configured, in router aggregation order.
func NewInternalProvider(backends []Backend) Provider {
	return &internalProvider{backends: backends}
}

func (p *internalProvider) Identifier() string { return "" }

func (p *internalProvider) Initialize(ctx context.Context) error { return nil }

func (p *internalProvider) ToolsList(ctx context.Context) ([]agentmodel.ToolDefinition, error) {
	return []agentmodel.ToolDefinition{
		{
			Name:        ToolAvailableServers,
			Description: "List all configured tool-providing servers and their tool counts.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        ToolFetchServerTools,
			Description: "Fetch the tool definitions exposed by one configured server.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"serverIdentifier": map[string]any{"type": "string"},
				},
				"required": []string{"serverIdentifier"},
			},
		},
	}, nil
}

// CanHandle matches internal tools by their bare (unhashed) name, since
// spec.md §4.8 treats "cubicler_*" as a fixed, un-namespaced set.
func (p *internalProvider) CanHandle(externalName string) bool {
	return externalName == ToolAvailableServers || externalName == ToolFetchServerTools
}

func (p *internalProvider) ToolsCall(ctx context.Context, localName string, args map[string]any) (any, error) {
	switch localName {
	case ToolAvailableServers:
		return p.availableServers(ctx), nil
	case ToolFetchServerTools:
		id, _ := args["serverIdentifier"].(string)
		return p.fetchServerTools(ctx, id)
	default:
		return nil, fmt.Errorf("internalprovider: unknown tool %s", localName)
	}
}

// availableServers degrades gracefully: a backend whose ToolsList call
// fails is simply omitted, per spec.md §4.4.
func (p *internalProvider) availableServers(ctx context.Context) map[string]any {
	servers := make([]map[string]any, 0, len(p.backends))
	for _, b := range p.backends {
		tools, err := b.Provider.ToolsList(ctx)
		if err != nil {
			continue
		}
		servers = append(servers, map[string]any{
			"identifier":  b.Identifier,
			"name":        b.Name,
			"description": b.Description,
			"toolsCount":  len(tools),
		})
	}
	return map[string]any{"total": len(servers), "servers": servers}
}

func (p *internalProvider) fetchServerTools(ctx context.Context, serverIdentifier string) (map[string]any, error) {
	for _, b := range p.backends {
		if b.Identifier != serverIdentifier {
			continue
		}
		tools, err := b.Provider.ToolsList(ctx)
		if err != nil {
			return nil, fmt.Errorf("internalprovider: server %s: %w", serverIdentifier, err)
		}
		return map[string]any{"tools": tools}, nil
	}
	return nil, fmt.Errorf("internalprovider: unknown server %s", serverIdentifier)
}
