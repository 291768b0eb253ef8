// Package dispatch implements the Dispatch Service (C8, spec.md §4.9): the
// component that resolves an agent, assembles its final prompt and its
// restriction-filtered tool/server view, hands the resulting AgentRequest
// to that agent's Transport, and returns its AgentResponse verbatim.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cubicler/cubicler/pkg/agentmodel"
	"github.com/cubicler/cubicler/pkg/agenttransport"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
	"github.com/cubicler/cubicler/pkg/jsonvalue"
	"github.com/cubicler/cubicler/pkg/prompt"
	"github.com/cubicler/cubicler/pkg/provider"
	"github.com/cubicler/cubicler/pkg/restriction"
	"github.com/cubicler/cubicler/pkg/router"
)

// Router is the subset of *router.Router the Dispatch Service needs: enough
// to list and call tools without importing provider construction concerns.
type Router interface {
	Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response
}

var _ Router = (*router.Router)(nil)

// ErrUnknownAgent is returned (wrapped) by resolveAgent when the caller
// names an agent identifier that is not in the current agents document —
// the HTTP edge maps this to 404 (spec.md §6).
var ErrUnknownAgent = errors.New("unknown agent")

// ErrAgentIdentifierRequired is returned (wrapped) when the caller omits
// an agent identifier and the agents document does not hold exactly one
// agent (none, or more than one) — the HTTP edge maps this to 400
// (spec.md §6).
var ErrAgentIdentifierRequired = errors.New("agent identifier is required")

// Service wires together agent resolution, prompt composition, the
// restriction filter, and per-agent Transport delivery.
type Service struct {
	configs  config.Provider
	prompts  prompt.Provider
	mcp      Router
	filter   *restriction.Filter
	sse      *agenttransport.SSERegistry
	deps     agenttransport.Deps

	mu         sync.Mutex
	transports map[string]agenttransport.Transport
}

// New constructs a Dispatch Service. sse may be nil if no agent uses the
// SSE transport.
func New(configs config.Provider, prompts prompt.Provider, mcp Router, filter *restriction.Filter, sse *agenttransport.SSERegistry, deps agenttransport.Deps) *Service {
	return &Service{
		configs:    configs,
		prompts:    prompts,
		mcp:        mcp,
		filter:     filter,
		sse:        sse,
		deps:       deps,
		transports: make(map[string]agenttransport.Transport),
	}
}

// Dispatch implements the message-invocation entry point: resolve agentID
// (or the sole configured agent when agentID is empty), assemble the
// request, and deliver it.
func (s *Service) Dispatch(ctx context.Context, agentID string, messages []agentmodel.Message) (*agentmodel.AgentResponse, error) {
	return s.dispatch(ctx, agentID, messages, nil)
}

// DispatchWebhook implements the webhook-triggered entry point: the caller
// supplies the Trigger a validated webhook produced; the Dispatch Service
// still owns prompt composition, tool/server resolution, and restriction
// filtering, exactly as it does for a message dispatch.
func (s *Service) DispatchWebhook(ctx context.Context, agentID string, trigger *agentmodel.Trigger) (*agentmodel.AgentResponse, error) {
	return s.dispatch(ctx, agentID, nil, trigger)
}

func (s *Service) dispatch(ctx context.Context, agentID string, messages []agentmodel.Message, trigger *agentmodel.Trigger) (*agentmodel.AgentResponse, error) {
	agentsCfg, agent, err := s.resolveAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	finalPrompt, err := s.resolvePrompt(ctx, agentsCfg, agent, trigger)
	if err != nil {
		return nil, fmt.Errorf("dispatch: agent %s: resolve prompt: %w", agent.Identifier, err)
	}

	tools, servers, err := s.availableToolsAndServers(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("dispatch: agent %s: resolve tools: %w", agent.Identifier, err)
	}

	transport, err := s.transportFor(agent)
	if err != nil {
		return nil, err
	}

	req := &agentmodel.AgentRequest{
		Agent: agentmodel.AgentInfo{
			Identifier:  agent.Identifier,
			Name:        agent.Name,
			Description: agent.Description,
			Prompt:      finalPrompt,
		},
		Tools:    tools,
		Servers:  servers,
		Messages: messages,
		Trigger:  trigger,
	}

	// Transport-level / validation errors propagate to the caller as-is —
	// the Dispatch Service never retries and never rewrites them.
	return transport.Dispatch(ctx, req)
}

// resolveAgent looks up agentID in the current agents document. An empty
// agentID is only accepted when exactly one agent is configured.
func (s *Service) resolveAgent(ctx context.Context, agentID string) (*config.AgentsConfig, *config.AgentConfig, error) {
	agentsCfg, err := s.configs.Agents(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("dispatch: load agents config: %w", err)
	}

	if agentID == "" {
		if len(agentsCfg.Agents) == 1 {
			return agentsCfg, &agentsCfg.Agents[0], nil
		}
		return nil, nil, fmt.Errorf("dispatch: agent identifier is required (%d agents configured): %w", len(agentsCfg.Agents), ErrAgentIdentifierRequired)
	}

	for i := range agentsCfg.Agents {
		if agentsCfg.Agents[i].Identifier == agentID {
			return agentsCfg, &agentsCfg.Agents[i], nil
		}
	}
	return nil, nil, fmt.Errorf("dispatch: unknown agent %q: %w", agentID, ErrUnknownAgent)
}

// resolvePrompt assembles basePrompt ∥ (agent.prompt ∨ defaultPrompt) ∥
// invocationContext (spec.md §4.9, §6).
func (s *Service) resolvePrompt(ctx context.Context, agentsCfg *config.AgentsConfig, agent *config.AgentConfig, trigger *agentmodel.Trigger) (string, error) {
	base, err := s.prompts.Resolve(ctx, agentsCfg.BasePrompt)
	if err != nil {
		return "", fmt.Errorf("resolve base prompt: %w", err)
	}

	own := agent.Prompt
	if own == "" {
		own = agentsCfg.DefaultPrompt
	}
	resolvedOwn, err := s.prompts.Resolve(ctx, own)
	if err != nil {
		return "", fmt.Errorf("resolve agent prompt: %w", err)
	}

	return prompt.Compose(base, resolvedOwn, invocationContext(trigger)), nil
}

// invocationContext renders the short section named by spec.md §6/§4.9:
// the trigger type, and for webhooks the identifier, name, and
// triggeredAt. A plain message dispatch (no trigger) renders nothing.
func invocationContext(trigger *agentmodel.Trigger) string {
	if trigger == nil {
		return ""
	}
	section := fmt.Sprintf("## Invocation Context\nTrigger type: %s", trigger.Type)
	if trigger.Identifier != "" {
		section += fmt.Sprintf("\nIdentifier: %s", trigger.Identifier)
	}
	if trigger.Name != "" {
		section += fmt.Sprintf("\nName: %s", trigger.Name)
	}
	if !trigger.TriggeredAt.IsZero() {
		section += fmt.Sprintf("\nTriggered at: %s", trigger.TriggeredAt.Format(time.RFC3339))
	}
	return section
}

// availableToolsAndServers queries the MCP Router for tools/list and the
// internal cubicler_available_servers tool, then filters both against the
// agent's restriction config.
func (s *Service) availableToolsAndServers(ctx context.Context, agent *config.AgentConfig) ([]agentmodel.ToolDefinition, []agentmodel.ServerSummary, error) {
	tools, err := s.listAllowedTools(ctx, agent)
	if err != nil {
		return nil, nil, err
	}
	servers, err := s.listAllowedServers(ctx, agent)
	if err != nil {
		return nil, nil, err
	}
	return tools, servers, nil
}

func (s *Service) listAllowedTools(ctx context.Context, agent *config.AgentConfig) ([]agentmodel.ToolDefinition, error) {
	req, err := jsonrpc.NewRequest("dispatch-tools-list", "tools/list", nil)
	if err != nil {
		return nil, err
	}
	resp := s.mcp.Handle(ctx, req)
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("tools/list: %s", resp.Error.Message)
	}

	result, ok := resp.Result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("tools/list: unexpected result shape")
	}
	rawTools, _ := result["tools"].([]map[string]any)

	allowed := make([]agentmodel.ToolDefinition, 0, len(rawTools))
	for _, t := range rawTools {
		name, _ := t["name"].(string)
		if name == "" || !s.filter.IsToolAllowed(agent, name) {
			continue
		}
		desc, _ := t["description"].(string)
		params, _ := t["inputSchema"].(map[string]any)
		allowed = append(allowed, agentmodel.ToolDefinition{Name: name, Description: desc, Parameters: params})
	}
	return allowed, nil
}

func (s *Service) listAllowedServers(ctx context.Context, agent *config.AgentConfig) ([]agentmodel.ServerSummary, error) {
	req, err := jsonrpc.NewRequest("dispatch-available-servers", "tools/call", map[string]any{
		"name": "cubicler_available_servers",
	})
	if err != nil {
		return nil, err
	}
	resp := s.mcp.Handle(ctx, req)
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("cubicler_available_servers: %s", resp.Error.Message)
	}

	result, ok := resp.Result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cubicler_available_servers: unexpected result shape")
	}
	content, _ := result["content"].([]map[string]any)
	if len(content) == 0 {
		return nil, fmt.Errorf("cubicler_available_servers: empty content")
	}
	text, _ := content[0]["text"].(string)

	parsed, err := jsonvalue.Parse([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("cubicler_available_servers: parse response: %w", err)
	}
	serversVal, ok := parsed.Get("servers")
	if !ok {
		return nil, nil
	}
	rawServers, ok := serversVal.Array()
	if !ok {
		return nil, nil
	}

	summaries := make([]agentmodel.ServerSummary, 0, len(rawServers))
	for _, sv := range rawServers {
		m, ok := sv.ToAny().(map[string]any)
		if !ok {
			continue
		}
		identifier, _ := m["identifier"].(string)
		if identifier == "" || !restriction.IsServerAllowed(agent, identifier) {
			continue
		}
		name, _ := m["name"].(string)
		desc, _ := m["description"].(string)
		summaries = append(summaries, agentmodel.ServerSummary{Identifier: identifier, Name: name, Description: desc})
	}
	return summaries, nil
}

// transportFor returns the cached Transport for agent, constructing and
// caching one on first use.
func (s *Service) transportFor(agent *config.AgentConfig) (agenttransport.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.transports[agent.Identifier]; ok {
		return t, nil
	}

	var (
		t   agenttransport.Transport
		err error
	)
	if agent.Transport == config.TransportSSE {
		if s.sse == nil {
			return nil, fmt.Errorf("dispatch: agent %s: transport sse requires an SSE registry", agent.Identifier)
		}
		t = s.sse.Transport(agent.Identifier, s.deps)
	} else {
		t, err = agenttransport.New(agent.Identifier, *agent, s.deps)
		if err != nil {
			return nil, err
		}
	}

	s.transports[agent.Identifier] = t
	return t, nil
}

// RestrictedToolInvoker implements agenttransport.ToolInvoker for
// direct-transport agents (spec.md §4.2 "Direct (in-process)"): it resolves
// the calling agent's AgentConfig, applies the same Restriction Filter
// check every other transport gets via availableToolsAndServers, and only
// then forwards the call to the MCP Router.
type RestrictedToolInvoker struct {
	configs config.Provider
	mcp     Router
	filter  *restriction.Filter
}

var _ agenttransport.ToolInvoker = (*RestrictedToolInvoker)(nil)

// NewRestrictedToolInvoker builds a RestrictedToolInvoker. It has no
// dependency on *Service so it can be constructed before the Dispatch
// Service itself and handed in through agenttransport.Deps.
func NewRestrictedToolInvoker(configs config.Provider, mcp Router, filter *restriction.Filter) *RestrictedToolInvoker {
	return &RestrictedToolInvoker{configs: configs, mcp: mcp, filter: filter}
}

// CallTool resolves agentID, checks tool access, and forwards to the MCP
// Router's tools/call.
func (r *RestrictedToolInvoker) CallTool(ctx context.Context, agentID, toolName string, args map[string]any) (any, error) {
	agentsCfg, err := r.configs.Agents(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispatch: tool invoker: load agents config: %w", err)
	}

	var agent *config.AgentConfig
	for i := range agentsCfg.Agents {
		if agentsCfg.Agents[i].Identifier == agentID {
			agent = &agentsCfg.Agents[i]
			break
		}
	}
	if agent == nil {
		return nil, fmt.Errorf("dispatch: tool invoker: unknown agent %q: %w", agentID, ErrUnknownAgent)
	}

	if err := r.filter.ValidateToolAccess(agent, toolName); err != nil {
		return nil, err
	}

	// cubicler_fetch_server_tools names its target server in args, not in
	// toolName itself — IsToolAllowed's internal-tool branch never looks at
	// args, so the allowedServers/restrictedServers check has to happen
	// here explicitly (spec.md §8 S2).
	if toolName == provider.ToolFetchServerTools {
		serverIdentifier, _ := args["serverIdentifier"].(string)
		if err := r.filter.ValidateServerAccess(agent, serverIdentifier); err != nil {
			return nil, err
		}
	}

	req, err := jsonrpc.NewRequest("direct-tool-call", "tools/call", map[string]any{"name": toolName, "arguments": args})
	if err != nil {
		return nil, err
	}
	resp := r.mcp.Handle(ctx, req)
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("tools/call %s: %s", toolName, resp.Error.Message)
	}
	return resp.Result, nil
}

// Close shuts down every cached Transport (closing stdio pools, etc.).
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transports {
		_ = t.Close()
	}
	s.transports = make(map[string]agenttransport.Transport)
	return nil
}
