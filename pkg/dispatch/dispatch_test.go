package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubicler/cubicler/pkg/agentmodel"
	"github.com/cubicler/cubicler/pkg/agenttransport"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/httpclient"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
	"github.com/cubicler/cubicler/pkg/prompt"
	"github.com/cubicler/cubicler/pkg/provider"
	"github.com/cubicler/cubicler/pkg/restriction"
	"github.com/cubicler/cubicler/pkg/toolname"
)

type fakeConfigs struct {
	agents *config.AgentsConfig
}

func (f *fakeConfigs) Agents(ctx context.Context) (*config.AgentsConfig, error)       { return f.agents, nil }
func (f *fakeConfigs) Providers(ctx context.Context) (*config.ProvidersConfig, error) { return &config.ProvidersConfig{}, nil }
func (f *fakeConfigs) Webhooks(ctx context.Context) (*config.WebhooksConfig, error)   { return &config.WebhooksConfig{}, nil }
func (f *fakeConfigs) Reload(ctx context.Context) error                              { return nil }

type fakeRouter struct{}

func (fakeRouter) Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	switch req.Method {
	case "tools/list":
		weatherHash := toolname.Hash("weather")
		adminHash := toolname.Hash("admin")
		return jsonrpc.ResultResponse(req.ID, map[string]any{
			"tools": []map[string]any{
				{"name": weatherHash + "_get_forecast", "description": "forecast", "inputSchema": map[string]any{}},
				{"name": weatherHash + "_alerts", "description": "alerts", "inputSchema": map[string]any{}},
				{"name": adminHash + "_reboot", "description": "reboot", "inputSchema": map[string]any{}},
			},
		})
	case "tools/call":
		return jsonrpc.ResultResponse(req.ID, map[string]any{
			"content": []map[string]any{{"type": "text", "text": `{"total":2,"servers":[
				{"identifier":"weather","name":"Weather","description":"forecasts","toolsCount":2},
				{"identifier":"admin","name":"Admin","description":"dangerous","toolsCount":1}
			]}`}},
		})
	default:
		return jsonrpc.ErrorResponse(req.ID, jsonrpc.CodeMethodNotFound, "unknown")
	}
}

func newTestService(t *testing.T, agent config.AgentConfig, agentsCfg config.AgentsConfig) (*Service, *agenttransport.Deps) {
	t.Helper()
	agentsCfg.Agents = []config.AgentConfig{agent}
	configs := &fakeConfigs{agents: &agentsCfg}
	registry := toolname.NewRegistry([]string{"weather", "admin"})
	filter := restriction.New(registry)
	deps := agenttransport.Deps{HTTPClient: httpclient.New(), DispatchTimeout: 2 * time.Second}
	svc := New(configs, prompt.New(nil), fakeRouter{}, filter, agenttransport.NewSSERegistry(), deps)
	return svc, &deps
}

func TestDispatchFiltersToolsAndServersByRestriction(t *testing.T) {
	var captured agentmodel.AgentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(agentmodel.AgentResponse{
			Timestamp: time.Now().UTC(), Type: "text", Content: "ok", Metadata: map[string]any{},
		})
	}))
	defer srv.Close()

	agent := config.AgentConfig{
		Identifier:        "bot",
		Name:              "Bot",
		Transport:         config.TransportHTTP,
		URL:               srv.URL,
		Prompt:            "You are Bot.",
		RestrictedTools:   []string{"weather.get_forecast"},
		RestrictedServers: []string{"admin"},
	}
	svc, _ := newTestService(t, agent, config.AgentsConfig{BasePrompt: "Base rules."})

	resp, err := svc.Dispatch(context.Background(), "bot", []agentmodel.Message{
		{Sender: agentmodel.Sender{ID: "u1"}, Type: "text", Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	toolNames := make([]string, len(captured.Tools))
	for i, tl := range captured.Tools {
		toolNames[i] = tl.Name
	}
	assert.NotContains(t, toolNames, toolname.Hash("weather")+"_get_forecast")
	assert.Contains(t, toolNames, toolname.Hash("weather")+"_alerts")
	assert.NotContains(t, toolNames, toolname.Hash("admin")+"_reboot")

	serverIDs := make([]string, len(captured.Servers))
	for i, sv := range captured.Servers {
		serverIDs[i] = sv.Identifier
	}
	assert.Equal(t, []string{"weather"}, serverIDs)

	assert.Contains(t, captured.Agent.Prompt, "Base rules.")
	assert.Contains(t, captured.Agent.Prompt, "You are Bot.")
}

func TestDispatchUnknownAgent(t *testing.T) {
	agent := config.AgentConfig{Identifier: "bot", Transport: config.TransportDirect}
	svc, _ := newTestService(t, agent, config.AgentsConfig{})

	_, err := svc.Dispatch(context.Background(), "nope", nil)
	assert.Error(t, err)
}

func TestDispatchWebhookComposesInvocationContext(t *testing.T) {
	var captured agentmodel.AgentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(agentmodel.AgentResponse{
			Timestamp: time.Now().UTC(), Type: "text", Content: "ok", Metadata: map[string]any{},
		})
	}))
	defer srv.Close()

	agent := config.AgentConfig{Identifier: "bot", Transport: config.TransportHTTP, URL: srv.URL}
	svc, _ := newTestService(t, agent, config.AgentsConfig{DefaultPrompt: "Default prompt."})

	triggeredAt := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	trigger := &agentmodel.Trigger{
		Type: "webhook", Identifier: "deploy-hook", Name: "Deploy Notification", TriggeredAt: triggeredAt,
		Payload: map[string]any{"env": "prod"},
	}
	resp, err := svc.DispatchWebhook(context.Background(), "bot", trigger)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	assert.Contains(t, captured.Agent.Prompt, "Default prompt.")
	assert.Contains(t, captured.Agent.Prompt, "Trigger type: webhook")
	assert.Contains(t, captured.Agent.Prompt, "deploy-hook")
	require.NotNil(t, captured.Trigger)
	assert.Equal(t, "deploy-hook", captured.Trigger.Identifier)
}

func TestDispatchSingleAgentDefaultWhenIDOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(agentmodel.AgentResponse{
			Timestamp: time.Now().UTC(), Type: "text", Content: "solo", Metadata: map[string]any{},
		})
	}))
	defer srv.Close()

	agent := config.AgentConfig{Identifier: "only-bot", Transport: config.TransportHTTP, URL: srv.URL}
	svc, _ := newTestService(t, agent, config.AgentsConfig{})

	resp, err := svc.Dispatch(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "solo", resp.Content)
}

func TestDispatchTransportIsCachedAcrossCalls(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(agentmodel.AgentResponse{
			Timestamp: time.Now().UTC(), Type: "text", Content: fmt.Sprintf("call-%d", calls), Metadata: map[string]any{},
		})
	}))
	defer srv.Close()

	agent := config.AgentConfig{Identifier: "bot", Transport: config.TransportHTTP, URL: srv.URL}
	svc, _ := newTestService(t, agent, config.AgentsConfig{})

	_, err := svc.Dispatch(context.Background(), "bot", nil)
	require.NoError(t, err)
	_, err = svc.Dispatch(context.Background(), "bot", nil)
	require.NoError(t, err)

	svc.mu.Lock()
	size := len(svc.transports)
	svc.mu.Unlock()
	assert.Equal(t, 1, size)
	assert.Equal(t, 2, calls)
}

func newTestInvoker(agent config.AgentConfig) *RestrictedToolInvoker {
	registry := toolname.NewRegistry([]string{"weather", "admin"})
	filter := restriction.New(registry)
	configs := &fakeConfigs{agents: &config.AgentsConfig{Agents: []config.AgentConfig{agent}}}
	return NewRestrictedToolInvoker(configs, fakeRouter{}, filter)
}

func TestRestrictedToolInvokerForwardsAllowedCall(t *testing.T) {
	agent := config.AgentConfig{Identifier: "bot", Transport: config.TransportDirect}
	inv := newTestInvoker(agent)

	result, err := inv.CallTool(context.Background(), "bot", toolname.Hash("weather")+"_alerts", map[string]any{})
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestRestrictedToolInvokerDeniesRestrictedTool(t *testing.T) {
	agent := config.AgentConfig{
		Identifier:      "bot",
		Transport:       config.TransportDirect,
		RestrictedTools: []string{"admin.reboot"},
	}
	inv := newTestInvoker(agent)

	_, err := inv.CallTool(context.Background(), "bot", toolname.Hash("admin")+"_reboot", map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, restriction.ErrAccessDenied)
}

func TestRestrictedToolInvokerUnknownAgent(t *testing.T) {
	agent := config.AgentConfig{Identifier: "bot", Transport: config.TransportDirect}
	inv := newTestInvoker(agent)

	_, err := inv.CallTool(context.Background(), "nope", toolname.Hash("weather")+"_alerts", map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

// TestRestrictedToolInvokerDeniesFetchServerToolsForRestrictedServer is
// spec.md §8 S2 made concrete: an agent allowed only "news_service" must
// not be able to read another server's tool list via
// cubicler_fetch_server_tools just because that internal tool itself is
// unrestricted.
func TestRestrictedToolInvokerDeniesFetchServerToolsForRestrictedServer(t *testing.T) {
	agent := config.AgentConfig{
		Identifier:     "bot",
		Transport:      config.TransportDirect,
		AllowedServers: []string{"news_service"},
	}
	inv := newTestInvoker(agent)

	_, err := inv.CallTool(context.Background(), "bot", provider.ToolFetchServerTools, map[string]any{
		"serverIdentifier": "weather_service",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, restriction.ErrAccessDenied)
}

func TestRestrictedToolInvokerAllowsFetchServerToolsForAllowedServer(t *testing.T) {
	agent := config.AgentConfig{
		Identifier:     "bot",
		Transport:      config.TransportDirect,
		AllowedServers: []string{"weather"},
	}
	inv := newTestInvoker(agent)

	result, err := inv.CallTool(context.Background(), "bot", provider.ToolFetchServerTools, map[string]any{
		"serverIdentifier": "weather",
	})
	require.NoError(t, err)
	assert.NotNil(t, result)
}
