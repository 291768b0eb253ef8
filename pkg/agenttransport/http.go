package agenttransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cubicler/cubicler/pkg/agentmodel"
	"github.com/cubicler/cubicler/pkg/config"
)

type httpTransport struct {
	agentID string
	cfg     config.AgentConfig
	deps    Deps
}

func newHTTPTransport(agentID string, cfg config.AgentConfig, deps Deps) *httpTransport {
	return &httpTransport{agentID: agentID, cfg: cfg, deps: deps}
}

func (t *httpTransport) Dispatch(ctx context.Context, req *agentmodel.AgentRequest) (*agentmodel.AgentResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if t.cfg.Auth != nil && t.cfg.Auth.Type == "jwt" {
		token, err := t.deps.TokenSource.Token(ctx, t.cfg.Auth.Config)
		if err != nil {
			return nil, fmt.Errorf("agenttransport: agent %s: token fetch failed: %w", t.agentID, err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.deps.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agenttransport: agent %s: dispatch failed: %w", t.agentID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agenttransport: agent %s: status %d: %s", t.agentID, resp.StatusCode, string(respBody))
	}

	var out agentmodel.AgentResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("agenttransport: agent %s: invalid response body: %w", t.agentID, err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("agenttransport: agent %s: %w", t.agentID, err)
	}
	return &out, nil
}

func (t *httpTransport) Close() error { return nil }
