package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cubicler/cubicler/pkg/agentmodel"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/httpclient"
	"github.com/cubicler/cubicler/pkg/jsonvalue"
	"github.com/cubicler/cubicler/pkg/toolname"
	"github.com/cubicler/cubicler/pkg/transform"
)

// TokenSource mints the outbound bearer token, mirroring mcptransport.TokenSource
// (duplicated locally to avoid an import cycle with pkg/jwtauth's own
// consumers).
type TokenSource interface {
	Token(ctx context.Context, cfg config.JwtAuthConfig) (string, error)
}

// restProvider converts a server's configured REST endpoints into tools
// (spec.md §4.4 "REST Provider").
type restProvider struct {
	identifier string
	hash       string
	cfg        config.ServerConfig
	httpClient *httpclient.Client
	tokens     TokenSource
}

// NewRESTProvider builds a Provider for a config.ServerConfig whose Kind
// is "rest".
func NewRESTProvider(cfg config.ServerConfig, httpClient *httpclient.Client, tokens TokenSource) Provider {
	return &restProvider{
		identifier: cfg.Identifier,
		hash:       toolname.Hash(cfg.Identifier),
		cfg:        cfg,
		httpClient: httpClient,
		tokens:     tokens,
	}
}

func (p *restProvider) Identifier() string { return p.identifier }

// Initialize is a no-op: REST endpoints have no handshake.
func (p *restProvider) Initialize(ctx context.Context) error { return nil }

func (p *restProvider) ToolsList(ctx context.Context) ([]agentmodel.ToolDefinition, error) {
	defs := make([]agentmodel.ToolDefinition, 0, len(p.cfg.Endpoints))
	for _, ep := range p.cfg.Endpoints {
		params := map[string]any{}
		properties := map[string]any{}
		if props, ok := ep.Parameters["properties"].(map[string]any); ok {
			for k, v := range props {
				properties[k] = v
			}
		}
		if ep.PayloadProperty != "" {
			properties[ep.PayloadProperty] = map[string]any{"type": "object"}
		}
		params["type"] = "object"
		params["properties"] = properties
		defs = append(defs, agentmodel.ToolDefinition{
			Name:        ep.Name,
			Description: ep.Description,
			Parameters:  params,
		})
	}
	return defs, nil
}

func (p *restProvider) CanHandle(externalName string) bool {
	hash, local, ok := toolname.Decode(externalName)
	if !ok || hash != p.hash {
		return false
	}
	for _, ep := range p.cfg.Endpoints {
		if ep.Name == local {
			return true
		}
	}
	return false
}

func (p *restProvider) findEndpoint(name string) (config.RESTEndpointConfig, bool) {
	for _, ep := range p.cfg.Endpoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return config.RESTEndpointConfig{}, false
}

// ToolsCall substitutes {placeholder} path segments from args, URL-encodes
// leftover args as query string, issues the configured method, and runs
// the JSON body through any configured Response Transform.
func (p *restProvider) ToolsCall(ctx context.Context, localName string, args map[string]any) (any, error) {
	ep, ok := p.findEndpoint(localName)
	if !ok {
		return nil, fmt.Errorf("restprovider %s: unknown tool %s", p.identifier, localName)
	}

	remaining := make(map[string]any, len(args))
	for k, v := range args {
		remaining[k] = v
	}

	path := ep.Path
	for k, v := range args {
		placeholder := "{" + k + "}"
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, fmt.Sprintf("%v", v))
			delete(remaining, k)
		}
	}

	var payload any
	if ep.PayloadProperty != "" {
		payload = remaining[ep.PayloadProperty]
		delete(remaining, ep.PayloadProperty)
	}

	query := url.Values{}
	for k, v := range remaining {
		query.Set(k, fmt.Sprintf("%v", v))
	}

	fullURL := strings.TrimRight(p.cfg.URL, "/") + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	method := ep.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range p.cfg.DefaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	if p.cfg.Auth != nil && p.cfg.Auth.Type == "jwt" && p.tokens != nil {
		token, err := p.tokens.Token(ctx, p.cfg.Auth.Config)
		if err != nil {
			return nil, fmt.Errorf("restprovider %s: %w", p.identifier, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("restprovider %s: %s %s: %w", p.identifier, method, fullURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("restprovider %s: %s %s: status %d: %s", p.identifier, method, fullURL, resp.StatusCode, string(respBody))
	}

	value, err := jsonvalue.Parse(respBody)
	if err != nil {
		return string(respBody), nil
	}
	value = transform.Apply(value, ep.Transform)
	return value.ToAny(), nil
}
