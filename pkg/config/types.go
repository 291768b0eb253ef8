// Package config defines Cubicler's configuration data model (spec.md §3)
// and the Provider boundary the dispatch engine consumes it through.
// Configuration loading itself — file/URL resolution, environment
// substitution, caching, and reload — is an external collaborator (spec.md
// §1); the minimal, concrete provider the rest of the repo runs against
// lives in the fileconfig subpackage, which uses this package's decoding,
// environment-substitution, and type definitions.
package config

import (
	"fmt"
	"regexp"
	"time"
)

var identifierPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidIdentifier reports whether s is a legal Cubicler identifier.
func ValidIdentifier(s string) bool {
	return s != "" && identifierPattern.MatchString(s)
}

// TransportKind discriminates how a server or agent is reached.
type TransportKind string

const (
	TransportHTTP  TransportKind = "http"
	TransportSSE   TransportKind = "sse"
	TransportStdio TransportKind = "stdio"
	TransportAuto  TransportKind = "auto"   // servers only
	TransportDirect TransportKind = "direct" // agents only
)

// JwtAuthConfig configures the JWT helper (spec.md §4.7).
type JwtAuthConfig struct {
	// Static credential mode.
	Token string `yaml:"token,omitempty"`

	// OAuth2 client-credentials mode.
	TokenURL        string `yaml:"tokenUrl,omitempty"`
	ClientID        string `yaml:"clientId,omitempty"`
	ClientSecret    string `yaml:"clientSecret,omitempty"`
	Audience        string `yaml:"audience,omitempty"`
	RefreshThreshold Duration `yaml:"refreshThreshold,omitempty"`

	// Verification parameters, used when this config describes a token
	// Cubicler must validate rather than mint (webhook jwt auth, §6).
	Secret     string   `yaml:"secret,omitempty"`
	Issuer     string   `yaml:"issuer,omitempty"`
	Algorithms []string `yaml:"algorithms,omitempty"`
}

// IsOAuth2 reports whether this config describes the client-credentials flow.
func (j *JwtAuthConfig) IsOAuth2() bool {
	return j != nil && j.TokenURL != ""
}

// IsStatic reports whether this config carries a pre-issued token.
func (j *JwtAuthConfig) IsStatic() bool {
	return j != nil && j.Token != "" && j.TokenURL == ""
}

// ServerAuthConfig is the `auth` block of a ServerConfig.
type ServerAuthConfig struct {
	Type   string        `yaml:"type"` // only "jwt" today
	Config JwtAuthConfig `yaml:"config"`
}

// ServerConfig describes one tool provider (spec.md §3 "ServerConfig").
type ServerConfig struct {
	Identifier string        `yaml:"identifier"`
	Name       string        `yaml:"name"`
	Transport  TransportKind `yaml:"transport"`

	// URL-based transports (http, sse, auto).
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Auth    *ServerAuthConfig `yaml:"auth,omitempty"`

	// REST server only.
	Kind      string              `yaml:"kind,omitempty"` // "mcp" (default) or "rest"
	Endpoints []RESTEndpointConfig `yaml:"endpoints,omitempty"`
	DefaultHeaders map[string]string `yaml:"defaultHeaders,omitempty"`

	// Stdio transport.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Cwd     string            `yaml:"cwd,omitempty"`
}

// RESTEndpointConfig describes one REST tool (spec.md §4.4 "REST Provider").
type RESTEndpointConfig struct {
	Name            string            `yaml:"name"`
	Description     string            `yaml:"description"`
	Path            string            `yaml:"path"`
	Method          string            `yaml:"method"`
	Parameters      map[string]any    `yaml:"parameters,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty"`
	PayloadProperty string            `yaml:"payloadProperty,omitempty"`
	Transform       []TransformStep   `yaml:"responseTransform,omitempty"`
}

// Validate checks structural invariants of a ServerConfig.
func (s *ServerConfig) Validate() error {
	if !ValidIdentifier(s.Identifier) {
		return fmt.Errorf("server: invalid identifier %q", s.Identifier)
	}
	switch s.Transport {
	case TransportHTTP, TransportSSE, TransportAuto:
		if s.URL == "" {
			return fmt.Errorf("server %s: url is required for transport %s", s.Identifier, s.Transport)
		}
	case TransportStdio:
		if s.Command == "" {
			return fmt.Errorf("server %s: command is required for stdio transport", s.Identifier)
		}
	case "":
		if s.URL == "" && s.Command == "" {
			return fmt.Errorf("server %s: one of url or command is required", s.Identifier)
		}
	default:
		return fmt.Errorf("server %s: unknown transport %q", s.Identifier, s.Transport)
	}
	return nil
}

// AgentConfig describes one agent (spec.md §3 "AgentConfig").
type AgentConfig struct {
	Identifier  string        `yaml:"identifier"`
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Transport   TransportKind `yaml:"transport"`

	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Auth    *ServerAuthConfig `yaml:"auth,omitempty"`

	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Cwd     string            `yaml:"cwd,omitempty"`

	// Pool* fields configure the stdio transport's worker pool; they are
	// ignored for every other transport. Zero values fall back to
	// stdiopool's own defaults (single worker, no queueing).
	PoolMaxSize      int           `yaml:"poolMaxSize,omitempty"`
	PoolQueueMaxSize int           `yaml:"poolQueueMaxSize,omitempty"`
	PoolMaxIdleTime  time.Duration `yaml:"poolMaxIdleTime,omitempty"`
	PoolQueueTimeout time.Duration `yaml:"poolQueueTimeout,omitempty"`

	// Prompt is inline text, a file path, or a URL; resolved by prompt.Provider.
	Prompt string `yaml:"prompt,omitempty"`

	AllowedServers    []string `yaml:"allowedServers,omitempty"`
	AllowedTools      []string `yaml:"allowedTools,omitempty"`
	RestrictedServers []string `yaml:"restrictedServers,omitempty"`
	RestrictedTools   []string `yaml:"restrictedTools,omitempty"`
}

// Validate checks structural invariants of an AgentConfig.
func (a *AgentConfig) Validate() error {
	if !ValidIdentifier(a.Identifier) {
		return fmt.Errorf("agent: invalid identifier %q", a.Identifier)
	}
	switch a.Transport {
	case TransportHTTP, TransportSSE:
		if a.URL == "" {
			return fmt.Errorf("agent %s: url is required for transport %s", a.Identifier, a.Transport)
		}
	case TransportStdio:
		if a.Command == "" {
			return fmt.Errorf("agent %s: command is required for stdio transport", a.Identifier)
		}
	case TransportDirect:
		// no external endpoint required
	default:
		return fmt.Errorf("agent %s: unknown transport %q", a.Identifier, a.Transport)
	}
	return nil
}

// WebhookAuthConfig configures webhook authentication (spec.md §3, §6).
type WebhookAuthConfig struct {
	Type   string        `yaml:"type"` // "signature" | "bearer" | "jwt"
	Secret string        `yaml:"secret,omitempty"`
	Token  string        `yaml:"token,omitempty"`
	JWT    JwtAuthConfig `yaml:"jwt,omitempty"`
}

// WebhookConfig describes one inbound webhook (spec.md §3 "WebhookConfig").
type WebhookConfig struct {
	Identifier  string             `yaml:"identifier"`
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Auth        *WebhookAuthConfig `yaml:"auth,omitempty"`
	Agents      []string           `yaml:"agents"`
	PayloadTransform []TransformStep `yaml:"payload_transform,omitempty"`
}

// AgentsConfig is the top-level document listing all agents. BasePrompt and
// DefaultPrompt are each inline text, a file path, or a URL (resolved by
// prompt.Provider) and feed the final-prompt formula "basePrompt ∥
// (agent.prompt ∨ defaultPrompt) ∥ invocationContext": BasePrompt is
// prepended ahead of every agent's own prompt, and DefaultPrompt stands in
// for any agent that configures no prompt of its own.
type AgentsConfig struct {
	BasePrompt    string        `yaml:"basePrompt,omitempty"`
	DefaultPrompt string        `yaml:"defaultPrompt,omitempty"`
	Agents        []AgentConfig `yaml:"agents"`
}

// ProvidersConfig is the top-level document listing all tool providers.
type ProvidersConfig struct {
	Servers []ServerConfig `yaml:"servers"`
}

// WebhooksConfig is the top-level document listing all webhooks.
type WebhooksConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// TransformStep is one step of a Response Transform pipeline (spec.md §4.10).
type TransformStep struct {
	Path      string         `yaml:"path"`
	Transform string         `yaml:"transform"` // map|date_format|template|regex_replace|remove
	Map       map[string]any `yaml:"map,omitempty"`
	Format    string         `yaml:"format,omitempty"`   // date_format token string
	Template  string         `yaml:"template,omitempty"` // template transform
	Pattern   string         `yaml:"pattern,omitempty"`  // regex_replace
	Replacement string       `yaml:"replacement,omitempty"`
}
