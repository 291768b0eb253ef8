// Package webhook implements Webhook Ingest (C9, spec.md §6): authenticate
// an inbound webhook call against its configured auth mode, apply its
// payload transform, build a Trigger, and hand off to the Dispatch
// Service.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cubicler/cubicler/pkg/agentmodel"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonvalue"
	"github.com/cubicler/cubicler/pkg/transform"
)

// ErrAuthenticationFailed is returned for every authentication failure,
// regardless of auth mode or which check tripped — spec.md §6's uniform
// 401 body.
var ErrAuthenticationFailed = errors.New("Authentication failed")

// ErrUnknownWebhook is returned when :identifier names no configured
// webhook (HTTP 404).
var ErrUnknownWebhook = errors.New("unknown webhook")

// ErrAgentNotAuthorized is returned when :agentId is not in the webhook's
// allowed agents list (HTTP 403).
var ErrAgentNotAuthorized = errors.New("agent not authorized for webhook")

// Dispatcher is the subset of the Dispatch Service Webhook Ingest needs.
type Dispatcher interface {
	DispatchWebhook(ctx context.Context, agentID string, trigger *agentmodel.Trigger) (*agentmodel.AgentResponse, error)
}

// TokenSource mints the expected token for a webhook's jwt auth mode
// (spec.md §6: "JWT obtained from the helper must equal the incoming
// bearer token").
type TokenSource interface {
	Token(ctx context.Context, cfg config.JwtAuthConfig) (string, error)
}

// Service authenticates, transforms, and forwards inbound webhooks.
type Service struct {
	configs    config.Provider
	dispatcher Dispatcher
	tokens     TokenSource
}

// New constructs a Service.
func New(configs config.Provider, dispatcher Dispatcher, tokens TokenSource) *Service {
	return &Service{configs: configs, dispatcher: dispatcher, tokens: tokens}
}

// Handle authenticates and dispatches one inbound webhook call. rawBody is
// the exact bytes received, required for signature verification to match
// the byte-for-byte payload the sender signed.
func (s *Service) Handle(ctx context.Context, identifier, agentID string, rawBody []byte, headers http.Header) (*agentmodel.AgentResponse, error) {
	webhooksCfg, err := s.configs.Webhooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("webhook: load webhooks config: %w", err)
	}

	hook := findWebhook(webhooksCfg, identifier)
	if hook == nil {
		return nil, ErrUnknownWebhook
	}
	if !containsAgent(hook.Agents, agentID) {
		return nil, ErrAgentNotAuthorized
	}

	if hook.Auth != nil {
		if err := s.authenticate(ctx, hook.Auth, rawBody, headers); err != nil {
			return nil, ErrAuthenticationFailed
		}
	}

	payload, err := jsonvalue.Parse(rawBody)
	if err != nil {
		return nil, fmt.Errorf("webhook: %s: invalid JSON payload: %w", identifier, err)
	}
	transformed := transform.Apply(payload, hook.PayloadTransform)
	payloadMap, _ := transformed.ToAny().(map[string]any)

	trigger := &agentmodel.Trigger{
		Type:        "webhook",
		Identifier:  hook.Identifier,
		Name:        hook.Name,
		Description: hook.Description,
		TriggeredAt: time.Now().UTC(),
		Payload:     payloadMap,
	}

	return s.dispatcher.DispatchWebhook(ctx, agentID, trigger)
}

func (s *Service) authenticate(ctx context.Context, auth *config.WebhookAuthConfig, rawBody []byte, headers http.Header) error {
	switch auth.Type {
	case "signature":
		return verifySignature(auth.Secret, rawBody, headers.Get("x-signature-256"))
	case "bearer":
		return verifyBearer(auth.Token, headers.Get("Authorization"))
	case "jwt":
		expected, err := s.tokens.Token(ctx, auth.JWT)
		if err != nil {
			return fmt.Errorf("mint expected jwt: %w", err)
		}
		return verifyBearer(expected, headers.Get("Authorization"))
	default:
		return fmt.Errorf("unknown webhook auth type %q", auth.Type)
	}
}

func verifySignature(secret string, rawBody []byte, header string) error {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return fmt.Errorf("missing or malformed x-signature-256 header")
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return fmt.Errorf("malformed signature hex: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	want := mac.Sum(nil)

	if !hmac.Equal(got, want) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func verifyBearer(expected, header string) error {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return fmt.Errorf("missing or malformed Authorization header")
	}
	got := strings.TrimPrefix(header, prefix)
	if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return fmt.Errorf("token mismatch")
	}
	return nil
}

func findWebhook(cfg *config.WebhooksConfig, identifier string) *config.WebhookConfig {
	for i := range cfg.Webhooks {
		if cfg.Webhooks[i].Identifier == identifier {
			return &cfg.Webhooks[i]
		}
	}
	return nil
}

func containsAgent(agents []string, agentID string) bool {
	for _, a := range agents {
		if a == agentID {
			return true
		}
	}
	return false
}
