package fileconfig

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/httpclient"
)

// Options configures a Provider.
type Options struct {
	// AgentsSource, ProvidersSource, WebhooksSource are each either a local
	// file path or an http(s) URL (spec.md §6). WebhooksSource may be empty
	// if the deployment has no webhooks.
	AgentsSource    string
	ProvidersSource string
	WebhooksSource  string

	// TTL bounds how long a resolved document is served from cache before
	// the next read triggers a re-fetch; zero disables expiry (file-watch
	// or explicit Reload are then the only refresh paths).
	TTL time.Duration

	// HTTPClient is used for URL sources; a default is constructed if nil.
	HTTPClient *httpclient.Client
}

// Provider implements config.Provider by loading each document from a file
// or URL, substituting environment references, and caching the decoded
// result for TTL (spec.md §6, §10.3 — grounded on
// hector/pkg/config/koanf_loader.go's load→expand→unmarshal pipeline).
type Provider struct {
	agents    *document[config.AgentsConfig]
	providers *document[config.ProvidersConfig]
	webhooks  *document[config.WebhooksConfig]
}

// New constructs a fileconfig.Provider. WebhooksSource may be left empty.
func New(opts Options) (*Provider, error) {
	client := opts.HTTPClient
	if client == nil {
		client = httpclient.New()
	}

	agentsSrc, err := newSource(opts.AgentsSource, client)
	if err != nil {
		return nil, fmt.Errorf("agents source: %w", err)
	}
	providersSrc, err := newSource(opts.ProvidersSource, client)
	if err != nil {
		return nil, fmt.Errorf("providers source: %w", err)
	}

	p := &Provider{
		agents:    newDocument[config.AgentsConfig](agentsSrc, opts.TTL),
		providers: newDocument[config.ProvidersConfig](providersSrc, opts.TTL),
	}

	if opts.WebhooksSource != "" {
		webhooksSrc, err := newSource(opts.WebhooksSource, client)
		if err != nil {
			return nil, fmt.Errorf("webhooks source: %w", err)
		}
		p.webhooks = newDocument[config.WebhooksConfig](webhooksSrc, opts.TTL)
	} else {
		p.webhooks = newDocument[config.WebhooksConfig](nil, opts.TTL)
	}

	return p, nil
}

func (p *Provider) Agents(ctx context.Context) (*config.AgentsConfig, error) {
	return p.agents.get(ctx)
}

func (p *Provider) Providers(ctx context.Context) (*config.ProvidersConfig, error) {
	return p.providers.get(ctx)
}

func (p *Provider) Webhooks(ctx context.Context) (*config.WebhooksConfig, error) {
	if p.webhooks.src == nil {
		return &config.WebhooksConfig{}, nil
	}
	return p.webhooks.get(ctx)
}

// Reload bypasses all three caches and re-resolves every document. If any
// document fails to load or parse, every document keeps the value it had
// cached before the call and the error is returned (spec.md §6).
func (p *Provider) Reload(ctx context.Context) error {
	prevAgents := p.agents.cache.peek()
	prevProviders := p.providers.cache.peek()
	restore := func() {
		if prevAgents != nil {
			p.agents.cache.set(prevAgents)
		} else {
			p.agents.cache.Clear()
		}
		if prevProviders != nil {
			p.providers.cache.set(prevProviders)
		} else {
			p.providers.cache.Clear()
		}
	}

	if err := p.agents.reload(ctx); err != nil {
		return fmt.Errorf("reload agents: %w", err)
	}
	if err := p.providers.reload(ctx); err != nil {
		restore()
		return fmt.Errorf("reload providers: %w", err)
	}
	if p.webhooks.src != nil {
		if err := p.webhooks.reload(ctx); err != nil {
			restore()
			return fmt.Errorf("reload webhooks: %w", err)
		}
	}
	return nil
}

// ClearCache drops all three cached documents without re-fetching; the next
// Agents/Providers/Webhooks call re-resolves from source.
func (p *Provider) ClearCache() {
	p.agents.cache.Clear()
	p.providers.cache.Clear()
	if p.webhooks.src != nil {
		p.webhooks.cache.Clear()
	}
}

// WatchAndReload starts file-watchers (where the underlying source supports
// them) and reloads the affected document whenever one fires, logging but
// not propagating reload failures — a transient bad edit must not crash the
// broker (spec.md §6).
func (p *Provider) WatchAndReload(ctx context.Context) {
	watchDocument(ctx, "agents", p.agents)
	watchDocument(ctx, "providers", p.providers)
	if p.webhooks.src != nil {
		watchDocument(ctx, "webhooks", p.webhooks)
	}
}

func watchDocument[T any](ctx context.Context, name string, d *document[T]) {
	ch, err := d.watchSource(ctx)
	if err != nil || ch == nil {
		return
	}
	go func() {
		for range ch {
			if err := d.reload(ctx); err != nil {
				slog.Warn("config reload failed", "document", name, "error", err)
			} else {
				slog.Info("config reloaded", "document", name)
			}
		}
	}()
}

// Close releases any resources (file watchers) held by the provider's
// sources.
func (p *Provider) Close() error {
	var firstErr error
	for _, d := range []source{p.agents.src, p.providers.src, p.webhooks.src} {
		if d == nil {
			continue
		}
		if err := d.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// document owns one (source, cache) pair and the decode pipeline shared by
// all three document kinds.
type document[T any] struct {
	src   source
	cache *ttlCacheOf[T]
}

func newDocument[T any](src source, ttl time.Duration) *document[T] {
	return &document[T]{src: src, cache: newTTLCacheOf[T](ttl)}
}

func (d *document[T]) get(ctx context.Context) (*T, error) {
	if v, fresh := d.cache.get(); fresh {
		return v, nil
	}
	v, err := d.reloadAndReturn(ctx)
	if err != nil {
		if stale := d.cache.peek(); stale != nil {
			return stale, nil
		}
		return nil, err
	}
	return v, nil
}

func (d *document[T]) reload(ctx context.Context) error {
	_, err := d.reloadAndReturn(ctx)
	return err
}

func (d *document[T]) reloadAndReturn(ctx context.Context) (*T, error) {
	if d.src == nil {
		var zero T
		return &zero, nil
	}
	raw, err := d.src.load(ctx)
	if err != nil {
		return nil, err
	}
	decoded, err := decode[T](raw)
	if err != nil {
		return nil, err
	}
	d.cache.set(decoded)
	return decoded, nil
}

func (d *document[T]) watchSource(ctx context.Context) (<-chan struct{}, error) {
	if d.src == nil {
		return nil, nil
	}
	return d.src.watch(ctx)
}

// decode parses raw YAML bytes, substitutes environment references against
// the decoded tree, then mapstructure-decodes the result into T using
// Cubicler's shared decoder config (yaml tags, Duration hook).
func decode[T any](raw []byte) (*T, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	expanded := config.ExpandEnvVarsInData(k.Raw())
	expandedMap, ok := expanded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected document shape after environment expansion")
	}

	k2 := koanf.New(".")
	if err := k2.Load(confmap.Provider(expandedMap, "."), nil); err != nil {
		return nil, fmt.Errorf("reload expanded document: %w", err)
	}

	var result T
	decCfg := config.DecoderConfig()
	decCfg.Result = &result
	if err := k2.UnmarshalWithConf("", &result, koanf.UnmarshalConf{
		Tag:           "yaml",
		DecoderConfig: decCfg,
	}); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &result, nil
}
