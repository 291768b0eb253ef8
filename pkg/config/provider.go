package config

import "context"

// Provider is the configuration boundary the rest of Cubicler depends on
// (spec.md §1, §6). Implementations resolve the three document kinds from
// wherever they live — local file, URL, or otherwise — and are responsible
// for any caching/reload policy; callers only see the resolved structs.
type Provider interface {
	// Agents returns the current AgentsConfig document.
	Agents(ctx context.Context) (*AgentsConfig, error)

	// Providers returns the current ProvidersConfig document.
	Providers(ctx context.Context) (*ProvidersConfig, error)

	// Webhooks returns the current WebhooksConfig document.
	Webhooks(ctx context.Context) (*WebhooksConfig, error)

	// Reload forces re-resolution of all three documents, bypassing any
	// cache. A failed reload must leave the previously cached documents
	// intact and return the error (spec.md §6: bad config must not take
	// down an already-running broker).
	Reload(ctx context.Context) error
}
