// Command cubicler runs the dispatch engine as a standalone HTTP server:
// it loads the three configuration documents, builds every Tool Provider,
// the MCP Router, the Restriction Filter, the Dispatch Service, and the
// Webhook Ingest service, then serves spec.md §6's external interfaces
// until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/cubicler/cubicler/pkg/agenttransport"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/config/fileconfig"
	"github.com/cubicler/cubicler/pkg/dispatch"
	"github.com/cubicler/cubicler/pkg/httpclient"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
	"github.com/cubicler/cubicler/pkg/jwtauth"
	"github.com/cubicler/cubicler/pkg/logger"
	"github.com/cubicler/cubicler/pkg/mcptransport"
	"github.com/cubicler/cubicler/pkg/observability"
	"github.com/cubicler/cubicler/pkg/prompt"
	"github.com/cubicler/cubicler/pkg/provider"
	"github.com/cubicler/cubicler/pkg/restriction"
	"github.com/cubicler/cubicler/pkg/router"
	"github.com/cubicler/cubicler/pkg/server"
	"github.com/cubicler/cubicler/pkg/toolname"
	"github.com/cubicler/cubicler/pkg/webhook"
)

// CLI defines cubicler's command-line interface (mirrors hector/cmd/hector's
// kong-based CLI, narrowed to the flags a broker — not an agent runtime —
// needs).
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the dispatch engine's HTTP server."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" env:"CUBICLER_LOG_LEVEL"`
	LogFile   string `help:"Log file path (empty = stderr)." env:"CUBICLER_LOG_FILE"`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple" env:"CUBICLER_LOG_FORMAT"`
	EnvFile   string `help:"Path to a .env file to load before resolving configuration." default:".env"`
}

// VersionCmd prints the build version and exits.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("cubicler dev")
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	AgentsSource    string `help:"Agents config source (file path or URL)." default:"agents.yaml" env:"CUBICLER_AGENTS_SOURCE"`
	ProvidersSource string `help:"Providers config source (file path or URL)." default:"providers.yaml" env:"CUBICLER_PROVIDERS_SOURCE"`
	WebhooksSource  string `help:"Webhooks config source (file path or URL); empty disables webhook ingest." env:"CUBICLER_WEBHOOKS_SOURCE"`

	Host string `help:"Address to listen on." default:"0.0.0.0" env:"CUBICLER_HOST"`
	Port int    `help:"Port to listen on." default:"1503" env:"CUBICLER_PORT"`

	ConfigCacheTTL time.Duration `name:"config-cache-ttl" help:"How long a resolved config document is cached before re-fetch." default:"5m"`
	ConfigWatch    bool          `name:"config-watch" help:"Watch file-based config sources and reload on change." default:"true" negatable:""`

	CallTimeout     time.Duration `name:"call-timeout" help:"Per tools/call timeout for MCP/REST providers." default:"30s"`
	DispatchTimeout time.Duration `name:"dispatch-timeout" help:"Per-dispatch timeout for agent transports." default:"90s"`

	OtelEnabled      bool    `name:"otel-enabled" help:"Enable OpenTelemetry tracing." default:"false"`
	OtelExporter     string  `name:"otel-exporter" help:"Trace exporter (stdout or otlp)." default:"stdout"`
	OtelEndpoint     string  `name:"otel-endpoint" help:"OTLP/gRPC collector endpoint." env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelSamplingRate float64 `name:"otel-sampling-rate" help:"Trace sampling rate (0.0-1.0)." default:"1.0"`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("cubicler"),
		kong.Description("Cubicler - MCP/REST tool-provider broker"),
		kong.UsageOnError(),
	)

	if err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if cli.EnvFile != "" {
		if err := godotenv.Load(cli.EnvFile); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to load env file", "path", cli.EnvFile, "error", err)
		}
	}

	if err := ctx.Run(&cli); err != nil {
		slog.Error("cubicler exited with error", "error", err)
		os.Exit(1)
	}
}

func initLogger(level, file, format string) error {
	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return err
	}
	out := os.Stderr
	if file != "" {
		f, _, err := logger.OpenLogFile(file)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", file, err)
		}
		out = f
	}
	logger.Init(parsed, out, format)
	return nil
}

// Run wires every component and serves until ctx is cancelled by
// SIGINT/SIGTERM.
func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := httpclient.New()
	tokens := jwtauth.NewTokenProvider(client)
	prompts := prompt.New(client)

	configs, err := fileconfig.New(fileconfig.Options{
		AgentsSource:    c.AgentsSource,
		ProvidersSource: c.ProvidersSource,
		WebhooksSource:  c.WebhooksSource,
		TTL:             c.ConfigCacheTTL,
		HTTPClient:      client,
	})
	if err != nil {
		return fmt.Errorf("build config provider: %w", err)
	}
	defer configs.Close()

	if c.ConfigWatch {
		configs.WatchAndReload(ctx)
	}

	obs, err := observability.Start(ctx, observability.Config{
		Enabled:      c.OtelEnabled,
		Exporter:     c.OtelExporter,
		Endpoint:     c.OtelEndpoint,
		ServiceName:  "cubicler",
		SamplingRate: c.OtelSamplingRate,
	})
	if err != nil {
		return fmt.Errorf("start tracing: %w", err)
	}
	defer obs.Shutdown(context.Background())
	metrics := observability.New()

	mcpRouter, backends, err := buildRouter(ctx, configs, client, tokens, c.CallTimeout)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	registry := toolname.NewRegistry(serverIdentifiers(backends))
	filter := restriction.New(registry)

	sse := agenttransport.NewSSERegistry()
	agentDeps := agenttransport.Deps{
		HTTPClient:      client,
		TokenSource:     tokens,
		DispatchTimeout: c.DispatchTimeout,
		ToolInvoker:     dispatch.NewRestrictedToolInvoker(configs, mcpRouter, filter),
	}

	dispatcher := dispatch.New(configs, prompts, mcpRouter, filter, sse, agentDeps)
	defer dispatcher.Close()

	webhooks := webhook.New(configs, dispatcher, tokens)

	health := &healthChecker{configs: configs, router: mcpRouter}

	handler := server.New(server.Deps{
		Router:     mcpRouter,
		Dispatcher: dispatcher,
		Webhooks:   webhooks,
		SSE:        sse,
		Health:     health,
		Metrics:    metrics,
	})

	addr := fmt.Sprintf("%s:%d", c.Host, c.Port)
	httpServer := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("cubicler listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildRouter loads the providers document and registers the internal
// provider, then every MCP/REST provider, in the order spec.md §4.5
// requires (internal, then MCP, then REST).
func buildRouter(ctx context.Context, configs config.Provider, client *httpclient.Client, tokens *jwtauth.TokenProvider, callTimeout time.Duration) (*router.Router, []provider.Backend, error) {
	providersCfg, err := configs.Providers(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load providers config: %w", err)
	}

	r := router.New("cubicler", "dev")
	backends := make([]provider.Backend, 0, len(providersCfg.Servers))

	// MCP servers first, then REST servers, each group in config order.
	for _, wantREST := range []bool{false, true} {
		for _, sc := range providersCfg.Servers {
			if (sc.Kind == "rest") != wantREST {
				continue
			}
			p, err := buildProvider(sc, client, tokens, callTimeout)
			if err != nil {
				return nil, nil, fmt.Errorf("server %s: %w", sc.Identifier, err)
			}
			backends = append(backends, provider.Backend{
				Identifier:  sc.Identifier,
				Name:        sc.Name,
				Description: sc.Name,
				Provider:    p,
			})
		}
	}

	r.Register("", provider.NewInternalProvider(backends))
	for _, b := range backends {
		r.Register(b.Identifier, b.Provider)
	}

	return r, backends, nil
}

func buildProvider(sc config.ServerConfig, client *httpclient.Client, tokens *jwtauth.TokenProvider, callTimeout time.Duration) (provider.Provider, error) {
	if sc.Kind == "rest" {
		return provider.NewRESTProvider(sc, client, tokens), nil
	}

	transport, err := mcptransport.New(sc.Identifier, sc, mcptransport.Deps{
		HTTPClient:     client,
		TokenSource:    tokens,
		RequestTimeout: callTimeout,
	})
	if err != nil {
		return nil, err
	}
	return provider.NewMCPProvider(sc.Identifier, transport), nil
}

func serverIdentifiers(backends []provider.Backend) []string {
	ids := make([]string, len(backends))
	for i, b := range backends {
		ids[i] = b.Identifier
	}
	return ids
}

// healthChecker implements server.HealthChecker by re-resolving the agents
// and providers documents and exercising the MCP Router's initialize path,
// the way toolhive vmcp's handleHealth reports composite readiness
// (other_examples).
type healthChecker struct {
	configs config.Provider
	router  server.Router
}

func (h *healthChecker) Health(ctx context.Context) server.Health {
	health := server.Health{Status: "healthy", Timestamp: time.Now()}

	agentsCfg, err := h.configs.Agents(ctx)
	if err != nil {
		health.Status = "unhealthy"
		health.Services.Agents = server.ServiceHealth{Status: "unhealthy", Error: err.Error()}
	} else {
		names := make([]string, len(agentsCfg.Agents))
		for i, a := range agentsCfg.Agents {
			names[i] = a.Identifier
		}
		health.Services.Agents = server.ServiceHealth{Status: "healthy", Count: len(names), Agents: names}
	}

	providersCfg, err := h.configs.Providers(ctx)
	if err != nil {
		health.Status = "unhealthy"
		health.Services.Providers = server.ServiceHealth{Status: "unhealthy", Error: err.Error()}
	} else {
		health.Services.Providers = server.ServiceHealth{Status: "healthy", Count: len(providersCfg.Servers)}
	}

	req, err := jsonrpc.NewRequest("health-check", "initialize", nil)
	if err != nil {
		health.Status = "unhealthy"
		health.Services.MCP = server.ServiceHealth{Status: "unhealthy", Error: err.Error()}
		return health
	}
	resp := h.router.Handle(ctx, req)
	if !resp.IsSuccess() {
		health.Status = "unhealthy"
		health.Services.MCP = server.ServiceHealth{Status: "unhealthy", Error: resp.Error.Message}
	} else {
		health.Services.MCP = server.ServiceHealth{Status: "healthy"}
	}

	return health
}
