package agenttransport

import (
	"context"

	"github.com/cubicler/cubicler/pkg/agentmodel"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/stdiopool"
)

// stdioTransport is the stdio variant of the Agent Transport: a thin
// adapter handing every Dispatch to the agent's own Stdio Agent Pool, which
// owns process supervision, single-in-flight enforcement, queueing, idle
// reaping, and restart-with-backoff.
type stdioTransport struct {
	pool *stdiopool.Pool
}

func newStdioTransport(agentID string, cfg config.AgentConfig, deps Deps) *stdioTransport {
	poolCfg := stdiopool.Config{
		Command:         cfg.Command,
		Args:            cfg.Args,
		Env:             cfg.Env,
		Cwd:             cfg.Cwd,
		MaxPoolSize:     cfg.PoolMaxSize,
		QueueMaxSize:    cfg.PoolQueueMaxSize,
		MaxIdleTime:     cfg.PoolMaxIdleTime,
		QueueTimeout:    cfg.PoolQueueTimeout,
		DispatchTimeout: deps.DispatchTimeout,
	}
	return &stdioTransport{pool: stdiopool.New(agentID, poolCfg)}
}

func (t *stdioTransport) Dispatch(ctx context.Context, req *agentmodel.AgentRequest) (*agentmodel.AgentResponse, error) {
	return t.pool.Dispatch(ctx, req)
}

func (t *stdioTransport) Close() error {
	return t.pool.Close()
}
