// Package stdiopool implements the Stdio Agent Pool (C3): a supervisor for
// one or more identical stdio worker processes backing a single agent
// identifier, enforcing single-in-flight dispatch per worker, FIFO queueing
// under saturation, idle reaping of non-primary workers, and
// restart-with-backoff on crash.
package stdiopool

import "time"

// Config parameterizes one agent's pool.
type Config struct {
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string

	// MaxPoolSize bounds total workers (primary + pooled); default 1 (no
	// pooling beyond the primary).
	MaxPoolSize int
	// QueueMaxSize bounds the FIFO waiter queue; default 0 (no queueing —
	// every dispatch beyond the pool's capacity fails immediately).
	QueueMaxSize int
	// MaxIdleTime is how long a non-primary pooled worker may sit idle
	// before it is reaped; default 5 minutes.
	MaxIdleTime time.Duration
	// QueueTimeout bounds how long a queued dispatch waits for a worker;
	// default 30s.
	QueueTimeout time.Duration
	// DispatchTimeout bounds a single worker dispatch; default 90s
	// (AGENT_CALL_TIMEOUT's default).
	DispatchTimeout time.Duration
}

const (
	DefaultMaxIdleTime     = 5 * time.Minute
	DefaultQueueTimeout    = 30 * time.Second
	DefaultDispatchTimeout = 90 * time.Second
)

func (c Config) maxPoolSize() int {
	if c.MaxPoolSize > 0 {
		return c.MaxPoolSize
	}
	return 1
}

func (c Config) maxIdleTime() time.Duration {
	if c.MaxIdleTime > 0 {
		return c.MaxIdleTime
	}
	return DefaultMaxIdleTime
}

func (c Config) queueTimeout() time.Duration {
	if c.QueueTimeout > 0 {
		return c.QueueTimeout
	}
	return DefaultQueueTimeout
}

func (c Config) dispatchTimeout() time.Duration {
	if c.DispatchTimeout > 0 {
		return c.DispatchTimeout
	}
	return DefaultDispatchTimeout
}
