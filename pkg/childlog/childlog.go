// Package childlog surfaces a spawned child process's stderr as structured
// diagnostic log lines (spec.md §4.1: "Stderr is captured and surfaced as
// diagnostic output"). Every stdio-backed component — the MCP stdio
// transport, the agent stdio transport, and the stdio agent pool's workers —
// shares this one drain loop rather than each re-implementing its own
// scanner.
package childlog

import (
	"bufio"
	"io"

	"github.com/hashicorp/go-hclog"
)

// New builds a named hclog.Logger for one spawned child process. component
// identifies the owning subsystem ("mcptransport", "agenttransport",
// "stdiopool"); id identifies the specific server/agent/worker. This mirrors
// the subprocess-logger idiom hector's gRPC plugin loader builds around
// hashicorp/go-plugin (pkg/plugins/grpc/loader.go), reused here for
// Cubicler's own stdio child processes.
func New(component, id string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  "cubicler." + component,
		Level: hclog.Debug,
	}).Named(id)
}

// Drain scans r line by line, logging each as a debug entry, until r
// returns EOF or an error. Intended to run in its own goroutine for the
// lifetime of the child process's stderr pipe.
func Drain(logger hclog.Logger, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Debug(scanner.Text())
	}
}
