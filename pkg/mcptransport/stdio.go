package mcptransport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cubicler/cubicler/pkg/childlog"
	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
)

type stdioState int

const (
	stateUninit stdioState = iota
	stateStarting
	stateRunning
	stateExited
	stateDead
	stateShuttingDown
	stateStopped
)

const (
	restartBaseDelay = 500 * time.Millisecond
	restartMaxDelay  = 10 * time.Second
	maxRestartAttempts = 5
	killGrace        = 5 * time.Second
)

// stdioTransport spawns a long-lived child process and exchanges one JSON
// object per line over its stdin/stdout. It restarts the child with
// exponential backoff on unexpected exit (state machine: UNINIT → STARTING
// → RUNNING → EXITED → (STARTING|DEAD)); Close forces SHUTTING_DOWN →
// STOPPED and disables any further restart.
type stdioTransport struct {
	serverID string
	cfg      config.ServerConfig
	deps     Deps

	pending *pendingTable

	mu             sync.Mutex
	state          stdioState
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	restartAttempt int
	exited         chan struct{} // closed by watchExit once cmd.Wait() returns
}

func newStdioTransport(serverID string, cfg config.ServerConfig, deps Deps) *stdioTransport {
	return &stdioTransport{serverID: serverID, cfg: cfg, deps: deps, pending: newPendingTable(), state: stateUninit}
}

func (t *stdioTransport) ServerID() string { return t.serverID }

func (t *stdioTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateRunning
}

func (t *stdioTransport) Initialize(ctx context.Context) error {
	if err := t.start(); err != nil {
		return err
	}

	req, err := jsonrpc.NewRequest(1, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "cubicler", "version": "1.0.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return err
	}
	resp, err := t.Send(ctx, req)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("mcptransport: server %s: initialize failed: %s", t.serverID, resp.Error.Message)
	}
	return nil
}

func (t *stdioTransport) start() error {
	t.mu.Lock()
	if t.state == stateShuttingDown || t.state == stateStopped {
		t.mu.Unlock()
		return fmt.Errorf("mcptransport: server %s: transport is closed", t.serverID)
	}
	t.state = stateStarting
	t.mu.Unlock()

	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Dir = t.cfg.Cwd
	cmd.Env = append(os.Environ(), envSlice(t.cfg.Env)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.markDead()
		return fmt.Errorf("mcptransport: server %s: stdin pipe: %w", t.serverID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.markDead()
		return fmt.Errorf("mcptransport: server %s: stdout pipe: %w", t.serverID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.markDead()
		return fmt.Errorf("mcptransport: server %s: stderr pipe: %w", t.serverID, err)
	}

	if err := cmd.Start(); err != nil {
		t.markDead()
		return fmt.Errorf("mcptransport: server %s: spawn failed: %w", t.serverID, err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.state = stateRunning
	t.exited = make(chan struct{})
	t.mu.Unlock()

	go t.readStdout(stdout)
	go t.drainStderr(stderr)
	go t.watchExit(cmd)

	return nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func (t *stdioTransport) markDead() {
	t.mu.Lock()
	t.state = stateDead
	t.mu.Unlock()
}

func (t *stdioTransport) readStdout(stdout io.ReadCloser) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var resp jsonrpc.Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			slog.Warn("mcptransport: stdio line is not a valid MCPResponse", "server", t.serverID, "error", err)
			continue
		}
		if !t.pending.resolve(&resp) {
			slog.Warn("mcptransport: stdio response id has no awaiter", "server", t.serverID, "id", resp.ID)
		}
	}
}

func (t *stdioTransport) drainStderr(stderr io.ReadCloser) {
	childlog.Drain(childlog.New("mcptransport", t.serverID), stderr)
}

// watchExit blocks until the child exits, then rejects in-flight requests
// and, unless Close already forced shutdown, schedules a restart.
func (t *stdioTransport) watchExit(cmd *exec.Cmd) {
	_ = cmd.Wait()

	t.mu.Lock()
	shuttingDown := t.state == stateShuttingDown || t.state == stateStopped
	if !shuttingDown {
		t.state = stateExited
	}
	exited := t.exited
	t.mu.Unlock()
	if exited != nil {
		close(exited)
	}

	t.pending.rejectAll(fmt.Sprintf("connection to %s was closed", t.serverID))

	if shuttingDown {
		return
	}
	t.scheduleRestart()
}

// scheduleRestart restarts the child after an exponential backoff, capped
// at restartMaxDelay, for at most maxRestartAttempts consecutive failures.
// A later successful start resets the attempt counter (in the restart
// callback below and in ensureStarted).
func (t *stdioTransport) scheduleRestart() {
	t.mu.Lock()
	attempt := t.restartAttempt
	t.mu.Unlock()

	if attempt >= maxRestartAttempts {
		t.markDead()
		slog.Warn("mcptransport: stdio restart cap reached, awaiting on-demand restart", "server", t.serverID)
		return
	}

	delay := restartBaseDelay << attempt
	if delay > restartMaxDelay {
		delay = restartMaxDelay
	}

	t.mu.Lock()
	t.restartAttempt++
	t.mu.Unlock()

	time.AfterFunc(delay, func() {
		if err := t.start(); err != nil {
			slog.Warn("mcptransport: stdio restart failed", "server", t.serverID, "error", err)
			t.scheduleRestart()
			return
		}
		t.mu.Lock()
		t.restartAttempt = 0
		t.mu.Unlock()
	})
}

// ensureStarted triggers an on-demand restart when the transport previously
// hit the restart cap and went DEAD, per the "next send() triggers restart"
// rule.
func (t *stdioTransport) ensureStarted() error {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()

	switch state {
	case stateRunning:
		return nil
	case stateDead, stateExited, stateUninit:
		if err := t.start(); err != nil {
			return err
		}
		t.mu.Lock()
		t.restartAttempt = 0
		t.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("mcptransport: server %s: transport is closed", t.serverID)
	}
}

func (t *stdioTransport) Send(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if err := t.ensureStarted(); err != nil {
		return nil, err
	}

	ch, err := t.pending.register(req.ID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	stdin := t.stdin
	t.mu.Unlock()

	body, err := json.Marshal(req)
	if err != nil {
		t.pending.remove(req.ID)
		return nil, err
	}
	if _, err := stdin.Write(append(body, '\n')); err != nil {
		t.pending.remove(req.ID)
		return nil, fmt.Errorf("mcptransport: server %s: stdin write failed: %w", t.serverID, err)
	}

	timeout := t.deps.requestTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		t.pending.remove(req.ID)
		return nil, fmt.Errorf("timed out after %dms", timeout.Milliseconds())
	case <-ctx.Done():
		t.pending.remove(req.ID)
		return nil, ctx.Err()
	}
}

func (t *stdioTransport) Close() error {
	t.mu.Lock()
	cmd := t.cmd
	exited := t.exited
	t.state = stateShuttingDown
	t.mu.Unlock()

	t.pending.rejectAll("connection closed")

	if cmd == nil || cmd.Process == nil || exited == nil {
		t.mu.Lock()
		t.state = stateStopped
		t.mu.Unlock()
		return nil
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exited:
	case <-time.After(killGrace):
		_ = cmd.Process.Kill()
		<-exited
	}

	t.mu.Lock()
	t.state = stateStopped
	t.mu.Unlock()
	return nil
}
