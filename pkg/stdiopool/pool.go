package stdiopool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cubicler/cubicler/pkg/agentmodel"
)

// ErrQueueFull is returned when a dispatch arrives while the FIFO waiter
// queue is already at QueueMaxSize (spec.md §8 invariant 5).
var ErrQueueFull = errors.New("Agent pool at max capacity")

// ErrQueueTimeout is returned when a queued dispatch is not assigned a
// worker before QueueTimeout elapses.
var ErrQueueTimeout = errors.New("Queue wait timeout")

// Pool supervises one primary worker (never idle-reaped) plus up to
// MaxPoolSize-1 pooled workers spawned on demand, all running the same
// stdio command for a single agent identifier. Dispatch enforces
// single-in-flight per worker and FIFO queueing under saturation.
type Pool struct {
	agentID string
	cfg     Config

	mu       sync.Mutex
	primary  *worker
	pooled   []*worker
	idleTmrs map[*worker]*time.Timer
	waiters  []*waiter
}

type waiter struct {
	assigned chan *worker
}

// New constructs a pool for agentID. The primary worker is not started
// until the first Dispatch call.
func New(agentID string, cfg Config) *Pool {
	p := &Pool{agentID: agentID, cfg: cfg, idleTmrs: make(map[*worker]*time.Timer)}
	p.primary = newWorker(agentID+"-primary", true, cfg)
	p.primary.onExit = p.onWorkerExit
	return p
}

// Dispatch runs req against an available worker, following the pick-idle
// -> spawn-on-demand -> FIFO-enqueue-with-deadline algorithm (spec.md
// §4.3/§5). The pool mutex is never held while awaiting a worker's I/O.
func (p *Pool) Dispatch(ctx context.Context, req *agentmodel.AgentRequest) (*agentmodel.AgentResponse, error) {
	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(w)

	return w.dispatch(ctx, req, p.cfg.dispatchTimeout())
}

// acquire returns a worker reserved for the caller's exclusive use,
// blocking (FIFO) if the pool is saturated.
func (p *Pool) acquire(ctx context.Context) (*worker, error) {
	p.mu.Lock()
	if w := p.pickIdleLocked(); w != nil {
		p.markBusyLocked(w)
		p.mu.Unlock()
		return w, nil
	}
	if len(p.pooled)+1 < p.cfg.maxPoolSize() {
		w := newWorker(fmt.Sprintf("%s-pool-%d", p.agentID, len(p.pooled)+1), false, p.cfg)
		w.onExit = p.onWorkerExit
		p.pooled = append(p.pooled, w)
		p.markBusyLocked(w)
		p.mu.Unlock()
		return w, nil
	}
	if len(p.waiters) >= p.cfg.QueueMaxSize {
		p.mu.Unlock()
		return nil, ErrQueueFull
	}
	wt := &waiter{assigned: make(chan *worker, 1)}
	p.waiters = append(p.waiters, wt)
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.queueTimeout())
	defer timer.Stop()

	select {
	case w, ok := <-wt.assigned:
		if !ok {
			return nil, fmt.Errorf("stdiopool: pool %s is closed", p.agentID)
		}
		return w, nil
	case <-timer.C:
		p.abandonWaiter(wt)
		return nil, ErrQueueTimeout
	case <-ctx.Done():
		p.abandonWaiter(wt)
		return nil, ctx.Err()
	}
}

// abandonWaiter removes target from the queue if it is still waiting.
// If release() had already raced ahead and handed it a worker, that
// worker is returned to the pool immediately rather than leaking as
// permanently busy.
func (p *Pool) abandonWaiter(target *waiter) {
	p.mu.Lock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()

	select {
	case w := <-target.assigned:
		p.release(w)
	default:
	}
}

// pickIdleLocked returns an idle worker, primary first, or nil. Caller
// must hold p.mu.
func (p *Pool) pickIdleLocked() *worker {
	if p.primary.isIdle() {
		return p.primary
	}
	for _, w := range p.pooled {
		if w.isIdle() {
			return w
		}
	}
	return nil
}

func (p *Pool) markBusyLocked(w *worker) {
	w.markBusy()
	if t, ok := p.idleTmrs[w]; ok {
		t.Stop()
		delete(p.idleTmrs, w)
	}
}

// release marks w idle again, hands it to the next FIFO waiter if any,
// and otherwise (for non-primary workers) arms the idle-reap timer.
func (p *Pool) release(w *worker) {
	p.mu.Lock()
	w.markIdle()

	if len(p.waiters) > 0 {
		wt := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.markBusy()
		p.mu.Unlock()
		wt.assigned <- w
		return
	}

	if !w.primary {
		p.armIdleTimerLocked(w)
	}
	p.mu.Unlock()
}

func (p *Pool) armIdleTimerLocked(w *worker) {
	p.idleTmrs[w] = time.AfterFunc(p.cfg.maxIdleTime(), func() {
		p.reap(w)
	})
}

// reap stops and removes an idle, non-primary worker that has sat unused
// for MaxIdleTime (spec.md §8 invariant 6: the primary worker is never
// reaped).
func (p *Pool) reap(w *worker) {
	p.mu.Lock()
	if !w.isIdle() {
		p.mu.Unlock()
		return
	}
	for i, pw := range p.pooled {
		if pw == w {
			p.pooled = append(p.pooled[:i], p.pooled[i+1:]...)
			break
		}
	}
	delete(p.idleTmrs, w)
	p.mu.Unlock()

	_ = w.close()
}

// onWorkerExit is invoked (from the worker's own goroutine) whenever its
// child process exits. The worker handles its own restart-with-backoff;
// the pool only needs to know in case a queued waiter was depending on
// it being usable again, which acquire's normal retry-on-release path
// already covers since a dead worker is still "idle" from the pool's
// perspective and will be restarted on next dispatch via ensureStarted.
func (p *Pool) onWorkerExit(w *worker) {}

// Close shuts down every worker (primary and pooled) and rejects any
// still-queued waiters.
func (p *Pool) Close() error {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = nil
	workers := append([]*worker{p.primary}, p.pooled...)
	for _, t := range p.idleTmrs {
		t.Stop()
	}
	p.idleTmrs = make(map[*worker]*time.Timer)
	p.mu.Unlock()

	for _, wt := range waiters {
		close(wt.assigned)
	}
	for _, w := range workers {
		_ = w.close()
	}
	return nil
}

// Size reports the current worker count (primary + pooled).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return 1 + len(p.pooled)
}
