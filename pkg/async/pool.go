package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// ErrPoolClosed is returned by Submit after Shutdown has started
var ErrPoolClosed = errors.New("worker pool closed")

// WorkerPool runs submitted tasks on a fixed set of goroutines with panic
// recovery and per-task timeouts. Unlike a bare `go func()`, tasks are
// tracked and can be drained before the process exits.
type WorkerPool struct {
	taskName string
	timeout  time.Duration
	workCh   chan func(context.Context)
	doneCh   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *observability.Logger

	mu        sync.RWMutex
	closed    bool
	submitWG  sync.WaitGroup
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWorkerPool starts workers goroutines processing submitted tasks.
// Each task gets a context bounded by timeout (no bound when timeout is
// zero) that is cancelled at shutdown.
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration, logger *observability.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(ctx)

	p := &WorkerPool{
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan func(context.Context), workers*2),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	go func() {
		p.wg.Wait()
		close(p.doneCh)
	}()

	return p
}

// Submit queues a task. Returns ErrPoolClosed once shutdown has started.
func (p *WorkerPool) Submit(fn func(context.Context)) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	p.submitWG.Add(1)
	p.mu.RUnlock()
	defer p.submitWG.Done()

	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Drain stops accepting work and waits up to timeout for queued and
// running tasks to finish, then cancels anything still in flight.
func (p *WorkerPool) Drain(timeout time.Duration) error {
	var drainErr error

	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		// workCh closes only after every in-flight Submit has either
		// handed off its task or observed the cancelled context
		go func() {
			p.submitWG.Wait()
			close(p.workCh)
		}()

		select {
		case <-p.doneCh:
		case <-time.After(timeout):
			drainErr = fmt.Errorf("worker pool %q drain timed out after %v", p.taskName, timeout)
		}
		p.cancel()
	})

	return drainErr
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for fn := range p.workCh {
		p.run(id, fn)
	}
}

func (p *WorkerPool) run(id int, fn func(context.Context)) {
	ctx := p.ctx
	var cancel context.CancelFunc
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(p.ctx, p.timeout)
	}

	defer func() {
		if cancel != nil {
			cancel()
		}
		if r := recover(); r != nil {
			p.logger.WithFields(map[string]interface{}{
				"task":   p.taskName,
				"worker": id,
				"panic":  fmt.Sprintf("%v", r),
				"stack":  string(debug.Stack()),
			}).Error("recovered panic in worker")
		}
	}()

	fn(ctx)
}
