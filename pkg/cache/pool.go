package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// rebuildPool runs cache rebuilds on a fixed set of workers. Submissions never
// block: when the queue is full the task is refused.
type rebuildPool struct {
	tasks   chan func(context.Context)
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newRebuildPool(workers, queueSize int, timeout time.Duration, logger zerolog.Logger) *rebuildPool {
	p := &rebuildPool{
		tasks:   make(chan func(context.Context), queueSize),
		timeout: timeout,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// submit enqueues task and reports whether it was accepted.
func (p *rebuildPool) submit(task func(context.Context)) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		rebuildQueueDepth.Inc()
		return true
	default:
		return false
	}
}

func (p *rebuildPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *rebuildPool) worker(workerID int) {
	defer p.wg.Done()

	for task := range p.tasks {
		rebuildQueueDepth.Dec()
		p.run(workerID, task)
	}
}

func (p *rebuildPool) run(workerID int, task func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker_id", workerID).
				Interface("panic", r).
				Msg("Cache rebuild panicked")
		}
	}()

	task(ctx)
}
