package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrPoolBusy is returned by Submit when the queue is full.
	ErrPoolBusy = errors.New("worker pool busy")
	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("worker pool stopped")
)

const defaultQueueSize = 64

// Pool runs jobs on a fixed set of workers fed from a bounded queue.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	idle     chan chan Job
	jobQueue chan Job
	workers  []*Worker

	mu       sync.RWMutex
	stopped  bool
	wg       sync.WaitGroup
	inflight sync.WaitGroup
	done     chan struct{}
}

func NewPool(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With("component", "worker_pool"),
		idle:     make(chan chan Job, workers),
		jobQueue: make(chan Job, queueSize),
		done:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		w := newWorker(i+1, p)
		p.workers = append(p.workers, w)
		w.Start()
	}
	go p.dispatch()
	return p
}

// dispatch hands queued jobs to the next idle worker.
func (p *Pool) dispatch() {
	defer close(p.done)
	for job := range p.jobQueue {
		ch := <-p.idle
		ch <- job
	}
}

// Submit queues job without blocking.
func (p *Pool) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("job has no run func")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	p.inflight.Add(1)
	select {
	case p.jobQueue <- job:
		return nil
	default:
		p.inflight.Done()
		return ErrPoolBusy
	}
}

// Wait blocks until every submitted job has finished.
func (p *Pool) Wait() {
	p.inflight.Wait()
}

// Stop stops accepting jobs, drains the queue and stops the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobQueue)
	p.mu.Unlock()

	<-p.done
	p.inflight.Wait()
	p.cancel()
	for _, w := range p.workers {
		w.Stop()
	}
	p.wg.Wait()
}
