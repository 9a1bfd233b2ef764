package worker

import (
	"context"
	"fmt"
)

// Job is one unit of work. Done, when set, receives the result of Run.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
	Done func(error)
}

type Worker struct {
	id         int
	pool       *Pool
	jobChannel chan Job
	quit       chan struct{}
}

func newWorker(id int, pool *Pool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
		quit:       make(chan struct{}),
	}
}

func (w *Worker) Start() {
	w.pool.wg.Add(1)
	go func() {
		defer w.pool.wg.Done()
		for {
			// register as idle
			select {
			case w.pool.idle <- w.jobChannel:
			case <-w.quit:
				return
			}
			select {
			case job := <-w.jobChannel:
				w.run(job)
			case <-w.quit:
				return
			}
		}
	}()
}

func (w *Worker) Stop() {
	close(w.quit)
}

func (w *Worker) run(job Job) {
	defer w.pool.inflight.Done()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job %s panicked: %v", job.Name, r)
			}
		}()
		return job.Run(w.pool.ctx)
	}()
	if err != nil {
		w.pool.logger.Error("job failed", "worker", w.id, "job", job.Name, "error", err)
	}
	if job.Done != nil {
		job.Done(err)
	}
}
