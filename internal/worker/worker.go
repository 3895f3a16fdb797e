package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Task is a unit of deferred work, typically a re-evaluation of an
// emergency whose bed hold expired.
type Task func(ctx context.Context) error

type Pool struct {
	numWorkers int
	tasks      chan Task
	wg         sync.WaitGroup
}

func NewPool(numWorkers int, bufferSize int) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		tasks:      make(chan Task, bufferSize),
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 1; i <= p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			if err := task(ctx); err != nil {
				slog.Error("task failed", "worker", id, "error", err)
			}
		}
	}
}

func (p *Pool) Submit(task Task) {
	p.tasks <- task
}

func (p *Pool) Stop() {
	close(p.tasks)
	p.wg.Wait()
}
