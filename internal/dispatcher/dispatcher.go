// Package dispatcher runs the launcher pool: a fixed set of goroutines
// draining the start queue and handing each run to the crawl worker.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/patchlight/crawld/internal/crawl"
)

// Executor is what the pool hands dequeued runs to.
type Executor interface {
	Execute(ctx context.Context, req crawl.StartRequest)
}

// Dispatcher owns the launcher goroutines. Concurrency bounds how many
// crawls execute at once; accepted runs beyond that wait in the queue.
type Dispatcher struct {
	queue       crawl.Queue
	executor    Executor
	concurrency int
	logger      *zap.Logger

	wg sync.WaitGroup
}

// New constructs a Dispatcher. Concurrency below one is raised to one.
func New(queue crawl.Queue, executor Executor, concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:       queue,
		executor:    executor,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Start launches the pool. Launchers exit when ctx is cancelled or the
// queue is closed.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("launcher pool starting", zap.Int("concurrency", d.concurrency))
	for i := 0; i < d.concurrency; i++ {
		d.wg.Add(1)
		go d.launcher(ctx, i)
	}
}

// Wait blocks until every launcher has exited. In-flight runs finish
// their Execute call before the launcher returns, so Wait doubles as the
// drain step during shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
	d.logger.Info("launcher pool stopped")
}

func (d *Dispatcher) launcher(ctx context.Context, id int) {
	defer d.wg.Done()
	log := d.logger.With(zap.Int("launcher", id))
	for {
		req, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("launcher exiting", zap.Error(ctx.Err()))
			} else {
				log.Debug("queue drained", zap.Error(err))
			}
			return
		}
		log.Debug("run dequeued", zap.String("run_id", req.RunID))
		d.executor.Execute(ctx, req)
	}
}
