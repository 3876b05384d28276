package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var logger atomic.Pointer[logrus.Logger]

func init() {
	logger.Store(logrus.StandardLogger())
}

// SetLogger replaces the logger used for panics and background errors
func SetLogger(l *logrus.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

func log() *logrus.Logger {
	return logger.Load()
}

// SafeGo executes a function in a goroutine with panic recovery, a timeout
// and error logging. Use this instead of bare `go func()` for background
// work that outlives a request.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		// Detach from the caller's cancellation but keep its values
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log().WithFields(logrus.Fields{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("Panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			log().WithError(err).WithField("task", taskName).Warn("Background task failed")
		}
	}()
}

// WorkerPool manages a pool of workers that process tasks from a channel.
// Provides graceful shutdown and error collection.
type WorkerPool struct {
	workers      int
	taskName     string
	timeout      time.Duration
	workCh       chan func(context.Context) error
	doneCh       chan struct{}
	errCh        chan error
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	shutdownOnce sync.Once
}

// NewWorkerPool creates a new worker pool.
//
// Example:
//
//	pool := NewWorkerPool(ctx, 4, "ga4 sync", 30*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//	    return syncGrant(ctx, id)
//	})
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit adds a task to the worker pool. It blocks while the queue is full
// and fails once the pool has shut down or its context is done.
func (p *WorkerPool) Submit(fn func(context.Context) error) (err error) {
	defer func() {
		// send on a channel closed by a concurrent Shutdown
		if recover() != nil {
			err = fmt.Errorf("worker pool shut down")
		}
	}()

	if err := p.ctx.Err(); err != nil {
		return err
	}

	select {
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.workCh <- fn:
		return nil
	}
}

// Shutdown gracefully shuts down the worker pool.
// Waits up to timeout for workers to finish current tasks.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		p.closeWork()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

// Errors returns a channel that receives worker errors.
// Non-blocking, use select to check for errors.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) closeWork() {
	p.closeOnce.Do(func() { close(p.workCh) })
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errCh <- err:
	default:
		log().WithError(err).WithField("task", p.taskName).Warn("Worker pool error channel full, dropping error")
	}
}

func (p *WorkerPool) worker(id int) {
	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(id, fn)
		}
	}
}

func (p *WorkerPool) run(id int, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log().WithFields(logrus.Fields{
				"task":   p.taskName,
				"worker": id,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("Panic in worker")
			p.report(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.report(err)
	}
}

// Batch processes a slice of items concurrently using a worker pool and
// returns every error encountered. Each item runs with its own timeout; a
// failing or panicking item does not stop the others.
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if len(items) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	collect := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	pool := NewWorkerPool(ctx, workers, taskName, timeout)
	defer pool.Shutdown(5 * time.Second)

	for _, item := range items {
		item := item
		err := pool.Submit(func(ctx context.Context) error {
			defer func() {
				if r := recover(); r != nil {
					log().WithFields(logrus.Fields{
						"task":  taskName,
						"panic": r,
						"stack": string(debug.Stack()),
					}).Error("Panic in batch item")
					collect(fmt.Errorf("%s: panic: %v", taskName, r))
				}
			}()
			if err := fn(ctx, item); err != nil {
				collect(err)
			}
			return nil
		})
		if err != nil {
			collect(fmt.Errorf("%s: %w", taskName, err))
			break
		}
	}

	pool.closeWork()
	<-pool.doneCh
	pool.cancel()

	mu.Lock()
	defer mu.Unlock()
	return errs
}
