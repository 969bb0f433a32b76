package worker_manager

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/fornellas/slogxt/log"
)

type workerType struct {
	name       string
	fn         func(context.Context) error
	cancelFunc context.CancelFunc
	errCh      chan error
}

// WorkerManager runs a group of named workers. When any of them returns, all others are cancelled.
type WorkerManager struct {
	workers  []*workerType
	doneCh   chan struct{}
	doneOnce sync.Once
}

func NewWorkerManager() *WorkerManager {
	return &WorkerManager{}
}

// AddWorker adds a worker to be started by Start. Workers are cancelled in the reverse order they
// were added, so a worker should be added before the workers that depend on it.
func (wm *WorkerManager) AddWorker(name string, fn func(context.Context) error) {
	wm.workers = append(wm.workers, &workerType{name: name, fn: fn})
}

func (wm *WorkerManager) finished() {
	wm.doneOnce.Do(func() { close(wm.doneCh) })
}

// Start starts all added workers.
func (wm *WorkerManager) Start(ctx context.Context) {
	ctx, logger := log.MustWithGroup(ctx, "Worker Manager")
	if len(wm.workers) == 0 {
		panic("bug: no workers added")
	}
	wm.doneCh = make(chan struct{})
	wm.doneOnce = sync.Once{}
	logger.Debug("Starting workers")
	for _, worker := range wm.workers {
		workerCtx, workerLogger := log.MustWithGroup(ctx, worker.name)
		workerCtx, worker.cancelFunc = context.WithCancel(workerCtx)
		worker.errCh = make(chan error, 1)
		go func() {
			var err error
			defer func() {
				if r := recover(); r != nil {
					workerLogger.Error("Panic", "recovered", r, "stack", string(debug.Stack()))
					err = fmt.Errorf("panic: %v", r)
				}
				workerLogger.Debug("Finished", "err", err)
				worker.errCh <- err
				wm.finished()
			}()
			workerLogger.Debug("Starting")
			err = worker.fn(workerCtx)
		}()
	}
	logger.Debug("All workers started")
}

// Cancel makes Wait cancel all workers.
func (wm *WorkerManager) Cancel() {
	if wm.doneCh == nil {
		panic("bug: workers not started")
	}
	wm.finished()
}

// Wait blocks until a worker returns, Cancel is called or ctx is done. It then cancels all
// workers, waits for them to return and returns their errors, each prefixed by the worker name.
func (wm *WorkerManager) Wait(ctx context.Context) error {
	logger := log.MustLogger(ctx).WithGroup("Worker Manager")
	if wm.doneCh == nil {
		panic("bug: workers not started")
	}
	select {
	case <-wm.doneCh:
	case <-ctx.Done():
	}
	var err error
	for i := len(wm.workers) - 1; i >= 0; i-- {
		worker := wm.workers[i]
		workerLogger := logger.With("name", worker.name)
		workerLogger.Debug("Cancelling")
		worker.cancelFunc()
		if workerErr := <-worker.errCh; workerErr != nil {
			err = errors.Join(err, fmt.Errorf("%s: %w", worker.name, workerErr))
		}
	}
	wm.workers = nil
	wm.doneCh = nil
	logger.Debug("All workers returned", "err", err)
	return err
}

// Run starts all workers, then waits for them.
func (wm *WorkerManager) Run(ctx context.Context) error {
	wm.Start(ctx)
	return wm.Wait(ctx)
}
