package webhooks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BaseWorker is a generic ticker-based worker. It runs a function at a fixed
// interval and handles graceful shutdown; the janitor (see CleanupService)
// runs on one of these.
type BaseWorker struct {
	name     string
	interval time.Duration
	logger   *zap.Logger
	workFunc func(ctx context.Context) error

	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopOnce sync.Once
	stopChan chan struct{}
	started  bool
}

// NewBaseWorker creates a new generic worker.
func NewBaseWorker(name string, interval time.Duration, logger *zap.Logger, workFunc func(ctx context.Context) error) *BaseWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseWorker{
		name:     name,
		interval: interval,
		logger:   logger,
		workFunc: workFunc,
		stopChan: make(chan struct{}),
	}
}

// Start begins the worker's execution loop. It blocks until the context is
// cancelled or Stop is called.
func (w *BaseWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		w.logger.Warn("Worker already started", zap.String("name", w.name))
		return
	}
	w.started = true
	w.mu.Unlock()

	w.logger.Info("Worker starting", zap.String("name", w.name), zap.Duration("interval", w.interval))
	defer w.logger.Info("Worker finished", zap.String("name", w.name))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			// Non-blocking stop check: Stop may have been called right as
			// the tick fired.
			select {
			case <-w.stopChan:
				return
			default:
			}
			w.executeWorkFunc(ctx)
		}
	}
}

func (w *BaseWorker) executeWorkFunc(ctx context.Context) {
	w.wg.Add(1)
	defer w.wg.Done()

	select {
	case <-ctx.Done():
		return
	default:
	}

	if err := w.workFunc(ctx); err != nil {
		w.logger.Error("Worker function failed", zap.String("name", w.name), zap.Error(err))
	}
}

// Stop shuts the worker down and waits for in-progress work to complete.
// Safe to call multiple times.
func (w *BaseWorker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.RLock()
		defer w.mu.RUnlock()
		if !w.started {
			return
		}
		close(w.stopChan)
		w.wg.Wait()
	})
}

// Name returns the name of the worker.
func (w *BaseWorker) Name() string {
	return w.name
}
