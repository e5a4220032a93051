package parfum

import (
	"context"
	"errors"
	"sync"

	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
)

const taskQueueSize = 1000

var (
	ErrPoolClosed = errors.New("worker pool is shut down")
	ErrQueueFull  = errors.New("worker pool queue is full")
)

type EventProcessor interface {
	ProcessEvent(ctx context.Context, event *stripe.Event) error
}

type WorkerPool struct {
	tasks     chan func()
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	logger    *zap.Logger
	processor EventProcessor
}

func NewWorkerPool(size int, processor EventProcessor, logger *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	wp := &WorkerPool{
		tasks:     make(chan func(), taskQueueSize),
		logger:    logger,
		processor: processor,
	}

	wp.wg.Add(size)
	for i := 0; i < size; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for task := range wp.tasks {
		task()
	}
}

// Submit queues event for processing without blocking.
func (wp *WorkerPool) Submit(ctx context.Context, event *stripe.Event) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return ErrPoolClosed
	}

	task := func() {
		if err := wp.processor.ProcessEvent(ctx, event); err != nil {
			wp.logger.Error("Failed to process event",
				zap.Error(err),
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID))
		}
	}

	select {
	case wp.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting events and waits for the queued ones to finish.
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.tasks)
	wp.mu.Unlock()

	wp.wg.Wait()
}
