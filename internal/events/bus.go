package events

import (
	"context"
	"errors"
	"sync"

	"github.com/karprabha/snowjob-backend/internal/domain"
	"github.com/karprabha/snowjob-backend/internal/logger"
)

var ErrBufferFull = errors.New("event buffer full")

// Handler receives events from the Bus.
type Handler func(ctx context.Context, event domain.TransitionEvent) error

// Bus is an in-process publisher. Publish never blocks: events go to a
// bounded buffer drained by the workers started with Start, and a full
// buffer rejects the event.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	buffer   chan domain.TransitionEvent
	logger   *logger.Logger
	wg       sync.WaitGroup
	closed   bool
}

func NewBus(bufferSize int, log *logger.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		buffer: make(chan domain.TransitionEvent, bufferSize),
		logger: log,
	}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *Bus) Publish(ctx context.Context, event domain.TransitionEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.New("event bus closed")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.buffer <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

// Start launches n workers. Each worker calls every handler in
// subscription order, so one worker keeps per-job ordering.
func (b *Bus) Start(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		b.wg.Add(1)
		go b.worker(ctx, i)
	}
	b.logger.Info(ctx, "Event bus started", "event", "bus_started", "workers", n)
}

func (b *Bus) worker(ctx context.Context, id int) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-b.buffer:
			if !ok {
				return
			}
			b.dispatch(ctx, id, event)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, workerID int, event domain.TransitionEvent) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			b.logger.Error(ctx, "Event handler failed",
				"event", "handler_failed",
				"worker_id", workerID,
				"job_id", event.JobID,
				"kind", string(event.Kind),
				"error", err)
		}
	}
}

// Close stops accepting events and waits for the workers to drain the
// buffer.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.buffer)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
