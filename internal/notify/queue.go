package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
)

// ErrQueueFull is returned when an event arrives while the buffer is full.
var ErrQueueFull = errors.New("notification queue full")

// ErrQueueClosed is returned for events offered after Close.
var ErrQueueClosed = errors.New("notification queue closed")

// Queue hands events to a single background worker that delivers them to
// next. Enqueueing never waits on delivery, so a slow or retrying sink only
// delays its own backlog. Delivery failures are logged by the worker.
type Queue struct {
	next   domain.Notifier
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan func(context.Context) error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueue starts the worker. size bounds the number of undelivered events.
func NewQueue(name string, next domain.Notifier, size int, logger *slog.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		next:   next,
		logger: logger.With("sink", name),
		jobs:   make(chan func(context.Context) error, max(size, 1)),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) NotifyAlert(_ context.Context, e domain.AlertEvent) error {
	return q.enqueue(func(ctx context.Context) error {
		if err := q.next.NotifyAlert(ctx, e); err != nil {
			q.logger.Error("alert delivery failed", "id", e.ID, "location", e.Location, "error", err)
			return err
		}
		return nil
	})
}

func (q *Queue) NotifyHeartbeat(_ context.Context, e domain.HeartbeatEvent) error {
	return q.enqueue(func(ctx context.Context) error {
		if err := q.next.NotifyHeartbeat(ctx, e); err != nil {
			q.logger.Error("heartbeat delivery failed", "id", e.ID, "scheduled", e.Scheduled, "error", err)
			return err
		}
		return nil
	})
}

func (q *Queue) enqueue(job func(context.Context) error) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for job := range q.jobs {
		_ = job(q.ctx) // logged by the job
	}
}

// Close stops accepting events and waits for the backlog to drain. When ctx
// ends first, in-flight delivery is cancelled and the remaining events are
// dropped.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}
