package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kindred/backend/internal/logging"
)

// DispatcherConfig controls the concurrency characteristics of the dispatcher.
type DispatcherConfig struct {
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
}

// Dispatcher delivers events to a Sink from a bounded queue on background workers.
type Dispatcher struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewDispatcher starts cfg.Workers goroutines draining a queue of cfg.QueueSize events.
func NewDispatcher(sink Sink, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		sink:    sink,
		logger:  logger,
		timeout: cfg.DeliveryTimeout,
		events:  make(chan Event, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}

	return d
}

// Notify queues the event. When the queue is full or the dispatcher has shut
// down the event is dropped and a warning logged.
func (d *Dispatcher) Notify(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		logging.FromContext(ctx).Warn("notification dropped, dispatcher closed", "kind", string(event.Kind), "recipientId", event.RecipientID)
		return
	}

	select {
	case d.events <- event:
	default:
		logging.FromContext(ctx).Warn("notification dropped, queue full", "kind", string(event.Kind), "recipientId", event.RecipientID)
	}
}

// Shutdown stops accepting events and waits for queued ones to be delivered.
// If ctx expires first, in-flight deliveries are canceled.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.events)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	case <-done:
		d.cancel()
		return nil
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for event := range d.events {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	if d.sink == nil {
		d.logger.Error("notification dispatcher missing sink", "kind", string(event.Kind))
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	if err := d.sink.Deliver(ctx, event); err != nil {
		d.logger.Error("deliver notification", "kind", string(event.Kind), "recipientId", event.RecipientID, "error", err)
	}
}

var _ Notifier = (*Dispatcher)(nil)
