package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"receipttrack/internal/entity"
)

// Handler is a stateless function invoked once per matching event delivery.
// The step argument carries the sub-step primitives; handlers must keep
// sub-steps idempotent because delivery is at-least-once.
type Handler func(ctx context.Context, step *Step, evt entity.Event) (any, error)

// ResultFunc observes terminal handler outcomes. Used for tracing and tests,
// never for control flow.
type ResultFunc func(evt entity.Event, result any, err error)

type Bus interface {
	Send(ctx context.Context, evt entity.Event) error
	Subscribe(name string, h Handler)
	Shutdown(ctx context.Context)
}

type delivery struct {
	evt     entity.Event
	handler Handler
	memo    *stepMemo
}

// InProcBus delivers events to subscribed handlers on a worker pool. A
// handler error is retried up to maxAttempts with a flat delay; completed
// sub-step results are memoized across attempts so a retry resumes after the
// last finished step.
type InProcBus struct {
	logger      *slog.Logger
	workers     int
	timeout     time.Duration
	maxAttempts int
	retryDelay  time.Duration
	onResult    ResultFunc

	ch   chan delivery
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	// inflight counts deliveries that are queued or running; Shutdown waits
	// on it before stopping the workers, so the channel is never closed and
	// a handler emitting a follow-up event mid-drain cannot panic.
	inflight sync.WaitGroup

	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool
}

type Option func(*InProcBus)

func WithWorkers(n int) Option {
	return func(b *InProcBus) {
		if n > 0 {
			b.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(b *InProcBus) {
		if n > 0 {
			b.ch = make(chan delivery, n)
		}
	}
}

func WithHandlerTimeout(d time.Duration) Option {
	return func(b *InProcBus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(b *InProcBus) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(b *InProcBus) {
		if d >= 0 {
			b.retryDelay = d
		}
	}
}

func WithResultFunc(fn ResultFunc) Option {
	return func(b *InProcBus) {
		b.onResult = fn
	}
}

func New(logger *slog.Logger, opts ...Option) *InProcBus {
	b := &InProcBus{
		logger:      logger,
		workers:     4,
		timeout:     30 * time.Second,
		maxAttempts: 3,
		retryDelay:  200 * time.Millisecond,
		ch:          make(chan delivery, 256),
		quit:        make(chan struct{}),
		handlers:    make(map[string][]Handler),
	}
	for _, o := range opts {
		o(b)
	}
	b.start()
	return b
}

// Subscribe registers a handler for a named event. Registration happens at
// process start, before any Send.
func (b *InProcBus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
	b.logger.Info("handler subscribed", "event", name, "handlers", len(b.handlers[name]))
}

// stage snapshots the subscribed handlers for an event and registers the
// resulting deliveries with the in-flight counter. The lock is released
// before any channel send so Shutdown is never blocked behind a full queue.
func (b *InProcBus) stage(evt entity.Event, ignoreClosed bool) []delivery {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed && !ignoreClosed {
		b.logger.Warn("cannot send: bus is shutting down", "event", evt.Name, "event_id", evt.ID)
		return nil
	}
	hs := b.handlers[evt.Name]
	if len(hs) == 0 {
		b.logger.Warn("no handlers for event", "event", evt.Name, "event_id", evt.ID)
		return nil
	}

	ds := make([]delivery, 0, len(hs))
	for _, h := range hs {
		ds = append(ds, delivery{evt: evt, handler: h, memo: newStepMemo()})
	}
	b.inflight.Add(len(ds))
	return ds
}

// Send validates the envelope and enqueues one delivery per subscribed
// handler. It returns once the deliveries are queued (or ctx expires while
// the queue is full); handlers run out-of-band on the worker pool.
func (b *InProcBus) Send(ctx context.Context, evt entity.Event) error {
	if err := evt.Validate(); err != nil {
		b.logger.Error("rejected event at bus boundary", "event", evt.Name, "error", err)
		return err
	}

	ds := b.stage(evt, false)
	for i, d := range ds {
		select {
		case b.ch <- d:
			continue
		default:
		}
		b.logger.Warn("bus queue full, applying backpressure", "event", evt.Name, "event_id", evt.ID)
		select {
		case b.ch <- d:
		case <-ctx.Done():
			for range ds[i:] {
				b.inflight.Done()
			}
			b.logger.Error("send abandoned", "event", evt.Name, "event_id", evt.ID, "error", ctx.Err())
			return ctx.Err()
		}
	}
	if len(ds) > 0 {
		b.logger.Info("event queued", "event", evt.Name, "event_id", evt.ID, "handlers", len(ds))
	}
	return nil
}

// sendFromHandler is the follow-up path used by Step.Send. It must never
// block: every worker may be inside a handler, so waiting on queue space
// here would wedge the whole pool. When the queue is full the delivery runs
// inline on the emitting worker instead; drains still accept follow-ups so
// an in-flight chain can finish.
func (b *InProcBus) sendFromHandler(evt entity.Event) error {
	if err := evt.Validate(); err != nil {
		b.logger.Error("rejected event at bus boundary", "event", evt.Name, "error", err)
		return err
	}

	for _, d := range b.stage(evt, true) {
		select {
		case b.ch <- d:
		default:
			b.logger.Warn("bus queue full, delivering follow-up inline", "event", evt.Name, "event_id", evt.ID)
			b.deliver(0, d)
		}
	}
	return nil
}

func (b *InProcBus) start() {
	b.once.Do(func() {
		for i := 0; i < b.workers; i++ {
			b.wg.Add(1)
			go func(workerID int) {
				defer b.wg.Done()
				b.logger.Info("bus worker started", "worker_id", workerID)

				for {
					select {
					case d := <-b.ch:
						b.deliver(workerID, d)
					case <-b.quit:
						b.logger.Info("bus worker stopped", "worker_id", workerID)
						return
					}
				}
			}(i + 1)
		}
	})
}

func (b *InProcBus) deliver(workerID int, d delivery) {
	defer b.inflight.Done()

	var (
		result any
		err    error
	)
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		step := newStep(b, b.logger.With("event", d.evt.Name, "event_id", d.evt.ID, "attempt", attempt), d.memo)
		result, err = d.handler(ctx, step, d.evt)
		cancel()

		if err == nil {
			b.logger.Info("event handled", "worker_id", workerID, "event", d.evt.Name, "event_id", d.evt.ID, "attempt", attempt)
			break
		}
		b.logger.Error("handler failed", "worker_id", workerID, "event", d.evt.Name, "event_id", d.evt.ID, "attempt", attempt, "error", err)
		if attempt < b.maxAttempts {
			time.Sleep(b.retryDelay)
		}
	}
	if err != nil {
		b.logger.Error("event dropped after max attempts", "event", d.evt.Name, "event_id", d.evt.ID, "attempts", b.maxAttempts)
	}

	if b.onResult != nil {
		b.onResult(d.evt, result, err)
	}
}

// Shutdown stops intake, waits for in-flight deliveries (including follow-up
// chains) to finish, then stops the workers, or gives up when ctx expires.
func (b *InProcBus) Shutdown(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.inflight.Wait()
		close(b.quit)
		b.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		b.logger.Warn("bus shutdown interrupted by context")
	case <-done:
		b.logger.Info("bus drained, shutdown complete")
	}
}
