package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"receipttrack/internal/entity"
)

// stepMemo records completed sub-step results for one delivery. It is shared
// across retry attempts so a retried handler skips work that already
// finished.
type stepMemo struct {
	mu   sync.Mutex
	done map[string]any
}

func newStepMemo() *stepMemo {
	return &stepMemo{done: make(map[string]any)}
}

// Step exposes the checkpointed primitives available inside a handler: named
// idempotent sub-steps, delays, follow-up events and logging. Each sub-step
// boundary is where a retried delivery resumes from.
type Step struct {
	bus    *InProcBus
	logger *slog.Logger
	memo   *stepMemo
}

func newStep(b *InProcBus, logger *slog.Logger, memo *stepMemo) *Step {
	return &Step{bus: b, logger: logger, memo: memo}
}

// Run executes a named sub-step. A result from a previous attempt of the same
// delivery is returned without re-running fn; fn itself must still be
// idempotent since the memo is process-local, not durable.
func (s *Step) Run(name string, fn func() (any, error)) (any, error) {
	s.memo.mu.Lock()
	if v, ok := s.memo.done[name]; ok {
		s.memo.mu.Unlock()
		s.logger.Debug("sub-step replayed from memo", "step", name)
		return v, nil
	}
	s.memo.mu.Unlock()

	v, err := fn()
	if err != nil {
		s.logger.Error("sub-step failed", "step", name, "error", err)
		return nil, err
	}

	s.memo.mu.Lock()
	s.memo.done[name] = v
	s.memo.mu.Unlock()
	s.logger.Debug("sub-step completed", "step", name)
	return v, nil
}

// Sleep pauses the handler, returning early if ctx is cancelled.
func (s *Step) Sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Send emits a follow-up event onto the bus. It never blocks on queue
// space: a full queue delivers the follow-up inline on this worker.
func (s *Step) Send(_ context.Context, evt entity.Event) error {
	return s.bus.sendFromHandler(evt)
}

// Log records a best-effort observability line scoped to this delivery.
func (s *Step) Log(msg string, args ...any) {
	s.logger.Info(msg, args...)
}
