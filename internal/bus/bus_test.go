package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"receipttrack/internal/entity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createdEvent() entity.Event {
	return entity.NewEvent(entity.ReceiptCreated{
		ReceiptID: uuid.New(),
		Amount:    12.50,
		Date:      "2024-01-15",
		Merchant:  "Market Fresh",
		Category:  "Food",
	})
}

func TestSendDeliversToSubscriber(t *testing.T) {
	b := New(testLogger(), WithWorkers(1))
	defer b.Shutdown(context.Background())

	got := make(chan entity.Event, 1)
	b.Subscribe(entity.EventReceiptCreated, func(ctx context.Context, step *Step, evt entity.Event) (any, error) {
		got <- evt
		return nil, nil
	})

	evt := createdEvent()
	require.NoError(t, b.Send(context.Background(), evt))

	select {
	case delivered := <-got:
		require.Equal(t, evt.ID, delivered.ID)
		require.Equal(t, entity.EventReceiptCreated, delivered.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestSendRejectsMismatchedEnvelope(t *testing.T) {
	b := New(testLogger(), WithWorkers(1))
	defer b.Shutdown(context.Background())

	evt := createdEvent()
	evt.Name = entity.EventReceiptProcessed
	require.Error(t, b.Send(context.Background(), evt))

	evt = createdEvent()
	evt.Name = "receipt/unknown"
	require.Error(t, b.Send(context.Background(), evt))

	require.Error(t, b.Send(context.Background(), entity.Event{Name: entity.EventReceiptCreated}))
}

func TestSendWithoutSubscribersIsDropped(t *testing.T) {
	b := New(testLogger(), WithWorkers(1))
	defer b.Shutdown(context.Background())

	// no error: an unsubscribed event is logged and dropped
	require.NoError(t, b.Send(context.Background(), createdEvent()))
}

func TestRetryRedeliversUntilSuccess(t *testing.T) {
	results := make(chan error, 1)
	b := New(testLogger(),
		WithWorkers(1),
		WithMaxAttempts(3),
		WithRetryDelay(time.Millisecond),
		WithResultFunc(func(evt entity.Event, result any, err error) {
			results <- err
		}),
	)
	defer b.Shutdown(context.Background())

	var calls atomic.Int32
	b.Subscribe(entity.EventReceiptCreated, func(ctx context.Context, step *Step, evt entity.Event) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return nil, nil
	})

	require.NoError(t, b.Send(context.Background(), createdEvent()))

	select {
	case err := <-results:
		require.NoError(t, err)
		require.Equal(t, int32(3), calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never finished")
	}
}

func TestRetrySkipsMemoizedSteps(t *testing.T) {
	results := make(chan error, 1)
	b := New(testLogger(),
		WithWorkers(1),
		WithMaxAttempts(2),
		WithRetryDelay(time.Millisecond),
		WithResultFunc(func(evt entity.Event, result any, err error) {
			results <- err
		}),
	)
	defer b.Shutdown(context.Background())

	var stepRuns, handlerRuns atomic.Int32
	b.Subscribe(entity.EventReceiptCreated, func(ctx context.Context, step *Step, evt entity.Event) (any, error) {
		if _, err := step.Run("validate-receipt-data", func() (any, error) {
			stepRuns.Add(1)
			return true, nil
		}); err != nil {
			return nil, err
		}
		if handlerRuns.Add(1) == 1 {
			return nil, errors.New("fails after the sub-step completed")
		}
		return nil, nil
	})

	require.NoError(t, b.Send(context.Background(), createdEvent()))

	select {
	case err := <-results:
		require.NoError(t, err)
		require.Equal(t, int32(2), handlerRuns.Load())
		require.Equal(t, int32(1), stepRuns.Load(), "completed sub-step must not re-run on retry")
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never finished")
	}
}

func TestDropAfterMaxAttempts(t *testing.T) {
	results := make(chan error, 1)
	b := New(testLogger(),
		WithWorkers(1),
		WithMaxAttempts(2),
		WithRetryDelay(time.Millisecond),
		WithResultFunc(func(evt entity.Event, result any, err error) {
			results <- err
		}),
	)
	defer b.Shutdown(context.Background())

	var calls atomic.Int32
	b.Subscribe(entity.EventReceiptCreated, func(ctx context.Context, step *Step, evt entity.Event) (any, error) {
		calls.Add(1)
		return nil, errors.New("permanent")
	})

	require.NoError(t, b.Send(context.Background(), createdEvent()))

	select {
	case err := <-results:
		require.Error(t, err)
		require.Equal(t, int32(2), calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never finished")
	}
}

func TestStepSendChainsEvents(t *testing.T) {
	b := New(testLogger(), WithWorkers(1))
	defer b.Shutdown(context.Background())

	handled := make(chan entity.Event, 1)
	b.Subscribe(entity.EventReceiptCreated, func(ctx context.Context, step *Step, evt entity.Event) (any, error) {
		payload := evt.Payload.(entity.ReceiptCreated)
		return nil, step.Send(ctx, entity.NewEvent(entity.ReceiptProcessed{
			ReceiptID: payload.ReceiptID,
			Status:    entity.ProcessSuccess,
		}))
	})
	b.Subscribe(entity.EventReceiptProcessed, func(ctx context.Context, step *Step, evt entity.Event) (any, error) {
		handled <- evt
		return nil, nil
	})

	evt := createdEvent()
	require.NoError(t, b.Send(context.Background(), evt))

	select {
	case follow := <-handled:
		payload := follow.Payload.(entity.ReceiptProcessed)
		require.Equal(t, evt.Payload.(entity.ReceiptCreated).ReceiptID, payload.ReceiptID)
	case <-time.After(2 * time.Second):
		t.Fatal("follow-up event was not delivered")
	}
}

func TestSaturatedQueueStillDrainsHandlerChains(t *testing.T) {
	// one worker and a single-slot queue: every created delivery has to emit
	// its follow-up while the queue is already full
	b := New(testLogger(), WithWorkers(1), WithQueueSize(1))
	defer b.Shutdown(context.Background())

	var processed atomic.Int32
	b.Subscribe(entity.EventReceiptCreated, func(ctx context.Context, step *Step, evt entity.Event) (any, error) {
		payload := evt.Payload.(entity.ReceiptCreated)
		return nil, step.Send(ctx, entity.NewEvent(entity.ReceiptProcessed{
			ReceiptID: payload.ReceiptID,
			Status:    entity.ProcessSuccess,
		}))
	})
	b.Subscribe(entity.EventReceiptProcessed, func(ctx context.Context, step *Step, evt entity.Event) (any, error) {
		processed.Add(1)
		return nil, nil
	})

	const n = 8
	sent := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if err := b.Send(context.Background(), createdEvent()); err != nil {
				sent <- err
				return
			}
		}
		sent <- nil
	}()

	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("producer wedged: Send never returned with a saturated queue")
	}

	require.Eventually(t, func() bool {
		return processed.Load() == n
	}, 5*time.Second, 10*time.Millisecond, "follow-up chain stalled: %d of %d processed", processed.Load(), n)
}

func TestShutdownDrainsQueuedEvents(t *testing.T) {
	b := New(testLogger(), WithWorkers(2))

	var handled atomic.Int32
	b.Subscribe(entity.EventReceiptCreated, func(ctx context.Context, step *Step, evt entity.Event) (any, error) {
		handled.Add(1)
		return nil, nil
	})

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, b.Send(context.Background(), createdEvent()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.Shutdown(ctx)

	require.Equal(t, int32(n), handled.Load())

	// sends after shutdown are dropped without error
	require.NoError(t, b.Send(context.Background(), createdEvent()))
}
