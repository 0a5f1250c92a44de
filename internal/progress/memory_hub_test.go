package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvOne(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestMemoryHub_EmitAndSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{RunID: "r1"})
	require.NoError(t, err)
	defer cancel()

	hub.Emit(ctx, Event{RunID: "r1", Type: "run_started"})
	hub.Emit(ctx, Event{RunID: "r2", Type: "run_started"}) // filtered out

	e := recvOne(t, ch)
	assert.Equal(t, "r1", e.RunID)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected event: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryHub_TypeFilter(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{Types: []string{"step_failed"}})
	require.NoError(t, err)
	defer cancel()

	hub.Emit(ctx, Event{RunID: "r1", Type: "step_started"})
	hub.Emit(ctx, Event{RunID: "r1", Type: "step_failed"})

	e := recvOne(t, ch)
	assert.Equal(t, "step_failed", e.Type)
}

func TestMemoryHub_CancelledSubscriberStopsReceiving(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	cancel()
	hub.Emit(ctx, Event{RunID: "r1", Type: "run_started"})

	select {
	case e := <-ch:
		t.Fatalf("unexpected event after cancel: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	_, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	// Never read: fill past the buffer. Emit must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultChannelBuffer*2; i++ {
			hub.Emit(ctx, Event{RunID: "r1", Type: "step_started"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
}
