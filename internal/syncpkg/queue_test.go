package syncpkg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueFlushSendsBufferedBatch(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Event{Src: "/src/a", Dst: "/dst/a"})
	q.Enqueue(Event{Src: "/src/b", Dst: "/dst/b"})

	done := make(chan []Event, 1)
	go func() {
		done <- <-q.Ready()
	}()

	q.flush(context.Background())

	select {
	case batch := <-done:
		require.Len(t, batch, 2)
	case <-time.After(time.Second):
		t.Fatal("flush did not deliver the buffered batch")
	}
}

func TestQueueFlushIsNoopWhenEmpty(t *testing.T) {
	q := NewQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	q.flush(ctx)
}

func TestQueueFlushDiscardsBatchWhenContextAlreadyDone(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Event{Src: "/src/a", Dst: "/dst/a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		q.flush(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flush blocked on a cancelled context instead of discarding")
	}
}

func TestQueueDrainAndStopClosesReadyChannel(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Event{Src: "/src/a", Dst: "/dst/a"})

	drained := make(chan []Event, 1)
	go func() {
		drained <- <-q.Ready()
	}()

	q.DrainAndStop(context.Background())

	select {
	case batch := <-drained:
		require.Len(t, batch, 1)
	case <-time.After(time.Second):
		t.Fatal("DrainAndStop did not deliver the final batch")
	}

	_, ok := <-q.Ready()
	require.False(t, ok, "Ready channel should be closed after DrainAndStop")
}

func TestDebounceTimerFiresAfterQuietPeriod(t *testing.T) {
	q := NewQueue()
	timer := NewDebounceTimer(q, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go timer.Run(ctx)

	q.Enqueue(Event{Src: "/src/a", Dst: "/dst/a"})

	select {
	case batch := <-q.Ready():
		require.Len(t, batch, 1)
	case <-time.After(time.Second):
		t.Fatal("debounce timer never flushed the buffered event")
	}
}

func TestDebounceTimerRestartsDeadlineOnNewArrival(t *testing.T) {
	q := NewQueue()
	timer := NewDebounceTimer(q, 40*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go timer.Run(ctx)

	q.Enqueue(Event{Src: "/src/a", Dst: "/dst/a"})
	time.Sleep(25 * time.Millisecond)
	q.Enqueue(Event{Src: "/src/b", Dst: "/dst/b"})

	select {
	case batch := <-q.Ready():
		require.Len(t, batch, 2, "both arrivals should have been coalesced into one batch")
	case <-time.After(time.Second):
		t.Fatal("debounce timer never flushed the coalesced batch")
	}
}
