package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mattjoyce/gaphost/internal/bridge"
	"github.com/mattjoyce/gaphost/internal/bridge/mocks"
	"github.com/mattjoyce/gaphost/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestQueue(b bridge.Bridge, available bool) *Queue {
	return New(b, Options{Available: available, Logger: quietLogger()})
}

func TestQueueDispatchesFIFOOnePerTick(t *testing.T) {
	rec := bridge.NewRecorder()
	q := newTestQueue(rec, true)
	ctx := context.Background()

	for _, name := range []string{"A.one", "B.two", "C.three"} {
		_, err := q.Enqueue(name)
		require.NoError(t, err)
	}
	require.Equal(t, 3, q.Depth())

	for i := 1; i <= 3; i++ {
		sent, err := q.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, sent)
		assert.Equal(t, i, rec.Len(), "exactly one dispatch per tick")
		assert.Equal(t, 3-i, q.Depth())
	}

	want := []string{"gap://A.one/", "gap://B.two/", "gap://C.three/"}
	if diff := cmp.Diff(want, rec.URIs()); diff != "" {
		t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
	}
}

func TestQueueDeviceUUIDScenario(t *testing.T) {
	rec := bridge.NewRecorder()
	q := newTestQueue(rec, true)

	_, err := q.Enqueue("Device.getUUID")
	require.NoError(t, err)

	_, err = q.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"gap://Device.getUUID/"}, rec.URIs())
	assert.Equal(t, 0, q.Depth())
	assert.False(t, q.TimerActive())
}

func TestQueueTimerStopsWhenDrained(t *testing.T) {
	q := newTestQueue(bridge.NewRecorder(), true)
	ctx := context.Background()

	assert.False(t, q.TimerActive())
	_, _ = q.Enqueue("A.a")
	_, _ = q.Enqueue("B.b")
	assert.True(t, q.TimerActive())

	_, _ = q.RunOnce(ctx)
	assert.True(t, q.TimerActive(), "timer keeps running while commands remain")
	_, _ = q.RunOnce(ctx)
	assert.False(t, q.TimerActive())

	// A tick on an empty queue is a no-op.
	sent, err := q.RunOnce(ctx)
	assert.NoError(t, err)
	assert.False(t, sent)
	assert.False(t, q.TimerActive())
}

func TestQueueTimerRestartsExactlyOnce(t *testing.T) {
	q := newTestQueue(bridge.NewRecorder(), true)
	ctx := context.Background()

	_, _ = q.Enqueue("A.a")
	assert.Equal(t, 1, q.TimerStarts())
	_, _ = q.RunOnce(ctx)
	require.False(t, q.TimerActive())

	_, _ = q.Enqueue("B.b")
	_, _ = q.Enqueue("C.c")
	assert.Equal(t, 2, q.TimerStarts(), "second enqueue must not start another timer")
	assert.True(t, q.TimerActive())
}

func TestQueueUnavailableBridgeRetainsCommands(t *testing.T) {
	rec := bridge.NewRecorder()
	q := newTestQueue(rec, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue("X.y", "a b")
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		sent, err := q.RunOnce(ctx)
		require.NoError(t, err)
		require.False(t, sent)
	}

	assert.Equal(t, 0, rec.Len(), "no bridge URI may be produced")
	assert.Equal(t, 3, q.Depth())
	assert.True(t, q.TimerActive())
	assert.False(t, q.Available())
}

func TestQueueMaxPending(t *testing.T) {
	q := New(bridge.NewRecorder(), Options{MaxPending: 2, Logger: quietLogger()})

	_, err := q.Enqueue("A.a")
	require.NoError(t, err)
	_, err = q.Enqueue("B.b")
	require.NoError(t, err)
	_, err = q.Enqueue("C.c")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, 2, q.Depth())
}

func TestQueueRejectsInvalidNames(t *testing.T) {
	q := newTestQueue(bridge.NewRecorder(), true)

	_, err := q.Enqueue("")
	assert.ErrorIs(t, err, bridge.ErrEmptyCommand)
	_, err = q.Enqueue("a/b")
	assert.ErrorIs(t, err, bridge.ErrInvalidCommand)
	assert.Equal(t, 0, q.Depth())
	assert.False(t, q.TimerActive())
}

func TestQueueEnqueueCopiesArgs(t *testing.T) {
	q := newTestQueue(bridge.NewRecorder(), true)
	args := []string{"one"}
	_, _ = q.Enqueue("A.a", args...)
	args[0] = "mutated"

	assert.Equal(t, []string{"one"}, q.Pending()[0].Args)
}

func TestQueueTransportErrorIsNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	mb := mocks.NewMockBridge(ctrl)

	gomock.InOrder(
		mb.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, cmd bridge.Command) error {
			assert.Equal(t, "First.cmd", cmd.Name)
			return errors.New("host gone")
		}),
		mb.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, cmd bridge.Command) error {
			assert.Equal(t, "Second.cmd", cmd.Name)
			assert.Equal(t, []string{"x/y"}, cmd.Args)
			return nil
		}),
	)

	hub := events.NewHub(16)
	q := New(mb, Options{Available: true, Events: hub, Logger: quietLogger()})
	_, _ = q.Enqueue("First.cmd")
	_, _ = q.Enqueue("Second.cmd", "x/y")

	sent, err := q.RunOnce(context.Background())
	assert.True(t, sent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host gone")
	assert.Equal(t, 1, q.Depth(), "failed command must not be re-queued")

	sent, err = q.RunOnce(context.Background())
	assert.True(t, sent)
	require.NoError(t, err)

	var types []string
	for _, ev := range hub.SnapshotSince(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		events.QueueEnqueued,
		events.QueueTimerStarted,
		events.QueueEnqueued,
		events.QueueDispatchFailed,
		events.QueueTimerStopped,
		events.QueueDispatched,
	}, types)
}

func TestQueueStartDrainsAndStopsTimer(t *testing.T) {
	rec := bridge.NewRecorder()
	q := New(rec, Options{Available: true, Interval: time.Millisecond, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Start(ctx) }()

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue("Batch.item", string(rune('a'+i)))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return rec.Len() == 5 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !q.TimerActive() }, time.Second, time.Millisecond)

	// Drained and stopped; a new command restarts the timer once.
	starts := q.TimerStarts()
	_, _ = q.Enqueue("Late.item")
	require.Eventually(t, func() bool { return rec.Len() == 6 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, starts+1, q.TimerStarts())

	want := []string{
		"gap://Batch.item/a", "gap://Batch.item/b", "gap://Batch.item/c",
		"gap://Batch.item/d", "gap://Batch.item/e", "gap://Late.item/",
	}
	assert.Equal(t, want, rec.URIs())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestQueueStartPicksUpCommandsEnqueuedEarlier(t *testing.T) {
	rec := bridge.NewRecorder()
	q := New(rec, Options{Available: true, Interval: time.Millisecond, Logger: quietLogger()})
	_, _ = q.Enqueue("Early.bird")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Start(ctx) }()

	require.Eventually(t, func() bool { return rec.Len() == 1 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done
}
