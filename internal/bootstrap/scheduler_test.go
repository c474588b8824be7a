package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/gaphost/internal/events"
)

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	bytes.Buffer
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

type sinkRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *sinkRecorder) Log(msg string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *sinkRecorder) Alert(msg string) { r.Log(msg) }

func (r *sinkRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func newTestScheduler(t *testing.T, alert Alerter) (*Scheduler, *Document) {
	t.Helper()
	logger, _ := NewTestSlogger()
	doc := NewDocument(StateLoading, nil)
	return New(doc, alert, nil, logger), doc
}

func runAsync(s *Scheduler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not drain")
	}
}

func TestSchedulerRunsConstructorsInOrderOnce(t *testing.T) {
	s, doc := newTestScheduler(t, nil)

	var order []int
	counts := make(map[int]int)
	for i := 0; i < 5; i++ {
		s.Register("ctor", func() error {
			order = append(order, i)
			counts[i]++
			return nil
		})
	}
	assert.Equal(t, 5, s.Pending())
	assert.Empty(t, order, "nothing runs before the document is ready")

	done := runAsync(s)
	require.NoError(t, doc.SetReadyState(StateInteractive))
	require.NoError(t, doc.SetReadyState(StateComplete))
	waitDone(t, done)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 1, counts[i])
	}
	assert.True(t, s.Drained())
	assert.Equal(t, 0, s.Pending())

	// A second Run must not re-enter any constructor.
	require.NoError(t, s.Run(context.Background()))
	assert.Len(t, order, 5)
}

func TestSchedulerFailureDoesNotBlockLaterConstructors(t *testing.T) {
	rec := &sinkRecorder{}
	s, doc := newTestScheduler(t, rec)

	var ran []string
	s.Register("first", func() error { ran = append(ran, "first"); return nil })
	s.Register("broken", func() error { return errors.New("boom") })
	s.Register("panicky", func() error { panic("kaboom") })
	s.Register("last", func() error { ran = append(ran, "last"); return nil })

	require.NoError(t, doc.SetReadyState(StateLoaded))
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{"first", "last"}, ran)
	assert.Equal(t, []string{
		"Failed to run constructor: boom",
		"Failed to run constructor: panic: kaboom",
	}, rec.all())
}

func TestSchedulerPrefersDebugSinkOverAlert(t *testing.T) {
	alerts := &sinkRecorder{}
	debug := &sinkRecorder{}
	s, doc := newTestScheduler(t, alerts)

	s.Register("install-console", func() error {
		s.SetDebugSink(debug)
		return nil
	})
	s.Register("broken", func() error { return errors.New("no camera") })

	require.NoError(t, doc.SetReadyState(StateComplete))
	require.NoError(t, s.Run(context.Background()))

	assert.Empty(t, alerts.all())
	assert.Equal(t, []string{"Failed to run constructor: no camera"}, debug.all())
}

func TestSchedulerDefaultAlertLogsError(t *testing.T) {
	logger, buf := NewTestSlogger()
	doc := NewDocument(StateComplete, nil)
	s := New(doc, nil, nil, logger)

	s.Register("broken", func() error { return errors.New("bad") })
	require.NoError(t, s.Run(context.Background()))

	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), "Failed to run constructor: bad")
}

func TestSchedulerNilLoggerUsesProcessLogger(t *testing.T) {
	doc := NewDocument(StateComplete, nil)
	var s *Scheduler
	require.NotPanics(t, func() { s = New(doc, nil, nil, nil) })

	ran := false
	s.Register("init", func() error { ran = true; return nil })
	require.NoError(t, s.Run(context.Background()))
	assert.True(t, ran)
	assert.True(t, s.Drained())
}

func TestSchedulerFastPathAfterDrain(t *testing.T) {
	s, doc := newTestScheduler(t, nil)
	require.NoError(t, doc.SetReadyState(StateComplete))
	require.NoError(t, s.Run(context.Background()))

	ran := false
	s.Register("late", func() error { ran = true; return nil })
	assert.True(t, ran, "late registration runs synchronously")
	assert.Equal(t, 0, s.Pending())
}

func TestSchedulerRegistrationBeforeDrainKeepsOrder(t *testing.T) {
	// The document is already ready but the drain has not run yet: the new
	// constructor joins the queue instead of jumping ahead of it.
	s, doc := newTestScheduler(t, nil)

	var order []string
	s.Register("early", func() error { order = append(order, "early"); return nil })
	require.NoError(t, doc.SetReadyState(StateComplete))
	s.Register("between", func() error { order = append(order, "between"); return nil })
	assert.Empty(t, order)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"early", "between"}, order)
}

func TestSchedulerDrainsConstructorsRegisteredDuringDrain(t *testing.T) {
	s, doc := newTestScheduler(t, nil)

	var order []string
	s.Register("outer", func() error {
		order = append(order, "outer")
		s.Register("inner", func() error { order = append(order, "inner"); return nil })
		return nil
	})
	s.Register("sibling", func() error { order = append(order, "sibling"); return nil })

	require.NoError(t, doc.SetReadyState(StateLoaded))
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"outer", "sibling", "inner"}, order)
}

func TestSchedulerRunCancelledBeforeReady(t *testing.T) {
	s, doc := newTestScheduler(t, nil)
	s.Register("never-yet", func() error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.Equal(t, 1, s.Pending())
	assert.False(t, s.Drained())

	// It can still be run once the document becomes ready.
	require.NoError(t, doc.SetReadyState(StateComplete))
	require.NoError(t, s.Run(context.Background()))
	assert.True(t, s.Drained())
}

func TestSchedulerPublishesEvents(t *testing.T) {
	logger, _ := NewTestSlogger()
	hub := events.NewHub(16)
	doc := NewDocument(StateLoading, hub)
	s := New(doc, AlertFunc(func(string) {}), hub, logger)

	s.Register("broken", func() error { return errors.New("x") })
	require.NoError(t, doc.SetReadyState(StateComplete))
	require.NoError(t, s.Run(context.Background()))

	var types []string
	for _, ev := range hub.SnapshotSince(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		events.DocumentReadyState,
		events.ConstructorFailed,
		events.BootstrapDrained,
	}, types)
}
