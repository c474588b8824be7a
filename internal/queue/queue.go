package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/gaphost/internal/bridge"
	"github.com/mattjoyce/gaphost/internal/events"
	"github.com/mattjoyce/gaphost/internal/log"
)

// DefaultInterval is the dispatch timer period.
const DefaultInterval = 10 * time.Millisecond

var ErrQueueFull = errors.New("command queue is full")

// Options configures a Queue.
type Options struct {
	// Interval between dispatch ticks. Zero means DefaultInterval.
	Interval time.Duration
	// MaxPending bounds the number of buffered commands. Zero means unbounded.
	MaxPending int
	// Available is the bridge availability flag, read once.
	Available bool
	Events    events.Publisher
	Logger    *slog.Logger
}

// Queue buffers commands and dispatches them to a bridge in FIFO order.
type Queue struct {
	bridge     bridge.Bridge
	interval   time.Duration
	maxPending int
	available  bool
	events     events.Publisher
	logger     *slog.Logger

	// lane serializes pop+send so ticks never overlap.
	lane sync.Mutex

	mu          sync.Mutex
	pending     []bridge.Command
	timerActive bool
	timerStarts int

	wake chan struct{}
}

func New(b bridge.Bridge, opts Options) *Queue {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = log.WithComponent("queue")
	}
	return &Queue{
		bridge:     b,
		interval:   opts.Interval,
		maxPending: opts.MaxPending,
		available:  opts.Available,
		events:     opts.Events,
		logger:     opts.Logger,
		wake:       make(chan struct{}, 1),
	}
}

// Enqueue appends a command and starts the dispatch timer if it is idle.
// It returns the generated command ID.
func (q *Queue) Enqueue(name string, args ...string) (string, error) {
	if err := bridge.ValidateName(name); err != nil {
		return "", err
	}

	cmd := bridge.Command{
		ID:         uuid.NewString(),
		Name:       name,
		Args:       append([]string(nil), args...),
		EnqueuedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	if q.maxPending > 0 && len(q.pending) >= q.maxPending {
		depth := len(q.pending)
		q.mu.Unlock()
		return "", fmt.Errorf("%w: %d pending", ErrQueueFull, depth)
	}
	q.pending = append(q.pending, cmd)
	depth := len(q.pending)
	started := false
	if !q.timerActive {
		q.timerActive = true
		q.timerStarts++
		started = true
	}
	q.mu.Unlock()

	q.logger.Debug("command enqueued", "command_id", cmd.ID, "command", name, "depth", depth)
	q.events.Publish(events.QueueEnqueued, map[string]any{
		"command_id": cmd.ID,
		"command":    name,
		"depth":      depth,
	})
	if started {
		q.events.Publish(events.QueueTimerStarted, map[string]any{"interval_ms": q.interval.Milliseconds()})
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return cmd.ID, nil
}

// RunOnce performs a single dispatch tick. It reports whether a command was
// handed to the bridge; the error is the transport's, if any.
func (q *Queue) RunOnce(ctx context.Context) (bool, error) {
	q.lane.Lock()
	defer q.lane.Unlock()

	if !q.available {
		return false, nil
	}

	q.mu.Lock()
	if len(q.pending) == 0 {
		stopped := q.stopTimerLocked()
		q.mu.Unlock()
		if stopped {
			q.events.Publish(events.QueueTimerStopped, nil)
		}
		return false, nil
	}
	cmd := q.pending[0]
	q.pending[0] = bridge.Command{}
	q.pending = q.pending[1:]
	stopped := false
	if len(q.pending) == 0 {
		q.pending = nil
		stopped = q.stopTimerLocked()
	}
	q.mu.Unlock()

	if stopped {
		q.events.Publish(events.QueueTimerStopped, nil)
	}

	uri := cmd.URI()
	if err := q.bridge.Send(ctx, cmd); err != nil {
		q.logger.Error("bridge send failed", "command_id", cmd.ID, "command", cmd.Name, "uri", uri, "error", err)
		q.events.Publish(events.QueueDispatchFailed, map[string]any{
			"command_id": cmd.ID,
			"command":    cmd.Name,
			"uri":        uri,
			"error":      err.Error(),
		})
		return true, fmt.Errorf("send %s: %w", cmd.Name, err)
	}

	q.logger.Debug("command dispatched", "command_id", cmd.ID, "uri", uri)
	q.events.Publish(events.QueueDispatched, map[string]any{
		"command_id": cmd.ID,
		"command":    cmd.Name,
		"uri":        uri,
	})
	return true, nil
}

func (q *Queue) stopTimerLocked() bool {
	if !q.timerActive {
		return false
	}
	q.timerActive = false
	return true
}

// Start runs the dispatch loop until ctx is cancelled. The ticker only
// exists while the timer is active.
func (q *Queue) Start(ctx context.Context) error {
	q.logger.Info("dispatch loop started", "interval", q.interval, "bridge_available", q.available)
	defer q.logger.Info("dispatch loop stopped")

	// Commands enqueued before Start already flipped the timer on.
	if q.TimerActive() {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
		if err := q.runTimer(ctx); err != nil {
			return err
		}
	}
}

func (q *Queue) runTimer(ctx context.Context) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Errors are already logged; delivery is fire-and-forget.
			_, _ = q.RunOnce(ctx)
			if !q.TimerActive() {
				return nil
			}
		}
	}
}

// Depth returns the number of commands waiting for dispatch.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns a copy of the buffered commands, oldest first.
func (q *Queue) Pending() []bridge.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]bridge.Command, len(q.pending))
	copy(out, q.pending)
	return out
}

// TimerActive reports whether the dispatch timer is running.
func (q *Queue) TimerActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.timerActive
}

// TimerStarts counts how many times the dispatch timer has been started.
func (q *Queue) TimerStarts() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.timerStarts
}

// Available reports the bridge availability flag fixed at construction.
func (q *Queue) Available() bool {
	return q.available
}

// Interval returns the dispatch timer period.
func (q *Queue) Interval() time.Duration {
	return q.interval
}
