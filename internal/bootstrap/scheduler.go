package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/gaphost/internal/events"
	"github.com/mattjoyce/gaphost/internal/log"
)

// failurePrefix is the text every constructor failure report starts with.
const failurePrefix = "Failed to run constructor: "

// DebugSink receives constructor failure reports when one is installed.
type DebugSink interface {
	Log(msg string)
}

// Alerter surfaces a report to the user and blocks until acknowledged.
type Alerter interface {
	Alert(msg string)
}

// AlertFunc adapts a function to Alerter.
type AlertFunc func(msg string)

func (f AlertFunc) Alert(msg string) { f(msg) }

// Constructor is a deferred, zero-argument initializer.
type Constructor struct {
	Name string
	Fn   func() error
}

// Scheduler defers constructors until the document is ready, then runs them
// once each in registration order.
type Scheduler struct {
	doc    *Document
	alert  Alerter
	events events.Publisher
	logger *slog.Logger

	mu      sync.Mutex
	pending []Constructor
	debug   DebugSink
	started bool
	drained bool
}

// New creates a Scheduler bound to doc. A nil alerter reports through the
// logger at ERROR; a nil logger falls back to the process logger.
func New(doc *Document, alert Alerter, pub events.Publisher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = log.Get()
	}
	logger = logger.With("component", "bootstrap")
	if alert == nil {
		alert = AlertFunc(func(msg string) { logger.Error(msg) })
	}
	if pub == nil {
		pub = events.Discard{}
	}
	return &Scheduler{
		doc:    doc,
		alert:  alert,
		events: pub,
		logger: logger,
	}
}

// SetDebugSink installs the sink that failure reports prefer over alerts.
func (s *Scheduler) SetDebugSink(sink DebugSink) {
	s.mu.Lock()
	s.debug = sink
	s.mu.Unlock()
}

// Register queues fn until the drain runs. Once the drain has completed,
// fn runs immediately on the caller's goroutine.
func (s *Scheduler) Register(name string, fn func() error) {
	c := Constructor{Name: name, Fn: fn}

	s.mu.Lock()
	if !s.drained {
		s.pending = append(s.pending, c)
		n := len(s.pending)
		s.mu.Unlock()
		s.logger.Debug("constructor deferred", "name", name, "pending", n)
		return
	}
	s.mu.Unlock()

	s.invoke(c)
}

// Run waits for the document to become ready and drains the pending
// constructors. It returns early only if ctx is cancelled first. Calling it
// again after a drain is a no-op.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return ctx.Err()
	case <-s.doc.Ready():
	}

	s.logger.Info("document ready, running constructors", "ready_state", s.doc.ReadyState())

	ran, failed := 0, 0
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.pending = nil
			s.drained = true
			s.mu.Unlock()
			break
		}
		c := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		ran++
		if !s.invoke(c) {
			failed++
		}
	}

	s.logger.Info("constructors drained", "ran", ran, "failed", failed)
	s.events.Publish(events.BootstrapDrained, map[string]int{"ran": ran, "failed": failed})
	return nil
}

// invoke runs one constructor, converting a panic into an error, and
// reports any failure. It returns false if the constructor failed.
func (s *Scheduler) invoke(c Constructor) (ok bool) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		if c.Fn == nil {
			return nil
		}
		return c.Fn()
	}()
	if err == nil {
		s.logger.Debug("constructor ran", "name", c.Name)
		return true
	}

	s.report(failurePrefix + err.Error())
	s.events.Publish(events.ConstructorFailed, map[string]string{
		"name":  c.Name,
		"error": err.Error(),
	})
	return false
}

func (s *Scheduler) report(msg string) {
	s.mu.Lock()
	sink := s.debug
	s.mu.Unlock()

	if sink != nil {
		sink.Log(msg)
		return
	}
	s.alert.Alert(msg)
}

// Pending returns the number of constructors waiting for the drain.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Drained reports whether the drain has completed.
func (s *Scheduler) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drained
}

// SinkFunc adapts a function to DebugSink.
type SinkFunc func(msg string)

func (f SinkFunc) Log(msg string) { f(msg) }
