package bootstrap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mattjoyce/gaphost/internal/events"
)

// ReadyState mirrors the hosting document's lifecycle stage.
type ReadyState string

const (
	StateLoading     ReadyState = "loading"
	StateInteractive ReadyState = "interactive"
	StateLoaded      ReadyState = "loaded"
	StateComplete    ReadyState = "complete"
)

var ErrReadyStateRegression = errors.New("document ready state cannot go back once ready")

// IsReady reports whether deferred constructors may run.
func (s ReadyState) IsReady() bool {
	return s == StateLoaded || s == StateComplete
}

// ParseReadyState validates a ready-state name.
func ParseReadyState(s string) (ReadyState, error) {
	switch rs := ReadyState(s); rs {
	case StateLoading, StateInteractive, StateLoaded, StateComplete:
		return rs, nil
	}
	return "", fmt.Errorf("unknown ready state %q", s)
}

// Document holds the ready state and turns the first transition into a
// terminal state into a one-shot event.
type Document struct {
	events events.Publisher

	mu    sync.Mutex
	state ReadyState
	ready chan struct{}
}

func NewDocument(initial ReadyState, pub events.Publisher) *Document {
	if initial == "" {
		initial = StateLoading
	}
	if pub == nil {
		pub = events.Discard{}
	}
	d := &Document{
		events: pub,
		state:  initial,
		ready:  make(chan struct{}),
	}
	if initial.IsReady() {
		close(d.ready)
	}
	return d
}

func (d *Document) ReadyState() ReadyState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetReadyState moves the document forward. Once ready it may move between
// loaded and complete but never back to loading or interactive.
func (d *Document) SetReadyState(s ReadyState) error {
	if _, err := ParseReadyState(string(s)); err != nil {
		return err
	}

	d.mu.Lock()
	prev := d.state
	if prev.IsReady() && !s.IsReady() {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrReadyStateRegression, prev, s)
	}
	d.state = s
	if s.IsReady() && !prev.IsReady() {
		close(d.ready)
	}
	d.mu.Unlock()

	if prev != s {
		d.events.Publish(events.DocumentReadyState, map[string]string{"from": string(prev), "to": string(s)})
	}
	return nil
}

// Ready is closed the first time the document reaches loaded or complete.
func (d *Document) Ready() <-chan struct{} {
	return d.ready
}
