// Package jsapi exposes the device shim to page scripts running in an
// embedded goja runtime, so existing PhoneGap pages call PhoneGap.exec,
// PhoneGap.addConstructor and navigator.* unchanged.
//
// The runtime is not safe for concurrent use. Every entry into JS holds
// Host.mu. Bindings release it while they run Go code that may call back
// into JS on the same goroutine, such as a constructor registered after
// the drain or the first tick of a watch.
package jsapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dop251/goja"

	"github.com/mattjoyce/gaphost/internal/bootstrap"
	"github.com/mattjoyce/gaphost/internal/device"
)

// Options wires a Host to the rest of the shim.
type Options struct {
	Commander device.Commander
	Scheduler *bootstrap.Scheduler
	Document  *bootstrap.Document
	Navigator *device.Navigator
	Device    device.Device
	Logger    *slog.Logger
}

// Host owns one JS runtime with the shim globals installed.
type Host struct {
	mu       sync.Mutex
	rt       *goja.Runtime
	opts     Options
	features map[string]goja.Value // guarded by mu
	logger   *slog.Logger
}

func New(opts Options) (*Host, error) {
	if opts.Commander == nil || opts.Scheduler == nil || opts.Document == nil || opts.Navigator == nil {
		return nil, errors.New("jsapi: commander, scheduler, document and navigator are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	h := &Host{
		rt:       rt,
		opts:     opts,
		features: make(map[string]goja.Value),
		logger:   logger.With("component", "jsapi"),
	}
	if err := h.install(); err != nil {
		return nil, fmt.Errorf("install globals: %w", err)
	}
	return h, nil
}

// RunScript evaluates src and returns its completion value exported to Go.
// Cancelling ctx interrupts a long-running script.
func (h *Host) RunScript(ctx context.Context, name, src string) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { h.rt.Interrupt(ctx.Err()) })
	defer func() {
		stop()
		h.rt.ClearInterrupt()
	}()

	v, err := h.rt.RunScript(name, src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, scriptError(err))
	}
	if v == nil {
		return nil, nil
	}
	return v.Export(), nil
}

// call invokes a JS function under the runtime lock.
func (h *Host) call(fn goja.Callable, args ...goja.Value) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fn(goja.Undefined(), args...)
	if err != nil {
		return scriptError(err)
	}
	return nil
}

// unlocked runs fn with the runtime lock released. Only bindings, which
// already hold the lock, may call it.
func (h *Host) unlocked(fn func()) {
	h.mu.Unlock()
	defer h.mu.Lock()
	fn()
}

// scriptError turns a thrown JS value into a Go error carrying its
// message, so reports read "boom" rather than a stack dump.
func scriptError(err error) error {
	var exc *goja.Exception
	if !errors.As(err, &exc) {
		return err
	}
	val := exc.Value()
	if obj, ok := val.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return errors.New(msg.String())
		}
	}
	if val == nil {
		return err
	}
	return errors.New(val.String())
}
