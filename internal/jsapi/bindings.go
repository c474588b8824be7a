package jsapi

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"

	"github.com/mattjoyce/gaphost/internal/device"
)

func (h *Host) install() error {
	rt := h.rt
	if err := rt.Set("window", rt.GlobalObject()); err != nil {
		return err
	}
	if err := rt.Set("PhoneGap", h.phoneGap()); err != nil {
		return err
	}
	if err := rt.Set("DeviceInfo", h.deviceInfo()); err != nil {
		return err
	}
	if err := rt.Set("Media", func(call goja.ConstructorCall) *goja.Object {
		m := device.NewMedia(h.opts.Commander, call.Argument(0).String())
		return rt.ToValue(m).ToObject(rt)
	}); err != nil {
		return err
	}

	doc := rt.NewObject()
	if err := doc.DefineAccessorProperty("readyState", rt.ToValue(func(goja.FunctionCall) goja.Value {
		return rt.ToValue(string(h.opts.Document.ReadyState()))
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return err
	}
	if err := rt.Set("document", doc); err != nil {
		return err
	}

	nav, err := h.navigator()
	if err != nil {
		return err
	}
	if err := rt.Set("navigator", nav); err != nil {
		return err
	}

	global := rt.GlobalObject()
	n := h.opts.Navigator
	if err := h.accessor(global, "device", "device", func() goja.Value { return wrap(rt, n.Device()) }); err != nil {
		return err
	}
	return h.accessor(global, "debug", "console", func() goja.Value { return wrap(rt, n.Console()) })
}

func (h *Host) phoneGap() *goja.Object {
	rt := h.rt
	pg := rt.NewObject()
	_ = pg.Set("available", h.opts.Device.Available)

	_ = pg.Set("exec", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(rt.NewTypeError("PhoneGap.exec: command name is required"))
		}
		name := call.Arguments[0].String()
		args := make([]string, 0, len(call.Arguments)-1)
		for _, a := range call.Arguments[1:] {
			args = append(args, a.String())
		}
		id, err := h.opts.Commander.Enqueue(name, args...)
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return rt.ToValue(id)
	})

	_ = pg.Set("addConstructor", func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		fn, ok := goja.AssertFunction(arg)
		if !ok {
			panic(rt.NewTypeError("PhoneGap.addConstructor: argument must be a function"))
		}
		name := "constructor"
		if obj, ok := arg.(*goja.Object); ok {
			if v := obj.Get("name"); v != nil && v.String() != "" {
				name = v.String()
			}
		}
		h.unlocked(func() {
			h.opts.Scheduler.Register(name, func() error { return h.call(fn) })
		})
		return goja.Undefined()
	})
	return pg
}

// deviceInfo mirrors what the native side injects. uuid is absent, not
// empty, when there is no bridge.
func (h *Host) deviceInfo() *goja.Object {
	info := h.rt.NewObject()
	d := h.opts.Device
	_ = info.Set("platform", d.Platform)
	_ = info.Set("version", d.Version)
	_ = info.Set("gap", d.Gap)
	if d.UUID != "" {
		_ = info.Set("uuid", d.UUID)
	}
	return info
}

func (h *Host) navigator() (*goja.Object, error) {
	rt := h.rt
	n := h.opts.Navigator
	nav := rt.NewObject()

	features := []struct {
		name  string
		build func() goja.Value
	}{
		{"device", func() goja.Value { return wrap(rt, n.Device()) }},
		{"accelerometer", func() goja.Value {
			a := n.Accelerometer()
			if a == nil {
				return nil
			}
			return sensorObject[device.Acceleration](h, a, "getCurrentAcceleration", "watchAcceleration")
		}},
		{"geolocation", func() goja.Value {
			g := n.Geolocation()
			if g == nil {
				return nil
			}
			return sensorObject[device.Position](h, g, "getCurrentPosition", "watchPosition")
		}},
		{"orientation", func() goja.Value {
			o := n.Orientation()
			if o == nil {
				return nil
			}
			return sensorObject[device.OrientationReading](h, o, "getCurrentOrientation", "watchOrientation")
		}},
		{"camera", func() goja.Value { return wrap(rt, n.Camera()) }},
		{"ContactManager", func() goja.Value { return wrap(rt, n.ContactManager()) }},
		{"file", func() goja.Value { return wrap(rt, n.File()) }},
		{"map", func() goja.Value { return wrap(rt, n.Map()) }},
		{"notification", func() goja.Value { return wrap(rt, n.Notification()) }},
		{"sms", func() goja.Value { return wrap(rt, n.Sms()) }},
		{"telephony", func() goja.Value { return wrap(rt, n.Telephony()) }},
	}
	for _, f := range features {
		if err := h.accessor(nav, f.name, f.name, f.build); err != nil {
			return nil, err
		}
	}
	return nav, nil
}

// accessor defines a read-only property that is undefined until build
// returns a value. Values are cached per key, so window.device and
// navigator.device are the same object.
func (h *Host) accessor(obj *goja.Object, name, key string, build func() goja.Value) error {
	getter := h.rt.ToValue(func(goja.FunctionCall) goja.Value {
		v, ok := h.features[key]
		if !ok {
			if v = build(); v == nil {
				return goja.Undefined()
			}
			h.features[key] = v
		}
		return v
	})
	return obj.DefineAccessorProperty(name, getter, nil, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func wrap[T any](rt *goja.Runtime, p *T) goja.Value {
	if p == nil {
		return nil
	}
	return rt.ToValue(p)
}

// sensorObject builds {get, watch, clearWatch} over a Go sensor.
func sensorObject[T any](h *Host, s device.Sensor[T], getName, watchName string) goja.Value {
	rt := h.rt
	obj := rt.NewObject()

	_ = obj.Set(getName, func(call goja.FunctionCall) goja.Value {
		onSuccess, onError := h.callbacks(call)
		opts := parseOptions(call.Argument(2))

		var (
			v   T
			err error
		)
		h.unlocked(func() { v, err = s.GetCurrent(context.Background(), opts) })

		var cbErr error
		switch {
		case err != nil && !errors.Is(err, device.ErrNoSource):
			if onError != nil {
				_, cbErr = onError(goja.Undefined(), h.errorValue(err))
			}
		case err == nil && onSuccess != nil:
			_, cbErr = onSuccess(goja.Undefined(), rt.ToValue(v))
		}
		if cbErr != nil {
			panic(cbErr)
		}
		return goja.Undefined()
	})

	_ = obj.Set(watchName, func(call goja.FunctionCall) goja.Value {
		onSuccess, onError := h.callbacks(call)
		opts := parseOptions(call.Argument(2))

		var id device.WatchID
		h.unlocked(func() {
			id = s.Watch(context.Background(), opts, func(v T) {
				if onSuccess != nil {
					h.deliver(onSuccess, func() goja.Value { return rt.ToValue(v) })
				}
			}, func(err error) {
				if onError != nil {
					h.deliver(onError, func() goja.Value { return h.errorValue(err) })
				}
			})
		})
		return rt.ToValue(string(id))
	})

	_ = obj.Set("clearWatch", func(call goja.FunctionCall) goja.Value {
		id := device.WatchID(call.Argument(0).String())
		var err error
		h.unlocked(func() { err = s.ClearWatch(id) })
		return rt.ToValue(err == nil)
	})
	return obj
}

// deliver calls a watch callback from a ticker goroutine.
func (h *Host) deliver(fn goja.Callable, arg func() goja.Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := fn(goja.Undefined(), arg()); err != nil {
		h.logger.Warn("watch callback threw", "error", scriptError(err))
	}
}

func (h *Host) callbacks(call goja.FunctionCall) (onSuccess, onError goja.Callable) {
	for i, dst := range []*goja.Callable{&onSuccess, &onError} {
		arg := call.Argument(i)
		if goja.IsUndefined(arg) || goja.IsNull(arg) {
			continue
		}
		fn, ok := goja.AssertFunction(arg)
		if !ok {
			panic(h.rt.NewTypeError("callback %d must be a function", i))
		}
		*dst = fn
	}
	return onSuccess, onError
}

func (h *Host) errorValue(err error) goja.Value {
	code := device.PositionUnknownError
	var perr *device.PositionError
	if errors.As(err, &perr) {
		code = perr.Code
	}
	return h.rt.ToValue(map[string]any{"code": code, "message": err.Error()})
}

// parseOptions reads {frequency, timeout, enableHighAccuracy}; times are
// in milliseconds.
func parseOptions(v goja.Value) *device.Options {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	m, ok := v.Export().(map[string]any)
	if !ok {
		return nil
	}
	opts := &device.Options{
		Frequency: millis(m["frequency"]),
		Timeout:   millis(m["timeout"]),
	}
	if b, ok := m["enableHighAccuracy"].(bool); ok {
		opts.EnableHighAccuracy = b
	}
	return opts
}

func millis(v any) time.Duration {
	switch n := v.(type) {
	case int64:
		return time.Duration(n) * time.Millisecond
	case float64:
		return time.Duration(n * float64(time.Millisecond))
	}
	return 0
}
