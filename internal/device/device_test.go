package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mattjoyce/gaphost/internal/bootstrap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sent struct {
	name string
	args []string
}

// fakeCommander records every forwarded command.
type fakeCommander struct {
	mu   sync.Mutex
	cmds []sent
	err  error
}

func (f *fakeCommander) Enqueue(name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.cmds = append(f.cmds, sent{name: name, args: args})
	return "id", nil
}

func (f *fakeCommander) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.cmds...)
}

func fixedAccel(x, y, z float64) Source[Acceleration] {
	return SourceFunc[Acceleration](func(context.Context) (Acceleration, error) {
		return Acceleration{X: x, Y: y, Z: z}, nil
	})
}

func TestAccelerometerGetCurrentStampsAndCaches(t *testing.T) {
	a := NewAccelerometer(fixedAccel(1, 2, 3))
	defer a.Close()

	_, ok := a.LastAcceleration()
	assert.False(t, ok)

	before := time.Now()
	got, err := a.GetCurrent(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.X)
	assert.Equal(t, 3.0, got.Z)
	assert.False(t, got.Timestamp.Before(before))

	last, ok := a.LastAcceleration()
	require.True(t, ok)
	assert.Equal(t, got, last)
}

func TestSensorWithoutSource(t *testing.T) {
	g := NewGeolocation(nil)
	defer g.Close()

	_, err := g.GetCurrent(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoSource)

	var calls atomic.Int32
	id := g.Watch(context.Background(), &Options{Frequency: time.Millisecond},
		func(Position) { calls.Add(1) },
		func(error) { calls.Add(1) },
	)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load(), "a stub without backend never calls back")
	require.NoError(t, g.ClearWatch(id))
}

func TestWatchCallsImmediatelyThenRepeats(t *testing.T) {
	a := NewAccelerometer(fixedAccel(0, 0, 9.8))
	defer a.Close()

	var calls atomic.Int32
	id := a.Watch(context.Background(), &Options{Frequency: 2 * time.Millisecond}, func(Acceleration) {
		calls.Add(1)
	}, nil)
	assert.GreaterOrEqual(t, calls.Load(), int32(1), "first reading is synchronous")

	require.Eventually(t, func() bool { return calls.Load() >= 4 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, a.ActiveWatches())

	require.NoError(t, a.ClearWatch(id))
	require.Eventually(t, func() bool { return a.ActiveWatches() == 0 }, time.Second, time.Millisecond)

	stopped := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, calls.Load(), stopped+1, "at most one in-flight tick after clear")
}

func TestWatchReportsSourceErrors(t *testing.T) {
	boom := errors.New("gps off")
	g := NewGeolocation(SourceFunc[Position](func(context.Context) (Position, error) {
		return Position{}, boom
	}))
	defer g.Close()

	errCh := make(chan error, 1)
	id := g.Watch(context.Background(), nil, func(Position) {
		t.Error("success callback must not run")
	}, func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})
	defer func() { _ = g.ClearWatch(id) }()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("error callback not called")
	}
}

func TestClearWatchUnknownID(t *testing.T) {
	a := NewAccelerometer(nil)
	assert.ErrorIs(t, a.ClearWatch("nope"), ErrWatchNotFound)
}

func TestCloseAllWaitsForWatchClosedDuringFirstTick(t *testing.T) {
	w := newWatchSet()
	closed := make(chan struct{})
	var first atomic.Bool
	first.Store(true)

	w.start(context.Background(), time.Millisecond, func(ctx context.Context) {
		if !first.CompareAndSwap(true, false) {
			return
		}
		go func() {
			w.closeAll()
			close(closed)
		}()
		<-ctx.Done()
	})

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("closeAll did not return")
	}
	assert.Zero(t, w.count())
}

func TestOrientationIgnoresFrequency(t *testing.T) {
	var calls atomic.Int32
	o := NewOrientation(SourceFunc[OrientationReading](func(context.Context) (OrientationReading, error) {
		calls.Add(1)
		return OrientationReading{Angle: 90}, nil
	}))
	defer o.Close()

	o.Watch(context.Background(), &Options{Frequency: time.Millisecond}, func(OrientationReading) {}, nil)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	last, ok := o.LastOrientation()
	require.True(t, ok)
	assert.Equal(t, 90, last.Angle)
}

func TestGetCurrentHonoursTimeout(t *testing.T) {
	g := NewGeolocation(SourceFunc[Position](func(ctx context.Context) (Position, error) {
		<-ctx.Done()
		return Position{}, &PositionError{Code: PositionTimeout, Message: ctx.Err().Error()}
	}))
	defer g.Close()

	_, err := g.GetCurrent(context.Background(), &Options{Timeout: 5 * time.Millisecond})
	var perr *PositionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, PositionTimeout, perr.Code)
}

func TestGeolocationKeepsSourceTimestamp(t *testing.T) {
	fix := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	g := NewGeolocation(SourceFunc[Position](func(context.Context) (Position, error) {
		return Position{Latitude: -33.8, Longitude: 151.2, Timestamp: fix}, nil
	}))
	defer g.Close()

	p, err := g.GetCurrent(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, fix, p.Timestamp)
}

func TestDefaultPositionOptions(t *testing.T) {
	o := DefaultPositionOptions()
	assert.True(t, o.EnableHighAccuracy)
	assert.Equal(t, 10*time.Second, o.Timeout)
}

func TestNavigatorInstallAll(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	doc := bootstrap.NewDocument(bootstrap.StateLoading, nil)
	sched := bootstrap.New(doc, nil, nil, logger)
	nav := NewNavigator()
	cmd := &fakeCommander{}

	InstallAll(sched, nav, Deps{
		Commander: cmd,
		Device:    Device{Available: true, Platform: "Android", UUID: "u-1"},
		Sources:   Sources{Acceleration: fixedAccel(1, 1, 1)},
	})
	defer nav.Close()

	assert.Nil(t, nav.Accelerometer(), "nothing is installed before ready")
	assert.Empty(t, nav.Installed())

	require.NoError(t, doc.SetReadyState(bootstrap.StateComplete))
	require.NoError(t, sched.Run(context.Background()))

	assert.Equal(t, []string{
		"accelerometer", "camera", "console", "contacts", "device", "file",
		"geolocation", "map", "notification", "orientation", "sms", "telephony",
	}, nav.Installed())
	assert.Equal(t, "u-1", nav.Device().UUID)

	require.NoError(t, nav.Telephony().Call("555"))
	assert.Equal(t, []sent{{name: "Telephony.call", args: []string{"555"}}}, cmd.all())
}

func TestNavigatorConsoleBecomesDebugSink(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	doc := bootstrap.NewDocument(bootstrap.StateLoading, nil)
	alerts := 0
	sched := bootstrap.New(doc, bootstrap.AlertFunc(func(string) { alerts++ }), nil, logger)
	nav := NewNavigator()
	cmd := &fakeCommander{}

	InstallAll(sched, nav, Deps{Commander: cmd})
	sched.Register("broken", func() error { return errors.New("no sd card") })

	require.NoError(t, doc.SetReadyState(bootstrap.StateLoaded))
	require.NoError(t, sched.Run(context.Background()))

	assert.Equal(t, 0, alerts)
	assert.Equal(t, []sent{{
		name: "DebugConsole.log",
		args: []string{"Failed to run constructor: no sd card"},
	}}, cmd.all())
}

func TestInstallKeepsExistingSingleton(t *testing.T) {
	nav := NewNavigator()
	first := NewCamera(&fakeCommander{})
	install(nav, &nav.camera, func() *Camera { return first })
	install(nav, &nav.camera, func() *Camera { return NewCamera(&fakeCommander{}) })
	assert.Same(t, first, nav.Camera())
}
