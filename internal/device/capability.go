package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultFrequency is the watch period when none is given.
const DefaultFrequency = 10 * time.Second

var (
	ErrNoSource      = errors.New("no backend source for this capability")
	ErrWatchNotFound = errors.New("watch not found")
)

// Commander is the command-queue side that action features forward to.
type Commander interface {
	Enqueue(name string, args ...string) (string, error)
}

// Source supplies readings for a sensor. Implementations come from the host.
type Source[T any] interface {
	Current(ctx context.Context) (T, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc[T any] func(ctx context.Context) (T, error)

func (f SourceFunc[T]) Current(ctx context.Context) (T, error) { return f(ctx) }

// Options controls a watch or a single reading.
type Options struct {
	Frequency          time.Duration
	Timeout            time.Duration
	EnableHighAccuracy bool
}

// WatchID is the opaque handle returned by Watch.
type WatchID string

// Sensor is the capability set shared by every watchable feature.
type Sensor[T any] interface {
	GetCurrent(ctx context.Context, opts *Options) (T, error)
	Watch(ctx context.Context, opts *Options, onSuccess func(T), onError func(error)) WatchID
	ClearWatch(id WatchID) error
}

// watchSet owns the goroutines behind active watches.
type watchSet struct {
	mu      sync.Mutex
	watches map[WatchID]context.CancelFunc
	wg      sync.WaitGroup
}

func newWatchSet() *watchSet {
	return &watchSet{watches: make(map[WatchID]context.CancelFunc)}
}

// start runs tick once now and then every period until cleared or ctx ends.
func (w *watchSet) start(ctx context.Context, period time.Duration, tick func(context.Context)) WatchID {
	id := WatchID(uuid.NewString())
	wctx, cancel := context.WithCancel(ctx)

	w.mu.Lock()
	w.watches[id] = cancel
	w.wg.Add(1)
	w.mu.Unlock()

	tick(wctx)

	go func() {
		defer w.wg.Done()
		defer w.remove(id)

		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-wctx.Done():
				return
			case <-ticker.C:
				tick(wctx)
			}
		}
	}()
	return id
}

func (w *watchSet) remove(id WatchID) {
	w.mu.Lock()
	cancel, ok := w.watches[id]
	delete(w.watches, id)
	w.mu.Unlock()
	if ok {
		cancel()
	}
}

func (w *watchSet) clear(id WatchID) error {
	w.mu.Lock()
	cancel, ok := w.watches[id]
	delete(w.watches, id)
	w.mu.Unlock()
	if !ok {
		return ErrWatchNotFound
	}
	cancel()
	return nil
}

func (w *watchSet) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}

// closeAll cancels every watch and waits for their goroutines.
func (w *watchSet) closeAll() {
	w.mu.Lock()
	for id, cancel := range w.watches {
		cancel()
		delete(w.watches, id)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// sensor is the generic Sensor implementation behind the concrete features.
type sensor[T any] struct {
	source    Source[T]
	stamp     func(*T, time.Time)
	fixedFreq time.Duration
	watches   *watchSet

	mu   sync.Mutex
	last *T
}

func newSensor[T any](src Source[T], stamp func(*T, time.Time)) *sensor[T] {
	return &sensor[T]{
		source:  src,
		stamp:   stamp,
		watches: newWatchSet(),
	}
}

func (s *sensor[T]) GetCurrent(ctx context.Context, opts *Options) (T, error) {
	var zero T
	if s.source == nil {
		return zero, ErrNoSource
	}
	if opts != nil && opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	v, err := s.source.Current(ctx)
	if err != nil {
		return zero, err
	}
	if s.stamp != nil {
		s.stamp(&v, time.Now())
	}

	s.mu.Lock()
	s.last = &v
	s.mu.Unlock()
	return v, nil
}

func (s *sensor[T]) Watch(ctx context.Context, opts *Options, onSuccess func(T), onError func(error)) WatchID {
	period := DefaultFrequency
	if opts != nil && opts.Frequency > 0 {
		period = opts.Frequency
	}
	if s.fixedFreq > 0 {
		period = s.fixedFreq
	}
	return s.watches.start(ctx, period, func(ctx context.Context) {
		v, err := s.GetCurrent(ctx, opts)
		switch {
		case errors.Is(err, ErrNoSource):
			// Nothing to report without a backend.
		case err != nil:
			if onError != nil {
				onError(err)
			}
		case onSuccess != nil:
			onSuccess(v)
		}
	})
}

func (s *sensor[T]) ClearWatch(id WatchID) error {
	return s.watches.clear(id)
}

// Last returns the most recent successful reading.
func (s *sensor[T]) Last() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		var zero T
		return zero, false
	}
	return *s.last, true
}

// ActiveWatches reports how many watches are running.
func (s *sensor[T]) ActiveWatches() int {
	return s.watches.count()
}

// Close stops every watch and waits for them to exit.
func (s *sensor[T]) Close() {
	s.watches.closeAll()
}
