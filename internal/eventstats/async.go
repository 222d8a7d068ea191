package eventstats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pixelbot/pixelbot/internal/admission"
)

const (
	defaultBuffer       = 1024
	defaultWriteTimeout = 2 * time.Second
)

// Recorder is an admission.Observer that hands events to a Store from a
// background goroutine. Observe never blocks; events are dropped when the
// buffer is full.
type Recorder struct {
	store        Store
	logger       admission.Logger
	writeTimeout time.Duration

	// mu guards sends on events against Close closing it.
	mu      sync.RWMutex
	closed  bool
	events  chan admission.Event
	dropped atomic.Int64
	failed  atomic.Int64

	done chan struct{}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.events = make(chan admission.Event, n)
		}
	}
}

func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithLogger sets where write failures are reported.
func WithLogger(logger admission.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRecorder starts the background writer.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:        store,
		logger:       zap.NewNop(),
		writeTimeout: defaultWriteTimeout,
		events:       make(chan admission.Event, defaultBuffer),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.loop()
	return r
}

// Observe queues ev for the store.
func (r *Recorder) Observe(ev admission.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Failed returns how many store writes returned an error.
func (r *Recorder) Failed() int64 {
	return r.failed.Load()
}

// Close stops accepting events and waits for queued ones to be written, or
// for ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for ev := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		err := r.store.Record(ctx, ev)
		cancel()
		if err != nil {
			r.failed.Add(1)
			r.logger.Warn("Failed to record admission event",
				zap.String("decision", string(ev.Decision)),
				zap.Error(err))
		}
	}
}
