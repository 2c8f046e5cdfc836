package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher queues events and delivers them to every sink from a single
// background worker. Publish never blocks; when the queue is full the event
// is dropped with a warning.
type Dispatcher struct {
	sinks   []Sink
	logger  zerolog.Logger
	queue   chan Event
	timeout time.Duration

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

type DispatcherOption func(*Dispatcher)

// WithQueueSize sets the number of events buffered ahead of the sinks.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Event, n)
		}
	}
}

// WithSendTimeout bounds each sink delivery.
func WithSendTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

func NewDispatcher(logger zerolog.Logger, sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:   sinks,
		logger:  logger.With().Str("component", "events").Logger(),
		queue:   make(chan Event, 256),
		timeout: 10 * time.Second,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	go d.run()
	return d
}

func (d *Dispatcher) Publish(_ context.Context, evt Event) {
	if len(d.sinks) == 0 {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Debug().Str("event_type", evt.Type).Msg("dispatcher closed, dropping event")
		return
	}
	select {
	case d.queue <- evt:
	default:
		d.logger.Warn().Str("event_type", evt.Type).Str("event_id", evt.ID).Msg("event queue full, dropping event")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for evt := range d.queue {
		d.deliver(evt)
	}
}

func (d *Dispatcher) deliver(evt Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := s.Send(ctx, evt)
		cancel()
		if err != nil {
			d.logger.Warn().Err(err).
				Str("sink", s.Name()).
				Str("event_type", evt.Type).
				Str("event_id", evt.ID).
				Msg("event delivery failed")
			continue
		}
		d.logger.Debug().Str("sink", s.Name()).Str("event_type", evt.Type).Msg("event delivered")
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
