package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher sends events in the background. Each delivery gets its own
// timeout and is detached from the caller's cancellation, so a finished HTTP
// request does not abort an in-flight notification.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher returns a dispatcher delivering through n. A non-positive
// timeout defaults to 10s.
func NewDispatcher(n Notifier, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{notifier: n, timeout: timeout, logger: logger}
}

// Dispatch schedules ev for delivery and returns immediately. Events arriving
// after Close are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn().Str("review_id", ev.ReviewID).Msg("notification dropped: dispatcher closed")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.deliver(context.WithoutCancel(ctx), ev)
	}()
}

func (d *Dispatcher) deliver(parent context.Context, ev Event) {
	name := d.notifier.Name()
	defer func() {
		if r := recover(); r != nil {
			notificationsTotal.WithLabelValues(name, "failed").Inc()
			d.logger.Error().Interface("panic", r).Str("notifier", name).Msg("notifier panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, ev); err != nil {
		notificationsTotal.WithLabelValues(name, "failed").Inc()
		d.logger.Warn().
			Err(err).
			Str("notifier", name).
			Str("review_id", ev.ReviewID).
			Msg("review notification failed")
		return
	}
	notificationsTotal.WithLabelValues(name, "sent").Inc()
}

// Wait blocks until all scheduled deliveries finish.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Close stops accepting events and waits for in-flight deliveries until ctx
// is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
