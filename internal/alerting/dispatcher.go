package alerting

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher drains transition notifications off the guard recomputation path.
// Delivery is at-most-once with bounded local retry; a slow or failing channel
// never delays the next event's guard evaluation and never reverses a safety
// verdict.
type Dispatcher struct {
	notifier Notifier
	queue    chan Notification
	retries  int
	backoff  time.Duration
	dropped  func()
	logger   zerolog.Logger
}

// DispatcherOptions tune queue depth and retry behaviour.
type DispatcherOptions struct {
	QueueSize int
	Retries   int
	Backoff   time.Duration
	// OnDrop is invoked when a notification is discarded on a full queue.
	OnDrop func()
}

// NewDispatcher wires a notifier behind a bounded queue.
func NewDispatcher(notifier Notifier, opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	dropped := opts.OnDrop
	if dropped == nil {
		dropped = func() {}
	}
	return &Dispatcher{
		notifier: notifier,
		queue:    make(chan Notification, opts.QueueSize),
		retries:  opts.Retries,
		backoff:  opts.Backoff,
		dropped:  dropped,
		logger:   logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// Enqueue hands off a notification without blocking. A full queue drops the
// notification: safety has priority over notification.
func (d *Dispatcher) Enqueue(note Notification) {
	select {
	case d.queue <- note:
	default:
		d.dropped()
		d.logger.Warn().Str("bot", note.BotID).Msg("alert queue full, notification dropped")
	}
}

// Run drains the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case note := <-d.queue:
			d.deliver(ctx, note)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, note Notification) {
	if d.notifier == nil {
		return
	}
	backoff := d.backoff
	for attempt := 1; ; attempt++ {
		err := d.notifier.Notify(ctx, note)
		if err == nil {
			return
		}
		if attempt >= d.retries || ctx.Err() != nil {
			d.logger.Error().Err(err).Str("bot", note.BotID).Int("attempts", attempt).Msg("告警投递失败, 已放弃")
			return
		}
		d.logger.Warn().Err(err).Str("bot", note.BotID).Int("attempt", attempt).Msg("alert delivery failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= 2
	}
}
