package subscriber

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"trade-guardian/internal/event"
	"trade-guardian/internal/logging"
)

// Sink consumes decoded telemetry events in arrival order.
type Sink interface {
	Process(ev event.Event)
}

// Options configure the feed connection.
type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
}

// Subscriber attaches to the telemetry websocket feed and pushes every decoded
// event into the sink. The transport may reorder packets; the subscriber makes
// no attempt to re-sort, because arrival order is the contract the guards
// depend on. Malformed frames are logged and dropped, never fatal.
type Subscriber struct {
	opts   Options
	sink   Sink
	logger zerolog.Logger
}

// New constructs a Subscriber.
func New(opts Options, sink Sink, logger zerolog.Logger) *Subscriber {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * time.Second
	}
	return &Subscriber{
		opts:   opts,
		sink:   sink,
		logger: logging.Component(logger, "subscriber"),
	}
}

// Run blocks, maintaining the feed connection with capped-backoff reconnects
// until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := s.opts.ReconnectMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("feed dial failed")
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = min(backoff*2, s.opts.ReconnectMax)
			continue
		}

		s.logger.Info().Str("url", s.opts.URL).Msg("feed connected")
		backoff = s.opts.ReconnectMin

		if err := s.consume(ctx, conn); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("feed connection lost")
		}
	}
}

func (s *Subscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.opts.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, s.opts.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (s *Subscriber) consume(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ev, err := event.Decode(data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("discarding undecodable frame")
			continue
		}
		s.sink.Process(ev)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
