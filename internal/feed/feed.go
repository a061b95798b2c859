// Package feed keeps an account stream alive across disconnects.
//
// A Feed runs session.Connect in a loop, pumps every message of the live subscription
// into one channel, and waits an exponentially growing delay before reconnecting after
// the subscription ends. A rejected handshake is not retried.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Overmuse/alpaca/internal/session"
	"github.com/Overmuse/alpaca/internal/stream"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the connection state reported to Config.OnStateChange.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ConnectFunc opens a subscription. session.Connect is the default.
type ConnectFunc func(ctx context.Context, params session.Params, opts session.Options) (*session.Subscription, error)

// Config configures a Feed.
type Config struct {
	Params  session.Params
	Options session.Options

	// InitialBackoff and MaxBackoff bound the delay between attempts.
	// Defaults: 1s and 60s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MaxRetries is the number of consecutive failed attempts tolerated before Run
	// gives up. Zero retries forever.
	MaxRetries int

	// BufferSize is the capacity of the Messages channel. Default 1000.
	BufferSize int

	// OnStateChange, when set, is called from the Run goroutine on every transition.
	OnStateChange func(state State, err error)

	Connect ConnectFunc
}

// Feed is a self-healing stream of messages.
type Feed struct {
	cfg    Config
	out    chan stream.Message
	logger zerolog.Logger
}

// New returns a Feed. Nothing happens until Run is called.
func New(cfg Config) *Feed {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.Connect == nil {
		cfg.Connect = session.Connect
	}
	return &Feed{
		cfg: cfg,
		out: make(chan stream.Message, cfg.BufferSize),
		logger: log.With().
			Str("component", "feed").
			Str("endpoint", cfg.Params.Endpoint).
			Logger(),
	}
}

// Messages returns the channel every received message is delivered on. It is closed
// when Run returns.
func (f *Feed) Messages() <-chan stream.Message {
	return f.out
}

// Run connects and reconnects until ctx ends, which returns nil, or until a failure is
// permanent. Credentials the server rejects and invalid parameters are permanent, as
// is exceeding MaxRetries.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.out)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.InitialBackoff
	b.MaxInterval = f.cfg.MaxBackoff

	failures := 0
	connected := false

	for {
		f.notify(StateConnecting, nil)
		sub, err := f.cfg.Connect(ctx, f.cfg.Params, f.cfg.Options)
		if err != nil {
			if ctx.Err() != nil {
				f.notify(StateStopped, nil)
				return nil
			}
			if errors.Is(err, session.ErrConnectionFailure) || errors.Is(err, session.ErrInvalidParams) {
				f.logger.Error().Err(err).Msg("connection rejected, not retrying")
				f.notify(StateStopped, err)
				return err
			}

			failures++
			if f.cfg.MaxRetries > 0 && failures > f.cfg.MaxRetries {
				err = fmt.Errorf("giving up after %d attempts: %w", failures, err)
				f.notify(StateStopped, err)
				return err
			}

			delay := b.NextBackOff()
			f.logger.Warn().Err(err).Int("attempt", failures).Dur("retryIn", delay).Msg("connect failed")
			f.notify(StateDisconnected, err)
			if !sleep(ctx, delay) {
				f.notify(StateStopped, nil)
				return nil
			}
			continue
		}

		b.Reset()
		failures = 0
		if connected {
			f.cfg.Options.Metrics.RecordReconnect()
		}
		connected = true
		f.notify(StateConnected, nil)

		err = f.pump(ctx, sub)
		sub.Close()
		if ctx.Err() != nil {
			f.notify(StateStopped, nil)
			return nil
		}

		delay := b.NextBackOff()
		f.logger.Warn().Err(err).Dur("retryIn", delay).Msg("stream ended, reconnecting")
		f.notify(StateDisconnected, err)
		if !sleep(ctx, delay) {
			f.notify(StateStopped, nil)
			return nil
		}
	}
}

// pump forwards messages until the subscription ends and returns its terminal error.
func (f *Feed) pump(ctx context.Context, sub *session.Subscription) error {
	var terminal error
	for msg, err := range sub.All(ctx) {
		if err != nil {
			var decodeErr *stream.DecodeError
			if errors.As(err, &decodeErr) && f.cfg.Options.TolerateDecodeErrors {
				f.logger.Warn().Err(err).Msg("skipping frame")
				continue
			}
			terminal = err
			continue
		}

		select {
		case f.out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return terminal
}

func (f *Feed) notify(state State, err error) {
	if f.cfg.OnStateChange != nil {
		f.cfg.OnStateChange(state, err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
