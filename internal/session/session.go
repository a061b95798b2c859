// Package session drives the account stream handshake and hands the caller a live
// Subscription.
//
// Connect dials the endpoint, sends an authenticate action, waits for its reply, sends a
// listen action, waits for its reply, and only then returns. Every send during the
// handshake is followed by exactly one receive, and any failure on the way is terminal:
// the connection is closed and nothing is retried. Reconnecting is the caller's job
// (see internal/feed).
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Overmuse/alpaca/internal/metrics"
	"github.com/Overmuse/alpaca/internal/stream"
	"github.com/Overmuse/alpaca/internal/utils"
	"github.com/Overmuse/alpaca/internal/websocket"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

const defaultHandshakeTimeout = 10 * time.Second

var validate = validator.New()

// Transport is the duplex frame channel a session runs on.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// DialFunc opens a Transport to endpoint.
type DialFunc func(ctx context.Context, endpoint string) (Transport, error)

// Params identifies the endpoint, the account and the channels to listen to.
type Params struct {
	Endpoint  string `validate:"required,url"`
	KeyID     string `validate:"required"`
	SecretKey string `validate:"required"`
	Streams   []string
}

// Options tunes a session. The zero value is usable.
type Options struct {
	// HandshakeTimeout bounds the dial and both handshake round trips, and each
	// Subscribe round trip. Default 10s.
	HandshakeTimeout time.Duration

	// VerifyListening makes the handshake fail unless the listening reply names every
	// requested stream. The server's reply is trusted by default.
	VerifyListening bool

	// TolerateDecodeErrors turns a frame that fails to decode into a non-terminal error
	// item instead of ending the subscription.
	TolerateDecodeErrors bool

	// MaxStreams caps the number of channels a session listens to.
	// Default: every supported stream.
	MaxStreams int

	// TLSInsecureSkip and PingPeriod configure the default websocket transport.
	TLSInsecureSkip bool
	PingPeriod      time.Duration

	// Dial replaces the websocket transport, mostly for tests.
	Dial DialFunc

	Metrics *metrics.Collector
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.MaxStreams <= 0 {
		o.MaxStreams = len(utils.StreamSet)
	}
	if o.Dial == nil {
		o.Dial = o.dialWebsocket
	}
	return o
}

func (o Options) dialWebsocket(ctx context.Context, endpoint string) (Transport, error) {
	conn, err := websocket.Dial(ctx, websocket.Config{
		Endpoint:         endpoint,
		TLSInsecureSkip:  o.TLSInsecureSkip,
		PingPeriod:       o.PingPeriod,
		HandshakeTimeout: o.HandshakeTimeout,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (p Params) validate(maxStreams int) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	if err := utils.ValidateStreams(p.Streams, maxStreams); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return nil
}

// Connect performs the whole handshake and returns a Subscription in the Streaming
// phase. It fails with *ConnectionFailure when the server rejects the credentials or
// answers out of protocol, with ErrStreamClosed when the server hangs up, and with the
// transport or decode error otherwise.
func Connect(ctx context.Context, params Params, opts Options) (*Subscription, error) {
	opts = opts.withDefaults()
	if err := params.validate(opts.MaxStreams); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("component", "session").
		Str("endpoint", params.Endpoint).
		Logger()

	s := &Subscription{
		opts:   opts,
		logger: logger,
		turn:   make(chan struct{}, 1),
	}
	s.phase.Store(int32(Connecting))
	s.setStreams(params.Streams)

	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	logger.Info().
		Str("keyID", params.KeyID).
		Strs("streams", params.Streams).
		Msg("connecting")

	err := s.open(hctx, params)
	if err != nil {
		if s.transport != nil {
			s.end()
		} else {
			s.phase.Store(int32(Closed))
		}
		if errors.Is(hctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("handshake timed out after %s: %w", opts.HandshakeTimeout, err)
		}

		result := metrics.ResultError
		if errors.Is(err, ErrConnectionFailure) {
			result = metrics.ResultRejected
		}
		opts.Metrics.RecordConnect(result, time.Since(start))
		logger.Error().Err(err).Str("phase", s.Phase().String()).Msg("connect failed")
		return nil, err
	}

	opts.Metrics.RecordConnect(metrics.ResultSuccess, time.Since(start))
	opts.Metrics.SessionOpened()
	logger.Info().
		Dur("elapsed", time.Since(start)).
		Strs("streams", s.Streams()).
		Msg("streaming")
	return s, nil
}

// open runs Connecting through Streaming.
func (s *Subscription) open(ctx context.Context, params Params) error {
	transport, err := s.opts.Dial(ctx, params.Endpoint)
	if err != nil {
		return err
	}
	s.transport = transport
	s.advance(Connecting, Authenticating)

	reply, err := s.request(ctx, stream.Authenticate{
		KeyID:     params.KeyID,
		SecretKey: params.SecretKey,
	})
	if err != nil {
		return err
	}
	auth, ok := reply.(*stream.Authorization)
	if !ok {
		return unexpectedReply(stream.ActionAuthenticate, reply)
	}
	if auth.Status != stream.Authorized {
		return &ConnectionFailure{
			Reason: fmt.Sprintf("%s %s", auth.Action, auth.Status),
			Reply:  reply,
		}
	}
	s.logger.Info().Msg("authenticated")
	s.advance(Authenticating, Subscribing)

	reply, err = s.request(ctx, stream.Listen{Streams: params.Streams})
	if err != nil {
		return err
	}
	if err := s.checkListening(reply, params.Streams); err != nil {
		return err
	}
	s.advance(Subscribing, Streaming)
	return nil
}

// request sends action and receives exactly one reply.
func (s *Subscription) request(ctx context.Context, action stream.Action) (stream.Message, error) {
	if err := s.send(ctx, action); err != nil {
		return nil, err
	}
	data, err := s.transport.Receive(ctx)
	if err != nil {
		return nil, classify(err)
	}
	msg, err := stream.Decode(data)
	if err != nil {
		s.opts.Metrics.RecordDecodeError(decodeErrorKind(err))
		return nil, err
	}
	s.logger.Debug().Str("stream", msg.Stream()).Str("action", action.Action()).Msg("reply received")
	return msg, nil
}

func (s *Subscription) send(ctx context.Context, action stream.Action) error {
	data, err := stream.Encode(action)
	if err != nil {
		return err
	}
	if err := s.transport.Send(ctx, data); err != nil {
		return classify(err)
	}
	s.logger.Debug().Str("action", action.Action()).Msg("action sent")
	return nil
}

// checkListening accepts reply as the answer to a listen action for requested.
func (s *Subscription) checkListening(reply stream.Message, requested []string) error {
	listening, ok := reply.(*stream.Listening)
	if !ok {
		return unexpectedReply(stream.ActionListen, reply)
	}
	if s.opts.VerifyListening && !utils.ContainsAll(listening.Streams, requested) {
		return &ConnectionFailure{
			Reason: fmt.Sprintf("listening to %v, requested %v", listening.Streams, requested),
			Reply:  reply,
		}
	}
	s.logger.Info().Strs("streams", listening.Streams).Msg("listening")
	return nil
}
