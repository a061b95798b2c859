package session

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/Overmuse/alpaca/internal/stream"
	"github.com/Overmuse/alpaca/internal/utils"
	"github.com/rs/zerolog"
)

// item is a message or a non-terminal error waiting to be returned by Next.
type item struct {
	msg stream.Message
	err error
}

// Subscription is a live session in the Streaming phase. Its messages are pulled one at
// a time with Next or ranged over with All.
//
// Next and Subscribe may be called from different goroutines; they are serialized,
// and a call waiting for its turn gives up when its context ends. Close may be called
// at any time, including while Next is blocked.
type Subscription struct {
	transport Transport
	opts      Options
	logger    zerolog.Logger

	phase   atomic.Int32
	streams atomic.Pointer[[]string]
	closed  atomic.Bool

	// turn is held by the Next or Subscribe call that owns the transport's read side.
	turn         chan struct{}
	pending      []item
	err          error
	errDelivered bool

	endOnce  sync.Once
	closeErr error
}

// Phase returns the current lifecycle phase.
func (s *Subscription) Phase() Phase {
	return Phase(s.phase.Load())
}

// Streams returns the channels the subscription has asked for.
func (s *Subscription) Streams() []string {
	return append([]string(nil), *s.streams.Load()...)
}

// Next blocks until the next message arrives.
//
// When the subscription ends abnormally Next returns the terminal error once, for
// example one matching ErrStreamClosed after the server hangs up, and io.EOF on every
// later call. After Close it returns io.EOF. Cancelling ctx while Next is blocked ends
// the subscription.
func (s *Subscription) Next(ctx context.Context) (stream.Message, error) {
	if err := s.acquire(ctx); err != nil {
		if s.closed.Load() {
			return nil, io.EOF
		}
		return nil, err
	}
	defer s.release()

	if s.closed.Load() {
		return nil, io.EOF
	}
	if len(s.pending) > 0 {
		it := s.pending[0]
		s.pending = s.pending[1:]
		return it.msg, it.err
	}
	if s.err != nil {
		if s.errDelivered {
			return nil, io.EOF
		}
		s.errDelivered = true
		return nil, s.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg, err := s.receive(ctx)
	if err != nil && s.err != nil {
		if s.closed.Load() {
			return nil, io.EOF
		}
		s.errDelivered = true
	}
	return msg, err
}

// receive reads and decodes one frame. A non-nil s.err afterwards means the error
// was terminal.
func (s *Subscription) receive(ctx context.Context) (stream.Message, error) {
	data, err := s.transport.Receive(ctx)
	if err != nil {
		return nil, s.terminate(classify(err))
	}

	msg, err := stream.Decode(data)
	if err != nil {
		s.opts.Metrics.RecordDecodeError(decodeErrorKind(err))
		if s.opts.TolerateDecodeErrors {
			s.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping undecodable frame")
			return nil, err
		}
		return nil, s.terminate(err)
	}

	s.opts.Metrics.RecordMessage(msg.Stream())
	s.logger.Debug().Str("stream", msg.Stream()).Msg("message received")
	return msg, nil
}

// All ranges over the messages of the subscription until it ends. A terminal error is
// yielded as the last pair.
func (s *Subscription) All(ctx context.Context) iter.Seq2[stream.Message, error] {
	return func(yield func(stream.Message, error) bool) {
		for {
			msg, err := s.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(msg, err) {
				return
			}
		}
	}
}

// Subscribe adds channels to the subscription. It sends a listen action for the union
// of the current and the new channels and consumes exactly one listening reply.
// Messages that arrive before that reply are kept for Next in arrival order.
func (s *Subscription) Subscribe(ctx context.Context, more []string) error {
	if err := utils.ValidateStreams(more, s.opts.MaxStreams); err != nil {
		return errors.Join(ErrInvalidParams, err)
	}

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if s.closed.Load() || s.err != nil {
		return ErrNotStreaming
	}

	streams := utils.MergeStreams(s.Streams(), more)
	if err := utils.ValidateStreams(streams, s.opts.MaxStreams); err != nil {
		return errors.Join(ErrInvalidParams, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()

	if err := s.send(ctx, stream.Listen{Streams: streams}); err != nil {
		return s.terminate(err)
	}

	for {
		msg, err := s.receive(ctx)
		if err != nil {
			if s.err != nil {
				return err
			}
			s.pending = append(s.pending, item{err: err})
			continue
		}
		if listening, ok := msg.(*stream.Listening); ok {
			if err := s.checkListening(listening, streams); err != nil {
				// The server has already replaced the channel set.
				s.setStreams(listening.Streams)
				return s.terminate(err)
			}
			s.setStreams(streams)
			return nil
		}
		s.pending = append(s.pending, item{msg: msg})
	}
}

// acquire waits for the turn to read, or for ctx to end.
func (s *Subscription) acquire(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	default:
	}
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subscription) release() {
	<-s.turn
}

// Close ends the subscription and releases the connection. It is safe to call more
// than once and concurrently with Next.
func (s *Subscription) Close() error {
	s.closed.Store(true)
	s.end()
	return s.closeErr
}

// terminate records err as the terminal error and releases the connection.
// It returns the first terminal error.
func (s *Subscription) terminate(err error) error {
	if s.err == nil {
		s.err = err
		if !s.closed.Load() {
			s.logger.Error().Err(err).Msg("subscription ended")
		}
	}
	s.end()
	return s.err
}

func (s *Subscription) end() {
	s.endOnce.Do(func() {
		wasStreaming := s.Phase() == Streaming
		s.phase.Store(int32(Closed))
		s.closeErr = s.transport.Close()
		if wasStreaming {
			s.opts.Metrics.SessionClosed()
		}
	})
}

func (s *Subscription) advance(from, to Phase) {
	if !s.phase.CompareAndSwap(int32(from), int32(to)) {
		s.logger.Warn().
			Str("from", from.String()).
			Str("to", to.String()).
			Str("phase", s.Phase().String()).
			Msg("phase transition skipped")
		return
	}
	s.logger.Debug().Str("phase", to.String()).Msg("phase changed")
}

func (s *Subscription) setStreams(streams []string) {
	cp := append([]string(nil), streams...)
	s.streams.Store(&cp)
}
