// Package service provides the fan-out that delivers stream messages to several
// consumers, such as the logger and the journal of the stream command.
//
// The dispatcher component implements a fan-out message distribution system that delivers
// messages to multiple subscribers while handling slow consumers gracefully.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Overmuse/alpaca/internal/stream"
	"github.com/Overmuse/alpaca/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultBufferSize = 100

// Subscriber represents a consumer of specific stream channels.
//
// Each subscriber maintains its own buffered channel for receiving messages
// and a set of stream names it is interested in for efficient filtering.
type Subscriber struct {
	id                uuid.UUID           // unique identifier for the subscriber
	ch                chan stream.Message // Buffered channel for message delivery
	streamsSubscribed map[string]struct{} // Set of subscribed stream names
}

// ID returns the subscriber's identifier.
func (s *Subscriber) ID() uuid.UUID { return s.id }

// Messages returns the channel messages are delivered on. It is closed when the
// subscriber is removed or the dispatcher stops.
func (s *Subscriber) Messages() <-chan stream.Message { return s.ch }

// DispatcherConfig holds configuration parameters for the Dispatcher.
type DispatcherConfig struct {
	MaxStreamsAllowed int // Maximum streams per subscription
	BufferSize        int // Per-subscriber buffer; default 100
}

// Dispatcher implements a fan-out message distribution system for stream messages.
//
// The dispatcher uses the actor model pattern where a single goroutine owns and manages
// all shared state (subscribers map), eliminating the need for mutexes while ensuring
// thread safety. External interactions happen through channels.
type Dispatcher struct {
	cfg              DispatcherConfig
	subscribers      map[uuid.UUID]*Subscriber // Active subscribers (owned by dispatch goroutine)
	subscriptionCh   chan *Subscriber          // Channel for new subscription requests
	unsubscriptionCh chan *Subscriber          // Channel for unsubscription requests
	started          atomic.Bool
	done             chan struct{} // closed when the dispatch goroutine exits
}

// NewDispatcher creates a new Dispatcher instance with the provided configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	return &Dispatcher{
		cfg:              cfg,
		subscribers:      make(map[uuid.UUID]*Subscriber),
		subscriptionCh:   make(chan *Subscriber, 10), // Buffered to prevent blocking
		unsubscriptionCh: make(chan *Subscriber, 10), // Buffered to prevent blocking
		done:             make(chan struct{}),
	}
}

// Subscribe creates a new subscription for the specified stream names.
//
// The subscription request is sent to the dispatcher goroutine via a channel to
// ensure thread-safe addition to the subscribers map.
func (b *Dispatcher) Subscribe(streams []string) (*Subscriber, error) {
	if !b.started.Load() {
		return nil, errors.New("dispatcher not started")
	}

	if err := utils.ValidateStreams(streams, b.cfg.MaxStreamsAllowed); err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(streams))
	for _, s := range streams {
		set[s] = struct{}{}
	}

	sub := &Subscriber{
		id:                uuid.New(),
		ch:                make(chan stream.Message, b.cfg.BufferSize),
		streamsSubscribed: set,
	}

	select {
	case b.subscriptionCh <- sub:
	default:
		return nil, fmt.Errorf("subscription channel is full")
	}

	return sub, nil
}

// subscribe is an internal method that adds a subscriber to the active subscribers map.
func (b *Dispatcher) subscribe(subscriber *Subscriber) {
	b.subscribers[subscriber.id] = subscriber
}

// Unsubscribe removes a subscriber from the dispatcher.
func (b *Dispatcher) Unsubscribe(sub *Subscriber) error {
	select {
	case b.unsubscriptionCh <- sub:
		return nil
	default:
		return fmt.Errorf("subscription channel is full")
	}
}

// unsubscribe is an internal method that removes a subscriber and cleans up resources.
func (b *Dispatcher) unsubscribe(sub *Subscriber) {
	if _, ok := b.subscribers[sub.id]; ok {
		delete(b.subscribers, sub.id)
		close(sub.ch)
	}
}

// StartDispatching starts the dispatcher goroutine, which runs until ctx ends or
// messages is closed. Every subscriber channel is closed when it stops.
func (b *Dispatcher) StartDispatching(ctx context.Context, messages <-chan stream.Message) error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already started")
	}

	go func() {
		defer close(b.done)
		defer func() {
			for _, sub := range b.subscribers {
				close(sub.ch)
			}
			b.subscribers = make(map[uuid.UUID]*Subscriber)
		}()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("dispatcher stopped")
				return
			case sub := <-b.subscriptionCh:
				b.subscribe(sub)
			case sub := <-b.unsubscriptionCh:
				b.unsubscribe(sub)
			case msg, ok := <-messages:
				if !ok {
					log.Info().Msg("message source closed, dispatcher stopped")
					return
				}
				b.dispatch(msg)
			}
		}
	}()
	return nil
}

// Done is closed once the dispatcher has stopped and closed every subscriber channel.
func (b *Dispatcher) Done() <-chan struct{} {
	return b.done
}

// dispatch delivers msg to every subscriber of its stream.
//
// Behavior for slow consumers:
//   - If subscriber channel is full, drops the oldest buffered message
//   - Ensures the new message is always delivered (replacing oldest)
func (b *Dispatcher) dispatch(msg stream.Message) {
	for _, sub := range b.subscribers {
		if _, ok := sub.streamsSubscribed[msg.Stream()]; !ok {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			log.Warn().
				Str("subscriber", sub.id.String()).
				Str("stream", msg.Stream()).
				Msg("subscriber is too slow, dropping oldest buffered message")
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- msg:
			default:
			}
		}
	}
}
