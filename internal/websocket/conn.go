// Package websocket provides the full-duplex text frame channel the streaming session
// runs on.
//
// A Conn wraps a gorilla websocket connection with keepalive pings, per-call context
// cancellation and sticky terminal errors: once a Conn has failed or been closed, every
// later Send and Receive returns the same error.
package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// defaultPingPeriod defines the default interval for sending WebSocket ping messages.
	defaultPingPeriod = 15 * time.Second

	// defaultSendTimeout defines the default timeout for WebSocket write operations.
	defaultSendTimeout = 5 * time.Second

	// defaultReadLimit defines the maximum size of incoming WebSocket messages.
	defaultReadLimit = 1 << 20 // 1MB

	// defaultHandshakeTimeout defines the maximum time allowed for WebSocket handshake.
	defaultHandshakeTimeout = 10 * time.Second

	closeGracePeriod = time.Second
)

// ErrClosed is in the chain of every error returned after the peer closed the
// connection or Close was called.
var ErrClosed = errors.New("connection closed")

// TransportError reports a failed dial, send or receive.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "websocket " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config defines settings for a connection.
type Config struct {
	// Endpoint is the WebSocket URL to connect to.
	// Required: This field must be provided and non-empty.
	Endpoint string

	// Header is sent with the opening handshake.
	Header http.Header

	// TLSInsecureSkip disables TLS certificate verification.
	TLSInsecureSkip bool

	// PingPeriod is the interval between WebSocket ping messages.
	PingPeriod time.Duration

	// SendTimeout bounds a single write when the caller's context has no earlier deadline.
	SendTimeout time.Duration

	// HandshakeTimeout bounds the opening handshake.
	HandshakeTimeout time.Duration

	// ReadLimit is the maximum size of an inbound message in bytes.
	ReadLimit int64
}

// Conn is an open connection. Send may be called concurrently with Receive; each
// of them is serialized with itself.
type Conn struct {
	ws     *websocket.Conn
	cfg    Config
	logger zerolog.Logger

	writeMu sync.Mutex
	readMu  sync.Mutex

	errMu sync.Mutex
	err   error

	// canceled stops the pong handler from pushing back a deadline set by cancellation.
	canceled atomic.Bool

	quit      chan struct{}
	quitOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial opens a connection to cfg.Endpoint and starts its keepalive loop.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.Endpoint == "" {
		return nil, &TransportError{Op: "dial", Err: errors.New("endpoint URL is required")}
	}
	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.ReadLimit == 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	if cfg.Header == nil {
		cfg.Header = make(http.Header)
	}

	logger := log.With().
		Str("endpoint", cfg.Endpoint).
		Str("component", "transport").
		Logger()

	logger.Info().
		Bool("tlsInsecureSkip", cfg.TLSInsecureSkip).
		Dur("handshakeTimeout", cfg.HandshakeTimeout).
		Msg("attempting websocket connection")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: cfg.TLSInsecureSkip},
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, cfg.Endpoint, cfg.Header)
	if err != nil {
		if resp != nil {
			logger.Error().
				Err(err).
				Int("statusCode", resp.StatusCode).
				Str("status", resp.Status).
				Msg("connection failed")
			err = fmt.Errorf("%w (status %s)", err, resp.Status)
		} else {
			logger.Error().Err(err).Msg("connection failed")
		}
		return nil, &TransportError{Op: "dial", Err: err}
	}

	c := &Conn{
		ws:     ws,
		cfg:    cfg,
		logger: logger,
		quit:   make(chan struct{}),
	}

	ws.SetReadLimit(cfg.ReadLimit)
	ws.SetPongHandler(func(string) error {
		if c.canceled.Load() {
			return nil
		}
		// Update read deadline when pong is received
		if err := ws.SetReadDeadline(time.Now().Add(cfg.PingPeriod * 2)); err != nil {
			logger.Warn().Err(err).Msg("failed to set read deadline in pong handler")
		}
		return nil
	})
	ws.SetPingHandler(func(appData string) error {
		logger.Debug().Msg("ping received")
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(cfg.SendTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pingLoop()
	}()

	logger.Info().Msg("websocket connection established")
	return c, nil
}

// Send writes data as one text frame.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if err := c.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "send", Err: err}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.cfg.SendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return c.fail("send", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetWriteDeadline(time.Now())
	})
	err := c.ws.WriteMessage(websocket.TextMessage, data)
	if !stop() {
		return c.fail("send", ctx.Err())
	}
	if err != nil {
		return c.fail("send", err)
	}

	c.logger.Debug().Int("bytes", len(data)).Msg("sent message")
	return nil
}

// Receive blocks until the next data frame arrives and returns its payload.
// Cancelling ctx while Receive is blocked fails the connection.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "receive", Err: err}
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	// Pongs only extend the deadline while a read is pending, so a caller that was
	// busy between two calls must not find it already expired.
	if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.PingPeriod * 2)); err != nil {
		return nil, c.fail("receive", err)
	}

	stop := context.AfterFunc(ctx, func() {
		c.canceled.Store(true)
		_ = c.ws.SetReadDeadline(time.Now())
	})
	messageType, data, err := c.ws.ReadMessage()
	if !stop() {
		return nil, c.fail("receive", ctx.Err())
	}
	if err != nil {
		return nil, c.fail("receive", err)
	}

	c.logger.Debug().
		Int("messageType", messageType).
		Int("bytes", len(data)).
		Msg("received message")
	return data, nil
}

// Err returns the terminal error of the connection, or nil while it is usable.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close sends a normal closure frame and releases the connection. Pending and later
// calls fail with ErrClosed. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.logger.Info().Msg("initiating graceful shutdown")
		c.setErr(&TransportError{Op: "close", Err: ErrClosed})

		if werr := c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			c.logger.Debug().Err(werr).Msg("failed to send close frame")
		}

		if cerr := c.ws.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			c.logger.Warn().Err(cerr).Msg("error closing websocket connection")
			err = cerr
		}

		c.wg.Wait()
		c.logger.Info().Msg("shutdown complete")
	})
	return err
}

// fail records the first terminal error and returns whichever error is terminal.
func (c *Conn) fail(op string, err error) error {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.logger.Info().Err(err).Msg("websocket closed normally")
		err = fmt.Errorf("%w: %w", ErrClosed, err)
	case websocket.IsUnexpectedCloseError(err):
		c.logger.Warn().Err(err).Msg("unexpected websocket closure")
		err = fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, net.ErrClosed):
		err = fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.logger.Debug().Err(err).Str("op", op).Msg("operation cancelled")
	default:
		c.logger.Error().Err(err).Str("op", op).Msg("websocket error")
	}
	return c.setErr(&TransportError{Op: op, Err: err})
}

func (c *Conn) setErr(err error) error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
		c.quitOnce.Do(func() { close(c.quit) })
	}
	return c.err
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	logger := c.logger.With().Str("loop", "ping").Logger()
	logger.Debug().Dur("period", c.cfg.PingPeriod).Msg("starting ping loop")
	defer logger.Debug().Msg("ping loop exiting")

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.SendTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Warn().Err(err).Msg("ping error")
			} else {
				logger.Debug().Msg("ping sent")
			}
		case <-c.quit:
			return
		}
	}
}
