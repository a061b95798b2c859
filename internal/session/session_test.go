package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Overmuse/alpaca/internal/metrics"
	"github.com/Overmuse/alpaca/internal/stream"
	alpacaws "github.com/Overmuse/alpaca/internal/websocket"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	authenticateFrame = `{"action":"authenticate","data":{"key_id":"k","secret_key":"s"}}`
	listenFrame       = `{"action":"listen","data":{"streams":["trade_updates"]}}`
	authorizedReply   = `{"stream":"authorization","data":{"status":"authorized","action":"authenticate"}}`
	unauthorizedReply = `{"stream":"authorization","data":{"status":"unauthorized","action":"authenticate"}}`
	listeningReply    = `{"stream":"listening","data":{"streams":["trade_updates"]}}`

	orderJSON     = `{"id":"61e69015-8549-4bfd-b9c3-01e75843f47d","client_order_id":"eb9e2aaa-f71a-4f51-b5b4-52a6c565dad4","created_at":"2021-03-16T18:38:01.942282Z","updated_at":"2021-03-16T18:38:01.942282Z","submitted_at":"2021-03-16T18:38:01.937734Z","filled_at":null,"expired_at":null,"canceled_at":null,"failed_at":null,"replaced_at":null,"replaced_by":null,"replaces":null,"asset_id":"b0b6dd9d-8b9b-48a9-ba46-b9d54906e415","symbol":"AAPL","asset_class":"us_equity","qty":"100","filled_qty":"100","filled_avg_price":"179.08","order_class":"","type":"market","side":"buy","time_in_force":"day","limit_price":null,"stop_price":null,"status":"filled","extended_hours":false,"legs":null,"trail_percent":null,"trail_price":null,"hwm":null}`
	fillFrame     = `{"stream":"trade_updates","data":{"event":"fill","price":"179.08","timestamp":"2018-02-28T20:38:22Z","qty":"100","position_qty":"100","order":` + orderJSON + `}}`
	newOrderFrame = `{"stream":"trade_updates","data":{"event":"new","order":` + orderJSON + `}}`
	accountFrame  = `{"stream":"account_updates","data":{"id":"ef505a9a-2f3c-4b8a-be95-6b6f185f8a03","created_at":"2018-02-26T19:22:31Z","updated_at":"2018-02-27T18:16:24Z","deleted_at":null,"status":"ACTIVE","currency":"USD","cash":"1241.54","cash_withdrawable":"523.71"}}`
)

// mockServer accepts one websocket connection, runs script on it, then records
// whatever else the client sends until it disconnects.
type mockServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	script   func(c *serverConn)

	mu       sync.Mutex
	received []string
	done     chan struct{}
}

type serverConn struct {
	conn *websocket.Conn
	srv  *mockServer
}

func newMockServer(t *testing.T, script func(c *serverConn)) *mockServer {
	t.Helper()
	ms := &mockServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		script: script,
		done:   make(chan struct{}),
	}
	ms.server = httptest.NewServer(http.HandlerFunc(ms.handle))
	t.Cleanup(ms.server.Close)
	return ms
}

func (ms *mockServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := ms.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer close(ms.done)
	defer conn.Close()

	c := &serverConn{conn: conn, srv: ms}
	ms.script(c)
	c.drain()
}

func (ms *mockServer) URL() string {
	return "ws" + strings.TrimPrefix(ms.server.URL, "http")
}

// Received waits for the connection to end and returns every frame the client sent.
func (ms *mockServer) Received(t *testing.T) []string {
	t.Helper()
	select {
	case <-ms.done:
	case <-time.After(2 * time.Second):
		t.Fatal("server connection did not end")
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]string(nil), ms.received...)
}

// expect reads one frame from the client.
func (c *serverConn) expect() (string, bool) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return "", false
	}
	c.srv.mu.Lock()
	c.srv.received = append(c.srv.received, string(data))
	c.srv.mu.Unlock()
	return string(data), true
}

func (c *serverConn) send(frames ...string) {
	for _, frame := range frames {
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
	}
}

func (c *serverConn) hangUp() {
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *serverConn) drain() {
	for {
		if _, ok := c.expect(); !ok {
			return
		}
	}
}

// handshake answers the authenticate and listen actions like the real server.
func (c *serverConn) handshake() {
	if _, ok := c.expect(); !ok {
		return
	}
	c.send(authorizedReply)
	if _, ok := c.expect(); !ok {
		return
	}
	c.send(listeningReply)
}

func testParams(endpoint string) Params {
	return Params{
		Endpoint:  endpoint,
		KeyID:     "k",
		SecretKey: "s",
		Streams:   []string{"trade_updates"},
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func connect(t *testing.T, ms *mockServer, opts Options) *Subscription {
	t.Helper()
	sub, err := Connect(testContext(t), testParams(ms.URL()), opts)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	return sub
}

func TestConnect_EndToEnd(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.handshake()
		c.send(fillFrame)
	})

	sub := connect(t, ms, Options{})
	assert.Equal(t, Streaming, sub.Phase())
	assert.Equal(t, []string{"trade_updates"}, sub.Streams())

	msg, err := sub.Next(testContext(t))
	require.NoError(t, err)
	update, ok := msg.(*stream.TradeUpdate)
	require.True(t, ok)
	fill, ok := update.Event.(stream.FillEvent)
	require.True(t, ok)
	assert.Equal(t, 179.08, fill.Price.InexactFloat64())
	assert.Equal(t, int64(100), fill.Qty)
	assert.Equal(t, "AAPL", update.Order.Symbol)

	require.NoError(t, sub.Close())
	assert.Equal(t, []string{authenticateFrame, listenFrame}, ms.Received(t))
}

func TestConnect_HandshakeOrdering(t *testing.T) {
	var listenBeforeReply bool
	ms := newMockServer(t, func(c *serverConn) {
		c.expect()
		// Nothing else may arrive before the authorization reply.
		c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		if _, _, err := c.conn.ReadMessage(); err == nil {
			listenBeforeReply = true
		}
	})

	_, err := Connect(testContext(t), testParams(ms.URL()), Options{HandshakeTimeout: 300 * time.Millisecond})
	require.Error(t, err)

	ms.Received(t)
	assert.False(t, listenBeforeReply, "listen must wait for the authorization reply")
}

func TestConnect_Unauthorized(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.expect()
		c.send(unauthorizedReply)
	})

	sub, err := Connect(testContext(t), testParams(ms.URL()), Options{})
	require.Error(t, err)
	assert.Nil(t, sub)
	assert.ErrorIs(t, err, ErrConnectionFailure)

	var failure *ConnectionFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "failed to connect: authenticate unauthorized", failure.Error())
	assert.Equal(t, &stream.Authorization{Status: stream.Unauthorized, Action: "authenticate"}, failure.Reply)

	assert.Equal(t, []string{authenticateFrame}, ms.Received(t), "no listen action after rejection")
}

func TestConnect_UnexpectedReplies(t *testing.T) {
	tests := []struct {
		name   string
		script func(c *serverConn)
		reason string
	}{
		{
			name: "listening instead of authorization",
			script: func(c *serverConn) {
				c.expect()
				c.send(listeningReply)
			},
			reason: "unexpected listening message in reply to authenticate",
		},
		{
			name: "trade update instead of listening",
			script: func(c *serverConn) {
				c.expect()
				c.send(authorizedReply)
				c.expect()
				c.send(newOrderFrame)
			},
			reason: "unexpected trade_updates message in reply to listen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := newMockServer(t, tt.script)

			_, err := Connect(testContext(t), testParams(ms.URL()), Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConnectionFailure)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestConnect_ListeningVerification(t *testing.T) {
	script := func(c *serverConn) {
		c.expect()
		c.send(authorizedReply)
		c.expect()
		c.send(`{"stream":"listening","data":{"streams":[]}}`)
	}

	t.Run("lenient by default", func(t *testing.T) {
		ms := newMockServer(t, script)
		sub := connect(t, ms, Options{})
		assert.Equal(t, Streaming, sub.Phase())
	})

	t.Run("verified", func(t *testing.T) {
		ms := newMockServer(t, script)
		_, err := Connect(testContext(t), testParams(ms.URL()), Options{VerifyListening: true})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConnectionFailure)
		assert.Contains(t, err.Error(), "requested [trade_updates]")
	})
}

func TestConnect_ServerHangsUp(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.expect()
		c.hangUp()
	})

	_, err := Connect(testContext(t), testParams(ms.URL()), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.ErrorIs(t, err, alpacaws.ErrClosed)
	assert.NotErrorIs(t, err, ErrConnectionFailure)
}

func TestConnect_MalformedReply(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.expect()
		c.send(`{"stream":"authorization",`)
	})

	registry := prometheus.NewRegistry()
	_, err := Connect(testContext(t), testParams(ms.URL()), Options{Metrics: metrics.New(metrics.Config{Registry: registry})})
	require.Error(t, err)
	assert.ErrorIs(t, err, stream.ErrMalformed)

	count, err := testutil.GatherAndCount(registry, "alpaca_stream_decode_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConnect_HandshakeTimeout(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.expect()
	})

	start := time.Now()
	_, err := Connect(testContext(t), testParams(ms.URL()), Options{HandshakeTimeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "handshake timed out after 100ms")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConnect_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		params Params
	}{
		{name: "missing endpoint", params: Params{KeyID: "k", SecretKey: "s", Streams: []string{"trade_updates"}}},
		{name: "relative endpoint", params: Params{Endpoint: "stream", KeyID: "k", SecretKey: "s", Streams: []string{"trade_updates"}}},
		{name: "missing key", params: Params{Endpoint: "wss://example.com/stream", SecretKey: "s", Streams: []string{"trade_updates"}}},
		{name: "missing secret", params: Params{Endpoint: "wss://example.com/stream", KeyID: "k", Streams: []string{"trade_updates"}}},
		{name: "no streams", params: Params{Endpoint: "wss://example.com/stream", KeyID: "k", SecretKey: "s"}},
		{name: "unknown stream", params: Params{Endpoint: "wss://example.com/stream", KeyID: "k", SecretKey: "s", Streams: []string{"quotes"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialed := false
			_, err := Connect(testContext(t), tt.params, Options{
				Dial: func(context.Context, string) (Transport, error) {
					dialed = true
					return nil, errors.New("unreachable")
				},
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidParams)
			assert.False(t, dialed)
		})
	}
}

func TestConnect_DialFailure(t *testing.T) {
	dialErr := &alpacaws.TransportError{Op: "dial", Err: errors.New("connection refused")}
	_, err := Connect(testContext(t), testParams("wss://example.com/stream"), Options{
		Dial: func(context.Context, string) (Transport, error) { return nil, dialErr },
	})
	assert.ErrorIs(t, err, dialErr)
}

func TestConnect_SecretNotInErrors(t *testing.T) {
	params := testParams("")
	params.SecretKey = "super-secret"
	_, err := Connect(testContext(t), params, Options{})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "super-secret")
}

func TestConnect_Metrics(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.handshake()
	})

	registry := prometheus.NewRegistry()
	sub := connect(t, ms, Options{Metrics: metrics.New(metrics.Config{Registry: registry})})

	expected := `
# HELP alpaca_stream_connects_total Total number of connection attempts by result
# TYPE alpaca_stream_connects_total counter
alpaca_stream_connects_total{result="success"} 1
# HELP alpaca_stream_sessions_active Number of sessions in the streaming phase
# TYPE alpaca_stream_sessions_active gauge
alpaca_stream_sessions_active 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"alpaca_stream_connects_total", "alpaca_stream_sessions_active"))

	require.NoError(t, sub.Close())

	expected = `
# HELP alpaca_stream_sessions_active Number of sessions in the streaming phase
# TYPE alpaca_stream_sessions_active gauge
alpaca_stream_sessions_active 0
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "alpaca_stream_sessions_active"))
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "authenticating", Authenticating.String())
	assert.Equal(t, "subscribing", Subscribing.String())
	assert.Equal(t, "streaming", Streaming.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "unknown", Phase(42).String())
}

func TestSubscription_ClosureSurfacing(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.handshake()
		c.send(newOrderFrame)
		c.hangUp()
	})

	sub := connect(t, ms, Options{})
	ctx := testContext(t)

	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.IsType(t, stream.NewEvent{}, msg.(*stream.TradeUpdate).Event)

	_, err = sub.Next(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Equal(t, Closed, sub.Phase())

	for range 2 {
		msg, err = sub.Next(ctx)
		assert.Nil(t, msg)
		assert.Equal(t, io.EOF, err)
	}
}

func TestSubscription_DecodeErrorIsTerminal(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.handshake()
		c.send(`{"stream":"unknown_thing","data":{}}`, newOrderFrame)
	})

	sub := connect(t, ms, Options{})
	ctx := testContext(t)

	_, err := sub.Next(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, stream.ErrUnrecognizedMessage)

	_, err = sub.Next(ctx)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, Closed, sub.Phase())
}

func TestSubscription_TolerateDecodeErrors(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.handshake()
		c.send(`not json`, accountFrame)
	})

	sub := connect(t, ms, Options{TolerateDecodeErrors: true})
	ctx := testContext(t)

	_, err := sub.Next(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, stream.ErrMalformed)
	assert.Equal(t, Streaming, sub.Phase())

	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.IsType(t, &stream.AccountUpdate{}, msg)
}

func TestSubscription_Subscribe(t *testing.T) {
	var listen string
	ms := newMockServer(t, func(c *serverConn) {
		c.handshake()
		listen, _ = c.expect()
		c.send(
			newOrderFrame,
			`{"stream":"listening","data":{"streams":["trade_updates","account_updates"]}}`,
			accountFrame,
		)
	})

	sub := connect(t, ms, Options{VerifyListening: true})
	ctx := testContext(t)

	require.NoError(t, sub.Subscribe(ctx, []string{"account_updates"}))
	assert.Equal(t, []string{"trade_updates", "account_updates"}, sub.Streams())

	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.IsType(t, &stream.TradeUpdate{}, msg, "message before the reply is kept")

	msg, err = sub.Next(ctx)
	require.NoError(t, err)
	assert.IsType(t, &stream.AccountUpdate{}, msg)

	require.NoError(t, sub.Close())
	ms.Received(t)
	assert.Equal(t, `{"action":"listen","data":{"streams":["trade_updates","account_updates"]}}`, listen)
}

func TestSubscription_SubscribeValidation(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.handshake()
	})
	sub := connect(t, ms, Options{})
	ctx := testContext(t)

	assert.ErrorIs(t, sub.Subscribe(ctx, nil), ErrInvalidParams)
	assert.ErrorIs(t, sub.Subscribe(ctx, []string{"bars"}), ErrInvalidParams)
	assert.ErrorIs(t, sub.Subscribe(ctx, []string{"account_updates", "account_updates"}), ErrInvalidParams)

	require.NoError(t, sub.Close())
	assert.ErrorIs(t, sub.Subscribe(ctx, []string{"account_updates"}), ErrNotStreaming)
}

func TestSubscription_SubscribeAfterClosure(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.handshake()
		c.hangUp()
	})
	sub := connect(t, ms, Options{})
	ctx := testContext(t)

	err := sub.Subscribe(ctx, []string{"account_updates"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamClosed)

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrStreamClosed, "the terminal error is still reported once")
	_, err = sub.Next(ctx)
	assert.Equal(t, io.EOF, err)

	assert.ErrorIs(t, sub.Subscribe(ctx, []string{"account_updates"}), ErrNotStreaming)
}

func TestSubscription_SubscribeRespectsContextWhileNextWaits(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.handshake()
	})
	sub := connect(t, ms, Options{})

	nextErr := make(chan error, 1)
	go func() {
		_, err := sub.Next(testContext(t))
		nextErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := sub.Subscribe(ctx, []string{"account_updates"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Streaming, sub.Phase(), "a call that never got its turn leaves the session alone")

	require.NoError(t, sub.Close())
	select {
	case err := <-nextErr:
		assert.Equal(t, io.EOF, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Next should return after Close")
	}
	ms.Received(t)
}

func TestSubscription_SubscribeListeningRejected(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.handshake()
		if _, ok := c.expect(); !ok {
			return
		}
		c.send(`{"stream":"listening","data":{"streams":["account_updates"]}}`)
	})
	sub := connect(t, ms, Options{VerifyListening: true})
	ctx := testContext(t)

	err := sub.Subscribe(ctx, []string{"account_updates"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailure)
	assert.Equal(t, Closed, sub.Phase())
	assert.Equal(t, []string{"account_updates"}, sub.Streams(), "reports what the server listens to")

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrConnectionFailure)
	_, err = sub.Next(ctx)
	assert.Equal(t, io.EOF, err)
	ms.Received(t)
}

func TestSubscription_Close(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.handshake()
	})
	sub := connect(t, ms, Options{})

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(testContext(t))
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	select {
	case err := <-errCh:
		assert.Equal(t, io.EOF, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Next should return after Close")
	}
	assert.Equal(t, Closed, sub.Phase())

	_, err := sub.Next(testContext(t))
	assert.Equal(t, io.EOF, err)
	ms.Received(t)
}

func TestSubscription_All(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.handshake()
		c.send(newOrderFrame, fillFrame, accountFrame)
		c.hangUp()
	})
	sub := connect(t, ms, Options{})

	var (
		streams []string
		last    error
	)
	for msg, err := range sub.All(testContext(t)) {
		if err != nil {
			last = err
			continue
		}
		streams = append(streams, msg.Stream())
	}

	assert.Equal(t, []string{"trade_updates", "trade_updates", "account_updates"}, streams)
	assert.ErrorIs(t, last, ErrStreamClosed)
}

func TestSubscription_AllStopsEarly(t *testing.T) {
	ms := newMockServer(t, func(c *serverConn) {
		c.handshake()
		c.send(newOrderFrame, fillFrame)
	})
	sub := connect(t, ms, Options{})

	count := 0
	for range sub.All(testContext(t)) {
		count++
		break
	}
	assert.Equal(t, 1, count)

	msg, err := sub.Next(testContext(t))
	require.NoError(t, err)
	assert.IsType(t, stream.FillEvent{}, msg.(*stream.TradeUpdate).Event)
}
