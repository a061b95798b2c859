package feed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Overmuse/alpaca/internal/metrics"
	"github.com/Overmuse/alpaca/internal/session"
	"github.com/Overmuse/alpaca/internal/stream"
	"github.com/Overmuse/alpaca/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	authorizedReply   = `{"stream":"authorization","data":{"status":"authorized","action":"authenticate"}}`
	unauthorizedReply = `{"stream":"authorization","data":{"status":"unauthorized","action":"authenticate"}}`
	listeningReply    = `{"stream":"listening","data":{"streams":["account_updates"]}}`
)

func accountFrame(cash string) string {
	return `{"stream":"account_updates","data":{"id":"ef505a9a-2f3c-4b8a-be95-6b6f185f8a03","created_at":"2018-02-26T19:22:31Z","updated_at":"2018-02-27T18:16:24Z","status":"ACTIVE","currency":"USD","cash":"` + cash + `","cash_withdrawable":"0"}}`
}

// fakeTransport answers the handshake with auth, then plays frames. It reports
// closure after the last frame when hangUp is set, and blocks otherwise.
type fakeTransport struct {
	auth    string
	frames  []string
	hangUp  bool
	inbound chan string
	closed  chan struct{}
	once    sync.Once
}

func newFakeTransport(auth string, hangUp bool, frames ...string) *fakeTransport {
	return &fakeTransport{
		auth:    auth,
		frames:  frames,
		hangUp:  hangUp,
		inbound: make(chan string, len(frames)+2),
		closed:  make(chan struct{}),
	}
}

func (ft *fakeTransport) Send(_ context.Context, data []byte) error {
	switch {
	case strings.Contains(string(data), `"authenticate"`):
		ft.inbound <- ft.auth
	case strings.Contains(string(data), `"listen"`):
		ft.inbound <- listeningReply
		for _, frame := range ft.frames {
			ft.inbound <- frame
		}
		if ft.hangUp {
			close(ft.inbound)
		}
	}
	return nil
}

func (ft *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-ft.inbound:
		if !ok {
			return nil, &websocket.TransportError{Op: "receive", Err: websocket.ErrClosed}
		}
		return []byte(frame), nil
	case <-ft.closed:
		return nil, &websocket.TransportError{Op: "receive", Err: websocket.ErrClosed}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (ft *fakeTransport) Close() error {
	ft.once.Do(func() { close(ft.closed) })
	return nil
}

// dialer hands out the given transports in order, then fails.
type dialer struct {
	mu         sync.Mutex
	transports []session.Transport
	errs       []error
	calls      atomic.Int32
}

func (d *dialer) dial(context.Context, string) (session.Transport, error) {
	d.calls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, err
	}
	if len(d.transports) == 0 {
		return nil, &websocket.TransportError{Op: "dial", Err: errors.New("connection refused")}
	}
	t := d.transports[0]
	d.transports = d.transports[1:]
	return t, nil
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(state State, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func testConfig(d *dialer) Config {
	return Config{
		Params: session.Params{
			Endpoint:  "wss://paper-api.alpaca.markets/stream",
			KeyID:     "k",
			SecretKey: "s",
			Streams:   []string{"account_updates"},
		},
		Options:        session.Options{Dial: d.dial},
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func receive(t *testing.T, f *Feed) stream.Message {
	t.Helper()
	select {
	case msg := <-f.Messages():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestFeed_Reconnects(t *testing.T) {
	d := &dialer{transports: []session.Transport{
		newFakeTransport(authorizedReply, true, accountFrame("1"), accountFrame("2")),
		newFakeTransport(authorizedReply, false, accountFrame("3")),
	}}
	recorder := &stateRecorder{}
	registry := prometheus.NewRegistry()

	cfg := testConfig(d)
	cfg.Options.Metrics = metrics.New(metrics.Config{Registry: registry})
	cfg.OnStateChange = recorder.record
	f := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx) }()

	for _, want := range []string{"1", "2", "3"} {
		msg := receive(t, f)
		update, ok := msg.(*stream.AccountUpdate)
		require.True(t, ok)
		assert.Equal(t, want, update.Cash.String())
	}

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run should return after cancel")
	}

	_, ok := <-f.Messages()
	assert.False(t, ok, "messages channel is closed when Run returns")
	assert.Equal(t, int32(2), d.calls.Load())
	assert.Equal(t, []State{
		StateConnecting, StateConnected, StateDisconnected,
		StateConnecting, StateConnected, StateStopped,
	}, recorder.get())
	expected := `
		# HELP alpaca_stream_reconnects_total Total number of reconnections after a session ended
		# TYPE alpaca_stream_reconnects_total counter
		alpaca_stream_reconnects_total 1
	`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "alpaca_stream_reconnects_total"))
}

func TestFeed_RejectedCredentialsArePermanent(t *testing.T) {
	d := &dialer{transports: []session.Transport{
		newFakeTransport(unauthorizedReply, false),
		newFakeTransport(authorizedReply, false),
	}}
	recorder := &stateRecorder{}
	cfg := testConfig(d)
	cfg.OnStateChange = recorder.record
	f := New(cfg)

	err := f.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrConnectionFailure)
	assert.Equal(t, int32(1), d.calls.Load())
	assert.Equal(t, []State{StateConnecting, StateStopped}, recorder.get())

	_, ok := <-f.Messages()
	assert.False(t, ok)
}

func TestFeed_InvalidParamsArePermanent(t *testing.T) {
	d := &dialer{}
	cfg := testConfig(d)
	cfg.Params.Streams = nil

	err := New(cfg).Run(context.Background())
	assert.ErrorIs(t, err, session.ErrInvalidParams)
	assert.Equal(t, int32(0), d.calls.Load())
}

func TestFeed_RetriesDialErrors(t *testing.T) {
	refused := &websocket.TransportError{Op: "dial", Err: errors.New("connection refused")}
	d := &dialer{
		errs:       []error{refused, refused},
		transports: []session.Transport{newFakeTransport(authorizedReply, false, accountFrame("7"))},
	}
	f := New(testConfig(d))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	update := receive(t, f).(*stream.AccountUpdate)
	assert.Equal(t, "7", update.Cash.String())
	assert.Equal(t, int32(3), d.calls.Load())
}

func TestFeed_MaxRetries(t *testing.T) {
	d := &dialer{}
	cfg := testConfig(d)
	cfg.MaxRetries = 2

	err := New(cfg).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up after 3 attempts")

	var transportErr *websocket.TransportError
	assert.True(t, errors.As(err, &transportErr))
	assert.Equal(t, int32(3), d.calls.Load())
}

func TestFeed_CancelWhileWaiting(t *testing.T) {
	d := &dialer{}
	cfg := testConfig(d)
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	f := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx) }()

	assert.Eventually(t, func() bool { return d.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run should stop waiting when cancelled")
	}
}

func TestFeed_SkipsUndecodableFrames(t *testing.T) {
	d := &dialer{transports: []session.Transport{
		newFakeTransport(authorizedReply, false, `{"stream":"quotes","data":{}}`, accountFrame("9")),
	}}
	cfg := testConfig(d)
	cfg.Options.TolerateDecodeErrors = true
	f := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	update := receive(t, f).(*stream.AccountUpdate)
	assert.Equal(t, "9", update.Cash.String())
	assert.Equal(t, int32(1), d.calls.Load(), "a skipped frame does not end the session")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(9).String())
}
