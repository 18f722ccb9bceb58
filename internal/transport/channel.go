package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/gpericol/BurberOste/internal/observe"
)

var (
	// ErrNotConnected is returned by [Channel.Send] while no connection is
	// established. Nothing is buffered for later delivery.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrQueueFull is returned when an outbound queue has no room left.
	ErrQueueFull = errors.New("transport: send queue full")

	// ErrReconnectExhausted is returned by [Channel.Run] after the configured
	// number of consecutive failed connection attempts.
	ErrReconnectExhausted = errors.New("transport: reconnection attempts exhausted")
)

// ConnState is the connection state reported to [Channel.OnState] handlers.
type ConnState int

const (
	// StateDisconnected means the connection was lost or could not be made.
	StateDisconnected ConnState = iota

	// StateReconnecting means a new connection attempt is scheduled.
	StateReconnecting

	// StateConnected means the WebSocket handshake completed.
	StateConnected
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

const (
	defaultQueueSize    = 64
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	readLimit           = 1 << 20
)

// ChannelConfig configures a [Channel].
type ChannelConfig struct {
	// URL is the server endpoint. http and https URLs are accepted as well
	// as ws and wss.
	URL string

	// Protocol is [ProtocolSocketIO] (the default) or [ProtocolJSON].
	Protocol string

	// MaxRetries is the number of consecutive failed attempts after which
	// Run gives up. Defaults to 10.
	MaxRetries int

	// Backoff is the initial wait between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s.
	Backoff time.Duration

	// MaxBackoff caps the wait between attempts. Defaults to 30s.
	MaxBackoff time.Duration

	// QueueSize bounds the outbound queue. Defaults to 64.
	QueueSize int

	// DialTimeout bounds one connection attempt. Defaults to 10s.
	DialTimeout time.Duration

	// WriteTimeout bounds one frame write. Defaults to 5s.
	WriteTimeout time.Duration

	// Header is sent with the WebSocket handshake.
	Header http.Header

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Channel is a persistent WebSocket connection to the NPC server. Envelopes
// handed to Send are written by a single goroutine per connection, in the
// order Send accepted them. A write failure is reported through the
// delivery-failure handler and never retried.
//
// Register handlers before calling Run.
type Channel struct {
	cfg  ChannelConfig
	wire framing
	url  string
	out  chan Envelope

	// gate orders Send against the end of a connection, so nothing is
	// queued after the queue of a dead connection was flushed.
	gate      sync.Mutex
	connected atomic.Bool

	mu        sync.RWMutex
	onMessage func(Envelope)
	onState   func(ConnState, error)
	onFailure func(Envelope, error)
}

// NewChannel validates cfg and returns an unconnected channel.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("transport: unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("transport: server url %q has no host", cfg.URL)
	}
	wire, err := newFraming(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Channel{
		cfg:  cfg,
		wire: wire,
		url:  wire.endpoint(u),
		out:  make(chan Envelope, cfg.QueueSize),
	}, nil
}

// OnMessage registers the handler for inbound envelopes. It runs on the read
// goroutine and should return quickly.
func (c *Channel) OnMessage(f func(Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = f
}

// OnState registers the handler for connection state changes.
func (c *Channel) OnState(f func(ConnState, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = f
}

// OnDeliveryFailure registers the handler for envelopes that were accepted
// by Send but never written.
func (c *Channel) OnDeliveryFailure(f func(Envelope, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailure = f
}

// Connected reports whether a connection is currently established.
func (c *Channel) Connected() bool { return c.connected.Load() }

// Send queues env for delivery. It never blocks.
func (c *Channel) Send(env Envelope) error {
	c.gate.Lock()
	defer c.gate.Unlock()
	if !c.connected.Load() {
		return ErrNotConnected
	}
	select {
	case c.out <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run connects and keeps the channel connected until ctx is cancelled, in
// which case it returns nil. It returns an error wrapping
// [ErrReconnectExhausted] when the server stays unreachable.
func (c *Channel) Run(ctx context.Context) error {
	b := newBackoff(c.cfg.Backoff, c.cfg.MaxBackoff, c.cfg.MaxRetries)
	for {
		conn, idle, early, err := c.dial(ctx)
		if err == nil {
			b.reset()
			slog.Info("transport: connected", "url", c.url)
			c.setConnected(true)
			c.notifyState(StateConnected, nil)
			for _, env := range early {
				c.dispatch(env)
			}

			err = c.serve(ctx, conn, idle)

			c.setConnected(false)
			c.failQueued(ErrNotConnected)
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("transport: connection lost", "err", err)
			c.notifyState(StateDisconnected, err)
		} else {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("transport: connection attempt failed", "url", c.url, "err", err)
			if b.attempt == 0 {
				c.notifyState(StateDisconnected, err)
			}
		}

		wait, ok := b.next()
		if !ok {
			slog.Error("transport: giving up on server", "url", c.url, "max_retries", b.maxRetries)
			c.notifyState(StateDisconnected, err)
			return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, b.maxRetries, err)
		}
		slog.Info("transport: reconnecting", "attempt", b.attempt, "max_retries", b.maxRetries, "backoff", wait)
		c.cfg.Metrics.Reconnects.Add(ctx, 1)
		c.notifyState(StateReconnecting, err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// setConnected flips the connection flag under the send gate.
func (c *Channel) setConnected(v bool) {
	c.gate.Lock()
	c.connected.Store(v)
	c.gate.Unlock()
}

// dial connects and completes the protocol handshake within DialTimeout.
func (c *Channel) dial(ctx context.Context) (*websocket.Conn, time.Duration, []Envelope, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, c.url, &websocket.DialOptions{HTTPHeader: c.cfg.Header})
	if err != nil {
		return nil, 0, nil, fmt.Errorf("transport: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)
	idle, early, err := c.wire.open(dctx, conn)
	if err != nil {
		_ = conn.CloseNow()
		return nil, 0, nil, fmt.Errorf("transport: handshake: %w", err)
	}
	return conn, idle, early, nil
}

// Check connects once, completes the handshake and disconnects cleanly. It
// does not touch the state of a running channel.
func (c *Channel) Check(ctx context.Context) error {
	conn, _, _, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.hangUp(conn)
	return nil
}

// serve runs the read and write loops of one connection until either fails
// or ctx is cancelled.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn, idle time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	// Reads are not bound to gctx: a cancelled read tears the websocket down
	// before a clean shutdown could say goodbye. Closing the connection
	// ends the read loop instead.
	g.Go(func() error { return c.readLoop(conn, idle) })
	g.Go(func() error { return c.writeLoop(gctx, conn) })
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			c.hangUp(conn)
		} else {
			_ = conn.CloseNow()
		}
		return nil
	})
	return g.Wait()
}

// hangUp says goodbye at the protocol level and closes the websocket.
func (c *Channel) hangUp(conn *websocket.Conn) {
	if bye := c.wire.goodbye(); bye != nil {
		wctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
		_ = conn.Write(wctx, websocket.MessageText, bye)
		cancel()
	}
	_ = conn.Close(websocket.StatusNormalClosure, "client shutting down")
}

// readLoop dispatches inbound events. A connection silent for longer than
// idle is treated as lost.
func (c *Channel) readLoop(conn *websocket.Conn, idle time.Duration) error {
	for {
		rctx, cancel := context.Background(), context.CancelFunc(func() {})
		if idle > 0 {
			rctx, cancel = context.WithTimeout(rctx, idle)
		}
		typ, data, err := conn.Read(rctx)
		cancel()
		if err != nil {
			return fmt.Errorf("transport: read: %w", err)
		}
		if typ != websocket.MessageText {
			slog.Debug("transport: ignoring binary frame", "bytes", len(data))
			continue
		}
		in, err := c.wire.decode(data)
		if errors.Is(err, ErrServerClosed) {
			return err
		}
		if err != nil {
			slog.Warn("transport: ignoring malformed frame", "bytes", len(data), "err", err)
			continue
		}
		if in.reply != nil {
			wctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, in.reply)
			cancel()
			if err != nil {
				return fmt.Errorf("transport: write pong: %w", err)
			}
		}
		if in.event {
			c.dispatch(in.env)
		}
	}
}

func (c *Channel) dispatch(env Envelope) {
	c.mu.RLock()
	h := c.onMessage
	c.mu.RUnlock()
	if h != nil {
		h(env)
	}
}

func (c *Channel) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-c.out:
			data, err := c.wire.encode(env)
			if err != nil {
				c.notifyFailure(env, fmt.Errorf("transport: encode frame: %w", err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				err = fmt.Errorf("transport: write %s: %w", env.Event, err)
				c.notifyFailure(env, err)
				return err
			}
		}
	}
}

// failQueued reports every envelope still queued after a connection ended.
func (c *Channel) failQueued(err error) {
	for {
		select {
		case env := <-c.out:
			c.notifyFailure(env, err)
		default:
			return
		}
	}
}

func (c *Channel) notifyState(s ConnState, err error) {
	c.mu.RLock()
	h := c.onState
	c.mu.RUnlock()
	if h != nil {
		h(s, err)
	}
}

func (c *Channel) notifyFailure(env Envelope, err error) {
	c.mu.RLock()
	h := c.onFailure
	c.mu.RUnlock()
	if h != nil {
		h(env, err)
	}
}
