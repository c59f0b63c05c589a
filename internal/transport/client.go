// Package transport is the client side of the session channel: a websocket
// connection to the coordinator with ordered event dispatch and automatic
// reconnection carrying a rejoin hint.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-online/internal/obslog"
	"github.com/park285/cheese-online/internal/protocol"
)

var ErrNotConnected = errors.New("transport: not connected")

// AnyEvent registers a handler for every inbound event.
const AnyEvent = "*"

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type Handler func(env protocol.Envelope)

type StateHandler func(state State)

type Options struct {
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	PingInterval      time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	Header            http.Header
	Logger            *zap.Logger
}

type handlerEntry struct {
	id      int
	event   string
	handler Handler
}

type stateEntry struct {
	id      int
	handler StateHandler
}

// session is one Connect..Disconnect lifetime.
type session struct {
	stop   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *session) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Client delivers inbound events to handlers from a single goroutine, in
// the order the coordinator sent them.
type Client struct {
	url  string
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	identity string
	hint     string
	rejoin   func() string
	sess     *session

	cbM      sync.RWMutex
	handlers []handlerEntry
	stateCbs []stateEntry
	nextID   int

	writeM sync.Mutex
	wg     sync.WaitGroup
}

func New(wsURL string, opts Options) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 100 * time.Millisecond
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Client{url: wsURL, opts: opts, log: obslog.Or(opts.Logger)}
}

// SetRejoinProvider supplies the rejoin hint used on automatic reconnects.
func (c *Client) SetRejoinProvider(fn func() string) {
	c.mu.Lock()
	c.rejoin = fn
	c.mu.Unlock()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Connect opens the channel as identity. A non-empty rejoinHint asks the
// coordinator to re-attach to that room.
func (c *Client) Connect(ctx context.Context, identity, rejoinHint string) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting || c.state == StateReconnecting {
		c.mu.Unlock()
		return nil
	}
	c.identity = identity
	c.hint = rejoinHint
	if c.sess == nil {
		sctx, cancel := context.WithCancel(context.Background())
		c.sess = &session{stop: make(chan struct{}), ctx: sctx, cancel: cancel}
	}
	sess := c.sess
	c.mu.Unlock()

	c.setState(StateConnecting)
	conn, err := c.dial(ctx, rejoinHint)
	if err != nil {
		c.setState(StateFailed)
		return err
	}
	c.attach(conn, sess)
	return nil
}

func (c *Client) dial(ctx context.Context, rejoinHint string) (*websocket.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parse coordinator url: %w", err)
	}
	q := u.Query()
	q.Set(protocol.QueryIdentity, c.Identity())
	if rejoinHint != "" {
		q.Set(protocol.QueryRejoin, rejoinHint)
	} else {
		q.Del(protocol.QueryRejoin)
	}
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.opts.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial coordinator: %w", err)
	}
	return conn, nil
}

func (c *Client) attach(conn *websocket.Conn, sess *session) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	c.wg.Add(2)
	go c.listen(conn, sess)
	go c.pingLoop(conn, sess)
}

func (c *Client) listen(conn *websocket.Conn, sess *session) {
	defer c.wg.Done()
	for {
		var env protocol.Envelope
		if err := wsjson.Read(sess.ctx, conn, &env); err != nil {
			if sess.stopping() {
				return
			}
			c.log.Info("transport_connection_lost", zap.Error(err))
			c.drop(conn, websocket.StatusGoingAway, "reconnect")
			c.scheduleReconnect(sess)
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, sess *session) {
	defer c.wg.Done()
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-sess.stop:
			return
		case <-t.C:
			if c.current() != conn {
				return
			}
			ctx, cancel := context.WithTimeout(sess.ctx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				// listen observes the closed socket and reconnects
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) drop(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	c.setState(StateDisconnected)
	_ = conn.Close(code, reason)
}

func (c *Client) rejoinHint() string {
	c.mu.Lock()
	fn, hint := c.rejoin, c.hint
	c.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return hint
}

func (c *Client) scheduleReconnect(sess *session) {
	if c.opts.ReconnectAttempts <= 0 {
		return
	}
	c.setState(StateReconnecting)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
			select {
			case <-sess.stop:
				return
			case <-time.After(c.backoffDuration(attempt)):
			}
			conn, err := c.dial(sess.ctx, c.rejoinHint())
			if err != nil {
				c.log.Debug("transport_reconnect_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			if sess.stopping() {
				_ = conn.Close(websocket.StatusNormalClosure, "close")
				return
			}
			c.log.Info("transport_reconnected", zap.Int("attempt", attempt))
			c.attach(conn, sess)
			return
		}
		c.setState(StateFailed)
	}()
}

// backoffDuration doubles the reconnect delay per attempt, capped at 32x.
func (c *Client) backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * c.opts.ReconnectDelay
}

// On registers handler for event (or AnyEvent) and returns its id.
func (c *Client) On(event string, handler Handler) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextID++
	c.handlers = append(c.handlers, handlerEntry{id: c.nextID, event: event, handler: handler})
	return c.nextID
}

// Off removes a handler registered with On or OnStateChange.
func (c *Client) Off(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, h := range c.handlers {
		if h.id == id {
			c.handlers = append(c.handlers[:i], c.handlers[i+1:]...)
			return
		}
	}
	for i, h := range c.stateCbs {
		if h.id == id {
			c.stateCbs = append(c.stateCbs[:i], c.stateCbs[i+1:]...)
			return
		}
	}
}

func (c *Client) OnStateChange(handler StateHandler) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextID++
	c.stateCbs = append(c.stateCbs, stateEntry{id: c.nextID, handler: handler})
	return c.nextID
}

func (c *Client) dispatch(env protocol.Envelope) {
	c.cbM.RLock()
	handlers := make([]handlerEntry, 0, len(c.handlers))
	for _, h := range c.handlers {
		if h.event == env.Type || h.event == AnyEvent {
			handlers = append(handlers, h)
		}
	}
	c.cbM.RUnlock()
	for _, h := range handlers {
		if h.handler != nil {
			h.handler(env)
		}
	}
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	c.cbM.RLock()
	callbacks := make([]stateEntry, len(c.stateCbs))
	copy(callbacks, c.stateCbs)
	c.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.handler != nil {
			entry.handler(state)
		}
	}
}

// Emit sends one event to the coordinator. It fails with ErrNotConnected
// while the channel is down and never blocks on reconnection.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	env, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}

	c.writeM.Lock()
	defer c.writeM.Unlock()
	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, env); err != nil {
		return fmt.Errorf("%w: emit %s: %v", ErrNotConnected, event, err)
	}
	return nil
}

// Disconnect closes the channel and stops reconnecting. It does not end
// the room; the coordinator holds the seat for its grace period.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	conn := c.conn
	c.sess = nil
	c.conn = nil
	c.mu.Unlock()
	if sess == nil {
		return nil
	}

	close(sess.stop)
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	defer c.setState(StateDisconnected)
	select {
	case <-ctx.Done():
		sess.cancel()
		return ctx.Err()
	case <-done:
		sess.cancel()
		return nil
	}
}
