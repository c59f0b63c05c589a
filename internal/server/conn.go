package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-online/internal/protocol"
)

var (
	errConnClosed = errors.New("connection closed")
	errQueueFull  = errors.New("send queue full")
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 64 << 10
)

// wsConn adapts one websocket to coordinator.Conn. Outbound events go
// through a buffered queue drained by a single writer, so each client sees
// events in the order the hub enqueued them.
type wsConn struct {
	id       string
	identity string
	ws       *websocket.Conn
	log      *zap.Logger

	send      chan protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(id, identity string, ws *websocket.Conn, queue int, log *zap.Logger) *wsConn {
	ws.SetReadLimit(readLimit)
	return &wsConn{
		id:       id,
		identity: identity,
		ws:       ws,
		log:      log,
		send:     make(chan protocol.Envelope, queue),
		done:     make(chan struct{}),
	}
}

func (c *wsConn) ID() string       { return c.id }
func (c *wsConn) Identity() string { return c.identity }

// Send enqueues env without blocking. A full queue closes the connection.
func (c *wsConn) Send(env protocol.Envelope) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	default:
		c.log.Warn("ws_send_queue_full", zap.String("conn_id", c.id), zap.String("event", env.Type))
		c.Close()
		return errQueueFull
	}
}

// Close signals the writer to shut the socket down.
func (c *wsConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsConn) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case env := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.ws, env)
			cancel()
			if err != nil {
				c.log.Debug("ws_write_error", zap.String("conn_id", c.id), zap.Error(err))
				c.Close()
				_ = c.ws.Close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.Close()
				_ = c.ws.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		case <-c.done:
			c.flush(ctx)
			_ = c.ws.Close(websocket.StatusNormalClosure, "")
			return
		case <-ctx.Done():
			_ = c.ws.Close(websocket.StatusGoingAway, "shutdown")
			return
		}
	}
}

// flush writes whatever is already queued before the socket closes.
func (c *wsConn) flush(ctx context.Context) {
	for {
		select {
		case env := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.ws, env)
			cancel()
			if err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) readPump(ctx context.Context, handle func(protocol.Envelope)) error {
	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, c.ws, &env); err != nil {
			return err
		}
		handle(env)
	}
}
