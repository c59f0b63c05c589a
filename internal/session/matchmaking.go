package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/cheese-online/internal/protocol"
	"github.com/park285/cheese-online/internal/rules"
)

// RequestPairing joins the waiting pool. The room itself arrives later as
// a room-assigned event. Calling it while already waiting is a no-op.
func (c *Controller) RequestPairing(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateWaiting:
		c.mu.Unlock()
		return nil
	case StateActive, StateTerminal:
		// a finished game needs Reset first
		c.mu.Unlock()
		return ErrInGame
	}
	if err := c.emitter.Emit(ctx, protocol.EventRequestPairing, protocol.RequestPairing{Identity: c.identity}); err != nil {
		c.mu.Unlock()
		return err
	}
	c.clearLocked()
	c.state = StateWaiting
	c.mu.Unlock()

	c.log.Info("session_waiting", zap.String("identity", c.identity))
	c.deliver(Notice{Kind: NoticeWaiting, Text: c.cat.Text("client.waiting", nil, "waiting for an opponent")})
	return nil
}

// Requeue re-sends request-pairing while waiting. A new connection starts
// outside the coordinator's pool, so a waiting controller has to ask again.
func (c *Controller) Requeue(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateWaiting {
		return nil
	}
	if err := c.emitter.Emit(ctx, protocol.EventRequestPairing, protocol.RequestPairing{Identity: c.identity}); err != nil {
		return err
	}
	c.log.Info("session_requeued", zap.String("identity", c.identity))
	return nil
}

// CancelPairing leaves the waiting pool. It is a no-op unless waiting.
func (c *Controller) CancelPairing(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateWaiting {
		c.mu.Unlock()
		return nil
	}
	if err := c.emitter.Emit(ctx, protocol.EventCancelPairing, protocol.CancelPairing{Identity: c.identity}); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = StateIdle
	c.mu.Unlock()

	c.deliver(Notice{Kind: NoticeCancelled, Text: c.cat.Text("client.cancelled", nil, "search cancelled")})
	return nil
}

// OnRoomAssigned starts a game from the waiting state. While active in the
// same room it is a resync after rejoin and leaves the mirror as is.
func (c *Controller) OnRoomAssigned(p protocol.RoomAssigned) {
	c.mu.Lock()
	color := c.colorFor(p)
	switch {
	case color == "":
		c.mu.Unlock()
		c.log.Warn("session_assignment_not_for_us", zap.String("room_id", p.RoomID))
		return
	case c.state == StateActive && c.roomID == p.RoomID:
		c.white, c.black = p.White, p.Black
		c.mu.Unlock()
		return
	case c.state != StateWaiting:
		c.mu.Unlock()
		return
	}

	c.clearLocked()
	c.roomID = p.RoomID
	c.color = color
	c.white, c.black = p.White, p.Black
	c.positions = []string{rules.StartFEN}
	c.turn = protocol.White
	c.state = StateActive
	token := c.tokenLocked()
	text := c.cat.Text("client.assigned", map[string]string{
		"RoomID": p.RoomID,
		"White":  p.White,
		"Black":  p.Black,
		"Color":  string(color),
	}, "room "+p.RoomID+", you play "+string(color))
	c.mu.Unlock()

	c.log.Info("session_room_assigned", zap.String("room_id", p.RoomID), zap.String("color", string(color)))
	c.persist(token)
	c.deliver(Notice{Kind: NoticeAssigned, RoomID: p.RoomID, Color: color, Text: text})
}

// colorFor resolves which side an assignment gives this identity. The
// explicit color wins since identities need not be unique.
func (c *Controller) colorFor(p protocol.RoomAssigned) protocol.Color {
	if p.Color.Valid() {
		if (p.Color == protocol.White && p.White == c.identity) || (p.Color == protocol.Black && p.Black == c.identity) {
			return p.Color
		}
		return ""
	}
	switch c.identity {
	case p.White:
		return protocol.White
	case p.Black:
		return protocol.Black
	}
	return ""
}
