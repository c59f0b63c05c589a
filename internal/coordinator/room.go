package coordinator

import (
	"sync"
	"time"

	"github.com/park285/cheese-online/internal/protocol"
)

type member struct {
	identity  string
	color     protocol.Color
	conn      Conn
	connected bool
	graceGen  uint64
	grace     *time.Timer
}

// Room is one paired game. All fields are guarded by mu.
type Room struct {
	mu sync.Mutex

	id      string
	members [2]*member
	status  protocol.Status
	result  string

	positions []string
	notations []string
	moves     []protocol.Move
	chat      []protocol.ChatMessage
	version   int64

	createdAt time.Time
	updatedAt time.Time
	endedAt   time.Time
}

func newRoom(id string, white, black *member, start string, now time.Time) *Room {
	return &Room{
		id:        id,
		members:   [2]*member{white, black},
		status:    protocol.StatusActive,
		positions: []string{start},
		createdAt: now,
		updatedAt: now,
		version:   1,
	}
}

func (r *Room) memberByColor(c protocol.Color) *member {
	switch c {
	case protocol.White:
		return r.members[0]
	case protocol.Black:
		return r.members[1]
	}
	return nil
}

func (r *Room) memberByConn(c Conn) *member {
	for _, m := range r.members {
		if m.conn != nil && m.conn.ID() == c.ID() {
			return m
		}
	}
	return nil
}

// rejoinCandidate picks the seat a reconnecting identity should take,
// preferring a seat that is currently disconnected.
func (r *Room) rejoinCandidate(identity string) *member {
	var fallback *member
	for _, m := range r.members {
		if m.identity != identity {
			continue
		}
		if !m.connected {
			return m
		}
		if fallback == nil {
			fallback = m
		}
	}
	return fallback
}

func (r *Room) fen() string { return r.positions[len(r.positions)-1] }

func (r *Room) ply() int { return len(r.positions) - 1 }

func (r *Room) touch(now time.Time) {
	r.updatedAt = now
	r.version++
}

func (r *Room) stopGrace(m *member) {
	m.graceGen++
	if m.grace != nil {
		m.grace.Stop()
		m.grace = nil
	}
}

func (r *Room) snapshot() *Snapshot {
	return &Snapshot{
		RoomID:    r.id,
		White:     r.members[0].identity,
		Black:     r.members[1].identity,
		Status:    r.status,
		Result:    r.result,
		Positions: append([]string(nil), r.positions...),
		Notations: append([]string(nil), r.notations...),
		Moves:     append([]protocol.Move(nil), r.moves...),
		Chat:      append([]protocol.ChatMessage(nil), r.chat...),
		Version:   r.version,
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
		EndedAt:   r.endedAt,
	}
}
