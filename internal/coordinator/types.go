package coordinator

import (
	"errors"
	"time"

	"github.com/park285/cheese-online/internal/protocol"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrNotInRoom     = errors.New("not in room")
	ErrRoomOver      = errors.New("room already ended")
	ErrNotYourTurn   = errors.New("not your turn")
	ErrAlreadyInRoom = errors.New("already in a room")
)

// Conn is one connected client as seen by the hub.
// Send must not block; it enqueues onto the connection's writer.
type Conn interface {
	ID() string
	Identity() string
	Send(env protocol.Envelope) error
	Close()
}

// Snapshot is the persisted and archived form of a room.
type Snapshot struct {
	RoomID    string                 `json:"roomId"`
	White     string                 `json:"white"`
	Black     string                 `json:"black"`
	Status    protocol.Status        `json:"status"`
	Result    string                 `json:"result,omitempty"`
	Positions []string               `json:"positions"`
	Notations []string               `json:"notations"`
	Moves     []protocol.Move        `json:"moves"`
	Chat      []protocol.ChatMessage `json:"chat"`
	Version   int64                  `json:"version"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
	EndedAt   time.Time              `json:"endedAt,omitempty"`
}

// Ply is the number of half-moves played.
func (s *Snapshot) Ply() int {
	if len(s.Positions) == 0 {
		return 0
	}
	return len(s.Positions) - 1
}

// Position returns the latest position.
func (s *Snapshot) Position() string {
	if len(s.Positions) == 0 {
		return ""
	}
	return s.Positions[len(s.Positions)-1]
}

// History converts the snapshot to the REST history payload.
func (s *Snapshot) History() protocol.RoomHistory {
	return protocol.RoomHistory{
		RoomID:    s.RoomID,
		White:     s.White,
		Black:     s.Black,
		Status:    s.Status,
		Result:    s.Result,
		Positions: append([]string(nil), s.Positions...),
		Notations: append([]string(nil), s.Notations...),
		Moves:     append([]protocol.Move(nil), s.Moves...),
	}
}

// Stats is the /stats payload.
type Stats struct {
	Rooms   int `json:"rooms"`
	Waiting int `json:"waiting"`
}
