// Package protocol defines the events exchanged between chess clients and the
// room coordinator. Every frame is an Envelope whose Payload is one of the
// structs below, encoded as JSON.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Client -> coordinator events.
const (
	EventRequestPairing = "request-pairing"
	EventCancelPairing  = "cancel-pairing"
	EventMovePlayed     = "move-played"
	EventResign         = "resign"
	EventSendMessage    = "send-message"
	EventGameOver       = "game-over"
)

// Coordinator -> client events.
const (
	EventRoomAssigned = "room-assigned"
	EventMoveUpdate   = "move-update"
	EventNewMessage   = "new-message"
	EventGameEnd      = "game-end"
	EventError        = "error"
)

// Handshake query parameters.
const (
	QueryIdentity = "identity"
	QueryRejoin   = "rejoin"
)

var ErrEmptyEnvelope = errors.New("protocol: empty envelope")

// Color is a side of the board.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	if c == Black {
		return White
	}
	return ""
}

func (c Color) Valid() bool { return c == White || c == Black }

// Status is a room lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting-for-pair"
	StatusActive    Status = "active"
	StatusCheckmate Status = "checkmate"
	StatusStalemate Status = "stalemate"
	StatusDraw      Status = "draw"
	StatusResigned  Status = "resigned"
	StatusTimeout   Status = "timeout"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether no further moves are accepted in s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCheckmate, StatusStalemate, StatusDraw, StatusResigned, StatusTimeout, StatusAbandoned:
		return true
	}
	return false
}

// Envelope is one frame on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps payload into an envelope of the given type.
func Encode(event string, payload any) (Envelope, error) {
	if event == "" {
		return Envelope{}, ErrEmptyEnvelope
	}
	env := Envelope{Type: event}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", event, err)
	}
	env.Payload = raw
	return env, nil
}

// Decode unmarshals the envelope payload into T.
func Decode[T any](env Envelope) (T, error) {
	var out T
	if len(env.Payload) == 0 {
		return out, fmt.Errorf("decode %s: %w", env.Type, ErrEmptyEnvelope)
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return out, nil
}

// Move is the structured form of one half-move.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san,omitempty"`
}

// UCI renders the move in long algebraic form, e.g. e7e8q.
func (m Move) UCI() string { return m.From + m.To + m.Promotion }

type RequestPairing struct {
	Identity string `json:"identity"`
}

type CancelPairing struct {
	Identity string `json:"identity"`
}

type MovePlayed struct {
	RoomID   string `json:"roomId"`
	Position string `json:"position"`
	Notation string `json:"notation"`
	Color    Color  `json:"color"`
	Move     *Move  `json:"move,omitempty"`
}

type Resign struct {
	RoomID string `json:"roomId"`
	Color  Color  `json:"color"`
}

type SendMessage struct {
	RoomID   string `json:"roomId"`
	Identity string `json:"identity"`
	Text     string `json:"text"`
}

type GameOver struct {
	RoomID string `json:"roomId"`
	Result string `json:"result"`
}

type RoomAssigned struct {
	RoomID string `json:"roomId"`
	White  string `json:"white"`
	Black  string `json:"black"`
	Color  Color  `json:"color,omitempty"`
}

type MoveUpdate struct {
	Position string `json:"position"`
	Notation string `json:"notation"`
	Move     *Move  `json:"move,omitempty"`
}

// ChatMessage is both the new-message payload and a chat log entry.
type ChatMessage struct {
	Identity  string `json:"identity"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Time returns the message timestamp.
func (m ChatMessage) Time() time.Time { return time.UnixMilli(m.Timestamp) }

type GameEnd struct {
	Result string `json:"result"`
	Status Status `json:"status,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RoomHistory is returned by the REST history endpoint.
type RoomHistory struct {
	RoomID    string   `json:"roomId"`
	White     string   `json:"white"`
	Black     string   `json:"black"`
	Status    Status   `json:"status"`
	Result    string   `json:"result,omitempty"`
	Positions []string `json:"positions"`
	Notations []string `json:"notations"`
	Moves     []Move   `json:"moves"`
}
