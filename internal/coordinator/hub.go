// Package coordinator pairs waiting clients into rooms and relays game events
// between the two members of each room.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-online/internal/msgcat"
	"github.com/park285/cheese-online/internal/obslog"
	"github.com/park285/cheese-online/internal/protocol"
	"github.com/park285/cheese-online/internal/rules"
)

const (
	defaultGracePeriod    = 30 * time.Second
	defaultRetention      = 10 * time.Minute
	defaultPersistTimeout = 3 * time.Second
)

// Options configures a Hub. Zero values select defaults; Store, Results and
// Metrics are optional.
type Options struct {
	GracePeriod    time.Duration
	Retention      time.Duration
	PersistTimeout time.Duration
	Revalidate     bool

	Store   RoomStore
	Results ResultSink
	Metrics *Metrics
	Catalog *msgcat.Catalog
	Logger  *zap.Logger

	Now       func() time.Time
	NewRoomID func() string
}

type waiter struct {
	conn     Conn
	identity string
}

// Hub owns the pairing pool and all live rooms.
// Lock order is Hub.mu before Room.mu, never the reverse.
type Hub struct {
	opts  Options
	rules *rules.Engine
	log   *zap.Logger

	mu     sync.Mutex
	pool   []waiter
	rooms  map[string]*Room
	byConn map[string]*Room
	closed bool
}

func NewHub(opts Options) *Hub {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRoomID == nil {
		opts.NewRoomID = uuid.NewString
	}
	if opts.Catalog == nil {
		opts.Catalog = msgcat.MustDefault()
	}
	return &Hub{
		opts:   opts,
		rules:  rules.New(),
		log:    obslog.Or(opts.Logger),
		rooms:  make(map[string]*Room),
		byConn: make(map[string]*Room),
	}
}

// Handle dispatches one inbound envelope from conn. Failures are reported
// back to conn as an error event.
func (h *Hub) Handle(ctx context.Context, conn Conn, env protocol.Envelope) {
	var err error
	switch env.Type {
	case protocol.EventRequestPairing:
		p, derr := decodeOptional[protocol.RequestPairing](env)
		if derr != nil {
			err = derr
			break
		}
		err = h.RequestPairing(ctx, conn, p.Identity)
	case protocol.EventCancelPairing:
		h.CancelPairing(conn)
	case protocol.EventMovePlayed:
		p, derr := protocol.Decode[protocol.MovePlayed](env)
		if derr != nil {
			err = derr
			break
		}
		err = h.MovePlayed(ctx, conn, p)
	case protocol.EventResign:
		p, derr := protocol.Decode[protocol.Resign](env)
		if derr != nil {
			err = derr
			break
		}
		err = h.Resign(ctx, conn, p)
	case protocol.EventSendMessage:
		p, derr := protocol.Decode[protocol.SendMessage](env)
		if derr != nil {
			err = derr
			break
		}
		err = h.SendMessage(ctx, conn, p)
	case protocol.EventGameOver:
		p, derr := protocol.Decode[protocol.GameOver](env)
		if derr != nil {
			err = derr
			break
		}
		err = h.GameOver(ctx, conn, p)
	default:
		h.sendError(conn, "unknown_event", h.opts.Catalog.Text("error.unknown_event", map[string]string{"Event": env.Type}, "unknown event"))
		return
	}
	if err == nil {
		return
	}
	h.log.Debug("event_rejected",
		zap.String("conn_id", conn.ID()),
		zap.String("event", env.Type),
		zap.Error(err),
	)
	h.reportError(conn, env.Type, err)
}

func decodeOptional[T any](env protocol.Envelope) (T, error) {
	var zero T
	if len(env.Payload) == 0 {
		return zero, nil
	}
	return protocol.Decode[T](env)
}

// RequestPairing adds conn to the pool, or pairs it with the oldest waiter.
// The earlier arrival plays white. The seat is bound to the handshake
// identity; claimed is only used when the handshake carried none.
func (h *Hub) RequestPairing(ctx context.Context, conn Conn, claimed string) error {
	identity := conn.Identity()
	if identity == "" {
		identity = claimed
	}
	if claimed != "" && claimed != identity {
		h.log.Warn("pairing_identity_mismatch",
			zap.String("conn_id", conn.ID()),
			zap.String("identity", identity),
			zap.String("claimed", claimed),
		)
	}

	h.mu.Lock()
	if room := h.byConn[conn.ID()]; room != nil {
		room.mu.Lock()
		active := !room.status.Terminal()
		room.mu.Unlock()
		if active {
			h.mu.Unlock()
			return ErrAlreadyInRoom
		}
		delete(h.byConn, conn.ID())
	}
	for _, w := range h.pool {
		if w.conn.ID() == conn.ID() {
			h.mu.Unlock()
			return nil
		}
	}
	if len(h.pool) == 0 {
		h.pool = append(h.pool, waiter{conn: conn, identity: identity})
		h.opts.Metrics.pool(len(h.pool))
		h.mu.Unlock()
		h.log.Info("pairing_queued", zap.String("conn_id", conn.ID()), zap.String("identity", identity))
		return nil
	}

	first := h.pool[0]
	h.pool = h.pool[1:]
	h.opts.Metrics.pool(len(h.pool))

	now := h.opts.Now()
	room := newRoom(h.opts.NewRoomID(),
		&member{identity: first.identity, color: protocol.White, conn: first.conn, connected: true},
		&member{identity: identity, color: protocol.Black, conn: conn, connected: true},
		rules.StartFEN, now,
	)
	h.rooms[room.id] = room
	h.byConn[first.conn.ID()] = room
	h.byConn[conn.ID()] = room

	// hold the room before publishing so room-assigned is the first event either member sees
	room.mu.Lock()
	h.mu.Unlock()
	for _, m := range room.members {
		h.deliver(m, protocol.EventRoomAssigned, h.assignment(room, m))
	}
	snap := room.snapshot()
	room.mu.Unlock()

	h.opts.Metrics.roomCreated()
	h.log.Info("room_created",
		zap.String("room_id", room.id),
		zap.String("white", snap.White),
		zap.String("black", snap.Black),
	)
	h.persist(ctx, snap)
	return nil
}

// CancelPairing removes conn from the pool. It is a no-op when conn is not waiting.
func (h *Hub) CancelPairing(conn Conn) {
	h.mu.Lock()
	removed := h.removeWaiterLocked(conn)
	n := len(h.pool)
	h.mu.Unlock()
	if removed {
		h.opts.Metrics.pool(n)
		h.log.Info("pairing_cancelled", zap.String("conn_id", conn.ID()))
	}
}

func (h *Hub) removeWaiterLocked(conn Conn) bool {
	for i, w := range h.pool {
		if w.conn.ID() == conn.ID() {
			h.pool = append(h.pool[:i], h.pool[i+1:]...)
			return true
		}
	}
	return false
}

// MovePlayed records a member's move and relays it to the opponent.
func (h *Hub) MovePlayed(ctx context.Context, conn Conn, p protocol.MovePlayed) error {
	room, err := h.roomFor(conn, p.RoomID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	m := room.memberByConn(conn)
	if m == nil {
		room.mu.Unlock()
		return ErrNotInRoom
	}
	if room.status.Terminal() {
		room.mu.Unlock()
		return ErrRoomOver
	}
	if p.Color != "" && p.Color != m.color {
		room.mu.Unlock()
		return ErrNotYourTurn
	}
	if p.Position == "" {
		room.mu.Unlock()
		return rules.ErrBadPosition
	}
	prev := room.fen()
	if rules.SamePosition(prev, p.Position) {
		room.mu.Unlock()
		return nil
	}
	if turn, terr := h.rules.Turn(prev); terr == nil && turn != m.color {
		room.mu.Unlock()
		return ErrNotYourTurn
	}

	res, verr := h.verify(prev, p)
	if verr != nil && h.opts.Revalidate {
		room.mu.Unlock()
		return verr
	}
	var mv protocol.Move
	if p.Move != nil {
		mv = *p.Move
	}
	if verr == nil {
		mv = res.Move
	} else {
		h.log.Warn("move_unverified",
			zap.String("room_id", room.id),
			zap.String("color", string(m.color)),
			zap.Error(verr),
		)
	}

	now := h.opts.Now()
	room.positions = append(room.positions, p.Position)
	room.notations = append(room.notations, p.Notation)
	room.moves = append(room.moves, mv)
	room.touch(now)

	update := protocol.MoveUpdate{Position: p.Position, Notation: p.Notation}
	if mv.From != "" {
		relayed := mv
		update.Move = &relayed
	}
	h.deliver(room.memberByColor(m.color.Opponent()), protocol.EventMoveUpdate, update)

	ended := false
	if verr == nil && res.Outcome.Terminal {
		ended = h.endLocked(room, res.Outcome.Status, h.outcomeText(res.Outcome))
	}
	snap := room.snapshot()
	room.mu.Unlock()

	h.log.Info("move_relayed",
		zap.String("room_id", room.id),
		zap.String("color", string(m.color)),
		zap.String("uci", mv.UCI()),
		zap.Int("ply", snap.Ply()),
	)
	h.afterMutation(ctx, snap, ended)
	return nil
}

// verify reconstructs the reported move against prev.
func (h *Hub) verify(prev string, p protocol.MovePlayed) (rules.Result, error) {
	if p.Move != nil && p.Move.From != "" {
		res, err := h.rules.Apply(prev, *p.Move)
		if err != nil {
			return rules.Result{}, err
		}
		if !rules.SamePosition(res.Position, p.Position) {
			return rules.Result{}, fmt.Errorf("%w: reported position does not follow %s", rules.ErrIllegalMove, p.Move.UCI())
		}
		return res, nil
	}
	return h.rules.Infer(prev, p.Position)
}

func (h *Hub) outcomeText(o rules.Outcome) string {
	if o.Status == protocol.StatusCheckmate {
		return checkmateText(h.opts.Catalog, o.Winner)
	}
	return statusText(h.opts.Catalog, o.Status)
}

// Resign ends the room in favor of the resigning member's opponent.
func (h *Hub) Resign(ctx context.Context, conn Conn, p protocol.Resign) error {
	room, err := h.roomFor(conn, p.RoomID)
	if err != nil {
		return err
	}
	room.mu.Lock()
	m := room.memberByConn(conn)
	if m == nil {
		room.mu.Unlock()
		return ErrNotInRoom
	}
	ended := h.endLocked(room, protocol.StatusResigned, resignedText(h.opts.Catalog, m.color))
	snap := room.snapshot()
	room.mu.Unlock()

	h.afterMutation(ctx, snap, ended)
	return nil
}

// GameOver ends the room with a client-reported result. Reports for a room
// that already ended are ignored.
func (h *Hub) GameOver(ctx context.Context, conn Conn, p protocol.GameOver) error {
	room, err := h.roomFor(conn, p.RoomID)
	if err != nil {
		return err
	}
	status := parseResult(p.Result)
	result := p.Result
	if result == "" {
		result = statusText(h.opts.Catalog, status)
	}

	room.mu.Lock()
	if room.memberByConn(conn) == nil {
		room.mu.Unlock()
		return ErrNotInRoom
	}
	ended := h.endLocked(room, status, result)
	snap := room.snapshot()
	room.mu.Unlock()

	h.afterMutation(ctx, snap, ended)
	return nil
}

// SendMessage appends a chat line and echoes it to both members. Both
// members receive room messages in the same order since the append and
// the enqueue happen under one lock.
func (h *Hub) SendMessage(ctx context.Context, conn Conn, p protocol.SendMessage) error {
	if p.Text == "" {
		return nil
	}
	room, err := h.roomFor(conn, p.RoomID)
	if err != nil {
		return err
	}
	room.mu.Lock()
	m := room.memberByConn(conn)
	if m == nil {
		room.mu.Unlock()
		return ErrNotInRoom
	}
	now := h.opts.Now()
	msg := protocol.ChatMessage{Identity: m.identity, Text: p.Text, Timestamp: now.UnixMilli()}
	room.chat = append(room.chat, msg)
	room.touch(now)
	for _, member := range room.members {
		h.deliver(member, protocol.EventNewMessage, msg)
	}
	snap := room.snapshot()
	room.mu.Unlock()

	h.persist(ctx, snap)
	return nil
}

// Connect attaches a freshly opened connection. With a rejoin hint the
// connection takes back its seat in that room.
func (h *Hub) Connect(ctx context.Context, conn Conn, rejoin string) {
	if rejoin == "" {
		return
	}
	if h.lookupOrRestore(ctx, rejoin) == nil {
		h.sendTo(conn, protocol.EventGameEnd, protocol.GameEnd{Result: expiredText(h.opts.Catalog)})
		return
	}
	h.attach(conn, rejoin)
}

func (h *Hub) attach(conn Conn, roomID string) {
	h.mu.Lock()
	room := h.rooms[roomID]
	if room == nil {
		h.mu.Unlock()
		h.sendTo(conn, protocol.EventGameEnd, protocol.GameEnd{Result: expiredText(h.opts.Catalog)})
		return
	}
	room.mu.Lock()
	m := room.rejoinCandidate(conn.Identity())
	if m == nil {
		room.mu.Unlock()
		h.mu.Unlock()
		h.sendError(conn, "not_in_room", h.opts.Catalog.Text("error.not_in_room", nil, ErrNotInRoom.Error()))
		return
	}
	if room.status.Terminal() {
		h.sendTo(conn, protocol.EventGameEnd, protocol.GameEnd{Result: room.result, Status: room.status})
		room.mu.Unlock()
		h.mu.Unlock()
		return
	}

	old := m.conn
	if old != nil && old.ID() != conn.ID() {
		delete(h.byConn, old.ID())
	} else {
		old = nil
	}
	h.removeWaiterLocked(conn)
	h.byConn[conn.ID()] = room
	m.conn = conn
	m.connected = true
	room.stopGrace(m)
	h.mu.Unlock()

	h.deliver(m, protocol.EventRoomAssigned, h.assignment(room, m))
	if n := len(room.moves); n > 0 {
		update := protocol.MoveUpdate{Position: room.fen(), Notation: room.notations[n-1]}
		if last := room.moves[n-1]; last.From != "" {
			update.Move = &last
		}
		h.deliver(m, protocol.EventMoveUpdate, update)
	}
	ply := room.ply()
	room.mu.Unlock()

	if old != nil {
		old.Close()
	}
	h.log.Info("member_rejoined",
		zap.String("room_id", roomID),
		zap.String("color", string(m.color)),
		zap.String("conn_id", conn.ID()),
		zap.Int("ply", ply),
	)
}

// lookupOrRestore returns the live room, reviving an in-progress room
// from the store when this process does not hold it.
func (h *Hub) lookupOrRestore(ctx context.Context, roomID string) *Room {
	h.mu.Lock()
	room := h.rooms[roomID]
	h.mu.Unlock()
	if room != nil {
		return room
	}
	snap := h.load(ctx, roomID)
	if snap == nil {
		return nil
	}
	return h.restore(snap)
}

// restore installs a room from a snapshot. Ended rooms are kept until
// retention so rejoiners learn the real result.
func (h *Hub) restore(snap *Snapshot) *Room {
	room := &Room{
		id: snap.RoomID,
		members: [2]*member{
			{identity: snap.White, color: protocol.White},
			{identity: snap.Black, color: protocol.Black},
		},
		status:    snap.Status,
		result:    snap.Result,
		positions: append([]string(nil), snap.Positions...),
		notations: append([]string(nil), snap.Notations...),
		moves:     append([]protocol.Move(nil), snap.Moves...),
		chat:      append([]protocol.ChatMessage(nil), snap.Chat...),
		version:   snap.Version,
		createdAt: snap.CreatedAt,
		updatedAt: snap.UpdatedAt,
		endedAt:   snap.EndedAt,
	}
	if len(room.positions) == 0 {
		room.positions = []string{rules.StartFEN}
	}

	h.mu.Lock()
	if existing := h.rooms[snap.RoomID]; existing != nil {
		h.mu.Unlock()
		return existing
	}
	h.rooms[snap.RoomID] = room
	room.mu.Lock()
	h.mu.Unlock()
	active := !room.status.Terminal()
	if active {
		for _, m := range room.members {
			h.startGraceLocked(room, m)
		}
	}
	room.mu.Unlock()

	if active {
		h.opts.Metrics.roomRestored()
	} else {
		h.scheduleEviction(room.id)
	}
	h.log.Info("room_restored", zap.String("room_id", room.id), zap.String("status", string(room.status)))
	return room
}

// Recover revives every room the store lists as in progress.
func (h *Hub) Recover(ctx context.Context) (int, error) {
	if h.opts.Store == nil {
		return 0, nil
	}
	ids, err := h.opts.Store.Live(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		snap := h.load(ctx, id)
		if snap == nil || snap.Status.Terminal() {
			continue
		}
		h.restore(snap)
		n++
	}
	return n, nil
}

// Disconnect detaches conn. A waiting client leaves the pool; a room member
// gets a grace period to rejoin before the room is abandoned.
func (h *Hub) Disconnect(conn Conn) {
	h.mu.Lock()
	wasWaiting := h.removeWaiterLocked(conn)
	n := len(h.pool)
	room := h.byConn[conn.ID()]
	delete(h.byConn, conn.ID())
	h.mu.Unlock()

	if wasWaiting {
		h.opts.Metrics.pool(n)
	}
	if room == nil {
		return
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	m := room.memberByConn(conn)
	if m == nil {
		return
	}
	m.conn = nil
	m.connected = false
	if room.status.Terminal() {
		return
	}
	h.startGraceLocked(room, m)
	h.log.Info("member_disconnected",
		zap.String("room_id", room.id),
		zap.String("color", string(m.color)),
		zap.Duration("grace", h.opts.GracePeriod),
	)
}

func (h *Hub) startGraceLocked(room *Room, m *member) {
	room.stopGrace(m)
	gen := m.graceGen
	color := m.color
	m.grace = time.AfterFunc(h.opts.GracePeriod, func() {
		h.graceExpired(room, color, gen)
	})
}

func (h *Hub) graceExpired(room *Room, color protocol.Color, gen uint64) {
	room.mu.Lock()
	m := room.memberByColor(color)
	if m == nil || m.graceGen != gen || m.connected || room.status.Terminal() {
		room.mu.Unlock()
		return
	}
	m.grace = nil
	result := abandonedText(h.opts.Catalog, color.Opponent())
	if other := room.memberByColor(color.Opponent()); other == nil || !other.connected {
		result = abandonedBothText(h.opts.Catalog)
	}
	ended := h.endLocked(room, protocol.StatusAbandoned, result)
	snap := room.snapshot()
	room.mu.Unlock()

	h.log.Info("grace_expired", zap.String("room_id", room.id), zap.String("color", string(color)))
	h.afterMutation(context.Background(), snap, ended)
}

// endLocked moves the room to a terminal status and notifies both members.
// It reports false when the room had already ended.
func (h *Hub) endLocked(room *Room, status protocol.Status, result string) bool {
	if room.status.Terminal() {
		return false
	}
	now := h.opts.Now()
	room.status = status
	room.result = result
	room.endedAt = now
	room.touch(now)
	end := protocol.GameEnd{Result: result, Status: status}
	for _, m := range room.members {
		room.stopGrace(m)
		h.deliver(m, protocol.EventGameEnd, end)
	}
	return true
}

func (h *Hub) afterMutation(ctx context.Context, snap *Snapshot, ended bool) {
	h.persist(ctx, snap)
	if !ended {
		return
	}
	h.opts.Metrics.gameEnded(snap.Status)
	h.log.Info("game_ended",
		zap.String("room_id", snap.RoomID),
		zap.String("status", string(snap.Status)),
		zap.String("result", snap.Result),
		zap.Int("ply", snap.Ply()),
	)
	h.archive(ctx, snap)
	h.scheduleEviction(snap.RoomID)
}

func (h *Hub) scheduleEviction(roomID string) {
	time.AfterFunc(h.opts.Retention, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		room := h.rooms[roomID]
		if room == nil {
			return
		}
		delete(h.rooms, roomID)
		for id, r := range h.byConn {
			if r == room {
				delete(h.byConn, id)
			}
		}
		h.log.Debug("room_evicted", zap.String("room_id", roomID))
	})
}

func (h *Hub) persist(ctx context.Context, snap *Snapshot) {
	if h.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.PersistTimeout)
	defer cancel()
	if err := h.opts.Store.Save(ctx, snap); err != nil {
		h.log.Warn("room_persist_error", zap.String("room_id", snap.RoomID), zap.Error(err))
	}
}

func (h *Hub) archive(ctx context.Context, snap *Snapshot) {
	if h.opts.Results == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.PersistTimeout)
	defer cancel()
	if err := h.opts.Results.SaveResult(ctx, snap); err != nil {
		h.log.Error("result_persist_error", zap.String("room_id", snap.RoomID), zap.Error(err))
		return
	}
	h.log.Info("result_persist", zap.String("room_id", snap.RoomID), zap.String("status", string(snap.Status)))
}

func (h *Hub) load(ctx context.Context, roomID string) *Snapshot {
	if h.opts.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.PersistTimeout)
	defer cancel()
	snap, err := h.opts.Store.Load(ctx, roomID)
	if err != nil {
		h.log.Warn("room_load_error", zap.String("room_id", roomID), zap.Error(err))
		return nil
	}
	return snap
}

// History returns the move history of a live or stored room.
func (h *Hub) History(ctx context.Context, roomID string) (protocol.RoomHistory, error) {
	snap, err := h.Snapshot(ctx, roomID)
	if err != nil {
		return protocol.RoomHistory{}, err
	}
	return snap.History(), nil
}

// Messages returns the chat log of a live or stored room.
func (h *Hub) Messages(ctx context.Context, roomID string) ([]protocol.ChatMessage, error) {
	snap, err := h.Snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if snap.Chat == nil {
		return []protocol.ChatMessage{}, nil
	}
	return snap.Chat, nil
}

// Snapshot returns a copy of the room state.
func (h *Hub) Snapshot(ctx context.Context, roomID string) (*Snapshot, error) {
	h.mu.Lock()
	room := h.rooms[roomID]
	h.mu.Unlock()
	if room != nil {
		room.mu.Lock()
		defer room.mu.Unlock()
		return room.snapshot(), nil
	}
	if snap := h.load(ctx, roomID); snap != nil {
		return snap, nil
	}
	return nil, ErrRoomNotFound
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Rooms: len(h.rooms), Waiting: len(h.pool)}
}

// Close stops all grace timers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, room := range h.rooms {
		room.mu.Lock()
		for _, m := range room.members {
			room.stopGrace(m)
		}
		room.mu.Unlock()
	}
}

func (h *Hub) roomFor(conn Conn, roomID string) (*Room, error) {
	h.mu.Lock()
	room := h.byConn[conn.ID()]
	h.mu.Unlock()
	if room == nil || (roomID != "" && roomID != room.id) {
		return nil, ErrNotInRoom
	}
	return room, nil
}

func (h *Hub) assignment(room *Room, m *member) protocol.RoomAssigned {
	return protocol.RoomAssigned{
		RoomID: room.id,
		White:  room.members[0].identity,
		Black:  room.members[1].identity,
		Color:  m.color,
	}
}

// deliver enqueues an event for a room member; room.mu must be held.
func (h *Hub) deliver(m *member, event string, payload any) {
	if m == nil || !m.connected || m.conn == nil {
		return
	}
	h.sendTo(m.conn, event, payload)
}

func (h *Hub) sendTo(conn Conn, event string, payload any) {
	env, err := protocol.Encode(event, payload)
	if err != nil {
		h.log.Error("encode_error", zap.String("event", event), zap.Error(err))
		return
	}
	if err := conn.Send(env); err != nil {
		h.log.Warn("send_error", zap.String("conn_id", conn.ID()), zap.String("event", event), zap.Error(err))
		return
	}
	h.opts.Metrics.relayed(event)
}

func (h *Hub) sendError(conn Conn, code, message string) {
	h.sendTo(conn, protocol.EventError, protocol.Error{Code: code, Message: message})
}

func (h *Hub) reportError(conn Conn, event string, err error) {
	cat := h.opts.Catalog
	switch {
	case errors.Is(err, ErrNotInRoom):
		h.sendError(conn, "not_in_room", cat.Text("error.not_in_room", nil, err.Error()))
	case errors.Is(err, ErrRoomOver):
		h.sendError(conn, "room_over", cat.Text("error.room_over", nil, err.Error()))
	case errors.Is(err, ErrNotYourTurn):
		h.sendError(conn, "not_your_turn", cat.Text("error.not_your_turn", nil, err.Error()))
	case errors.Is(err, ErrAlreadyInRoom):
		h.sendError(conn, "already_in_room", cat.Text("error.already_in_room", nil, err.Error()))
	case errors.Is(err, rules.ErrIllegalMove), errors.Is(err, rules.ErrBadPosition):
		h.sendError(conn, "illegal_move", cat.Text("error.illegal_move", map[string]string{"Reason": err.Error()}, err.Error()))
	default:
		h.sendError(conn, "bad_payload", cat.Text("error.bad_payload", map[string]string{"Event": event}, err.Error()))
	}
}
