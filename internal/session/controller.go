// Package session is the client side of an online game: a controller that
// mirrors one room locally, gates moves on turn ownership, and keeps a
// resume token so an interrupted game can be picked back up.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-online/internal/msgcat"
	"github.com/park285/cheese-online/internal/obslog"
	"github.com/park285/cheese-online/internal/protocol"
	"github.com/park285/cheese-online/internal/rules"
	"github.com/park285/cheese-online/internal/transport"
)

var (
	ErrNotActive    = errors.New("session: no active game")
	ErrNotYourTurn  = errors.New("session: not your turn")
	ErrIllegalMove  = errors.New("session: illegal move")
	ErrInGame       = errors.New("session: already in a game")
	ErrEmptyMessage = errors.New("session: empty message")
)

// State is the controller lifecycle.
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateActive
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateTerminal:
		return "terminal"
	}
	return "unknown"
}

// Emitter sends one event toward the coordinator. *transport.Client
// satisfies it.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Subscriber registers inbound event handlers. *transport.Client
// satisfies it.
type Subscriber interface {
	On(event string, handler transport.Handler) int
}

// StateNotifier reports transport state changes. *transport.Client
// satisfies it.
type StateNotifier interface {
	OnStateChange(handler transport.StateHandler) int
}

// ChatSource fetches a room's chat log over request/response.
type ChatSource interface {
	Messages(ctx context.Context, roomID string) ([]protocol.ChatMessage, error)
}

type NoticeKind string

const (
	NoticeWaiting   NoticeKind = "waiting"
	NoticeCancelled NoticeKind = "cancelled"
	NoticeAssigned  NoticeKind = "assigned"
	NoticeMove      NoticeKind = "move"
	NoticeChat      NoticeKind = "chat"
	NoticeGameEnd   NoticeKind = "game-end"
	NoticeError     NoticeKind = "error"
)

// Notice is one UI-facing signal.
type Notice struct {
	Kind   NoticeKind
	Text   string
	RoomID string
	Color  protocol.Color
	Move   *protocol.Move
	Chat   *protocol.ChatMessage
	Result string
}

// View is a copy of the local mirror.
type View struct {
	State     State
	Identity  string
	RoomID    string
	Color     protocol.Color
	White     string
	Black     string
	Position  string
	Turn      protocol.Color
	Positions []string
	Notations []string
	Moves     []protocol.Move
	Chat      []protocol.ChatMessage
	Result    string
}

// MyTurn reports whether the local side may move.
func (v View) MyTurn() bool { return v.State == StateActive && v.Color != "" && v.Color == v.Turn }

// Opponent returns the other member's identity.
func (v View) Opponent() string {
	if v.Color == protocol.White {
		return v.Black
	}
	return v.White
}

type Options struct {
	Store   ResumeStore
	Catalog *msgcat.Catalog
	Logger  *zap.Logger
	Notify  func(Notice)
	// Timeout bounds resume store calls.
	Timeout time.Duration
}

// Controller owns the local view of at most one room. Inbound events and
// local calls are serialized by mu; notices are delivered after it is
// released.
type Controller struct {
	identity string
	emitter  Emitter
	engine   *rules.Engine
	store    ResumeStore
	cat      *msgcat.Catalog
	log      *zap.Logger
	notify   func(Notice)
	timeout  time.Duration

	mu        sync.Mutex
	state     State
	roomID    string
	color     protocol.Color
	white     string
	black     string
	turn      protocol.Color
	positions []string
	notations []string
	moves     []protocol.Move
	chat      []protocol.ChatMessage
	result    string
}

func New(identity string, emitter Emitter, opts Options) *Controller {
	if opts.Store == nil {
		opts.Store = NewMemoryResumeStore()
	}
	if opts.Catalog == nil {
		opts.Catalog = msgcat.MustDefault()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	return &Controller{
		identity: strings.TrimSpace(identity),
		emitter:  emitter,
		engine:   rules.New(),
		store:    opts.Store,
		cat:      opts.Catalog,
		log:      obslog.Or(opts.Logger),
		notify:   opts.Notify,
		timeout:  opts.Timeout,
	}
}

func (c *Controller) Identity() string { return c.identity }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		State:     c.state,
		Identity:  c.identity,
		RoomID:    c.roomID,
		Color:     c.color,
		White:     c.white,
		Black:     c.black,
		Position:  c.positionLocked(),
		Turn:      c.turn,
		Positions: append([]string(nil), c.positions...),
		Notations: append([]string(nil), c.notations...),
		Moves:     append([]protocol.Move(nil), c.moves...),
		Chat:      append([]protocol.ChatMessage(nil), c.chat...),
		Result:    c.result,
	}
}

// RejoinHint is the room to re-attach to on reconnect, if any.
func (c *Controller) RejoinHint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return ""
	}
	return c.roomID
}

// Bind registers the controller's inbound handlers on sub. When sub also
// reports connection state, a waiting controller re-enters the pool after
// every reconnect.
func (c *Controller) Bind(sub Subscriber) {
	if sn, ok := sub.(StateNotifier); ok {
		sn.OnStateChange(func(state transport.State) {
			if state != transport.StateConnected {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			if err := c.Requeue(ctx); err != nil {
				c.log.Warn("session_requeue_failed", zap.String("identity", c.identity), zap.Error(err))
			}
		})
	}
	sub.On(protocol.EventRoomAssigned, func(env protocol.Envelope) {
		if p, ok := decode[protocol.RoomAssigned](c, env); ok {
			c.OnRoomAssigned(p)
		}
	})
	sub.On(protocol.EventMoveUpdate, func(env protocol.Envelope) {
		if p, ok := decode[protocol.MoveUpdate](c, env); ok {
			c.OnRemoteMove(p)
		}
	})
	sub.On(protocol.EventNewMessage, func(env protocol.Envelope) {
		if p, ok := decode[protocol.ChatMessage](c, env); ok {
			c.OnChat(p)
		}
	})
	sub.On(protocol.EventGameEnd, func(env protocol.Envelope) {
		if p, ok := decode[protocol.GameEnd](c, env); ok {
			c.OnGameEnd(p)
		}
	})
	sub.On(protocol.EventError, func(env protocol.Envelope) {
		if p, ok := decode[protocol.Error](c, env); ok {
			c.OnError(p)
		}
	})
}

func decode[T any](c *Controller, env protocol.Envelope) (T, bool) {
	p, err := protocol.Decode[T](env)
	if err != nil {
		c.log.Warn("session_bad_event", zap.String("event", env.Type), zap.Error(err))
		return p, false
	}
	return p, true
}

// SubmitMove validates a local move, sends it, then commits it to the
// mirror. A rejected or unsent move leaves the mirror untouched.
func (c *Controller) SubmitMove(ctx context.Context, from, to, promotion string) (rules.Result, error) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return rules.Result{}, ErrNotActive
	}
	if c.turn != c.color {
		c.mu.Unlock()
		return rules.Result{}, ErrNotYourTurn
	}
	prev := c.positionLocked()
	res, err := c.engine.Apply(prev, protocol.Move{From: from, To: to, Promotion: promotion})
	if err != nil {
		c.mu.Unlock()
		return rules.Result{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	notation := rules.AppendMovetext(c.notationLocked(), len(c.moves), res.Move.SAN)
	mv := res.Move
	if err := c.emitter.Emit(ctx, protocol.EventMovePlayed, protocol.MovePlayed{
		RoomID:   c.roomID,
		Position: res.Position,
		Notation: notation,
		Color:    c.color,
		Move:     &mv,
	}); err != nil {
		c.mu.Unlock()
		return rules.Result{}, err
	}
	c.commitLocked(res.Position, notation, res.Move, res.Turn)

	var notices []Notice
	if res.Outcome.Terminal {
		result := c.outcomeText(res.Outcome)
		if err := c.emitter.Emit(ctx, protocol.EventGameOver, protocol.GameOver{RoomID: c.roomID, Result: result}); err != nil {
			// the coordinator detects the terminal position on its own
			c.log.Warn("session_game_over_unsent", zap.String("room_id", c.roomID), zap.Error(err))
		}
		notices = append(notices, c.endLocked(result))
	}
	token := c.tokenLocked()
	c.mu.Unlock()

	c.persist(token)
	c.deliver(notices...)
	return res, nil
}

// SubmitUCI is SubmitMove for a move written as e2e4 or e7e8q.
func (c *Controller) SubmitUCI(ctx context.Context, uci string) (rules.Result, error) {
	mv, err := rules.ParseUCI(uci)
	if err != nil {
		return rules.Result{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	return c.SubmitMove(ctx, mv.From, mv.To, mv.Promotion)
}

// OnRemoteMove applies the opponent's move as reported. A position equal to
// the current one is a duplicate and ignored.
func (c *Controller) OnRemoteMove(p protocol.MoveUpdate) {
	c.mu.Lock()
	if c.state != StateActive || strings.TrimSpace(p.Position) == "" {
		c.mu.Unlock()
		return
	}
	prev := c.positionLocked()
	if rules.SamePosition(prev, p.Position) {
		c.mu.Unlock()
		return
	}

	var mv protocol.Move
	if p.Move != nil {
		mv = *p.Move
	}
	var outcome rules.Outcome
	turn := c.turn.Opponent()
	if res, err := c.engine.Infer(prev, p.Position); err == nil {
		if mv.From == "" {
			mv = res.Move
		}
		outcome = res.Outcome
		turn = res.Turn
	} else if t, terr := c.engine.Turn(p.Position); terr == nil {
		turn = t
	}
	notation := p.Notation
	if notation == "" && mv.SAN != "" {
		notation = rules.AppendMovetext(c.notationLocked(), len(c.moves), mv.SAN)
	}
	c.commitLocked(p.Position, notation, mv, turn)

	notices := []Notice{{Kind: NoticeMove, RoomID: c.roomID, Move: &mv, Text: c.turnTextLocked()}}
	if outcome.Terminal {
		notices = append(notices, c.endLocked(c.outcomeText(outcome)))
	}
	token := c.tokenLocked()
	c.mu.Unlock()

	c.persist(token)
	c.deliver(notices...)
}

// Resign concedes the game.
func (c *Controller) Resign(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	if err := c.emitter.Emit(ctx, protocol.EventResign, protocol.Resign{RoomID: c.roomID, Color: c.color}); err != nil {
		c.mu.Unlock()
		return err
	}
	n := c.endLocked(c.cat.Text("result.client_resigned", nil, "opponent wins by resignation"))
	c.mu.Unlock()

	c.persist(nil)
	c.deliver(n)
	return nil
}

// OnGameEnd ends the active game. Repeated or late reports are ignored.
func (c *Controller) OnGameEnd(p protocol.GameEnd) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	result := p.Result
	if result == "" {
		result = string(p.Status)
	}
	n := c.endLocked(result)
	c.mu.Unlock()

	c.persist(nil)
	c.deliver(n)
}

// SendChat sends text to the room. The message is shown only once the
// coordinator echoes it back.
func (c *Controller) SendChat(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	c.mu.Lock()
	state, roomID := c.state, c.roomID
	c.mu.Unlock()
	if state != StateWaiting && state != StateActive {
		return ErrNotActive
	}
	return c.emitter.Emit(ctx, protocol.EventSendMessage, protocol.SendMessage{RoomID: roomID, Identity: c.identity, Text: text})
}

// OnChat appends a relayed chat line.
func (c *Controller) OnChat(m protocol.ChatMessage) {
	c.mu.Lock()
	if c.roomID == "" {
		c.mu.Unlock()
		return
	}
	c.chat = append(c.chat, m)
	roomID := c.roomID
	c.mu.Unlock()

	text := c.cat.Text("client.chat", map[string]string{
		"Time":     m.Time().Format("15:04:05"),
		"Identity": m.Identity,
		"Text":     m.Text,
	}, m.Identity+": "+m.Text)
	c.deliver(Notice{Kind: NoticeChat, RoomID: roomID, Chat: &m, Text: text})
}

// OnError surfaces a coordinator rejection. It never changes state.
func (c *Controller) OnError(e protocol.Error) {
	c.log.Debug("session_coordinator_error", zap.String("code", e.Code), zap.String("message", e.Message))
	c.deliver(Notice{Kind: NoticeError, Text: e.Message, Result: e.Code})
}

// RestoreChat replaces the chat log with the coordinator's copy.
func (c *Controller) RestoreChat(ctx context.Context, src ChatSource) error {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	if roomID == "" {
		return ErrNotActive
	}
	msgs, err := src.Messages(ctx, roomID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.roomID == roomID {
		c.chat = append([]protocol.ChatMessage(nil), msgs...)
	}
	c.mu.Unlock()
	return nil
}

// Reset discards the current game and returns to idle.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateWaiting {
		c.mu.Unlock()
		if err := c.CancelPairing(ctx); err != nil {
			// the coordinator drops waiters on disconnect
			c.log.Warn("session_cancel_on_reset_failed", zap.Error(err))
		}
		c.mu.Lock()
	}
	c.clearLocked()
	c.state = StateIdle
	c.mu.Unlock()
	return c.clearToken(ctx)
}

// Resume loads the stored token and re-enters the active state. It reports
// whether a game was restored.
func (c *Controller) Resume(ctx context.Context) (bool, error) {
	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	token, err := c.store.Load(tctx, c.identity)
	if err != nil {
		return false, fmt.Errorf("load resume token: %w", err)
	}
	if token == nil || token.RoomID == "" || !token.Color.Valid() {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive || c.state == StateWaiting {
		return false, ErrInGame
	}
	c.clearLocked()
	c.roomID = token.RoomID
	c.color = token.Color
	c.white, c.black = token.White, token.Black
	c.restoreLogsLocked(token)
	c.turn = c.turnOf(c.positionLocked(), protocol.White)
	c.state = StateActive
	c.log.Info("session_resumed", zap.String("room_id", c.roomID), zap.Int("ply", len(c.positions)-1))
	return true, nil
}

// restoreLogsLocked rebuilds the mirror logs from token so that every
// position after the first has exactly one move and one notation. A
// trailing position missing from the log is re-derived as a move; one
// that no legal move reaches is dropped.
func (c *Controller) restoreLogsLocked(token *ResumeToken) {
	c.positions = append([]string(nil), token.PositionLog...)
	if len(c.positions) == 0 {
		c.positions = []string{rules.StartFEN}
	}
	c.moves = append([]protocol.Move(nil), token.Moves...)
	c.notations = append([]string(nil), token.NotationLog...)
	if n := len(c.positions) - 1; len(c.moves) != n {
		c.log.Warn("session_resume_log_mismatch",
			zap.String("room_id", token.RoomID),
			zap.Int("positions", len(c.positions)),
			zap.Int("moves", len(c.moves)),
		)
		if len(c.moves) > n {
			c.moves = c.moves[:n]
		}
		for len(c.moves) < n {
			c.moves = append(c.moves, protocol.Move{})
		}
	}
	if len(c.notations) > len(c.moves) {
		c.notations = c.notations[:len(c.moves)]
	}
	for len(c.notations) < len(c.moves) {
		ply := len(c.notations)
		c.notations = append(c.notations, rules.AppendMovetext(c.notationLocked(), ply, c.moves[ply].SAN))
	}

	if token.Position == "" || rules.SamePosition(token.Position, c.positionLocked()) {
		return
	}
	res, err := c.engine.Infer(c.positionLocked(), token.Position)
	if err != nil {
		c.log.Warn("session_resume_position_dropped", zap.String("room_id", token.RoomID), zap.Error(err))
		return
	}
	c.commitLocked(res.Position, rules.AppendMovetext(c.notationLocked(), len(c.moves), res.Move.SAN), res.Move, res.Turn)
}

func (c *Controller) commitLocked(position, notation string, mv protocol.Move, turn protocol.Color) {
	c.positions = append(c.positions, position)
	c.notations = append(c.notations, notation)
	c.moves = append(c.moves, mv)
	c.turn = turn
}

// endLocked moves to terminal and returns the notice to deliver.
func (c *Controller) endLocked(result string) Notice {
	c.state = StateTerminal
	c.result = result
	c.log.Info("session_game_end", zap.String("room_id", c.roomID), zap.String("result", result))
	text := c.cat.Text("client.game_over", map[string]string{"Result": result}, "game over: "+result)
	return Notice{Kind: NoticeGameEnd, RoomID: c.roomID, Result: result, Text: text}
}

func (c *Controller) clearLocked() {
	c.roomID = ""
	c.color = ""
	c.white, c.black = "", ""
	c.turn = ""
	c.positions = nil
	c.notations = nil
	c.moves = nil
	c.chat = nil
	c.result = ""
}

func (c *Controller) positionLocked() string {
	if len(c.positions) == 0 {
		return ""
	}
	return c.positions[len(c.positions)-1]
}

func (c *Controller) notationLocked() string {
	if len(c.notations) == 0 {
		return ""
	}
	return c.notations[len(c.notations)-1]
}

func (c *Controller) turnOf(fen string, fallback protocol.Color) protocol.Color {
	if t, err := c.engine.Turn(fen); err == nil {
		return t
	}
	return fallback
}

func (c *Controller) turnTextLocked() string {
	if c.turn == c.color {
		return c.cat.Text("client.your_turn", nil, "your move")
	}
	opp := c.black
	if c.color == protocol.Black {
		opp = c.white
	}
	return c.cat.Text("client.their_turn", map[string]string{"Opponent": opp}, "waiting for "+opp)
}

func (c *Controller) outcomeText(o rules.Outcome) string {
	switch o.Status {
	case protocol.StatusCheckmate:
		w := "White"
		if o.Winner == protocol.Black {
			w = "Black"
		}
		return c.cat.Text("result.checkmate", map[string]string{"Winner": w}, w+" wins by checkmate")
	case protocol.StatusStalemate:
		return c.cat.Text("result.stalemate", nil, "stalemate")
	}
	return c.cat.Text("result.draw", nil, "draw")
}

// tokenLocked snapshots the resume token, or nil when there is no game to
// resume.
func (c *Controller) tokenLocked() *ResumeToken {
	if c.state != StateActive {
		return nil
	}
	return &ResumeToken{
		RoomID:      c.roomID,
		Color:       c.color,
		White:       c.white,
		Black:       c.black,
		Position:    c.positionLocked(),
		PositionLog: append([]string(nil), c.positions...),
		NotationLog: append([]string(nil), c.notations...),
		Moves:       append([]protocol.Move(nil), c.moves...),
		SavedAt:     time.Now(),
	}
}

// persist saves token, or clears the stored one when token is nil.
func (c *Controller) persist(token *ResumeToken) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	var err error
	if token == nil {
		err = c.store.Clear(ctx, c.identity)
	} else {
		err = c.store.Save(ctx, c.identity, token)
	}
	if err != nil {
		c.log.Warn("session_resume_store_failed", zap.Error(err))
	}
}

func (c *Controller) clearToken(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.store.Clear(tctx, c.identity)
}

func (c *Controller) deliver(notices ...Notice) {
	if c.notify == nil {
		return
	}
	for _, n := range notices {
		c.notify(n)
	}
}
