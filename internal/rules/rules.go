// Package rules adapts github.com/corentings/chess/v2 to the session protocol.
// It is stateless: every call rebuilds a game from the given FEN.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-online/internal/protocol"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrBadPosition = errors.New("bad position")
)

// Outcome describes whether a position ends the game.
type Outcome struct {
	Terminal bool
	Status   protocol.Status
	Winner   protocol.Color
	Method   string
}

// Result is the outcome of applying one legal move.
type Result struct {
	Position string
	Move     protocol.Move
	Turn     protocol.Color
	Outcome  Outcome
}

// Engine validates and applies moves.
type Engine struct{}

func New() *Engine { return &Engine{} }

// Apply validates mv against fen and returns the resulting position.
// A pawn reaching the last rank without a promotion piece promotes to a queen.
func (e *Engine) Apply(fen string, mv protocol.Move) (Result, error) {
	game, err := gameFrom(fen)
	if err != nil {
		return Result{}, err
	}
	from := strings.ToLower(strings.TrimSpace(mv.From))
	to := strings.ToLower(strings.TrimSpace(mv.To))
	promo := strings.ToLower(strings.TrimSpace(mv.Promotion))
	if len(from) != 2 || len(to) != 2 || len(promo) > 1 {
		return Result{}, fmt.Errorf("%w: %s%s%s", ErrIllegalMove, from, to, promo)
	}

	pos := game.Position()
	uci := from + to + promo
	if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		if promo != "" || !lastRank(to) {
			return Result{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
		}
		uci += "q"
		if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
			return Result{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci[:4])
		}
	}
	last := lastMove(game)
	if last == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	applied := protocol.Move{
		From: uci[:2],
		To:   uci[2:4],
		SAN:  nchess.AlgebraicNotation{}.Encode(pos, last),
	}
	if len(uci) == 5 {
		applied.Promotion = uci[4:]
	}
	return Result{
		Position: game.FEN(),
		Move:     applied,
		Turn:     colorFrom(game.Position().Turn()),
		Outcome:  outcomeOf(game),
	}, nil
}

// ApplyUCI is Apply for a move written as e2e4 or e7e8q.
func (e *Engine) ApplyUCI(fen, uci string) (Result, error) {
	mv, err := ParseUCI(uci)
	if err != nil {
		return Result{}, err
	}
	return e.Apply(fen, mv)
}

// Turn reports the side to move in fen.
func (e *Engine) Turn(fen string) (protocol.Color, error) {
	game, err := gameFrom(fen)
	if err != nil {
		return "", err
	}
	return colorFrom(game.Position().Turn()), nil
}

// ParseUCI splits a long algebraic move into its parts.
func ParseUCI(uci string) (protocol.Move, error) {
	s := strings.ToLower(strings.TrimSpace(uci))
	if len(s) != 4 && len(s) != 5 {
		return protocol.Move{}, fmt.Errorf("%w: %q", ErrIllegalMove, uci)
	}
	mv := protocol.Move{From: s[:2], To: s[2:4]}
	if len(s) == 5 {
		mv.Promotion = s[4:]
	}
	return mv, nil
}

// Movetext renders SAN half-moves as numbered PGN movetext.
func Movetext(sans []string) string {
	var b strings.Builder
	for i := 0; i < len(sans); i += 2 {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%d. %s", i/2+1, strings.TrimSpace(sans[i]))
		if i+1 < len(sans) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(sans[i+1]))
		}
	}
	return b.String()
}

// AppendMovetext extends movetext by one SAN half-move, where ply is the
// number of half-moves already in movetext.
func AppendMovetext(movetext string, ply int, san string) string {
	san = strings.TrimSpace(san)
	var next string
	if ply%2 == 0 {
		next = fmt.Sprintf("%d. %s", ply/2+1, san)
	} else {
		next = san
	}
	if strings.TrimSpace(movetext) == "" {
		return next
	}
	return strings.TrimSpace(movetext) + " " + next
}

func gameFrom(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" || fen == StartFEN {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPosition, err)
	}
	return nchess.NewGame(opt), nil
}

func outcomeOf(game *nchess.Game) Outcome {
	method := game.Method()
	switch game.Outcome() {
	case nchess.WhiteWon:
		return Outcome{Terminal: true, Status: protocol.StatusCheckmate, Winner: protocol.White, Method: method.String()}
	case nchess.BlackWon:
		return Outcome{Terminal: true, Status: protocol.StatusCheckmate, Winner: protocol.Black, Method: method.String()}
	case nchess.Draw:
		if method == nchess.Stalemate {
			return Outcome{Terminal: true, Status: protocol.StatusStalemate, Method: method.String()}
		}
		return Outcome{Terminal: true, Status: protocol.StatusDraw, Method: method.String()}
	}
	return Outcome{}
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func lastRank(square string) bool {
	return len(square) == 2 && (square[1] == '1' || square[1] == '8')
}

func colorFrom(c nchess.Color) protocol.Color {
	if c == nchess.White {
		return protocol.White
	}
	return protocol.Black
}

// Infer finds the legal move that turns prevFEN into nextFEN.
func (e *Engine) Infer(prevFEN, nextFEN string) (Result, error) {
	game, err := gameFrom(prevFEN)
	if err != nil {
		return Result{}, err
	}
	for _, mv := range game.ValidMoves() {
		res, err := e.ApplyUCI(prevFEN, mv.String())
		if err != nil {
			continue
		}
		if SamePosition(res.Position, nextFEN) {
			return res, nil
		}
	}
	return Result{}, fmt.Errorf("%w: no move reaches %q", ErrIllegalMove, nextFEN)
}

// SamePosition compares placement, side to move, castling and en passant,
// ignoring the move clocks.
func SamePosition(a, b string) bool {
	fa, fb := strings.Fields(a), strings.Fields(b)
	if len(fa) < 4 || len(fb) < 4 {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}
	for i := 0; i < 4; i++ {
		if fa[i] != fb[i] {
			return false
		}
	}
	return true
}

// Diagram draws fen as a text board.
func Diagram(fen string) (string, error) {
	game, err := gameFrom(fen)
	if err != nil {
		return "", err
	}
	return game.Position().Board().Draw(), nil
}
