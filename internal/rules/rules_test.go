package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/park285/cheese-online/internal/protocol"
)

func TestApplyOpeningMove(t *testing.T) {
	e := New()
	res, err := e.Apply(StartFEN, protocol.Move{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Move.SAN != "e4" {
		t.Fatalf("expected SAN e4, got %q", res.Move.SAN)
	}
	if res.Turn != protocol.Black {
		t.Fatalf("expected black to move, got %s", res.Turn)
	}
	if res.Outcome.Terminal {
		t.Fatalf("opening move must not end the game")
	}
	if !strings.HasPrefix(res.Position, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b") {
		t.Fatalf("unexpected position %q", res.Position)
	}
}

func TestApplyRejectsIllegalMove(t *testing.T) {
	e := New()
	if _, err := e.Apply(StartFEN, protocol.Move{From: "e2", To: "e5"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
	if _, err := e.Apply(StartFEN, protocol.Move{From: "e7", To: "e5"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("moving out of turn should be illegal, got %v", err)
	}
	if _, err := e.Apply(StartFEN, protocol.Move{From: "zz", To: "e4x"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected malformed squares to be rejected, got %v", err)
	}
}

func TestApplyBadPosition(t *testing.T) {
	if _, err := New().Apply("not a fen", protocol.Move{From: "e2", To: "e4"}); !errors.Is(err, ErrBadPosition) {
		t.Fatalf("expected ErrBadPosition, got %v", err)
	}
}

func TestFoolsMateIsCheckmate(t *testing.T) {
	e := New()
	fen := StartFEN
	var last Result
	for _, uci := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		res, err := e.ApplyUCI(fen, uci)
		if err != nil {
			t.Fatalf("ApplyUCI %s: %v", uci, err)
		}
		fen = res.Position
		last = res
	}
	if !last.Outcome.Terminal || last.Outcome.Status != protocol.StatusCheckmate {
		t.Fatalf("expected checkmate, got %+v", last.Outcome)
	}
	if last.Outcome.Winner != protocol.Black {
		t.Fatalf("expected black to win, got %s", last.Outcome.Winner)
	}
}

func TestStalemateDetected(t *testing.T) {
	res, err := New().ApplyUCI("k7/8/1Q6/8/8/8/8/7K w - - 0 1", "h1h2")
	if err != nil {
		t.Fatalf("ApplyUCI: %v", err)
	}
	if !res.Outcome.Terminal || res.Outcome.Status != protocol.StatusStalemate {
		t.Fatalf("expected stalemate, got %+v", res.Outcome)
	}
	if res.Outcome.Winner != "" {
		t.Fatalf("stalemate has no winner, got %s", res.Outcome.Winner)
	}
}

func TestPromotionDefaultsToQueen(t *testing.T) {
	res, err := New().Apply("8/4P3/8/8/8/8/k7/7K w - - 0 1", protocol.Move{From: "e7", To: "e8"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Move.Promotion != "q" {
		t.Fatalf("expected queen promotion, got %q", res.Move.Promotion)
	}
	if !strings.Contains(res.Move.SAN, "=Q") {
		t.Fatalf("expected promotion in SAN, got %q", res.Move.SAN)
	}
}

func TestTurn(t *testing.T) {
	e := New()
	c, err := e.Turn(StartFEN)
	if err != nil || c != protocol.White {
		t.Fatalf("expected white, got %s (%v)", c, err)
	}
	c, err = e.Turn("k7/8/1Q6/8/8/8/8/7K b - - 0 1")
	if err != nil || c != protocol.Black {
		t.Fatalf("expected black, got %s (%v)", c, err)
	}
}

func TestParseUCI(t *testing.T) {
	mv, err := ParseUCI("E7E8N")
	if err != nil {
		t.Fatalf("ParseUCI: %v", err)
	}
	if mv.From != "e7" || mv.To != "e8" || mv.Promotion != "n" {
		t.Fatalf("unexpected move %+v", mv)
	}
	if _, err := ParseUCI("e2"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
}

func TestMovetext(t *testing.T) {
	cases := []struct {
		sans []string
		want string
	}{
		{nil, ""},
		{[]string{"e4"}, "1. e4"},
		{[]string{"e4", "e5"}, "1. e4 e5"},
		{[]string{"e4", "e5", "Nf3"}, "1. e4 e5 2. Nf3"},
	}
	for _, tc := range cases {
		if got := Movetext(tc.sans); got != tc.want {
			t.Fatalf("Movetext(%v) = %q, want %q", tc.sans, got, tc.want)
		}
	}
}

func TestInferFindsMove(t *testing.T) {
	e := New()
	played, err := e.ApplyUCI(StartFEN, "g1f3")
	if err != nil {
		t.Fatalf("ApplyUCI: %v", err)
	}
	got, err := e.Infer(StartFEN, played.Position)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if got.Move.From != "g1" || got.Move.To != "f3" || got.Move.SAN != "Nf3" {
		t.Fatalf("unexpected inferred move %+v", got.Move)
	}
}

func TestInferRejectsUnreachablePosition(t *testing.T) {
	if _, err := New().Infer(StartFEN, "k7/8/1Q6/8/8/8/8/7K b - - 0 1"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
}

func TestSamePositionIgnoresClocks(t *testing.T) {
	if !SamePosition("8/8/8/8/8/8/8/K6k w - - 0 1", "8/8/8/8/8/8/8/K6k w - - 3 9") {
		t.Fatalf("clocks should not matter")
	}
	if SamePosition("8/8/8/8/8/8/8/K6k w - - 0 1", "8/8/8/8/8/8/8/K6k b - - 0 1") {
		t.Fatalf("side to move should matter")
	}
}

func TestAppendMovetextMatchesMovetext(t *testing.T) {
	sans := []string{"e4", "e5", "Nf3", "Nc6", "Bb5"}
	text := ""
	for i, san := range sans {
		text = AppendMovetext(text, i, san)
		if want := Movetext(sans[:i+1]); text != want {
			t.Fatalf("ply %d: got %q want %q", i+1, text, want)
		}
	}
}

func TestDiagram(t *testing.T) {
	d, err := Diagram(StartFEN)
	if err != nil || strings.Count(d, "\n") < 8 {
		t.Fatalf("Diagram: %q %v", d, err)
	}
	if _, err := Diagram("not a fen"); !errors.Is(err, ErrBadPosition) {
		t.Fatalf("expected ErrBadPosition, got %v", err)
	}
}
