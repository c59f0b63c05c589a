package coordinator

import (
	"strings"

	"github.com/park285/cheese-online/internal/msgcat"
	"github.com/park285/cheese-online/internal/protocol"
)

func title(c protocol.Color) string {
	switch c {
	case protocol.White:
		return "White"
	case protocol.Black:
		return "Black"
	}
	return ""
}

func checkmateText(cat *msgcat.Catalog, winner protocol.Color) string {
	return cat.Text("result.checkmate", map[string]string{"Winner": title(winner)}, title(winner)+" wins by checkmate")
}

func resignedText(cat *msgcat.Catalog, loser protocol.Color) string {
	data := map[string]string{"Loser": string(loser), "Winner": string(loser.Opponent())}
	return cat.Text("result.resigned", data, string(loser)+" resigned, "+string(loser.Opponent())+" wins")
}

func abandonedText(cat *msgcat.Catalog, winner protocol.Color) string {
	return cat.Text("result.abandoned", map[string]string{"Winner": string(winner)}, "abandoned, "+string(winner)+" wins")
}

// abandonedBothText is the result when neither member came back.
func abandonedBothText(cat *msgcat.Catalog) string {
	return cat.Text("result.abandoned_both", nil, "abandoned, no winner")
}

func statusText(cat *msgcat.Catalog, status protocol.Status) string {
	switch status {
	case protocol.StatusStalemate:
		return cat.Text("result.stalemate", nil, "stalemate")
	case protocol.StatusDraw:
		return cat.Text("result.draw", nil, "draw")
	}
	return string(status)
}

func expiredText(cat *msgcat.Catalog) string {
	return cat.Text("result.expired", nil, "room no longer available")
}

// parseResult classifies a client-reported result description.
func parseResult(result string) protocol.Status {
	s := strings.ToLower(result)
	switch {
	case strings.Contains(s, "checkmate"):
		return protocol.StatusCheckmate
	case strings.Contains(s, "stalemate"):
		return protocol.StatusStalemate
	case strings.Contains(s, "resign"):
		return protocol.StatusResigned
	case strings.Contains(s, "time"):
		return protocol.StatusTimeout
	case strings.Contains(s, "abandon"):
		return protocol.StatusAbandoned
	}
	return protocol.StatusDraw
}
