package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/park285/cheese-online/internal/coordinator"
	"github.com/park285/cheese-online/internal/protocol"
	"github.com/park285/cheese-online/internal/roomapi"
	"github.com/park285/cheese-online/internal/session"
	"github.com/park285/cheese-online/internal/transport"
)

const testGrace = 300 * time.Millisecond

type harness struct {
	srv *httptest.Server
	hub *coordinator.Hub
	reg *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	hub := coordinator.NewHub(coordinator.Options{
		GracePeriod: testGrace,
		Metrics:     coordinator.NewMetrics(reg),
	})
	s := New(hub, Options{Gatherer: reg})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return &harness{srv: srv, hub: hub, reg: reg}
}

func (h *harness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
}

// swapEmitter lets one controller outlive a transport, the way a client
// process reattaches after its connection is replaced.
type swapEmitter struct {
	mu sync.Mutex
	tc *transport.Client
}

func (e *swapEmitter) set(tc *transport.Client) {
	e.mu.Lock()
	e.tc = tc
	e.mu.Unlock()
}

func (e *swapEmitter) Emit(ctx context.Context, event string, payload any) error {
	e.mu.Lock()
	tc := e.tc
	e.mu.Unlock()
	return tc.Emit(ctx, event, payload)
}

type player struct {
	name string
	ctl  *session.Controller
	em   *swapEmitter
	tc   *transport.Client
}

func (h *harness) connect(t *testing.T, p *player, rejoin string) {
	t.Helper()
	tc := transport.New(h.wsURL(), transport.Options{})
	p.ctl.Bind(tc)
	p.em.set(tc)
	p.tc = tc
	if err := tc.Connect(context.Background(), p.name, rejoin); err != nil {
		t.Fatalf("connect %s: %v", p.name, err)
	}
	t.Cleanup(func() { _ = tc.Disconnect(context.Background()) })
}

func (h *harness) newPlayer(t *testing.T, name string) *player {
	t.Helper()
	em := &swapEmitter{}
	p := &player{name: name, em: em, ctl: session.New(name, em, session.Options{})}
	h.connect(t, p, "")
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startGame pairs white then black and waits until both are active.
func (h *harness) startGame(t *testing.T) (*player, *player) {
	t.Helper()
	ctx := context.Background()
	white := h.newPlayer(t, "alice")
	black := h.newPlayer(t, "bob")
	if err := white.ctl.RequestPairing(ctx); err != nil {
		t.Fatalf("alice RequestPairing: %v", err)
	}
	waitFor(t, "alice in pool", func() bool { return h.hub.Stats().Waiting == 1 })
	if err := black.ctl.RequestPairing(ctx); err != nil {
		t.Fatalf("bob RequestPairing: %v", err)
	}
	waitFor(t, "both active", func() bool {
		return white.ctl.State() == session.StateActive && black.ctl.State() == session.StateActive
	})
	return white, black
}

func ply(p *player) int { return len(p.ctl.View().Moves) }

func move(t *testing.T, mover, other *player, uci string) {
	t.Helper()
	want := ply(mover) + 1
	if _, err := mover.ctl.SubmitUCI(context.Background(), uci); err != nil {
		t.Fatalf("%s %s: %v", mover.name, uci, err)
	}
	waitFor(t, "opponent sees "+uci, func() bool { return ply(other) == want })
}

func TestPairingAssignsComplementaryColors(t *testing.T) {
	h := newHarness(t)
	white, black := h.startGame(t)
	vw, vb := white.ctl.View(), black.ctl.View()
	if vw.RoomID == "" || vw.RoomID != vb.RoomID {
		t.Fatalf("room ids differ: %q %q", vw.RoomID, vb.RoomID)
	}
	if vw.Color != protocol.White || vb.Color != protocol.Black {
		t.Fatalf("colors: alice=%s bob=%s", vw.Color, vb.Color)
	}
	if st := h.hub.Stats(); st.Rooms != 1 || st.Waiting != 0 {
		t.Fatalf("stats %+v", st)
	}
}

func TestOpeningMoveReachesBothMirrors(t *testing.T) {
	h := newHarness(t)
	white, black := h.startGame(t)
	move(t, white, black, "e2e4")

	vw, vb := white.ctl.View(), black.ctl.View()
	if vw.Position != vb.Position || !strings.HasPrefix(vb.Position, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b") {
		t.Fatalf("positions: %q vs %q", vw.Position, vb.Position)
	}
	if vw.Turn != protocol.Black || vb.Turn != protocol.Black {
		t.Fatalf("black should be to move on both sides")
	}

	api := roomapi.New(h.srv.URL)
	hist, err := api.History(context.Background(), vw.RoomID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist.Moves) != 1 || hist.Moves[0].SAN != "e4" || len(hist.Positions) != 2 {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestCheckmateEndsBothClients(t *testing.T) {
	h := newHarness(t)
	white, black := h.startGame(t)
	move(t, white, black, "f2f3")
	move(t, black, white, "e7e5")
	move(t, white, black, "g2g4")
	if _, err := black.ctl.SubmitUCI(context.Background(), "d8h4"); err != nil {
		t.Fatalf("d8h4: %v", err)
	}
	if black.ctl.State() != session.StateTerminal {
		t.Fatalf("mating side should be terminal at once")
	}
	waitFor(t, "white terminal", func() bool { return white.ctl.State() == session.StateTerminal })
	for _, p := range []*player{white, black} {
		if r := p.ctl.View().Result; !strings.Contains(r, "checkmate") {
			t.Fatalf("%s result = %q", p.name, r)
		}
	}
	waitFor(t, "room closed", func() bool { return h.hub.Stats().Rooms == 0 || roomEnded(h, white) })
}

func roomEnded(h *harness, p *player) bool {
	snap, err := h.hub.Snapshot(context.Background(), p.ctl.View().RoomID)
	return err == nil && snap.Status.Terminal()
}

func TestRejoinWithinGrace(t *testing.T) {
	h := newHarness(t)
	white, black := h.startGame(t)
	move(t, white, black, "e2e4")
	roomID := white.ctl.RejoinHint()

	_ = white.tc.Disconnect(context.Background())
	h.connect(t, white, roomID)
	waitFor(t, "rejoined", func() bool { return white.tc.State() == transport.StateConnected })

	time.Sleep(testGrace + 100*time.Millisecond)
	if white.ctl.State() != session.StateActive || black.ctl.State() != session.StateActive {
		t.Fatalf("room should stay active after a rejoin")
	}
	if len(white.ctl.View().Positions) != 2 {
		t.Fatalf("resync must not duplicate the last move")
	}
	move(t, black, white, "e7e5")
	if white.ctl.View().Position != black.ctl.View().Position {
		t.Fatalf("mirrors diverged after rejoin")
	}
}

func TestWaitingClientRequeuedAfterReconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.newPlayer(t, "alice")
	if err := alice.ctl.RequestPairing(ctx); err != nil {
		t.Fatalf("alice RequestPairing: %v", err)
	}
	waitFor(t, "alice in pool", func() bool { return h.hub.Stats().Waiting == 1 })

	_ = alice.tc.Disconnect(ctx)
	waitFor(t, "pool emptied", func() bool { return h.hub.Stats().Waiting == 0 })
	if alice.ctl.State() != session.StateWaiting {
		t.Fatalf("controller should still be waiting, got %s", alice.ctl.State())
	}

	h.connect(t, alice, "")
	waitFor(t, "alice back in pool", func() bool { return h.hub.Stats().Waiting == 1 })

	bob := h.newPlayer(t, "bob")
	if err := bob.ctl.RequestPairing(ctx); err != nil {
		t.Fatalf("bob RequestPairing: %v", err)
	}
	waitFor(t, "both active", func() bool {
		return alice.ctl.State() == session.StateActive && bob.ctl.State() == session.StateActive
	})
	if alice.ctl.View().RoomID != bob.ctl.View().RoomID {
		t.Fatalf("players landed in different rooms")
	}
}

func TestAbandonAfterGrace(t *testing.T) {
	h := newHarness(t)
	white, black := h.startGame(t)
	move(t, white, black, "d2d4")

	_ = white.tc.Disconnect(context.Background())
	waitFor(t, "black terminal", func() bool { return black.ctl.State() == session.StateTerminal })
	if r := black.ctl.View().Result; r != "abandoned, black wins" {
		t.Fatalf("result = %q", r)
	}
}

func TestChatRoundTripsInOrder(t *testing.T) {
	h := newHarness(t)
	white, black := h.startGame(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := white.ctl.SendChat(ctx, "w"); err != nil {
			t.Fatalf("SendChat: %v", err)
		}
		if err := black.ctl.SendChat(ctx, "b"); err != nil {
			t.Fatalf("SendChat: %v", err)
		}
	}
	waitFor(t, "all chat", func() bool {
		return len(white.ctl.View().Chat) == 10 && len(black.ctl.View().Chat) == 10
	})
	cw, cb := white.ctl.View().Chat, black.ctl.View().Chat
	for i := range cw {
		if cw[i].Identity != cb[i].Identity || cw[i].Timestamp != cb[i].Timestamp {
			t.Fatalf("chat diverged at %d", i)
		}
	}

	if err := white.ctl.RestoreChat(ctx, roomapi.New(h.srv.URL)); err != nil {
		t.Fatalf("RestoreChat: %v", err)
	}
	if len(white.ctl.View().Chat) != 10 {
		t.Fatalf("restored chat length %d", len(white.ctl.View().Chat))
	}
}

func TestHTTPSurface(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var health map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health["status"] != "ok" {
		t.Fatalf("health = %v", health)
	}

	resp, err = http.Get(h.srv.URL + "/api/rooms/nope/history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown room status = %d", resp.StatusCode)
	}

	resp, err = http.Get(h.srv.URL + "/ws")
	if err != nil {
		t.Fatalf("ws: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("ws without identity status = %d", resp.StatusCode)
	}

	h.startGame(t)
	resp, err = http.Get(h.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "chess_rooms_created_total 1") {
		t.Fatalf("metrics missing room counter")
	}
}
