package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-online/internal/protocol"
)

// echoServer replies to every inbound envelope with the same envelope and
// greets each connection with an error event carrying its query string.
type echoServer struct {
	mu      sync.Mutex
	queries []string
	conns   []*websocket.Conn
}

func (s *echoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	s.mu.Lock()
	s.queries = append(s.queries, r.URL.RawQuery)
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	ctx := r.Context()
	hello, _ := protocol.Encode(protocol.EventError, protocol.Error{Code: "hello", Message: r.URL.RawQuery})
	if err := wsjson.Write(ctx, c, hello); err != nil {
		return
	}
	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, c, &env); err != nil {
			return
		}
		if err := wsjson.Write(ctx, c, env); err != nil {
			return
		}
	}
}

func (s *echoServer) query(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.queries) {
		return ""
	}
	return s.queries[i]
}

func (s *echoServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func (s *echoServer) kick(i int) {
	s.mu.Lock()
	c := s.conns[i]
	s.mu.Unlock()
	_ = c.Close(websocket.StatusGoingAway, "kick")
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
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

type recorder struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (r *recorder) handle(env protocol.Envelope) {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func (r *recorder) at(i int) protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.envs[i]
}

func TestConnectSendsIdentityAndRejoin(t *testing.T) {
	es := &echoServer{}
	srv := httptest.NewServer(es)
	defer srv.Close()

	c := New(wsURL(srv), Options{})
	if err := c.Connect(context.Background(), "alice", "room-9"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect(context.Background())

	waitFor(t, "handshake", func() bool { return es.count() == 1 })
	q := es.query(0)
	if !strings.Contains(q, "identity=alice") || !strings.Contains(q, "rejoin=room-9") {
		t.Fatalf("unexpected query %q", q)
	}
	if c.State() != StateConnected {
		t.Fatalf("expected connected, got %s", c.State())
	}
}

func TestEventsDispatchedInOrder(t *testing.T) {
	srv := httptest.NewServer(&echoServer{})
	defer srv.Close()

	c := New(wsURL(srv), Options{})
	rec := &recorder{}
	c.On(protocol.EventNewMessage, rec.handle)
	all := &recorder{}
	c.On(AnyEvent, all.handle)

	if err := c.Connect(context.Background(), "bob", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect(context.Background())

	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		if err := c.Emit(ctx, protocol.EventNewMessage, protocol.ChatMessage{Identity: "bob", Text: text}); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}
	waitFor(t, "three echoes", func() bool { return rec.len() == 3 })
	for i, want := range []string{"one", "two", "three"} {
		msg, err := protocol.Decode[protocol.ChatMessage](rec.at(i))
		if err != nil || msg.Text != want {
			t.Fatalf("message %d: got %+v (%v), want %s", i, msg, err, want)
		}
	}
	if all.len() != 4 {
		t.Fatalf("wildcard handler should see hello plus 3 echoes, got %d", all.len())
	}
}

func TestOffRemovesHandler(t *testing.T) {
	srv := httptest.NewServer(&echoServer{})
	defer srv.Close()

	c := New(wsURL(srv), Options{})
	rec := &recorder{}
	id := c.On(protocol.EventError, rec.handle)
	c.Off(id)
	errs := &recorder{}
	c.On(protocol.EventError, errs.handle)

	if err := c.Connect(context.Background(), "carol", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect(context.Background())
	waitFor(t, "hello", func() bool { return errs.len() == 1 })
	if rec.len() != 0 {
		t.Fatalf("removed handler was called")
	}
}

func TestEmitWhileDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", Options{})
	err := c.Emit(context.Background(), protocol.EventResign, protocol.Resign{RoomID: "r", Color: protocol.White})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestReconnectUsesRejoinProvider(t *testing.T) {
	es := &echoServer{}
	srv := httptest.NewServer(es)
	defer srv.Close()

	c := New(wsURL(srv), Options{ReconnectAttempts: 5, ReconnectDelay: 10 * time.Millisecond})
	c.SetRejoinProvider(func() string { return "room-42" })

	var mu sync.Mutex
	var states []State
	c.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := c.Connect(context.Background(), "dave", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect(context.Background())
	waitFor(t, "first connection", func() bool { return es.count() == 1 })

	es.kick(0)
	waitFor(t, "second connection", func() bool { return es.count() == 2 })
	if q := es.query(1); !strings.Contains(q, "rejoin=room-42") {
		t.Fatalf("reconnect should carry rejoin hint, got %q", q)
	}
	waitFor(t, "connected again", func() bool { return c.State() == StateConnected })

	mu.Lock()
	defer mu.Unlock()
	sawReconnecting := false
	for _, s := range states {
		if s == StateReconnecting {
			sawReconnecting = true
		}
	}
	if !sawReconnecting {
		t.Fatalf("expected a reconnecting state, got %v", states)
	}
}

func TestDisconnectStopsReconnect(t *testing.T) {
	es := &echoServer{}
	srv := httptest.NewServer(es)
	defer srv.Close()

	c := New(wsURL(srv), Options{ReconnectAttempts: 3, ReconnectDelay: 10 * time.Millisecond})
	if err := c.Connect(context.Background(), "erin", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if es.count() != 1 {
		t.Fatalf("client reconnected after Disconnect")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", c.State())
	}
}

func TestBackoffDuration(t *testing.T) {
	c := New("ws://x", Options{ReconnectDelay: 100 * time.Millisecond})
	if got := c.backoffDuration(1); got != 100*time.Millisecond {
		t.Fatalf("attempt 1: %v", got)
	}
	if got := c.backoffDuration(3); got != 400*time.Millisecond {
		t.Fatalf("attempt 3: %v", got)
	}
	if got := c.backoffDuration(50); got != 3200*time.Millisecond {
		t.Fatalf("attempt 50 should cap, got %v", got)
	}
}
