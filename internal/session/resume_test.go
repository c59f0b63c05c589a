package session

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-online/internal/protocol"
	"github.com/park285/cheese-online/internal/rules"
)

func newRedisResumeStore(t *testing.T) (*RedisResumeStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisResumeStore(rdb), mr
}

func TestRedisResumeStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisResumeStore(t)

	got, err := store.Load(ctx, "alice")
	if err != nil || got != nil {
		t.Fatalf("empty load: %+v %v", got, err)
	}
	token := &ResumeToken{
		RoomID:      "r1",
		Color:       protocol.White,
		White:       "alice",
		Black:       "bob",
		Position:    rules.StartFEN,
		PositionLog: []string{rules.StartFEN},
	}
	if err := store.Save(ctx, "alice", token); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL("chess:resume:alice"); ttl <= 0 || ttl > 24*time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	got, err = store.Load(ctx, "alice")
	if err != nil || got == nil || got.RoomID != "r1" || got.Color != protocol.White {
		t.Fatalf("Load: %+v %v", got, err)
	}
	if err := store.Clear(ctx, "alice"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if mr.Exists("chess:resume:alice") {
		t.Fatalf("token should be gone after Clear")
	}
}

func TestRedisResumeStoreCorruptValue(t *testing.T) {
	store, mr := newRedisResumeStore(t)
	if err := mr.Set("chess:resume:bob", "{not json"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := store.Load(context.Background(), "bob"); err == nil {
		t.Fatalf("expected a decode error")
	}
}

func TestControllerResumesFromRedis(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisResumeStore(t)

	first := New("alice", &fakeEmitter{}, Options{Store: store})
	_ = first.RequestPairing(ctx)
	first.OnRoomAssigned(protocol.RoomAssigned{RoomID: "r9", White: "alice", Black: "bob", Color: protocol.White})
	if _, err := first.SubmitUCI(ctx, "e2e4"); err != nil {
		t.Fatalf("e2e4: %v", err)
	}

	// a new process for the same player
	second := New("alice", &fakeEmitter{}, Options{Store: store})
	ok, err := second.Resume(ctx)
	if err != nil || !ok {
		t.Fatalf("Resume: %v %v", ok, err)
	}
	v := second.View()
	if v.RoomID != "r9" || v.Color != protocol.White || len(v.Positions) != 2 || v.Turn != protocol.Black {
		t.Fatalf("unexpected resumed view %+v", v)
	}
	if v.Position != first.View().Position || v.Notations[0] != "1. e4" {
		t.Fatalf("resumed mirror differs from the original")
	}
	if second.RejoinHint() != "r9" {
		t.Fatalf("rejoin hint = %q", second.RejoinHint())
	}

	second.OnGameEnd(protocol.GameEnd{Result: "draw"})
	if tok, _ := store.Load(ctx, "alice"); tok != nil {
		t.Fatalf("token should be cleared after game-end")
	}
}
