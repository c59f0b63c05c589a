package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-online/internal/protocol"
)

const ttlResume = 24 * time.Hour

// ResumeToken is everything a client needs to pick an unfinished game back
// up after a restart.
type ResumeToken struct {
	RoomID      string          `json:"roomId"`
	Color       protocol.Color  `json:"color"`
	White       string          `json:"white"`
	Black       string          `json:"black"`
	Position    string          `json:"position"`
	PositionLog []string        `json:"positionLog"`
	NotationLog []string        `json:"notationLog"`
	Moves       []protocol.Move `json:"moves,omitempty"`
	SavedAt     time.Time       `json:"savedAt"`
}

// ResumeStore keeps one token per identity.
type ResumeStore interface {
	Load(ctx context.Context, identity string) (*ResumeToken, error)
	Save(ctx context.Context, identity string, token *ResumeToken) error
	Clear(ctx context.Context, identity string) error
}

// MemoryResumeStore is a process-local ResumeStore.
type MemoryResumeStore struct {
	mu     sync.Mutex
	tokens map[string]ResumeToken
}

func NewMemoryResumeStore() *MemoryResumeStore {
	return &MemoryResumeStore{tokens: make(map[string]ResumeToken)}
}

func (s *MemoryResumeStore) Load(_ context.Context, identity string) (*ResumeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[identity]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *MemoryResumeStore) Save(_ context.Context, identity string, token *ResumeToken) error {
	if token == nil {
		return nil
	}
	s.mu.Lock()
	s.tokens[identity] = *token
	s.mu.Unlock()
	return nil
}

func (s *MemoryResumeStore) Clear(_ context.Context, identity string) error {
	s.mu.Lock()
	delete(s.tokens, identity)
	s.mu.Unlock()
	return nil
}

// RedisResumeStore keeps tokens as JSON under chess:resume:<identity>.
type RedisResumeStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisResumeStore(rdb *redis.Client) *RedisResumeStore {
	return &RedisResumeStore{rdb: rdb, ttl: ttlResume}
}

func resumeKey(identity string) string { return "chess:resume:" + strings.TrimSpace(identity) }

func (s *RedisResumeStore) Load(ctx context.Context, identity string) (*ResumeToken, error) {
	raw, err := s.rdb.Get(ctx, resumeKey(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var t ResumeToken
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *RedisResumeStore) Save(ctx context.Context, identity string, token *ResumeToken) error {
	if token == nil {
		return nil
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, resumeKey(identity), raw, s.ttl).Err()
}

func (s *RedisResumeStore) Clear(ctx context.Context, identity string) error {
	return s.rdb.Del(ctx, resumeKey(identity)).Err()
}

// OpenRedisResumeStore dials redisURL and verifies the connection.
func OpenRedisResumeStore(ctx context.Context, redisURL string) (*RedisResumeStore, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse resume redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisResumeStore(rdb), nil
}

func (s *RedisResumeStore) Close() error { return s.rdb.Close() }
