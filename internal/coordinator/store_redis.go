package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ttlRoom        = 24 * time.Hour
	maxSaveRetries = 3
)

// RoomStore persists room snapshots outside the process.
type RoomStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, roomID string) (*Snapshot, error)
	Live(ctx context.Context) ([]string, error)
}

// RedisStore keeps each room as a JSON snapshot under room:<id>.
// In-progress room IDs are indexed in the room:live set.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb, ttl: ttlRoom} }

// OpenRedisStore dials redisURL and verifies the connection.
func OpenRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for room store")
	}
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(rdb), nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func roomKey(id string) string { return "room:" + strings.TrimSpace(id) }

const liveKey = "room:live"

// Save writes snap unless the stored copy is already newer.
func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.RoomID == "" {
		return nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	key := roomKey(snap.RoomID)
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				var stored Snapshot
				if jerr := json.Unmarshal(cur, &stored); jerr == nil && stored.Version >= snap.Version {
					return nil
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, raw, s.ttl)
				if snap.Status.Terminal() {
					pipe.SRem(ctx, liveKey, snap.RoomID)
				} else {
					pipe.SAdd(ctx, liveKey, snap.RoomID)
				}
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *RedisStore) Load(ctx context.Context, roomID string) (*Snapshot, error) {
	raw, err := s.rdb.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Live lists rooms that were in progress at their last save.
func (s *RedisStore) Live(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, liveKey).Result()
}

// ParseRedisURL accepts redis:// and rediss:// URLs with an optional /db path.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
