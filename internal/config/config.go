package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CoordinatorConfig configures the room coordinator process.
type CoordinatorConfig struct {
	ListenAddr     string
	RedisURL       string
	DatabaseURL    string
	MessagesDir    string
	AllowedOrigins []string

	GracePeriod     time.Duration
	RoomRetention   time.Duration
	RevalidateMoves bool
	SendQueueSize   int
}

// ClientConfig configures the interactive game client.
type ClientConfig struct {
	CoordinatorURL     string
	CoordinatorHTTPURL string
	PlayerName         string
	ResumeRedisURL     string
	MessagesDir        string

	ReconnectAttempts int
	ReconnectDelay    time.Duration
	RequestTimeout    time.Duration
}

// LoadDotenv reads .env files into the process environment when present.
// Variables already set are not overwritten.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func LoadCoordinator() (*CoordinatorConfig, error) {
	cfg := &CoordinatorConfig{
		ListenAddr:    ":8080",
		GracePeriod:   30 * time.Second,
		RoomRetention: 10 * time.Minute,
		SendQueueSize: 64,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	cfg.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))

	if d, ok := envDuration("GRACE_PERIOD"); ok {
		cfg.GracePeriod = d
	}
	if d, ok := envDuration("ROOM_RETENTION"); ok {
		cfg.RoomRetention = d
	}
	if v := strings.TrimSpace(os.Getenv("REVALIDATE_MOVES")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RevalidateMoves = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("SEND_QUEUE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SendQueueSize = n
		}
	}

	if cfg.GracePeriod <= 0 {
		return nil, errors.New("GRACE_PERIOD must be positive")
	}
	return cfg, nil
}

func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
		RequestTimeout:    5 * time.Second,
	}

	cfg.CoordinatorURL = strings.TrimSpace(os.Getenv("COORDINATOR_URL"))
	cfg.CoordinatorHTTPURL = strings.TrimSpace(os.Getenv("COORDINATOR_HTTP_URL"))
	cfg.PlayerName = strings.TrimSpace(os.Getenv("PLAYER_NAME"))
	cfg.ResumeRedisURL = strings.TrimSpace(os.Getenv("RESUME_REDIS_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("RECONNECT_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ReconnectAttempts = n
		}
	}
	if d, ok := envDuration("RECONNECT_DELAY"); ok {
		cfg.ReconnectDelay = d
	}
	if d, ok := envDuration("REQUEST_TIMEOUT"); ok {
		cfg.RequestTimeout = d
	}

	if cfg.CoordinatorURL == "" {
		return nil, errors.New("COORDINATOR_URL is required")
	}
	if cfg.PlayerName == "" {
		return nil, errors.New("PLAYER_NAME is required")
	}
	if cfg.CoordinatorHTTPURL == "" {
		cfg.CoordinatorHTTPURL = httpBase(cfg.CoordinatorURL)
	}
	return cfg, nil
}

// httpBase derives the REST base URL from a ws(s):// endpoint.
func httpBase(wsURL string) string {
	u := wsURL
	switch {
	case strings.HasPrefix(u, "wss://"):
		u = "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		u = "http://" + strings.TrimPrefix(u, "ws://")
	}
	u = strings.TrimSuffix(u, "/")
	return strings.TrimSuffix(u, "/ws")
}

// envDuration accepts Go durations or a bare number of seconds.
func envDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
