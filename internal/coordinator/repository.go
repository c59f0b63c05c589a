package coordinator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cheese-online/internal/protocol"
	"github.com/park285/cheese-online/internal/rules"
)

// ResultSink archives finished rooms.
type ResultSink interface {
	SaveResult(ctx context.Context, snap *Snapshot) error
}

const schemaOnlineGames = `CREATE TABLE IF NOT EXISTS online_games (
	room_id     TEXT PRIMARY KEY,
	white_name  TEXT NOT NULL,
	black_name  TEXT NOT NULL,
	status      TEXT NOT NULL,
	result      TEXT NOT NULL,
	moves_uci   JSONB NOT NULL,
	moves_san   JSONB NOT NULL,
	final_fen   TEXT NOT NULL,
	pgn         TEXT NOT NULL,
	chat        JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL
)`

// Repository stores finished games in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

// NewRepositoryFromDB wraps an existing handle.
func NewRepositoryFromDB(db *sql.DB) *Repository { return &Repository{db: db} }

// Migrate creates the online_games table when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, schemaOnlineGames)
	return err
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts a finished room.
func (r *Repository) SaveResult(ctx context.Context, snap *Snapshot) error {
	if r == nil || r.db == nil || snap == nil {
		return nil
	}
	uci := make([]string, 0, len(snap.Moves))
	san := make([]string, 0, len(snap.Moves))
	for _, mv := range snap.Moves {
		uci = append(uci, mv.UCI())
		san = append(san, mv.SAN)
	}
	uciRaw, _ := json.Marshal(uci)
	sanRaw, _ := json.Marshal(san)
	chat := snap.Chat
	if chat == nil {
		chat = []protocol.ChatMessage{}
	}
	chatRaw, _ := json.Marshal(chat)

	ended := snap.EndedAt
	if ended.IsZero() {
		ended = snap.UpdatedAt
	}
	duration := ended.Sub(snap.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO online_games (
        room_id, white_name, black_name, status, result,
        moves_uci, moves_san, final_fen, pgn, chat,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
      ) ON CONFLICT (room_id) DO UPDATE SET
        white_name=EXCLUDED.white_name,
        black_name=EXCLUDED.black_name,
        status=EXCLUDED.status,
        result=EXCLUDED.result,
        moves_uci=EXCLUDED.moves_uci,
        moves_san=EXCLUDED.moves_san,
        final_fen=EXCLUDED.final_fen,
        pgn=EXCLUDED.pgn,
        chat=EXCLUDED.chat,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		snap.RoomID, snap.White, snap.Black, string(snap.Status), snap.Result,
		string(uciRaw), string(sanRaw), snap.Position(), buildPGN(snap), string(chatRaw),
		snap.CreatedAt, ended, duration,
	)
	return err
}

func mapResultToPGN(snap *Snapshot) string {
	switch snap.Status {
	case protocol.StatusStalemate, protocol.StatusDraw:
		return "1/2-1/2"
	case protocol.StatusCheckmate, protocol.StatusResigned, protocol.StatusAbandoned, protocol.StatusTimeout:
		res := strings.ToLower(snap.Result)
		if strings.HasPrefix(res, "white") || strings.Contains(res, "white wins") {
			return "1-0"
		}
		if strings.HasPrefix(res, "black") || strings.Contains(res, "black wins") {
			return "0-1"
		}
	}
	return "*"
}

func buildPGN(snap *Snapshot) string {
	pgnResult := mapResultToPGN(snap)
	date := snap.CreatedAt
	if date.IsZero() {
		date = time.Now()
	}
	var b strings.Builder
	b.WriteString("[Event \"Online\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(snap.White)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(snap.Black)))
	if snap.Status.Terminal() {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(snap.Status))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	sans := make([]string, 0, len(snap.Moves))
	for _, mv := range snap.Moves {
		if mv.SAN == "" {
			sans = append(sans, mv.UCI())
			continue
		}
		sans = append(sans, mv.SAN)
	}
	if text := rules.Movetext(sans); text != "" {
		b.WriteString(text)
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
