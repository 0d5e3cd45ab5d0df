// Package store persists finished battles using SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arenabot/arenabot/internal/model"
)

// Store manages battle persistence in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS battles (
			id               TEXT PRIMARY KEY,
			channel          TEXT NOT NULL,
			category         TEXT NOT NULL DEFAULT '',
			environment_mode TEXT NOT NULL DEFAULT '',
			environment      TEXT NOT NULL DEFAULT '',
			setting_id       TEXT NOT NULL DEFAULT '',
			participants     TEXT NOT NULL DEFAULT '[]',
			fighters         TEXT NOT NULL DEFAULT '[]',
			narrative        TEXT NOT NULL DEFAULT '',
			created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_battles_channel
			ON battles(channel);

		CREATE TABLE IF NOT EXISTS battle_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session    TEXT NOT NULL,
			channel    TEXT NOT NULL,
			type       TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_battle_events_session
			ON battle_events(session);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBattle inserts a finished battle. Participants and fighters are stored
// as JSON columns; battles are written once and never updated.
func (s *Store) SaveBattle(ctx context.Context, result *model.BattleResult) error {
	participants, err := json.Marshal(result.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}
	fighters, err := json.Marshal(result.Fighters)
	if err != nil {
		return fmt.Errorf("encoding fighters: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO battles (id, channel, category, environment_mode, environment,
		                      setting_id, participants, fighters, narrative, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, string(result.Channel), result.Category,
		string(result.EnvironmentMode), result.Environment, result.SettingID,
		string(participants), string(fighters), result.Narrative, result.CreatedAt,
	)
	return err
}

// GetBattle retrieves a battle by ID.
func (s *Store) GetBattle(ctx context.Context, id string) (*model.BattleResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel, category, environment_mode, environment,
		        setting_id, participants, fighters, narrative, created_at
		 FROM battles WHERE id = ?`, id,
	)
	return scanBattle(row)
}

// ListBattles returns battles ordered by creation time (newest first),
// optionally filtered by channel. limit <= 0 means no limit.
func (s *Store) ListBattles(ctx context.Context, channel model.ChannelID, limit int) ([]*model.BattleResult, error) {
	query := `SELECT id, channel, category, environment_mode, environment,
	                 setting_id, participants, fighters, narrative, created_at
	          FROM battles`
	var args []any
	if channel != "" {
		query += " WHERE channel = ?"
		args = append(args, string(channel))
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var battles []*model.BattleResult
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			return nil, err
		}
		battles = append(battles, b)
	}
	return battles, rows.Err()
}

// BattleEvent is one step in a session's lifecycle, kept for the battle's
// audit trail.
type BattleEvent struct {
	Session   string          `json:"session"`
	Channel   model.ChannelID `json:"channel"`
	Type      string          `json:"type"`
	Data      string          `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// SaveEvent appends one event to a session's trail.
func (s *Store) SaveEvent(ctx context.Context, e BattleEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO battle_events (session, channel, type, data, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Session, string(e.Channel), e.Type, e.Data, e.CreatedAt,
	)
	return err
}

// ListEvents returns a session's events in insertion order.
func (s *Store) ListEvents(ctx context.Context, session string) ([]BattleEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session, channel, type, data, created_at
		 FROM battle_events WHERE session = ? ORDER BY id`, session,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []BattleEvent
	for rows.Next() {
		var e BattleEvent
		var channel string
		if err := rows.Scan(&e.Session, &channel, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Channel = model.ChannelID(channel)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanBattle(row scannable) (*model.BattleResult, error) {
	b := &model.BattleResult{}
	var channel, mode, participants, fighters string
	err := row.Scan(
		&b.ID, &channel, &b.Category, &mode, &b.Environment,
		&b.SettingID, &participants, &fighters, &b.Narrative, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Channel = model.ChannelID(channel)
	b.EnvironmentMode = model.EnvironmentMode(mode)
	if err := json.Unmarshal([]byte(participants), &b.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}
	if err := json.Unmarshal([]byte(fighters), &b.Fighters); err != nil {
		return nil, fmt.Errorf("decoding fighters: %w", err)
	}
	return b, nil
}
