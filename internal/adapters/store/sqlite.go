package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var ErrRoomIDEmpty = errors.New("room id empty")

// SQLite keeps memberships in a SQLite database file.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS memberships (
			room_id   TEXT NOT NULL,
			user_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (room_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS memberships_user ON memberships(user_id);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create membership tables: %w", err)
	}

	log.Info().Str("module", "adapters.store").Str("path", path).Msg("membership database ready")
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) AddMembership(ctx context.Context, ms domain.Membership) error {
	if ms.Room == "" {
		return ErrRoomIDEmpty
	}
	if err := ms.User.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		string(ms.User.ID), ms.User.Name); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO memberships (room_id, user_id) VALUES (?, ?)`,
		string(ms.Room), string(ms.User.ID)); err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) RemoveMembership(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM memberships WHERE room_id = ? AND user_id = ?`,
		string(room), string(user)); err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	return nil
}

func (s *SQLite) ListRoomsForUser(ctx context.Context, user domain.UserID) ([]domain.RoomID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id FROM memberships WHERE user_id = ? ORDER BY room_id`, string(user))
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var out []domain.RoomID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		out = append(out, domain.RoomID(id))
	}
	return out, rows.Err()
}

func (s *SQLite) ListMembers(ctx context.Context, room domain.RoomID) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY u.id`, string(room))
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, domain.User{ID: domain.UserID(id), Name: name})
	}
	return out, rows.Err()
}
