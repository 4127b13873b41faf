package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Activity kinds
const (
	KindJoin   = "join"
	KindLeave  = "leave"
	KindStroke = "stroke"
	KindUndo   = "undo"
	KindRedo   = "redo"
	KindClear  = "clear"
)

type Database struct {
	db *sql.DB
}

// One journal entry. Operations is the history length after the change;
// Members is the head count after a join or leave.
type Activity struct {
	ID         int64     `json:"id"`
	RoomID     string    `json:"room_id"`
	Kind       string    `json:"kind"`
	ConnID     string    `json:"conn_id"`
	StrokeID   string    `json:"stroke_id,omitempty"`
	Members    int       `json:"members"`
	Operations int       `json:"operations"`
	At         time.Time `json:"at"`
}

type Room struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Stats struct {
	Rooms    int `json:"rooms"`
	Activity int `json:"activity"`
	Strokes  int `json:"strokes"`
}

func New(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create database directory")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable WAL")
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create tables")
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS activity (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		conn_id TEXT NOT NULL DEFAULT '',
		stroke_id TEXT NOT NULL DEFAULT '',
		members INTEGER NOT NULL DEFAULT 0,
		operations INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_activity_room_id ON activity(room_id, id DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// InsertActivity writes a batch of entries in one transaction, creating
// rooms as they are first seen
func (d *Database) InsertActivity(ctx context.Context, entries []Activity) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	for _, a := range entries {
		at := a.At.UnixMilli()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rooms (id, created_at, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
		`, a.RoomID, at, at); err != nil {
			return errors.Wrapf(err, "upsert room %s", a.RoomID)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO activity (room_id, kind, conn_id, stroke_id, members, operations, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, a.RoomID, a.Kind, a.ConnID, a.StrokeID, a.Members, a.Operations, at); err != nil {
			return errors.Wrapf(err, "insert %s activity", a.Kind)
		}
	}

	return errors.Wrap(tx.Commit(), "commit")
}

// ListActivity returns a room's most recent entries, newest first
func (d *Database) ListActivity(ctx context.Context, roomID string, limit int) ([]Activity, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, room_id, kind, conn_id, stroke_id, members, operations, created_at
		FROM activity
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query activity")
	}
	defer rows.Close()

	entries := make([]Activity, 0)
	for rows.Next() {
		var a Activity
		var at int64
		if err := rows.Scan(&a.ID, &a.RoomID, &a.Kind, &a.ConnID, &a.StrokeID, &a.Members, &a.Operations, &at); err != nil {
			return nil, errors.Wrap(err, "scan activity")
		}
		a.At = time.UnixMilli(at).UTC()
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

func (d *Database) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT id, created_at, updated_at FROM rooms WHERE id = ?",
		id,
	)

	var room Room
	var created, updated int64
	err := row.Scan(&room.ID, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get room")
	}
	room.CreatedAt = time.UnixMilli(created).UTC()
	room.UpdatedAt = time.UnixMilli(updated).UTC()
	return &room, nil
}

func (d *Database) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&s.Rooms); err != nil {
		return Stats{}, errors.Wrap(err, "count rooms")
	}
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity").Scan(&s.Activity); err != nil {
		return Stats{}, errors.Wrap(err, "count activity")
	}
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity WHERE kind = ?", KindStroke).Scan(&s.Strokes); err != nil {
		return Stats{}, errors.Wrap(err, "count strokes")
	}
	return s, nil
}
