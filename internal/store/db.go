// Package store persists the bot's transport bookkeeping in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/justyntemme/diskbot/internal/debug"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const (
	keyUpdateOffset = "update_offset"
	keyOwnerChat    = "owner_chat"
)

type DB struct {
	conn *sql.DB
}

// Open initializes the database connection and schema. Use ":memory:" for
// a throwaway database.
func Open(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases alive and serializes writers
	conn.SetMaxOpenConns(1)

	// WAL mode allows simultaneous readers and writers
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, err
	}
	// Synchronous NORMAL is safe against app crashes, faster than FULL
	if _, err := conn.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		conn.Close()
		return nil, err
	}

	query := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := conn.Exec(query); err != nil {
		conn.Close()
		return nil, err
	}

	debug.Log(debug.STORE, "Open: %s", dbPath)
	return &DB{conn: conn}, nil
}

// Get returns the value stored under key; ok is false when absent.
func (d *DB) Get(key string) (value string, ok bool, err error) {
	err = d.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts key.
func (d *DB) Set(key, value string) error {
	_, err := d.conn.Exec("INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	debug.Log(debug.STORE, "Set: %s=%s", key, value)
	return nil
}

func (d *DB) getInt(key string) (int64, error) {
	v, ok, err := d.Get(key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("store: %s holds %q: %w", key, v, err)
	}
	return n, nil
}

// UpdateOffset is the next Telegram update id to request; 0 when unknown.
func (d *DB) UpdateOffset() (int64, error) {
	return d.getInt(keyUpdateOffset)
}

func (d *DB) SetUpdateOffset(offset int64) error {
	return d.Set(keyUpdateOffset, strconv.FormatInt(offset, 10))
}

// OwnerChat is the chat the owner last used /start in; 0 when unknown.
func (d *DB) OwnerChat() (int64, error) {
	return d.getInt(keyOwnerChat)
}

func (d *DB) SetOwnerChat(chatID int64) error {
	return d.Set(keyOwnerChat, strconv.FormatInt(chatID, 10))
}

func (d *DB) Close() error {
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
