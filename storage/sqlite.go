package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"support-bot/ticket"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps every ticket as a JSON document next to a few indexed
// columns, plus a key/value table for state and blobs.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tickets (
	id          TEXT PRIMARY KEY,
	channel_id  TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	is_open     INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(user_id, is_open);
CREATE INDEX IF NOT EXISTS idx_tickets_channel ON tickets(channel_id);

CREATE TABLE IF NOT EXISTS kv (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
`

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// One writer keeps Commit transactions from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertTicket(ctx context.Context, db execer, t ticket.Ticket) error {
	data, err := encodeTicket(t)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO tickets (id, channel_id, user_id, is_open, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			channel_id = excluded.channel_id,
			user_id    = excluded.user_id,
			is_open    = excluded.is_open,
			data       = excluded.data`,
		t.ID, t.ChannelID, t.UserID, t.IsOpen, t.CreatedAt.UTC().Format(time.RFC3339Nano), string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert ticket %s: %w", t.ID, err)
	}
	return nil
}

func putKV(ctx context.Context, db execer, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, t ticket.Ticket) error {
	return upsertTicket(ctx, s.db, t)
}

func (s *SQLiteStore) Commit(ctx context.Context, c ticket.Change) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range c.Tickets {
		if err := upsertTicket(ctx, tx, t); err != nil {
			return err
		}
	}
	for _, id := range c.Deleted {
		if _, err := tx.ExecContext(ctx, "DELETE FROM tickets WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete ticket %s: %w", id, err)
		}
	}
	if c.State != nil {
		if err := putKV(ctx, tx, stateKey, c.State); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (ticket.Ticket, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM tickets WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ticket.Ticket{}, false, nil
	}
	if err != nil {
		return ticket.Ticket{}, false, err
	}
	t, err := decodeTicket([]byte(data))
	return t, err == nil, err
}

func (s *SQLiteStore) List(ctx context.Context) ([]ticket.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM tickets ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ticket.Ticket
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		t, err := decodeTicket([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Load(ctx context.Context) ([]ticket.Ticket, ticket.State, error) {
	tickets, err := s.List(ctx)
	if err != nil {
		return nil, ticket.State{}, err
	}
	state := ticket.NewState()
	if _, err := s.GetBlob(ctx, stateKey, &state); err != nil {
		return nil, ticket.State{}, err
	}
	return tickets, state, nil
}

func (s *SQLiteStore) GetBlob(ctx context.Context, key string, v any) (bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, decodeBlob([]byte(data), v)
}

func (s *SQLiteStore) PutBlob(ctx context.Context, key string, v any) error {
	return putKV(ctx, s.db, key, v)
}

func (s *SQLiteStore) Dump(ctx context.Context) (Dump, error) {
	var d Dump
	tickets, state, err := s.Load(ctx)
	if err != nil {
		return d, err
	}
	d.Tickets, d.State = tickets, state
	d.Blobs = make(map[string]json.RawMessage)

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM kv WHERE key <> ?", stateKey)
	if err != nil {
		return d, err
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return d, err
		}
		d.Blobs[key] = json.RawMessage(value)
	}
	d.normalize()
	return d, rows.Err()
}

func (s *SQLiteStore) Replace(ctx context.Context, d Dump) error {
	d.normalize()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tickets"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM kv"); err != nil {
		return err
	}
	for _, t := range d.Tickets {
		if err := upsertTicket(ctx, tx, t); err != nil {
			return err
		}
	}
	if err := putKV(ctx, tx, stateKey, d.State); err != nil {
		return err
	}
	for key, raw := range d.Blobs {
		if err := putKV(ctx, tx, key, raw); err != nil {
			return err
		}
	}
	return tx.Commit()
}
