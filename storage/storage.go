// Package storage persists ticket records, guard state and the small JSON
// documents (language settings, statistics) other managers keep.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"support-bot/config"
	"support-bot/ticket"

	"go.uber.org/zap"
)

const stateKey = "ticket_state"

var ErrClosed = errors.New("storage: closed")

// Store is what the bot needs from a backend. Every driver implements it.
type Store interface {
	ticket.Repository

	GetBlob(ctx context.Context, key string, v any) (bool, error)
	PutBlob(ctx context.Context, key string, v any) error

	// Dump and Replace move the whole content at once for backups.
	Dump(ctx context.Context) (Dump, error)
	Replace(ctx context.Context, d Dump) error

	Ping(ctx context.Context) error
	Close() error
}

// Dump is a full, driver independent copy of a store.
type Dump struct {
	Tickets []ticket.Ticket            `json:"tickets"`
	State   ticket.State               `json:"state"`
	Blobs   map[string]json.RawMessage `json:"blobs"`
}

func (d *Dump) normalize() {
	if d.Blobs == nil {
		d.Blobs = make(map[string]json.RawMessage)
	}
	if d.State.Blacklist == nil {
		d.State.Blacklist = make(map[string]bool)
	}
	if d.State.Quotas == nil {
		d.State.Quotas = make(map[string]ticket.Quota)
	}
	slices.SortFunc(d.Tickets, func(a, b ticket.Ticket) int { return strings.Compare(a.ID, b.ID) })
}

// Open picks the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.Driver {
	case "sqlite":
		s, err := OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		log.Info("sqlite store ready", zap.String("path", cfg.SQLite.Path))
		return s, nil

	case "mongodb":
		s, err := OpenMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database)
		if err != nil {
			return nil, err
		}
		log.Info("mongodb store ready", zap.String("database", cfg.MongoDB.Database))
		return s, nil

	case "json":
		s, err := OpenFile(cfg.JSON.Path)
		if err != nil {
			return nil, err
		}
		log.Info("json file store ready", zap.String("path", cfg.JSON.Path))
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %s (use \"sqlite\", \"mongodb\" or \"json\")", cfg.Driver)
	}
}

func decodeBlob(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode blob: %w", err)
	}
	return nil
}

func encodeTicket(t ticket.Ticket) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode ticket %s: %w", t.ID, err)
	}
	return data, nil
}

func decodeTicket(raw []byte) (ticket.Ticket, error) {
	var t ticket.Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("decode ticket: %w", err)
	}
	return t, nil
}
