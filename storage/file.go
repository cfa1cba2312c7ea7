package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"support-bot/ticket"

	"github.com/natefinch/atomic"
)

// FileStore keeps the whole database in a single JSON file that is
// rewritten atomically on every change. Meant for small servers and tests.
type FileStore struct {
	path string

	mu   sync.Mutex
	data Dump
}

func OpenFile(path string) (*FileStore, error) {
	f := &FileStore{path: path}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f.data.State = ticket.NewState()
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(raw, &f.data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	f.data.normalize()
	return f, nil
}

func (f *FileStore) Close() error                 { return nil }
func (f *FileStore) Ping(ctx context.Context) error { return nil }

// flush must be called with mu held.
func (f *FileStore) flush() error {
	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(f.path, bytes.NewReader(raw))
}

// apply mutates data with mu held and rolls back if the write fails, so
// memory never holds what the file does not.
func (f *FileStore) apply(fn func()) error {
	prev := cloneDump(f.data)
	fn()
	f.data.normalize()
	if err := f.flush(); err != nil {
		f.data = prev
		return err
	}
	return nil
}

func (f *FileStore) index(id string) int {
	for i, t := range f.data.Tickets {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (f *FileStore) put(t ticket.Ticket) {
	if i := f.index(t.ID); i >= 0 {
		f.data.Tickets[i] = t.Clone()
		return
	}
	f.data.Tickets = append(f.data.Tickets, t.Clone())
}

func (f *FileStore) Upsert(_ context.Context, t ticket.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apply(func() { f.put(t) })
}

func (f *FileStore) Commit(_ context.Context, c ticket.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.apply(func() {
		for _, t := range c.Tickets {
			f.put(t)
		}
		for _, id := range c.Deleted {
			if i := f.index(id); i >= 0 {
				f.data.Tickets = append(f.data.Tickets[:i], f.data.Tickets[i+1:]...)
			}
		}
		if c.State != nil {
			f.data.State = c.State.Clone()
		}
	})
}

func (f *FileStore) Get(_ context.Context, id string) (ticket.Ticket, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := f.index(id); i >= 0 {
		return f.data.Tickets[i].Clone(), true, nil
	}
	return ticket.Ticket{}, false, nil
}

func (f *FileStore) List(_ context.Context) ([]ticket.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneDump(f.data).Tickets, nil
}

func (f *FileStore) Load(_ context.Context) ([]ticket.Ticket, ticket.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := cloneDump(f.data)
	return d.Tickets, d.State, nil
}

func (f *FileStore) GetBlob(_ context.Context, key string, v any) (bool, error) {
	f.mu.Lock()
	raw, ok := f.data.Blobs[key]
	f.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, decodeBlob(raw, v)
}

func (f *FileStore) PutBlob(_ context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apply(func() { f.data.Blobs[key] = raw })
}

func (f *FileStore) Dump(_ context.Context) (Dump, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneDump(f.data), nil
}

func (f *FileStore) Replace(_ context.Context, d Dump) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apply(func() { f.data = cloneDump(d) })
}

func cloneDump(d Dump) Dump {
	c := Dump{State: d.State.Clone(), Blobs: make(map[string]json.RawMessage, len(d.Blobs))}
	c.Tickets = make([]ticket.Ticket, len(d.Tickets))
	for i, t := range d.Tickets {
		c.Tickets[i] = t.Clone()
	}
	for k, v := range d.Blobs {
		c.Blobs[k] = bytes.Clone(v)
	}
	return c
}
