// Package backup writes compressed, checksummed snapshots of the store and
// restores them.
package backup

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"support-bot/clock"
	"support-bot/storage"

	"github.com/klauspost/compress/zstd"
	"github.com/natefinch/atomic"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

const (
	formatVersion = 1
	prefix        = "backup-"
	suffix        = ".json.zst"
	stampLayout   = "20060102-150405"
)

var (
	ErrChecksum = errors.New("backup: checksum mismatch")
	ErrName     = errors.New("backup: invalid backup name")
)

// Source is the part of storage.Store a backup reads and writes.
type Source interface {
	Dump(ctx context.Context) (storage.Dump, error)
	Replace(ctx context.Context, d storage.Dump) error
}

type envelope struct {
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	Checksum  string          `json:"checksum"`
	Data      json.RawMessage `json:"data"`
}

type Info struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Tickets   int       `json:"tickets"`
}

type Manager struct {
	dir   string
	src   Source
	clock clock.Clock
	log   *zap.Logger
}

func New(dir string, src Source, clk clock.Clock, log *zap.Logger) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{dir: dir, src: src, clock: clk, log: log.Named("backup")}
}

func checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Create dumps the store into a new backup file and returns its name.
func (m *Manager) Create(ctx context.Context) (Info, error) {
	return m.create(ctx, "")
}

func (m *Manager) create(ctx context.Context, tag string) (Info, error) {
	dump, err := m.src.Dump(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("dump store: %w", err)
	}
	data, err := json.Marshal(dump)
	if err != nil {
		return Info{}, err
	}
	now := m.clock.Now().UTC()
	env, err := json.Marshal(envelope{
		Version:   formatVersion,
		CreatedAt: now,
		Checksum:  checksum(data),
		Data:      data,
	})
	if err != nil {
		return Info{}, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return Info{}, err
	}
	compressed := enc.EncodeAll(env, nil)
	enc.Close()

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return Info{}, err
	}
	name := prefix + now.Format(stampLayout)
	if tag != "" {
		name += "-" + tag
	}
	name += suffix
	if err := atomic.WriteFile(filepath.Join(m.dir, name), bytes.NewReader(compressed)); err != nil {
		return Info{}, err
	}

	info := Info{Name: name, Size: int64(len(compressed)), CreatedAt: now, Tickets: len(dump.Tickets)}
	m.log.Info("backup created", zap.String("name", name), zap.Int64("bytes", info.Size), zap.Int("tickets", info.Tickets))
	return info, nil
}

// List returns the backups in the directory, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
		if len(stamp) > len(stampLayout) {
			stamp = stamp[:len(stampLayout)]
		}
		created, err := time.Parse(stampLayout, stamp)
		if err != nil {
			created = fi.ModTime().UTC()
		}
		out = append(out, Info{Name: name, Size: fi.Size(), CreatedAt: created})
	}
	slices.SortFunc(out, func(a, b Info) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Name, a.Name)
	})
	return out, nil
}

// Read decodes and verifies a backup without touching the store.
func (m *Manager) Read(name string) (storage.Dump, error) {
	var d storage.Dump
	if name == "" || filepath.Base(name) != name || !strings.HasSuffix(name, suffix) {
		return d, ErrName
	}
	raw, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return d, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return d, err
	}
	defer dec.Close()
	plain, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return d, fmt.Errorf("zstd decompress: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return d, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version != formatVersion {
		return d, fmt.Errorf("backup: unsupported version %d", env.Version)
	}
	if checksum(env.Data) != env.Checksum {
		return d, ErrChecksum
	}
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return d, fmt.Errorf("decode dump: %w", err)
	}
	return d, nil
}

// Restore verifies the named backup, saves the current contents as a
// "pre-restore" backup and then replaces the store. The caller reloads
// whatever caches the store.
func (m *Manager) Restore(ctx context.Context, name string) (Info, error) {
	d, err := m.Read(name)
	if err != nil {
		return Info{}, err
	}
	safety, err := m.create(ctx, "pre-restore")
	if err != nil {
		return Info{}, fmt.Errorf("safety backup: %w", err)
	}
	if err := m.src.Replace(ctx, d); err != nil {
		return safety, fmt.Errorf("replace store: %w", err)
	}
	m.log.Info("backup restored", zap.String("name", name), zap.String("safety", safety.Name), zap.Int("tickets", len(d.Tickets)))
	return safety, nil
}
