package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"support-bot/clock"
	"support-bot/ticket"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

// StaffChecker reports whether a guild member counts as staff.
type StaffChecker func(ctx context.Context, guildID, userID string) bool

type Config struct {
	// Dir holds the transcripts/ and summaries/ directories.
	Dir      string
	Location *time.Location
}

// Record is what the summaries directory keeps for one channel.
type Record struct {
	Metadata    Metadata  `json:"metadata"`
	Summary     Summary   `json:"summary"`
	GeneratedAt time.Time `json:"generated_at"`
}

type archive struct {
	Metadata Metadata  `json:"metadata"`
	Messages []Message `json:"messages"`
}

type Manager struct {
	cfg     Config
	history History
	isStaff StaffChecker
	clock   clock.Clock
	log     *zap.Logger
}

var _ ticket.Transcriber = (*Manager)(nil)

func NewManager(cfg Config, h History, isStaff StaffChecker, c clock.Clock, log *zap.Logger) *Manager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if c == nil {
		c = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{cfg: cfg, history: h, isStaff: isStaff, clock: c, log: log.Named("transcript")}
}

func (m *Manager) transcriptsDir() string { return filepath.Join(m.cfg.Dir, "transcripts") }
func (m *Manager) summariesDir() string   { return filepath.Join(m.cfg.Dir, "summaries") }

// Generate archives the ticket's current channel.
func (m *Manager) Generate(ctx context.Context, t ticket.Ticket) error {
	_, err := m.Build(ctx, t)
	return err
}

// Build fetches the channel history, writes the text, JSON and summary
// files and returns the summary record.
func (m *Manager) Build(ctx context.Context, t ticket.Ticket) (Record, error) {
	if m.history == nil {
		return Record{}, errors.New("transcript: no history source")
	}
	msgs, err := FetchAll(ctx, m.history, t.ChannelID)
	if err != nil {
		return Record{}, fmt.Errorf("fetch messages for %s: %w", t.ChannelID, err)
	}

	now := m.clock.Now()
	staff := func(userID string) bool {
		return m.isStaff != nil && m.isStaff(ctx, t.GuildID, userID)
	}
	md := BuildMetadata(t, msgs, staff, now)
	rec := Record{Metadata: md, Summary: Summarize(msgs, md), GeneratedAt: now}

	if err := os.MkdirAll(m.transcriptsDir(), 0o755); err != nil {
		return rec, err
	}
	if err := os.MkdirAll(m.summariesDir(), 0o755); err != nil {
		return rec, err
	}

	base := filepath.Join(m.transcriptsDir(), t.ChannelID)
	text := TextTranscript(md, msgs, m.cfg.Location, now)
	if err := atomic.WriteFile(base+".txt", strings.NewReader(text)); err != nil {
		return rec, fmt.Errorf("write text transcript: %w", err)
	}
	if err := writeJSON(base+".json", archive{Metadata: md, Messages: msgs}); err != nil {
		return rec, fmt.Errorf("write json transcript: %w", err)
	}
	if err := writeJSON(filepath.Join(m.summariesDir(), t.ChannelID+".json"), rec); err != nil {
		return rec, fmt.Errorf("write summary: %w", err)
	}

	m.log.Info("transcript saved",
		zap.String("ticket_id", t.ID),
		zap.String("channel_id", t.ChannelID),
		zap.Int("messages", len(msgs)),
		zap.String("issue_type", rec.Summary.IssueType),
	)
	return rec, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// Load reads the summary record saved for a channel.
func (m *Manager) Load(channelID string) (Record, error) {
	data, err := os.ReadFile(filepath.Join(m.summariesDir(), channelID+".json"))
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode summary %s: %w", channelID, err)
	}
	return rec, nil
}

// Text returns the plain-text transcript saved for a channel.
func (m *Manager) Text(channelID string) (string, error) {
	data, err := os.ReadFile(filepath.Join(m.transcriptsDir(), channelID+".txt"))
	return string(data), err
}

// Cleanup removes transcript and summary files last written before the
// cutoff and returns how many files were removed.
func (m *Manager) Cleanup(before time.Time) (int, error) {
	removed := 0
	for _, dir := range []string{m.transcriptsDir(), m.summariesDir()} {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return removed, err
			}
			if !info.ModTime().Before(before) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if removed > 0 {
		m.log.Info("old transcripts removed", zap.Int("files", removed))
	}
	return removed, nil
}
