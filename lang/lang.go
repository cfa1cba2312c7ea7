package lang

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Language struct {
	Code string
	Name string
	Flag string
}

var Supported = []Language{
	{"es", "Español", "🇪🇸"},
	{"en", "English", "🇺🇸"},
	{"fr", "Français", "🇫🇷"},
	{"de", "Deutsch", "🇩🇪"},
	{"pt", "Português", "🇧🇷"},
	{"it", "Italiano", "🇮🇹"},
	{"ru", "Русский", "🇷🇺"},
	{"ja", "日本語", "🇯🇵"},
}

func IsSupported(code string) bool {
	for _, l := range Supported {
		if l.Code == code {
			return true
		}
	}
	return false
}

func Flag(code string) string {
	for _, l := range Supported {
		if l.Code == code {
			return l.Flag
		}
	}
	return "🏳️"
}

// Locale identifies whose language preference applies: the user's choice
// wins over the guild's, which wins over the catalog default.
type Locale struct {
	GuildID string
	UserID  string
}

type Settings struct {
	Guilds map[string]string `json:"guilds"`
	Users  map[string]string `json:"users"`
}

// SettingsStore persists language preferences.
type SettingsStore interface {
	GetBlob(ctx context.Context, key string, v any) (bool, error)
	PutBlob(ctx context.Context, key string, v any) error
}

const settingsKey = "languages"

type Catalog struct {
	mu       sync.RWMutex
	def      string
	messages map[string]map[string]string
	settings Settings
	store    SettingsStore
	log      *zap.Logger
}

func New(defaultLang string, log *zap.Logger) *Catalog {
	if defaultLang == "" {
		defaultLang = "es"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{
		def:      defaultLang,
		messages: make(map[string]map[string]string),
		settings: Settings{Guilds: map[string]string{}, Users: map[string]string{}},
		log:      log.Named("lang"),
	}
}

// LoadFile reads a catalog with one top-level block per language code.
// Nested keys are flattened with dots, so
//
//	es:
//	  ticket:
//	    created: "Ticket creado"
//
// is looked up as "ticket.created".
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return c.LoadBytes(data)
}

func (c *Catalog) LoadBytes(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}

	messages := make(map[string]map[string]string)
	def := ""
	for code, block := range raw {
		if code == "default_language" {
			if s, ok := block.(string); ok {
				def = s
			}
			continue
		}
		m, ok := block.(map[string]any)
		if !ok {
			continue
		}
		flat := make(map[string]string)
		flatten("", m, flat)
		messages[code] = flat
	}

	c.mu.Lock()
	c.messages = messages
	if def != "" {
		c.def = def
	}
	c.mu.Unlock()

	for code, m := range messages {
		c.log.Info("language loaded", zap.String("language", code), zap.Int("keys", len(m)))
	}
	return nil
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case string:
			out[key] = val
		case map[string]any:
			flatten(key, val, out)
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// Bind attaches a settings store and loads saved preferences from it.
func (c *Catalog) Bind(ctx context.Context, store SettingsStore) error {
	var s Settings
	found, err := store.GetBlob(ctx, settingsKey, &s)
	if err != nil {
		return fmt.Errorf("load language settings: %w", err)
	}
	if s.Guilds == nil {
		s.Guilds = map[string]string{}
	}
	if s.Users == nil {
		s.Users = map[string]string{}
	}

	c.mu.Lock()
	c.store = store
	if found {
		c.settings = s
	}
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Default() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.def
}

// Resolve returns the language code that applies to loc.
func (c *Catalog) Resolve(loc Locale) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolveLocked(loc)
}

func (c *Catalog) resolveLocked(loc Locale) string {
	if code, ok := c.settings.Users[loc.UserID]; ok && loc.UserID != "" {
		return code
	}
	if code, ok := c.settings.Guilds[loc.GuildID]; ok && loc.GuildID != "" {
		return code
	}
	return c.def
}

// Get translates key for loc, falling back to the default language.
func (c *Catalog) Get(loc Locale, key string, pairs ...string) string {
	c.mu.RLock()
	code := c.resolveLocked(loc)
	c.mu.RUnlock()
	return c.In(code, key, pairs...)
}

// In translates key into a specific language.
func (c *Catalog) In(code, key string, pairs ...string) string {
	c.mu.RLock()
	s, ok := c.messages[code][key]
	if !ok {
		s, ok = c.messages[c.def][key]
	}
	c.mu.RUnlock()

	if !ok {
		return "[MISSING KEY: " + key + "]"
	}
	return replace(s, pairs)
}

func replace(s string, pairs []string) string {
	for j := 0; j+1 < len(pairs); j += 2 {
		s = strings.ReplaceAll(s, "{"+pairs[j]+"}", pairs[j+1])
	}
	return s
}

func (c *Catalog) SetGuild(ctx context.Context, guildID, code string) error {
	return c.set(ctx, func(s *Settings) { s.Guilds[guildID] = code }, code)
}

// SetUser stores a personal language; an empty code clears it.
func (c *Catalog) SetUser(ctx context.Context, userID, code string) error {
	if code == "" {
		return c.set(ctx, func(s *Settings) { delete(s.Users, userID) }, "")
	}
	return c.set(ctx, func(s *Settings) { s.Users[userID] = code }, code)
}

func (c *Catalog) set(ctx context.Context, apply func(*Settings), code string) error {
	if code != "" && !IsSupported(code) {
		return fmt.Errorf("unsupported language %q", code)
	}

	c.mu.Lock()
	apply(&c.settings)
	snapshot := Settings{
		Guilds: make(map[string]string, len(c.settings.Guilds)),
		Users:  make(map[string]string, len(c.settings.Users)),
	}
	for k, v := range c.settings.Guilds {
		snapshot.Guilds[k] = v
	}
	for k, v := range c.settings.Users {
		snapshot.Users[k] = v
	}
	store := c.store
	c.mu.Unlock()

	if store == nil {
		return nil
	}
	if err := store.PutBlob(ctx, settingsKey, snapshot); err != nil {
		c.log.Error("saving language settings failed", zap.Error(err))
	}
	return nil
}

type Coverage struct {
	Language
	Keys    int
	Percent int
}

// Coverage reports how many keys each supported language translates,
// relative to the default language.
func (c *Catalog) Coverage() []Coverage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := len(c.messages[c.def])
	out := make([]Coverage, 0, len(Supported))
	for _, l := range Supported {
		n := len(c.messages[l.Code])
		pct := 0
		if total > 0 {
			pct = n * 100 / total
			if pct > 100 {
				pct = 100
			}
		}
		out = append(out, Coverage{Language: l, Keys: n, Percent: pct})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Keys > out[j].Keys })
	return out
}

// Usage counts guilds and users per configured language.
func (c *Catalog) Usage() (guilds, users map[string]int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	guilds = make(map[string]int)
	users = make(map[string]int)
	for _, code := range c.settings.Guilds {
		guilds[code]++
	}
	for _, code := range c.settings.Users {
		users[code]++
	}
	return guilds, users
}
