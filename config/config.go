package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Database  DatabaseConfig  `json:"database"`
	Tickets   TicketsConfig   `json:"tickets"`
	Language  LanguageConfig  `json:"language"`
	Data      DataConfig      `json:"data"`
	Logging   LoggingConfig   `json:"logging"`
	Redis     RedisConfig     `json:"redis"`
	Broker    BrokerConfig    `json:"broker"`
	Dashboard DashboardConfig `json:"dashboard"`
}

type DiscordConfig struct {
	Token   string `json:"token"`
	GuildID string `json:"guild_id"`
}

type DatabaseConfig struct {
	Driver  string        `json:"driver"`
	SQLite  SQLiteConfig  `json:"sqlite"`
	MongoDB MongoDBConfig `json:"mongodb"`
	JSON    JSONConfig    `json:"json"`
}

type SQLiteConfig struct {
	Path string `json:"path"`
}

type MongoDBConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

type JSONConfig struct {
	Path string `json:"path"`
}

type TicketsConfig struct {
	// DiscordCategory is the fallback parent channel category.
	DiscordCategory  string           `json:"discord_category"`
	PanelChannel     string           `json:"panel_channel"`
	LogsChannel      string           `json:"logs_channel"`
	StaffRoles       []string         `json:"staff_roles"`
	ManagerRoles     []string         `json:"manager_roles"`
	AdminRoles       []string         `json:"admin_roles"`
	MaxTicketsPerDay int              `json:"max_tickets_per_day"`
	CloseDelay       Duration         `json:"close_delay"`
	SurveyDelay      Duration         `json:"survey_delay"`
	ReminderAfter    Duration         `json:"reminder_after"`
	Timezone         string           `json:"timezone"`
	Categories       []TicketCategory `json:"categories"`
}

type TicketCategory struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Emoji       string `json:"emoji"`
	Description string `json:"description"`
	Details     string `json:"details,omitempty"`
	// ParentID overrides DiscordCategory for this category's channels.
	ParentID string `json:"parent_id,omitempty"`
}

type LanguageConfig struct {
	File    string `json:"file"`
	Default string `json:"default"`
}

type DataConfig struct {
	Dir string `json:"dir"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type RedisConfig struct {
	Enabled  bool     `json:"enabled"`
	Addr     string   `json:"addr"`
	Password string   `json:"password"`
	DB       int      `json:"db"`
	LockTTL  Duration `json:"lock_ttl"`
}

type BrokerConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Queue   string `json:"queue"`
}

type DashboardConfig struct {
	Enabled   bool     `json:"enabled"`
	Addr      string   `json:"addr"`
	PublicURL string   `json:"public_url"`
	Secret    string   `json:"secret"`
	TokenTTL  Duration `json:"token_ttl"`
}

// Duration reads either a Go duration string ("5s", "24h") or a number of
// milliseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val) * time.Millisecond
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		d.Duration = parsed
	case nil:
		d.Duration = 0
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// DefaultCategories mirrors the panel the bot ships with.
func DefaultCategories() []TicketCategory {
	return []TicketCategory{
		{ID: "soporte", Name: "Soporte Técnico", Emoji: "🛠️",
			Description: "Problemas técnicos o ayuda con servicios",
			Details:     "¿Tienes problemas con algún servicio, bot o sistema? Estamos aquí para ayudarte."},
		{ID: "reporte", Name: "Reportar Usuario", Emoji: "🚫",
			Description: "Reporta comportamientos indebidos",
			Details:     "¿Has tenido un problema con otro usuario? Inicia un ticket y el staff lo revisará."},
		{ID: "pregunta", Name: "Preguntas Generales", Emoji: "❓",
			Description: "Haz cualquier consulta general sobre el servidor",
			Details:     "¿Tienes dudas sobre el servidor o cómo funciona algo? Pregúntanos aquí."},
	}
}

// LoadConfig reads a JSON config that may contain comments and trailing
// commas, applies defaults and lets the environment override secrets.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnv reads a .env file into the process environment. A missing file
// is not an error; variables already set are kept.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString(&c.Discord.Token, "DISCORD_TOKEN")
	setString(&c.Discord.GuildID, "DISCORD_GUILD_ID")
	setString(&c.Database.MongoDB.URI, "MONGODB_URI")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Broker.URL, "AMQP_URL")
	setString(&c.Dashboard.Secret, "DASHBOARD_SECRET")
	if v, ok := os.LookupEnv("REDIS_DB"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Data.Dir == "" {
		c.Data.Dir = "data"
	}
	if c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = c.Data.Dir + "/bot.db"
	}
	if c.Database.JSON.Path == "" {
		c.Database.JSON.Path = c.Data.Dir + "/tickets.json"
	}
	if c.Database.MongoDB.Database == "" {
		c.Database.MongoDB.Database = "support_bot"
	}

	t := &c.Tickets
	if t.MaxTicketsPerDay <= 0 {
		t.MaxTicketsPerDay = 1
	}
	if t.CloseDelay.Duration <= 0 {
		t.CloseDelay.Duration = 5 * time.Second
	}
	if t.SurveyDelay.Duration <= 0 {
		t.SurveyDelay.Duration = 5 * time.Minute
	}
	if t.ReminderAfter.Duration <= 0 {
		t.ReminderAfter.Duration = 24 * time.Hour
	}
	if t.Timezone == "" {
		t.Timezone = "UTC"
	}
	if len(t.Categories) == 0 {
		t.Categories = DefaultCategories()
	}

	if c.Language.File == "" {
		c.Language.File = "lang.yaml"
	}
	if c.Language.Default == "" {
		c.Language.Default = "es"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.LockTTL.Duration <= 0 {
		c.Redis.LockTTL.Duration = 30 * time.Second
	}
	if c.Broker.Queue == "" {
		c.Broker.Queue = "ticket_events"
	}
	if c.Dashboard.Addr == "" {
		c.Dashboard.Addr = ":3000"
	}
	if c.Dashboard.TokenTTL.Duration <= 0 {
		c.Dashboard.TokenTTL.Duration = 24 * time.Hour
	}
}

// Validate rejects configurations the bot cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "mongodb", "json":
	default:
		return fmt.Errorf("unsupported database driver: %s (use \"sqlite\", \"mongodb\" or \"json\")", c.Database.Driver)
	}
	if c.Database.Driver == "mongodb" && c.Database.MongoDB.URI == "" {
		return fmt.Errorf("database.mongodb.uri must be set to use driver=mongodb")
	}
	if _, err := time.LoadLocation(c.Tickets.Timezone); err != nil {
		return fmt.Errorf("tickets.timezone: %w", err)
	}
	seen := map[string]bool{}
	for _, cat := range c.Tickets.Categories {
		id := strings.TrimSpace(cat.ID)
		if id == "" {
			return fmt.Errorf("tickets.categories: category without id")
		}
		if seen[id] {
			return fmt.Errorf("tickets.categories: duplicate id %q", id)
		}
		seen[id] = true
	}
	if c.Dashboard.Enabled && c.Dashboard.Secret == "" {
		return fmt.Errorf("dashboard.secret (or DASHBOARD_SECRET) is required when the dashboard is enabled")
	}
	return nil
}

// Location returns the configured ticket timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Tickets.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) CategoryIDs() []string {
	ids := make([]string, len(c.Tickets.Categories))
	for i, cat := range c.Tickets.Categories {
		ids[i] = cat.ID
	}
	return ids
}

func (c *Config) Category(id string) (TicketCategory, bool) {
	for _, cat := range c.Tickets.Categories {
		if cat.ID == id {
			return cat, true
		}
	}
	return TicketCategory{}, false
}

// Redacted returns a copy with secrets masked, safe to show in chat.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Discord.Token = mask(c.Discord.Token)
	c.Database.MongoDB.URI = mask(c.Database.MongoDB.URI)
	c.Redis.Password = mask(c.Redis.Password)
	c.Broker.URL = mask(c.Broker.URL)
	c.Dashboard.Secret = mask(c.Dashboard.Secret)
	return c
}

func SaveConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// Update applies fn to the config file as written, without environment
// overrides or defaults, and saves it back. Secrets that only live in the
// environment are never written to disk.
func Update(path string, fn func(*Config)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	var onDisk Config
	if err := json.Unmarshal(standardized, &onDisk); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	fn(&onDisk)
	return SaveConfig(&onDisk, path)
}
