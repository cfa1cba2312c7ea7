// Package priority classifies tickets into priority levels and evaluates
// them against per-level SLA and escalation targets. Everything here is a
// pure function over its inputs.
package priority

import (
	"fmt"
	"strings"
	"time"
)

type Level string

const (
	Critical Level = "critical"
	High     Level = "high"
	Medium   Level = "medium"
	Low      Level = "low"
)

// Levels lists every priority from most to least urgent.
var Levels = []Level{Critical, High, Medium, Low}

type Info struct {
	Level      Level
	Ordinal    int
	Name       string
	Emoji      string
	Color      int
	SLA        time.Duration
	Escalation time.Duration
	Keywords   []string
}

var table = map[Level]Info{
	Critical: {
		Level:      Critical,
		Ordinal:    4,
		Name:       "CRÍTICA",
		Emoji:      "🔴",
		Color:      0xFF0000,
		SLA:        time.Hour,
		Escalation: 15 * time.Minute,
		Keywords:   []string{"down", "caído", "no funciona", "critical", "urgent", "emergency", "crash", "broken", "error fatal", "pérdida de datos"},
	},
	High: {
		Level:      High,
		Ordinal:    3,
		Name:       "ALTA",
		Emoji:      "🟠",
		Color:      0xFF8C00,
		SLA:        4 * time.Hour,
		Escalation: 60 * time.Minute,
		Keywords:   []string{"importante", "urgent", "problema grave", "bloqueo", "blocked", "major", "significativo"},
	},
	Medium: {
		Level:      Medium,
		Ordinal:    2,
		Name:       "MEDIA",
		Emoji:      "🟡",
		Color:      0xFFD700,
		SLA:        24 * time.Hour,
		Escalation: 240 * time.Minute,
		Keywords:   []string{"normal", "consulta", "pregunta", "ayuda", "duda", "question", "help", "issue"},
	},
	Low: {
		Level:      Low,
		Ordinal:    1,
		Name:       "BAJA",
		Emoji:      "🟢",
		Color:      0x00FF00,
		SLA:        72 * time.Hour,
		Escalation: 480 * time.Minute,
		Keywords:   []string{"sugerencia", "mejora", "feature", "suggestion", "enhancement", "nice to have"},
	},
}

var categoryBase = map[string]Level{
	"reporte":  High,
	"soporte":  Medium,
	"pregunta": Low,
	"billing":  High,
	"feature":  Low,
}

var impactTerms = []string{"producción", "production", "clients", "clientes afectados"}

// Lookup returns the configuration of l. Unknown levels resolve to Medium.
func Lookup(l Level) Info {
	if info, ok := table[l]; ok {
		return info
	}
	return table[Medium]
}

func (l Level) Valid() bool {
	_, ok := table[l]
	return ok
}

func (l Level) Ordinal() int { return Lookup(l).Ordinal }

func (l Level) String() string { return string(l) }

// Parse accepts a level name in any case.
func Parse(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return l, nil
}

// BaseFor returns the starting priority of a ticket category.
func BaseFor(category string) Level {
	if l, ok := categoryBase[category]; ok {
		return l
	}
	return Medium
}

// Detect derives the priority of a new ticket from its description and
// category. Keyword matches only ever raise the category base, and only into
// the High and Critical bands: a "question" in the question category stays
// Low. Production or customer impact and three or more exclamation marks
// force at least High.
func Detect(text, category string) Level {
	lower := strings.ToLower(text)

	best := BaseFor(category)
	for _, l := range Levels {
		info := table[l]
		if info.Ordinal <= table[Medium].Ordinal || info.Ordinal <= best.Ordinal() {
			continue
		}
		if containsAny(lower, info.Keywords) {
			best = l
		}
	}

	if best.Ordinal() < table[High].Ordinal {
		if containsAny(lower, impactTerms) || strings.Count(text, "!") >= 3 {
			best = High
		}
	}
	return best
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// NextHigher returns the level one step more urgent than l, or false when l
// is already Critical.
func NextHigher(l Level) (Level, bool) {
	want := Lookup(l).Ordinal + 1
	for _, candidate := range Levels {
		if table[candidate].Ordinal == want {
			return candidate, true
		}
	}
	return "", false
}

// NeedsEscalation reports whether an unclaimed ticket has waited longer than
// its level's escalation delay.
func NeedsEscalation(l Level, createdAt time.Time, claimed bool, now time.Time) bool {
	if claimed || createdAt.IsZero() {
		return false
	}
	return now.Sub(createdAt) > Lookup(l).Escalation
}

// EscalationDue is the instant an unclaimed ticket of level l escalates.
func EscalationDue(l Level, start time.Time) time.Time {
	return start.Add(Lookup(l).Escalation)
}

type SLAResult struct {
	Violated   bool          `json:"violated"`
	SLA        time.Duration `json:"sla"`
	Actual     time.Duration `json:"actual"`
	Over       time.Duration `json:"over"`
	Percentage int           `json:"percentage"`
}

// CheckSLA measures a ticket against its SLA. Open tickets (nil closedAt) are
// measured up to now.
func CheckSLA(l Level, createdAt time.Time, closedAt *time.Time, now time.Time) SLAResult {
	sla := Lookup(l).SLA
	end := now
	if closedAt != nil {
		end = *closedAt
	}
	actual := end.Sub(createdAt)

	res := SLAResult{
		Violated:   actual > sla,
		SLA:        sla,
		Actual:     actual,
		Percentage: roundHalfUp(float64(actual) / float64(sla) * 100),
	}
	if res.Violated {
		res.Over = actual - sla
	}
	return res
}

// FormatDuration renders d as "3h 12m" or "45m".
func FormatDuration(d time.Duration) string {
	hours := int64(d / time.Hour)
	minutes := int64((d % time.Hour) / time.Minute)
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func roundHalfUp(f float64) int {
	if f < 0 {
		return -roundHalfUp(-f)
	}
	return int(f + 0.5)
}
