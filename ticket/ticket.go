// Package ticket owns the support ticket lifecycle: who may open a ticket,
// the open/claimed/closed/reopened state machine, and coordination of
// statistics, notifications, transcripts and escalation on every transition.
package ticket

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"support-bot/priority"
)

type PriorityChange struct {
	From   priority.Level `json:"from"`
	To     priority.Level `json:"to"`
	By     string         `json:"by"`
	At     time.Time      `json:"at"`
	Reason string         `json:"reason,omitempty"`
}

// Ticket is one logical support request. Reopening keeps the record and its
// ID but moves it to a new channel and bumps Incarnation.
type Ticket struct {
	ID          string `json:"id"`
	ChannelID   string `json:"channel_id"`
	GuildID     string `json:"guild_id"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Category    string `json:"category"`
	Description string `json:"description"`

	Priority        priority.Level   `json:"priority"`
	PriorityHistory []PriorityChange `json:"priority_history,omitempty"`

	IsOpen    bool      `json:"is_open"`
	CreatedAt time.Time `json:"created_at"`

	ClaimedBy string     `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	ClosedBy    string     `json:"closed_by,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`

	Escalated       bool       `json:"escalated"`
	EscalatedAt     *time.Time `json:"escalated_at,omitempty"`
	EscalationDueAt *time.Time `json:"escalation_due_at,omitempty"`

	ReopenedBy       string     `json:"reopened_by,omitempty"`
	ReopenedAt       *time.Time `json:"reopened_at,omitempty"`
	Incarnation      int        `json:"incarnation"`
	PreviousChannels []string   `json:"previous_channels,omitempty"`

	Members []string `json:"members,omitempty"`
	Rating  int      `json:"rating,omitempty"`
}

func (t Ticket) Clone() Ticket {
	c := t
	c.PriorityHistory = slices.Clone(t.PriorityHistory)
	c.PreviousChannels = slices.Clone(t.PreviousChannels)
	c.Members = slices.Clone(t.Members)
	c.ClaimedAt = cloneTime(t.ClaimedAt)
	c.ClosedAt = cloneTime(t.ClosedAt)
	c.EscalatedAt = cloneTime(t.EscalatedAt)
	c.EscalationDueAt = cloneTime(t.EscalationDueAt)
	c.ReopenedAt = cloneTime(t.ReopenedAt)
	return c
}

func (t Ticket) Claimed() bool { return t.ClaimedBy != "" }

// IncarnationStart is when the current incarnation opened. Escalation and
// reminder delays count from here.
func (t Ticket) IncarnationStart() time.Time {
	if t.ReopenedAt != nil {
		return *t.ReopenedAt
	}
	return t.CreatedAt
}

// Sample projects the record onto what priority metrics need.
func (t Ticket) Sample() priority.Sample {
	return priority.Sample{
		Priority:  t.Priority,
		CreatedAt: t.CreatedAt,
		ClosedAt:  cloneTime(t.ClosedAt),
		Escalated: t.Escalated,
	}
}

// HasMember reports whether userID may see the ticket channel as a
// participant (the owner or an added member).
func (t Ticket) HasMember(userID string) bool {
	return t.UserID == userID || slices.Contains(t.Members, userID)
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func timePtr(t time.Time) *time.Time { return &t }

// Quota tracks how many tickets a user opened on a given calendar day.
type Quota struct {
	LastCreated string `json:"last_created"`
	Count       int    `json:"count"`
}

// State holds everything besides ticket records that the lifecycle guards
// consult.
type State struct {
	Blacklist         map[string]bool  `json:"blacklist"`
	Quotas            map[string]Quota `json:"quotas"`
	LastID            int64            `json:"last_id"`
	Maintenance       bool             `json:"maintenance"`
	MaintenanceReason string           `json:"maintenance_reason,omitempty"`
	MaintenanceSince  *time.Time       `json:"maintenance_since,omitempty"`
}

func NewState() State {
	return State{
		Blacklist: make(map[string]bool),
		Quotas:    make(map[string]Quota),
	}
}

func (s State) Clone() State {
	c := s
	c.Blacklist = make(map[string]bool, len(s.Blacklist))
	for k, v := range s.Blacklist {
		c.Blacklist[k] = v
	}
	c.Quotas = make(map[string]Quota, len(s.Quotas))
	for k, v := range s.Quotas {
		c.Quotas[k] = v
	}
	c.MaintenanceSince = cloneTime(s.MaintenanceSince)
	return c
}

func (s *State) normalize() {
	if s.Blacklist == nil {
		s.Blacklist = make(map[string]bool)
	}
	if s.Quotas == nil {
		s.Quotas = make(map[string]Quota)
	}
}

// Actor is whoever triggers a transition. Staff and Admin are resolved by
// the caller from platform roles.
type Actor struct {
	ID    string
	Name  string
	Staff bool
	Admin bool
}

var channelNameStrip = regexp.MustCompile(`[^a-z0-9-]+`)

// ChannelName builds the ticket channel name from a username, e.g.
// "ticket-john-doe".
func ChannelName(username, fallback string) string {
	name := strings.ToLower(strings.TrimSpace(username))
	name = strings.ReplaceAll(name, " ", "-")
	name = channelNameStrip.ReplaceAllString(name, "")
	name = strings.Trim(name, "-")
	if len(name) > 20 {
		name = strings.TrimRight(name[:20], "-")
	}
	if name == "" {
		name = fallback
	}
	return "ticket-" + name
}

var snowflake = regexp.MustCompile(`^[0-9]{15,21}$`)

// ValidUserID reports whether id looks like a platform user id.
func ValidUserID(id string) bool { return snowflake.MatchString(id) }
