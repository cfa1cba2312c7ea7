package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"support-bot/lang"
	"support-bot/priority"
	"support-bot/ticket"

	"go.uber.org/zap"
)

type Field struct {
	Name   string
	Value  string
	Inline bool
}

type Button struct {
	ID    string
	Label string
}

// Message is a platform-neutral notification; the messenger decides how to
// render it.
type Message struct {
	Title    string
	Body     string
	Color    int
	Mentions []string
	Fields   []Field
	Buttons  []Button
}

type Messenger interface {
	SendChannel(ctx context.Context, channelID string, m Message) error
	SendDirect(ctx context.Context, userID string, m Message) error
	// MembersWithRoles lists the users of a guild holding any of roleIDs.
	MembersWithRoles(ctx context.Context, guildID string, roleIDs []string) ([]string, error)
}

type Config struct {
	ManagerRoles []string
	LogChannel   string
}

// Notifier turns lifecycle transitions into messages. Every delivery is
// best effort: failures are logged and never retried.
type Notifier struct {
	msg  Messenger
	text *lang.Catalog
	cfg  Config
	log  *zap.Logger
}

func New(m Messenger, text *lang.Catalog, cfg Config, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{msg: m, text: text, cfg: cfg, log: log.Named("notify")}
}

const (
	colorInfo    = 0x5865F2
	colorSuccess = 0x57F287
	colorWarning = 0xFEE75C
)

func (n *Notifier) owner(t ticket.Ticket) lang.Locale {
	return lang.Locale{GuildID: t.GuildID, UserID: t.UserID}
}

func (n *Notifier) ticketFields(loc lang.Locale, t ticket.Ticket) []Field {
	info := priority.Lookup(t.Priority)
	return []Field{
		{Name: n.text.Get(loc, "notify.field.priority"), Value: info.Emoji + " " + string(t.Priority), Inline: true},
		{Name: n.text.Get(loc, "notify.field.category"), Value: t.Category, Inline: true},
		{Name: n.text.Get(loc, "notify.field.created"), Value: fmt.Sprintf("<t:%d:R>", t.CreatedAt.Unix()), Inline: true},
	}
}

func (n *Notifier) dm(ctx context.Context, userID string, m Message, what string) {
	if err := n.msg.SendDirect(ctx, userID, m); err != nil {
		n.log.Debug("direct message failed", zap.String("kind", what), zap.String("user_id", userID), zap.Error(err))
	}
}

func (n *Notifier) TicketClaimed(ctx context.Context, t ticket.Ticket) {
	loc := n.owner(t)
	n.dm(ctx, t.UserID, Message{
		Title:  n.text.Get(loc, "notify.claimed.title"),
		Body:   n.text.Get(loc, "notify.claimed.body", "id", t.ID, "staff", "<@"+t.ClaimedBy+">"),
		Color:  colorSuccess,
		Fields: n.ticketFields(loc, t),
	}, "claimed")
}

func (n *Notifier) TicketClosed(ctx context.Context, t ticket.Ticket) {
	loc := n.owner(t)
	n.dm(ctx, t.UserID, Message{
		Title: n.text.Get(loc, "notify.closed.title"),
		Body:  n.text.Get(loc, "notify.closed.body", "id", t.ID, "staff", "<@"+t.ClosedBy+">", "reason", t.CloseReason),
		Color: colorInfo,
	}, "closed")
}

func (n *Notifier) TicketReopened(ctx context.Context, t ticket.Ticket) {
	loc := n.owner(t)
	n.dm(ctx, t.UserID, Message{
		Title: n.text.Get(loc, "notify.reopened.title"),
		Body:  n.text.Get(loc, "notify.reopened.body", "id", t.ID, "channel", "<#"+t.ChannelID+">"),
		Color: colorInfo,
	}, "reopened")
}

// TicketEscalated alerts the ticket channel, the log channel and every
// member holding a manager role.
func (n *Notifier) TicketEscalated(ctx context.Context, t ticket.Ticket) {
	guildLoc := lang.Locale{GuildID: t.GuildID}
	waited := priority.Lookup(t.Priority).Escalation
	if t.EscalatedAt != nil {
		waited = t.EscalatedAt.Sub(t.CreatedAt).Truncate(time.Minute)
	}

	mentions := make([]string, 0, len(n.cfg.ManagerRoles))
	for _, r := range n.cfg.ManagerRoles {
		mentions = append(mentions, "<@&"+r+">")
	}
	broadcast := Message{
		Title: n.text.Get(guildLoc, "notify.escalated.title"),
		Body: n.text.Get(guildLoc, "notify.escalated.body",
			"id", t.ID,
			"priority", string(t.Priority),
			"waited", priority.FormatDuration(waited),
			"user", "<@"+t.UserID+">",
		),
		Color:    priority.Lookup(t.Priority).Color,
		Mentions: mentions,
		Fields:   n.ticketFields(guildLoc, t),
	}
	if err := n.msg.SendChannel(ctx, t.ChannelID, broadcast); err != nil {
		n.log.Warn("escalation broadcast failed", zap.String("ticket_id", t.ID), zap.Error(err))
	}
	if n.cfg.LogChannel != "" {
		if err := n.msg.SendChannel(ctx, n.cfg.LogChannel, broadcast); err != nil {
			n.log.Warn("escalation log failed", zap.String("ticket_id", t.ID), zap.Error(err))
		}
	}

	if len(n.cfg.ManagerRoles) == 0 {
		return
	}
	managers, err := n.msg.MembersWithRoles(ctx, t.GuildID, n.cfg.ManagerRoles)
	if err != nil {
		n.log.Warn("listing managers failed", zap.String("guild_id", t.GuildID), zap.Error(err))
		return
	}
	for _, m := range managers {
		loc := lang.Locale{GuildID: t.GuildID, UserID: m}
		n.dm(ctx, m, Message{
			Title:  n.text.Get(loc, "notify.escalated.title"),
			Body:   n.text.Get(loc, "notify.escalated.dm", "id", t.ID, "channel", "<#"+t.ChannelID+">", "priority", string(t.Priority)),
			Color:  colorWarning,
			Fields: n.ticketFields(loc, t),
		}, "escalated")
	}
}

func (n *Notifier) Reminder(ctx context.Context, t ticket.Ticket) {
	loc := n.owner(t)
	n.dm(ctx, t.UserID, Message{
		Title: n.text.Get(loc, "notify.reminder.title"),
		Body:  n.text.Get(loc, "notify.reminder.body", "id", t.ID, "channel", "<#"+t.ChannelID+">"),
		Color: colorWarning,
	}, "reminder")
}

// Survey asks the owner to rate a closed ticket with 1-5 star buttons.
func (n *Notifier) Survey(ctx context.Context, t ticket.Ticket) {
	loc := n.owner(t)
	buttons := make([]Button, 0, 5)
	for r := 1; r <= 5; r++ {
		buttons = append(buttons, Button{ID: SurveyButtonID(t.ID, r), Label: strings.Repeat("⭐", r)})
	}
	n.dm(ctx, t.UserID, Message{
		Title:   n.text.Get(loc, "notify.survey.title"),
		Body:    n.text.Get(loc, "notify.survey.body", "id", t.ID),
		Color:   colorInfo,
		Buttons: buttons,
	}, "survey")
}

const surveyPrefix = "survey_"

func SurveyButtonID(ticketID string, rating int) string {
	return surveyPrefix + ticketID + "_" + strconv.Itoa(rating)
}

// ParseSurveyButton splits a survey button id into ticket id and rating.
func ParseSurveyButton(customID string) (string, int, bool) {
	rest, ok := strings.CutPrefix(customID, surveyPrefix)
	if !ok {
		return "", 0, false
	}
	i := strings.LastIndexByte(rest, '_')
	if i <= 0 {
		return "", 0, false
	}
	rating, err := strconv.Atoi(rest[i+1:])
	if err != nil {
		return "", 0, false
	}
	return rest[:i], rating, true
}
