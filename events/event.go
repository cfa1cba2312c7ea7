// Package events carries ticket lifecycle events to in-process subscribers
// (the dashboard live feed) and to an external broker.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TicketCreated         Type = "ticket.created"
	TicketClaimed         Type = "ticket.claimed"
	TicketPriorityChanged Type = "ticket.priority_changed"
	TicketClosed          Type = "ticket.closed"
	TicketReopened        Type = "ticket.reopened"
	TicketEscalated       Type = "ticket.escalated"
	TicketRated           Type = "ticket.rated"
)

type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	TicketID   string            `json:"ticket_id"`
	ChannelID  string            `json:"channel_id,omitempty"`
	GuildID    string            `json:"guild_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	ActorID    string            `json:"actor_id,omitempty"`
	Category   string            `json:"category,omitempty"`
	Priority   string            `json:"priority,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]string `json:"data,omitempty"`
}

// New stamps an event with a fresh id.
func New(typ Type, ticketID string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		TicketID:   ticketID,
		OccurredAt: at.UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi fans an event out to several publishers and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
